package qdrant

import (
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/utils"
)

const (
	ConfigErrMissingBaseURL    = "missing_base_url"
	ConfigErrInvalidBaseURL    = "invalid_base_url"
	ConfigErrInvalidVectorDim  = "invalid_vector_dim"
	ConfigErrInvalidTimeout    = "invalid_timeout"
	ConfigErrInvalidRetryCount = "invalid_retry_count"
)

type ConfigError struct {
	Code    string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("qdrant config error (%s): %s", e.Code, e.Message)
}

// Config holds the connection settings for a Qdrant HTTP endpoint. VectorDim
// must match the embedding model the service is wired to; collections are
// created with exactly this dimension.
type Config struct {
	BaseURL     string
	APIKey      string
	VectorDim   int
	Timeout     time.Duration
	MaxRetries  int
	DistanceKey string
}

// ResolveConfigFromEnv reads QDRANT_* settings. Only QDRANT_BASE_URL has no
// default; the rest fall back to values that work against a local docker
// instance.
func ResolveConfigFromEnv(log *logger.Logger) Config {
	timeoutSec := utils.GetEnvAsInt("QDRANT_TIMEOUT_SECONDS", 15, log)
	return Config{
		BaseURL:     strings.TrimRight(utils.GetEnv("QDRANT_BASE_URL", "", log), "/"),
		APIKey:      utils.GetEnv("QDRANT_API_KEY", "", log),
		VectorDim:   utils.GetEnvAsInt("QDRANT_VECTOR_DIM", 1536, log),
		Timeout:     time.Duration(timeoutSec) * time.Second,
		MaxRetries:  utils.GetEnvAsInt("QDRANT_MAX_RETRIES", 3, log),
		DistanceKey: utils.GetEnv("QDRANT_DISTANCE", "Cosine", log),
	}
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return &ConfigError{Code: ConfigErrMissingBaseURL, Message: "QDRANT_BASE_URL is required"}
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return &ConfigError{Code: ConfigErrInvalidBaseURL, Message: "QDRANT_BASE_URL must start with http:// or https://"}
	}
	if cfg.VectorDim <= 0 {
		return &ConfigError{Code: ConfigErrInvalidVectorDim, Message: "QDRANT_VECTOR_DIM must be positive"}
	}
	if cfg.Timeout <= 0 {
		return &ConfigError{Code: ConfigErrInvalidTimeout, Message: "QDRANT_TIMEOUT_SECONDS must be positive"}
	}
	if cfg.MaxRetries < 0 {
		return &ConfigError{Code: ConfigErrInvalidRetryCount, Message: "QDRANT_MAX_RETRIES must not be negative"}
	}
	return nil
}
