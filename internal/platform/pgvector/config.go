package pgvector

import (
	"fmt"

	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/utils"
)

const (
	ConfigErrInvalidVectorDim      = "invalid_vector_dim"
	ConfigErrInvalidIndexThreshold = "invalid_index_threshold"
	ConfigErrMissingDatabase       = "missing_database"
)

type ConfigError struct {
	Code    string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pgvector config error (%s): %s", e.Code, e.Message)
}

// Config controls the relational vector backend. IndexThreshold is the row
// count at which a collection table gets its HNSW index; tiny collections
// scan faster without one.
type Config struct {
	VectorDim      int
	IndexThreshold int
}

func ResolveConfigFromEnv(log *logger.Logger) Config {
	return Config{
		VectorDim:      utils.GetEnvAsInt("PGVECTOR_VECTOR_DIM", 1536, log),
		IndexThreshold: utils.GetEnvAsInt("PGVECTOR_INDEX_THRESHOLD", 100, log),
	}
}

func ValidateConfig(cfg Config) error {
	if cfg.VectorDim <= 0 {
		return &ConfigError{Code: ConfigErrInvalidVectorDim, Message: "PGVECTOR_VECTOR_DIM must be positive"}
	}
	if cfg.IndexThreshold < 0 {
		return &ConfigError{Code: ConfigErrInvalidIndexThreshold, Message: "PGVECTOR_INDEX_THRESHOLD must not be negative"}
	}
	return nil
}
