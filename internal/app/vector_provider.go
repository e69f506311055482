package app

import (
	"errors"
	"fmt"
	"net"
	neturl "net/url"
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/minirag-backend/internal/observability"
	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/platform/pgvector"
	"github.com/yungbote/minirag-backend/internal/platform/qdrant"
	"github.com/yungbote/minirag-backend/internal/platform/vectorindex"
)

var (
	newQdrantStore   = func(cfg qdrant.Config, log *logger.Logger) (vectorindex.Index, error) { return qdrant.NewStore(cfg, log) }
	newPgvectorStore = func(cfg pgvector.Config, db *gorm.DB, log *logger.Logger) (vectorindex.Index, error) {
		return pgvector.NewStore(cfg, db, log)
	}
)

type VectorProvider string

const (
	VectorProviderQdrant   VectorProvider = "qdrant"
	VectorProviderPgvector VectorProvider = "pgvector"
)

type VectorProviderBootstrapErrorCode string

const (
	VectorProviderBootstrapErrorInvalidProvider    VectorProviderBootstrapErrorCode = "invalid_provider"
	VectorProviderBootstrapErrorMissingQdrantURL   VectorProviderBootstrapErrorCode = "missing_qdrant_url"
	VectorProviderBootstrapErrorInvalidQdrantURL   VectorProviderBootstrapErrorCode = "invalid_qdrant_url"
	VectorProviderBootstrapErrorInvalidVectorDim   VectorProviderBootstrapErrorCode = "invalid_vector_dim"
	VectorProviderBootstrapErrorConfigFailed       VectorProviderBootstrapErrorCode = "config_failed"
	VectorProviderBootstrapErrorConnectFailed      VectorProviderBootstrapErrorCode = "connect_failed"
	VectorProviderBootstrapErrorProviderInitFailed VectorProviderBootstrapErrorCode = "provider_init_failed"
)

type VectorProviderBootstrapError struct {
	Code     VectorProviderBootstrapErrorCode
	Provider string
	Cause    error
}

func (e *VectorProviderBootstrapError) Error() string {
	if e == nil {
		return "vector provider bootstrap failed"
	}
	return fmt.Sprintf("vector provider bootstrap failed (code=%s provider=%q): %v", e.Code, e.Provider, e.Cause)
}

func (e *VectorProviderBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// resolveVectorIndex picks the vector backend named by VECTOR_PROVIDER and
// returns it wrapped with operation metrics, along with the embedding
// dimension the backend was configured for. Both backends expose the same
// vectorindex.Index contract, so nothing downstream knows which one runs.
func resolveVectorIndex(log *logger.Logger, cfg Config, db *gorm.DB) (vectorindex.Index, int, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.VectorProvider))

	metrics := observability.Current()
	if metrics != nil {
		metrics.SetVectorStoreProviderActive(provider)
	}

	switch provider {
	case string(VectorProviderQdrant):
		qcfg := qdrant.ResolveConfigFromEnv(log)
		log.Info(
			"Selecting vector store provider",
			"provider", provider,
			"qdrant_base_url", qcfg.BaseURL,
			"vector_dim", qcfg.VectorDim,
		)
		store, err := newQdrantStore(qcfg, log)
		if err != nil {
			classified := classifyVectorProviderBootstrapError(provider, err)
			code := vectorProviderBootstrapErrorCode(classified)
			if metrics != nil {
				metrics.ObserveVectorStoreProviderBootstrap(provider, "error", string(code))
			}
			log.Error(
				"Vector store provider bootstrap failed",
				"provider", provider,
				"error_code", code,
				"error", classified,
			)
			return nil, 0, classified
		}
		if metrics != nil {
			metrics.ObserveVectorStoreProviderBootstrap(provider, "success", "none")
		}
		return instrumentVectorIndex(provider, store), qcfg.VectorDim, nil

	case string(VectorProviderPgvector):
		pcfg := pgvector.ResolveConfigFromEnv(log)
		log.Info(
			"Selecting vector store provider",
			"provider", provider,
			"vector_dim", pcfg.VectorDim,
			"index_threshold", pcfg.IndexThreshold,
		)
		store, err := newPgvectorStore(pcfg, db, log)
		if err != nil {
			classified := classifyVectorProviderBootstrapError(provider, err)
			code := vectorProviderBootstrapErrorCode(classified)
			if metrics != nil {
				metrics.ObserveVectorStoreProviderBootstrap(provider, "error", string(code))
			}
			log.Error(
				"Vector store provider bootstrap failed",
				"provider", provider,
				"error_code", code,
				"error", classified,
			)
			return nil, 0, classified
		}
		if metrics != nil {
			metrics.ObserveVectorStoreProviderBootstrap(provider, "success", "none")
		}
		return instrumentVectorIndex(provider, store), pcfg.VectorDim, nil

	default:
		err := &VectorProviderBootstrapError{
			Code:     VectorProviderBootstrapErrorInvalidProvider,
			Provider: provider,
			Cause:    fmt.Errorf("unsupported vector provider %q", provider),
		}
		if metrics != nil {
			metrics.ObserveVectorStoreProviderBootstrap(provider, "error", string(err.Code))
		}
		log.Error(
			"Vector store provider selection failed",
			"provider", provider,
			"error_code", err.Code,
			"error", err,
		)
		return nil, 0, err
	}
}

func classifyVectorProviderBootstrapError(provider string, err error) error {
	var urlErr *neturl.Error
	if errors.As(err, &urlErr) {
		return &VectorProviderBootstrapError{Code: VectorProviderBootstrapErrorConnectFailed, Provider: provider, Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &VectorProviderBootstrapError{Code: VectorProviderBootstrapErrorConnectFailed, Provider: provider, Cause: err}
	}
	errLower := strings.ToLower(err.Error())
	if strings.Contains(errLower, "ready check failed") || strings.Contains(errLower, "connection refused") {
		return &VectorProviderBootstrapError{Code: VectorProviderBootstrapErrorConnectFailed, Provider: provider, Cause: err}
	}

	var qcfgErr *qdrant.ConfigError
	if errors.As(err, &qcfgErr) {
		switch qcfgErr.Code {
		case qdrant.ConfigErrMissingBaseURL:
			return &VectorProviderBootstrapError{Code: VectorProviderBootstrapErrorMissingQdrantURL, Provider: provider, Cause: err}
		case qdrant.ConfigErrInvalidBaseURL:
			return &VectorProviderBootstrapError{Code: VectorProviderBootstrapErrorInvalidQdrantURL, Provider: provider, Cause: err}
		case qdrant.ConfigErrInvalidVectorDim:
			return &VectorProviderBootstrapError{Code: VectorProviderBootstrapErrorInvalidVectorDim, Provider: provider, Cause: err}
		default:
			return &VectorProviderBootstrapError{Code: VectorProviderBootstrapErrorConfigFailed, Provider: provider, Cause: err}
		}
	}

	var pcfgErr *pgvector.ConfigError
	if errors.As(err, &pcfgErr) {
		switch pcfgErr.Code {
		case pgvector.ConfigErrInvalidVectorDim:
			return &VectorProviderBootstrapError{Code: VectorProviderBootstrapErrorInvalidVectorDim, Provider: provider, Cause: err}
		default:
			return &VectorProviderBootstrapError{Code: VectorProviderBootstrapErrorConfigFailed, Provider: provider, Cause: err}
		}
	}

	return &VectorProviderBootstrapError{Code: VectorProviderBootstrapErrorProviderInitFailed, Provider: provider, Cause: err}
}

func vectorProviderBootstrapErrorCode(err error) VectorProviderBootstrapErrorCode {
	var bootstrapErr *VectorProviderBootstrapError
	if errors.As(err, &bootstrapErr) {
		if bootstrapErr.Code != "" {
			return bootstrapErr.Code
		}
	}
	return VectorProviderBootstrapErrorConnectFailed
}
