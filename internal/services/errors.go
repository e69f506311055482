package services

import (
	"github.com/yungbote/minirag-backend/internal/platform/apierr"
	"github.com/yungbote/minirag-backend/internal/platform/vectorindex"
)

// indexError maps a vector backend failure onto the API error surface:
// unreachable or overloaded backends answer vector_index_unavailable,
// everything else is internal.
func indexError(err error) error {
	if vectorindex.IsUnavailable(err) {
		return apierr.VectorIndexUnavailable(err)
	}
	return apierr.Internal(err)
}
