package vectorindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Vector is one embedded chunk as stored in a project collection. ID is the
// chunk UUID; the payload is duplicated alongside the vector so search hits
// can be rendered without a relational join.
type Vector struct {
	ID      string
	Values  []float32
	Payload Payload
}

type Payload struct {
	ProjectID string `json:"project_id"`
	AssetID   string `json:"asset_id"`
	ChunkID   string `json:"chunk_id"`
	Sequence  int    `json:"sequence"`
	Text      string `json:"text"`
}

// Match is one search hit. Score is cosine similarity, higher is closer.
type Match struct {
	ID      string
	Score   float64
	Payload Payload
}

// Filter restricts DeleteByFilter to vectors whose payload matches.
// The zero filter is rejected; dropping a whole collection goes through
// DropCollection instead.
type Filter struct {
	AssetID string
}

type CollectionInfo struct {
	Name        string
	Exists      bool
	VectorCount int64
	VectorDim   int
}

// Index is the backend contract. One logical collection exists per project,
// named from the project's immutable UUID, so a search against one project
// is structurally incapable of reading another project's vectors.
//
// Upsert is idempotent by vector ID. DeleteByFilter, DropCollection and
// Search against an absent collection are no-ops (Search returns zero
// matches) so that deletion retries and empty projects stay cheap.
type Index interface {
	EnsureCollection(ctx context.Context, projectID uuid.UUID) error
	Upsert(ctx context.Context, projectID uuid.UUID, vectors []Vector) error
	DeleteByFilter(ctx context.Context, projectID uuid.UUID, filter Filter) error
	DropCollection(ctx context.Context, projectID uuid.UUID) error
	Search(ctx context.Context, projectID uuid.UUID, query []float32, topK int) ([]Match, error)
	Info(ctx context.Context, projectID uuid.UUID) (CollectionInfo, error)
	ListCollections(ctx context.Context) ([]string, error)
}

const collectionPrefix = "collection_"

// CollectionName builds the per-project collection identifier. The project
// UUID is rendered without dashes so the same name is a valid Postgres table
// name and a valid Qdrant collection name.
func CollectionName(vectorDim int, projectID uuid.UUID) string {
	compact := strings.ReplaceAll(projectID.String(), "-", "")
	return fmt.Sprintf("%s%d_%s", collectionPrefix, vectorDim, compact)
}

// ParseCollectionName recovers the project UUID from a collection name
// produced by CollectionName. Used by the orphan sweep.
func ParseCollectionName(name string) (uuid.UUID, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(name), collectionPrefix)
	if !ok {
		return uuid.Nil, false
	}
	idx := strings.IndexByte(rest, '_')
	if idx <= 0 || idx == len(rest)-1 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(rest[idx+1:])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
