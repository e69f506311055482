package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/platform/vectorindex"
)

const (
	backendName     = "pgvector"
	insertBatchSize = 50
)

// collectionTableRe mirrors what CollectionName produces. Collection names
// are interpolated into DDL, so anything else is rejected before it reaches
// SQL text.
var collectionTableRe = regexp.MustCompile(`^collection_[0-9]+_[0-9a-f]{32}$`)

// Store keeps vectors in Postgres, one table per project collection, using
// the pgvector extension for cosine search. Rows carry the same payload
// shape the Qdrant backend stores, so the two are interchangeable behind
// vectorindex.Index.
type Store struct {
	cfg Config
	db  *gorm.DB
	log *logger.Logger
}

var _ vectorindex.Index = (*Store)(nil)

func NewStore(cfg Config, db *gorm.DB, log *logger.Logger) (*Store, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if db == nil {
		return nil, &ConfigError{Code: ConfigErrMissingDatabase, Message: "pgvector store requires a database handle"}
	}
	return &Store{cfg: cfg, db: db, log: log}, nil
}

func (s *Store) table(projectID uuid.UUID) (string, error) {
	name := vectorindex.CollectionName(s.cfg.VectorDim, projectID)
	if !collectionTableRe.MatchString(name) {
		return "", fmt.Errorf("unsafe collection table name %q", name)
	}
	return name, nil
}

func (s *Store) EnsureCollection(ctx context.Context, projectID uuid.UUID) error {
	table, err := s.table(projectID)
	if err != nil {
		return s.opErr("create_collection", vectorindex.ErrCodeValidationFailed, err.Error(), nil)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id bigserial PRIMARY KEY,
		vector_id uuid NOT NULL UNIQUE,
		text text NOT NULL,
		embedding vector(%d) NOT NULL,
		metadata jsonb NOT NULL DEFAULT '{}'::jsonb
	)`, table, s.cfg.VectorDim)
	if err := s.db.WithContext(ctx).Exec(ddl).Error; err != nil {
		return s.classifyDBError("create_collection", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, projectID uuid.UUID, vectors []vectorindex.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	table, err := s.table(projectID)
	if err != nil {
		return s.opErr("upsert", vectorindex.ErrCodeValidationFailed, err.Error(), nil)
	}
	for i, v := range vectors {
		if _, err := uuid.Parse(v.ID); err != nil {
			return s.opErr("upsert", vectorindex.ErrCodeValidationFailed,
				fmt.Sprintf("vector %d has non-uuid id %q", i, v.ID), err)
		}
		if len(v.Values) != s.cfg.VectorDim {
			return s.opErr("upsert", vectorindex.ErrCodeValidationFailed,
				fmt.Sprintf("vector %d has dim %d, want %d", i, len(v.Values), s.cfg.VectorDim), nil)
		}
	}

	for start := 0; start < len(vectors); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(vectors) {
			end = len(vectors)
		}
		stmt, args, err := insertStatement(table, vectors[start:end])
		if err != nil {
			return s.opErr("upsert", vectorindex.ErrCodeEncodeFailed, "encode vector payload", err)
		}
		if err := s.db.WithContext(ctx).Exec(stmt, args...).Error; err != nil {
			return s.classifyDBError("upsert", err)
		}
	}
	return s.maybeCreateIndex(ctx, table)
}

// insertStatement builds one multi-row upsert. Conflicts on vector_id update
// in place so re-ingesting the same chunk ids never duplicates rows.
func insertStatement(table string, batch []vectorindex.Vector) (string, []any, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (vector_id, text, embedding, metadata) VALUES ", table)
	args := make([]any, 0, len(batch)*4)
	for i, v := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?::uuid, ?, ?, ?::jsonb)")
		meta, err := json.Marshal(v.Payload)
		if err != nil {
			return "", nil, err
		}
		args = append(args, v.ID, v.Payload.Text, pgvec.NewVector(v.Values), string(meta))
	}
	sb.WriteString(" ON CONFLICT (vector_id) DO UPDATE SET text = EXCLUDED.text, embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata")
	return sb.String(), args, nil
}

// maybeCreateIndex adds the HNSW index once a collection is big enough to
// benefit. Failure to index is logged, not returned; the rows are already
// durable and sequential scan stays correct.
func (s *Store) maybeCreateIndex(ctx context.Context, table string) error {
	if s.cfg.IndexThreshold <= 0 {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Raw(fmt.Sprintf("SELECT count(*) FROM %s", table)).Scan(&count).Error; err != nil {
		if isUndefinedTable(err) {
			return nil
		}
		return s.classifyDBError("collection_count", err)
	}
	if count < int64(s.cfg.IndexThreshold) {
		return nil
	}
	ddl := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_vector_idx ON %s USING hnsw (embedding vector_cosine_ops)", table, table)
	if err := s.db.WithContext(ctx).Exec(ddl).Error; err != nil {
		s.log.Warn("pgvector index creation failed", "collection", table, "error", err.Error())
	}
	return nil
}

func (s *Store) DeleteByFilter(ctx context.Context, projectID uuid.UUID, filter vectorindex.Filter) error {
	if strings.TrimSpace(filter.AssetID) == "" {
		return s.opErr("delete_points", vectorindex.ErrCodeValidationFailed, "empty filter would delete the whole collection", nil)
	}
	table, err := s.table(projectID)
	if err != nil {
		return s.opErr("delete_points", vectorindex.ErrCodeValidationFailed, err.Error(), nil)
	}
	res := s.db.WithContext(ctx).Exec(
		fmt.Sprintf("DELETE FROM %s WHERE metadata->>'asset_id' = ?", table), filter.AssetID)
	if res.Error != nil {
		if isUndefinedTable(res.Error) {
			return nil
		}
		return s.classifyDBError("delete_points", res.Error)
	}
	s.log.Debug("pgvector points deleted", "collection", table, "rows", res.RowsAffected)
	return nil
}

func (s *Store) DropCollection(ctx context.Context, projectID uuid.UUID) error {
	table, err := s.table(projectID)
	if err != nil {
		return s.opErr("drop_collection", vectorindex.ErrCodeValidationFailed, err.Error(), nil)
	}
	if err := s.db.WithContext(ctx).Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", table)).Error; err != nil {
		return s.classifyDBError("drop_collection", err)
	}
	return nil
}

type searchRow struct {
	VectorID string
	Text     string
	Metadata []byte
	Score    float64
}

func (s *Store) Search(ctx context.Context, projectID uuid.UUID, query []float32, topK int) ([]vectorindex.Match, error) {
	if topK <= 0 {
		return nil, s.opErr("search", vectorindex.ErrCodeValidationFailed, "top_k must be positive", nil)
	}
	if len(query) != s.cfg.VectorDim {
		return nil, s.opErr("search", vectorindex.ErrCodeValidationFailed,
			fmt.Sprintf("query has dim %d, want %d", len(query), s.cfg.VectorDim), nil)
	}
	table, err := s.table(projectID)
	if err != nil {
		return nil, s.opErr("search", vectorindex.ErrCodeValidationFailed, err.Error(), nil)
	}

	// ascending cosine distance, uuid order pins equal-distance ties
	stmt := fmt.Sprintf(
		"SELECT vector_id::text AS vector_id, text, metadata, 1 - (embedding <=> ?) AS score FROM %s ORDER BY embedding <=> ?, vector_id LIMIT ?",
		table)
	qv := pgvec.NewVector(query)
	var rows []searchRow
	if err := s.db.WithContext(ctx).Raw(stmt, qv, qv, topK).Scan(&rows).Error; err != nil {
		if isUndefinedTable(err) {
			return []vectorindex.Match{}, nil
		}
		return nil, s.classifyDBError("search", err)
	}

	matches := make([]vectorindex.Match, 0, len(rows))
	for _, row := range rows {
		var payload vectorindex.Payload
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &payload); err != nil {
				return nil, s.opErr("search", vectorindex.ErrCodeDecodeFailed, "decode row metadata", err)
			}
		}
		if payload.Text == "" {
			payload.Text = row.Text
		}
		matches = append(matches, vectorindex.Match{ID: row.VectorID, Score: row.Score, Payload: payload})
	}
	return matches, nil
}

func (s *Store) Info(ctx context.Context, projectID uuid.UUID) (vectorindex.CollectionInfo, error) {
	table, err := s.table(projectID)
	if err != nil {
		return vectorindex.CollectionInfo{}, s.opErr("collection_info", vectorindex.ErrCodeValidationFailed, err.Error(), nil)
	}
	exists, err := s.tableExists(ctx, table)
	if err != nil {
		return vectorindex.CollectionInfo{}, err
	}
	if !exists {
		return vectorindex.CollectionInfo{Name: table}, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Raw(fmt.Sprintf("SELECT count(*) FROM %s", table)).Scan(&count).Error; err != nil {
		return vectorindex.CollectionInfo{}, s.classifyDBError("collection_info", err)
	}
	return vectorindex.CollectionInfo{
		Name:        table,
		Exists:      true,
		VectorCount: count,
		VectorDim:   s.cfg.VectorDim,
	}, nil
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	stmt := `SELECT tablename FROM pg_tables WHERE schemaname = current_schema() AND tablename LIKE 'collection\_%' ESCAPE '\'`
	if err := s.db.WithContext(ctx).Raw(stmt).Scan(&names).Error; err != nil {
		return nil, s.classifyDBError("list_collections", err)
	}
	return names, nil
}

func (s *Store) tableExists(ctx context.Context, table string) (bool, error) {
	var reg sql.NullString
	if err := s.db.WithContext(ctx).Raw("SELECT to_regclass(?)::text", table).Scan(&reg).Error; err != nil {
		return false, s.classifyDBError("collection_info", err)
	}
	return reg.Valid && reg.String != "", nil
}

func (s *Store) classifyDBError(operation string, err error) *vectorindex.OperationError {
	if errors.Is(err, context.DeadlineExceeded) {
		return s.opErr(operation, vectorindex.ErrCodeTimeout, "query timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return s.opErr(operation, vectorindex.ErrCodeTimeout, "query timed out", err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if isAvailabilityClass(pgErr.Code) {
			return s.opErr(operation, vectorindex.ErrCodeTransportFailed, pgErr.Message, err)
		}
		return s.opErr(operation, vectorindex.ErrCodeQueryFailed,
			fmt.Sprintf("%s: %s", pgErr.Code, pgErr.Message), err)
	}
	return s.opErr(operation, vectorindex.ErrCodeTransportFailed, "database call failed", err)
}

// isAvailabilityClass reports SQLSTATE classes that mean the server, not the
// query, is the problem: connection exceptions, insufficient resources,
// operator intervention, system errors.
func isAvailabilityClass(code string) bool {
	for _, class := range []string{"08", "53", "57", "58"} {
		if strings.HasPrefix(code, class) {
			return true
		}
	}
	return false
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

func (s *Store) opErr(operation, code, message string, cause error) *vectorindex.OperationError {
	return &vectorindex.OperationError{
		Backend:   backendName,
		Code:      code,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}
