package app

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/minirag-backend/internal/observability"
	"github.com/yungbote/minirag-backend/internal/platform/vectorindex"
)

type instrumentedVectorIndex struct {
	provider string
	inner    vectorindex.Index
	metrics  *observability.Metrics
}

func instrumentVectorIndex(provider string, inner vectorindex.Index) vectorindex.Index {
	if inner == nil {
		return nil
	}
	return &instrumentedVectorIndex{
		provider: provider,
		inner:    inner,
		metrics:  observability.Current(),
	}
}

func (s *instrumentedVectorIndex) EnsureCollection(ctx context.Context, projectID uuid.UUID) error {
	start := time.Now()
	err := s.inner.EnsureCollection(ctx, projectID)
	s.observe("ensure_collection", err, time.Since(start))
	return err
}

func (s *instrumentedVectorIndex) Upsert(ctx context.Context, projectID uuid.UUID, vectors []vectorindex.Vector) error {
	start := time.Now()
	err := s.inner.Upsert(ctx, projectID, vectors)
	s.observe("upsert", err, time.Since(start))
	return err
}

func (s *instrumentedVectorIndex) DeleteByFilter(ctx context.Context, projectID uuid.UUID, filter vectorindex.Filter) error {
	start := time.Now()
	err := s.inner.DeleteByFilter(ctx, projectID, filter)
	s.observe("delete_by_filter", err, time.Since(start))
	return err
}

func (s *instrumentedVectorIndex) DropCollection(ctx context.Context, projectID uuid.UUID) error {
	start := time.Now()
	err := s.inner.DropCollection(ctx, projectID)
	s.observe("drop_collection", err, time.Since(start))
	return err
}

func (s *instrumentedVectorIndex) Search(ctx context.Context, projectID uuid.UUID, query []float32, topK int) ([]vectorindex.Match, error) {
	start := time.Now()
	out, err := s.inner.Search(ctx, projectID, query, topK)
	s.observe("search", err, time.Since(start))
	return out, err
}

func (s *instrumentedVectorIndex) Info(ctx context.Context, projectID uuid.UUID) (vectorindex.CollectionInfo, error) {
	start := time.Now()
	out, err := s.inner.Info(ctx, projectID)
	s.observe("info", err, time.Since(start))
	return out, err
}

func (s *instrumentedVectorIndex) ListCollections(ctx context.Context) ([]string, error) {
	start := time.Now()
	out, err := s.inner.ListCollections(ctx)
	s.observe("list_collections", err, time.Since(start))
	return out, err
}

func (s *instrumentedVectorIndex) observe(operation string, err error, dur time.Duration) {
	if s == nil || s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.ObserveVectorStoreOperation(s.provider, operation, status, dur)
}
