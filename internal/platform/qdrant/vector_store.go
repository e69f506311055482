package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/minirag-backend/internal/pkg/httpx"
	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/platform/vectorindex"
)

const (
	backendName      = "qdrant"
	upsertBatchSize  = 50
	maxResponseBytes = 1 << 20
	maxRetryAfter    = 30 * time.Second
	retryBackoffBase = 500 * time.Millisecond
)

// Store talks to a Qdrant instance over its HTTP API. Each project gets its
// own collection, so tenant isolation is enforced by the URL path of every
// call rather than by a payload filter that could be forgotten.
type Store struct {
	cfg  Config
	http *http.Client
	log  *logger.Logger
}

var _ vectorindex.Index = (*Store)(nil)

func NewStore(cfg Config, log *logger.Logger) (*Store, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Store{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}, nil
}

func (s *Store) collection(projectID uuid.UUID) string {
	return vectorindex.CollectionName(s.cfg.VectorDim, projectID)
}

func (s *Store) EnsureCollection(ctx context.Context, projectID uuid.UUID) error {
	name := s.collection(projectID)
	var info collectionInfoResult
	err := s.doJSON(ctx, "collection_info", http.MethodGet, "/collections/"+name, nil, &info)
	if err == nil {
		if got := info.Config.Params.Vectors.Size; got != 0 && got != s.cfg.VectorDim {
			return s.opErr("collection_info", vectorindex.ErrCodeValidationFailed, 0,
				fmt.Sprintf("collection %s has vector dim %d, store configured for %d", name, got, s.cfg.VectorDim), nil)
		}
		return nil
	}
	if !isMissingCollection(err) {
		return err
	}

	req := createCollectionRequest{Vectors: vectorParams{Size: s.cfg.VectorDim, Distance: s.cfg.DistanceKey}}
	if err := s.doJSON(ctx, "create_collection", http.MethodPut, "/collections/"+name, req, nil); err != nil {
		// concurrent ingests race to create; losing the race is fine
		if isConflict(err) {
			return nil
		}
		return err
	}
	s.log.Info("qdrant collection created", "collection", name, "vector_dim", s.cfg.VectorDim)
	return nil
}

func (s *Store) Upsert(ctx context.Context, projectID uuid.UUID, vectors []vectorindex.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	points := make([]point, 0, len(vectors))
	for i, v := range vectors {
		if _, err := uuid.Parse(v.ID); err != nil {
			return s.opErr("upsert", vectorindex.ErrCodeValidationFailed, 0,
				fmt.Sprintf("vector %d has non-uuid id %q", i, v.ID), err)
		}
		if len(v.Values) != s.cfg.VectorDim {
			return s.opErr("upsert", vectorindex.ErrCodeValidationFailed, 0,
				fmt.Sprintf("vector %d has dim %d, want %d", i, len(v.Values), s.cfg.VectorDim), nil)
		}
		points = append(points, point{ID: v.ID, Vector: v.Values, Payload: v.Payload})
	}

	name := s.collection(projectID)
	for start := 0; start < len(points); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		req := upsertRequest{Points: points[start:end]}
		if err := s.doJSON(ctx, "upsert", http.MethodPut, "/collections/"+name+"/points?wait=true", req, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteByFilter(ctx context.Context, projectID uuid.UUID, filter vectorindex.Filter) error {
	if strings.TrimSpace(filter.AssetID) == "" {
		return s.opErr("delete_points", vectorindex.ErrCodeValidationFailed, 0, "empty filter would delete the whole collection", nil)
	}
	name := s.collection(projectID)
	req := deleteRequest{
		Filter: qdrantFilter{Must: []fieldMatch{{Key: "asset_id", Match: matchValue{Value: filter.AssetID}}}},
	}
	err := s.doJSON(ctx, "delete_points", http.MethodPost, "/collections/"+name+"/points/delete?wait=true", req, nil)
	if isMissingCollection(err) {
		return nil
	}
	return err
}

func (s *Store) DropCollection(ctx context.Context, projectID uuid.UUID) error {
	name := s.collection(projectID)
	err := s.doJSON(ctx, "drop_collection", http.MethodDelete, "/collections/"+name, nil, nil)
	if isMissingCollection(err) {
		return nil
	}
	return err
}

func (s *Store) Search(ctx context.Context, projectID uuid.UUID, query []float32, topK int) ([]vectorindex.Match, error) {
	if topK <= 0 {
		return nil, s.opErr("search", vectorindex.ErrCodeValidationFailed, 0, "top_k must be positive", nil)
	}
	if len(query) != s.cfg.VectorDim {
		return nil, s.opErr("search", vectorindex.ErrCodeValidationFailed, 0,
			fmt.Sprintf("query has dim %d, want %d", len(query), s.cfg.VectorDim), nil)
	}

	name := s.collection(projectID)
	req := searchRequest{Vector: query, Limit: topK, WithPayload: true}
	var hits []searchResult
	err := s.doJSON(ctx, "search", http.MethodPost, "/collections/"+name+"/points/search", req, &hits)
	if isMissingCollection(err) {
		return []vectorindex.Match{}, nil
	}
	if err != nil {
		return nil, err
	}

	matches := make([]vectorindex.Match, 0, len(hits))
	for _, h := range hits {
		matches = append(matches, vectorindex.Match{ID: h.ID, Score: h.Score, Payload: h.Payload})
	}
	// qdrant orders by score but leaves ties unspecified; pin them to id order
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	return matches, nil
}

func (s *Store) Info(ctx context.Context, projectID uuid.UUID) (vectorindex.CollectionInfo, error) {
	name := s.collection(projectID)
	var result collectionInfoResult
	err := s.doJSON(ctx, "collection_info", http.MethodGet, "/collections/"+name, nil, &result)
	if isMissingCollection(err) {
		return vectorindex.CollectionInfo{Name: name}, nil
	}
	if err != nil {
		return vectorindex.CollectionInfo{}, err
	}
	return vectorindex.CollectionInfo{
		Name:        name,
		Exists:      true,
		VectorCount: result.PointsCount,
		VectorDim:   result.Config.Params.Vectors.Size,
	}, nil
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	var result collectionsResult
	if err := s.doJSON(ctx, "list_collections", http.MethodGet, "/collections", nil, &result); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(result.Collections))
	for _, c := range result.Collections {
		names = append(names, c.Name)
	}
	return names, nil
}

type createCollectionRequest struct {
	Vectors vectorParams `json:"vectors"`
}

type vectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type upsertRequest struct {
	Points []point `json:"points"`
}

type point struct {
	ID      string              `json:"id"`
	Vector  []float32           `json:"vector"`
	Payload vectorindex.Payload `json:"payload"`
}

type deleteRequest struct {
	Filter qdrantFilter `json:"filter"`
}

type qdrantFilter struct {
	Must []fieldMatch `json:"must"`
}

type fieldMatch struct {
	Key   string     `json:"key"`
	Match matchValue `json:"match"`
}

type matchValue struct {
	Value string `json:"value"`
}

type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type searchResult struct {
	ID      string              `json:"id"`
	Score   float64             `json:"score"`
	Payload vectorindex.Payload `json:"payload"`
}

type collectionInfoResult struct {
	PointsCount int64 `json:"points_count"`
	Config      struct {
		Params struct {
			Vectors vectorParams `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
}

type collectionsResult struct {
	Collections []struct {
		Name string `json:"name"`
	} `json:"collections"`
}

// envelope is the wrapper qdrant puts around every response body.
type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

// doJSON performs one API call with bounded retries. Timeouts, transport
// failures and retryable HTTP statuses are retried with jittered backoff,
// honoring Retry-After when the server sends one; everything else returns
// immediately.
func (s *Store) doJSON(ctx context.Context, operation, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return s.opErr(operation, vectorindex.ErrCodeEncodeFailed, 0, "encode request body", err)
		}
		payload = b
	}

	url := s.cfg.BaseURL + path
	var lastErr error
	for attempt := 0; ; attempt++ {
		var lastResp *http.Response
		lastErr = nil

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return s.opErr(operation, vectorindex.ErrCodeValidationFailed, 0, "build request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.cfg.APIKey != "" {
			req.Header.Set("api-key", s.cfg.APIKey)
		}

		resp, err := s.http.Do(req)
		if err != nil {
			lastErr = s.classifyCallError(operation, err)
		} else {
			raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = s.opErr(operation, vectorindex.ErrCodeTransportFailed, resp.StatusCode, "read response body", readErr)
			case resp.StatusCode < 200 || resp.StatusCode >= 300:
				lastResp = resp
				lastErr = s.opErr(operation, vectorindex.ErrCodeQueryFailed, resp.StatusCode, truncateBody(raw), nil)
			default:
				return s.decodeEnvelope(operation, raw, out)
			}
		}

		if attempt >= s.cfg.MaxRetries || !isRetryable(lastErr) {
			return lastErr
		}
		wait := httpx.RetryAfterDuration(lastResp, retryBackoffBase<<attempt, maxRetryAfter)
		s.log.Warn("qdrant call retrying",
			"operation", operation,
			"attempt", attempt+1,
			"wait_ms", wait.Milliseconds(),
			"error", lastErr.Error(),
		)
		select {
		case <-ctx.Done():
			return s.opErr(operation, vectorindex.ErrCodeTimeout, 0, "retry wait aborted", ctx.Err())
		case <-time.After(httpx.JitterSleep(wait)):
		}
	}
}

func (s *Store) decodeEnvelope(operation string, raw []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return s.opErr(operation, vectorindex.ErrCodeDecodeFailed, http.StatusOK, truncateBody(raw), err)
	}
	if ok, msg := parseEnvelopeStatus(env.Status); !ok {
		return s.opErr(operation, vectorindex.ErrCodeQueryFailed, http.StatusOK, msg, nil)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return s.opErr(operation, vectorindex.ErrCodeDecodeFailed, http.StatusOK, "decode result", err)
	}
	return nil
}

func (s *Store) classifyCallError(operation string, err error) *vectorindex.OperationError {
	if errors.Is(err, context.DeadlineExceeded) {
		return s.opErr(operation, vectorindex.ErrCodeTimeout, 0, "qdrant call timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return s.opErr(operation, vectorindex.ErrCodeTimeout, 0, "qdrant call timed out", err)
	}
	return s.opErr(operation, vectorindex.ErrCodeTransportFailed, 0, "qdrant call failed", err)
}

func (s *Store) opErr(operation, code string, status int, message string, cause error) *vectorindex.OperationError {
	return &vectorindex.OperationError{
		Backend:    backendName,
		Code:       code,
		Operation:  operation,
		StatusCode: status,
		Message:    message,
		Cause:      cause,
	}
}

func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var oe *vectorindex.OperationError
	if errors.As(err, &oe) {
		switch oe.Code {
		case vectorindex.ErrCodeTimeout, vectorindex.ErrCodeTransportFailed:
			return true
		}
	}
	return httpx.IsRetryableError(err)
}

func isMissingCollection(err error) bool {
	var oe *vectorindex.OperationError
	return errors.As(err, &oe) && oe.StatusCode == http.StatusNotFound
}

func isConflict(err error) bool {
	var oe *vectorindex.OperationError
	return errors.As(err, &oe) && oe.StatusCode == http.StatusConflict
}

func parseEnvelopeStatus(raw json.RawMessage) (bool, string) {
	if len(raw) == 0 {
		return true, ""
	}
	var status string
	if err := json.Unmarshal(raw, &status); err == nil {
		return strings.EqualFold(status, "ok"), status
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Error != "" {
		return false, obj.Error
	}
	return true, ""
}

func truncateBody(raw []byte) string {
	const limit = 512
	body := strings.TrimSpace(string(raw))
	if len(body) > limit {
		return body[:limit] + "..."
	}
	return body
}
