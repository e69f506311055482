package services

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/minirag-backend/internal/observability"
	"github.com/yungbote/minirag-backend/internal/platform/apierr"
	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/platform/openai"
	"github.com/yungbote/minirag-backend/internal/platform/rediscache"
	"github.com/yungbote/minirag-backend/internal/utils"
)

// EmbeddingService turns text into vectors for both ingest and search. It
// batches provider calls, runs batches concurrently, and consults the cache
// first so re-processing an unchanged asset costs no provider tokens. The
// cache is optional and best-effort; provider failures that survive the
// client's own retries surface as embedding_unavailable.
type EmbeddingService interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dim() int
	Model() string
}

type embeddingService struct {
	log         *logger.Logger
	client      openai.Client
	cache       *rediscache.Cache
	batchSize   int
	concurrency int
}

// NewEmbeddingService wires the provider client and the optional cache.
// cache may be nil; every lookup then goes to the provider.
func NewEmbeddingService(baseLog *logger.Logger, client openai.Client, cache *rediscache.Cache) EmbeddingService {
	serviceLog := baseLog.With("service", "EmbeddingService")

	batchSize := utils.GetEnvAsInt("EMBED_BATCH_SIZE", 64, baseLog)
	if batchSize < 1 {
		batchSize = 64
	}
	concurrency := utils.GetEnvAsInt("EMBED_CONCURRENCY", 4, baseLog)
	if concurrency < 1 {
		concurrency = 1
	}

	return &embeddingService{
		log:         serviceLog,
		client:      client,
		cache:       cache,
		batchSize:   batchSize,
		concurrency: concurrency,
	}
}

func (es *embeddingService) Dim() int { return es.client.EmbedDim() }

func (es *embeddingService) Model() string { return es.client.EmbedModel() }

func (es *embeddingService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apierr.InvalidInput(fmt.Errorf("query text is empty"))
	}
	vectors, err := es.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (es *embeddingService) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	misses := es.fillFromCache(ctx, texts, out)
	if metrics := observability.Current(); metrics != nil {
		metrics.ObserveEmbeddingCache("hit", len(texts)-len(misses))
		metrics.ObserveEmbeddingCache("miss", len(misses))
	}
	if len(misses) == 0 {
		return out, nil
	}

	// Each batch is one provider call; batches run concurrently up to the
	// configured limit. The client retries transient failures itself, so a
	// batch error here is terminal for the whole request.
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(es.concurrency)
	for start := 0; start < len(misses); start += es.batchSize {
		end := start + es.batchSize
		if end > len(misses) {
			end = len(misses)
		}
		batch := misses[start:end]
		group.Go(func() error {
			inputs := make([]string, len(batch))
			for i, idx := range batch {
				inputs[i] = texts[idx]
			}
			vectors, err := es.client.Embed(groupCtx, inputs)
			if err != nil {
				return err
			}
			if len(vectors) != len(inputs) {
				return fmt.Errorf("embedder returned %d vectors for %d inputs", len(vectors), len(inputs))
			}
			for i, idx := range batch {
				out[idx] = vectors[i]
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		if openai.IsUnavailable(err) {
			return nil, apierr.EmbeddingUnavailable(fmt.Errorf("embedding provider unavailable: %w", err))
		}
		return nil, apierr.Internal(fmt.Errorf("embed texts: %w", err))
	}

	es.storeInCache(ctx, texts, out, misses)
	return out, nil
}

// fillFromCache populates out at cache-hit positions and returns the indexes
// still needing a provider call. A cache failure degrades to all misses.
func (es *embeddingService) fillFromCache(ctx context.Context, texts []string, out [][]float32) []int {
	misses := make([]int, 0, len(texts))
	if es.cache == nil {
		for i := range texts {
			misses = append(misses, i)
		}
		return misses
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = rediscache.EmbeddingKey(es.client.EmbedModel(), es.client.EmbedDim(), text)
	}
	cached, err := es.cache.GetFloats(ctx, keys)
	if err != nil {
		es.log.Warn("embedding cache read failed, embedding everything", "error", err)
		for i := range texts {
			misses = append(misses, i)
		}
		return misses
	}
	for i := range texts {
		if len(cached[i]) > 0 {
			out[i] = cached[i]
			continue
		}
		misses = append(misses, i)
	}
	return misses
}

func (es *embeddingService) storeInCache(ctx context.Context, texts []string, out [][]float32, misses []int) {
	if es.cache == nil || len(misses) == 0 {
		return
	}
	kv := make(map[string][]float32, len(misses))
	for _, idx := range misses {
		if len(out[idx]) == 0 {
			continue
		}
		key := rediscache.EmbeddingKey(es.client.EmbedModel(), es.client.EmbedDim(), texts[idx])
		kv[key] = out[idx]
	}
	if err := es.cache.SetFloats(ctx, kv); err != nil {
		es.log.Warn("embedding cache write failed", "error", err)
	}
}
