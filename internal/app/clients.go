package app

import (
	"fmt"
	"os"
	"strings"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/minirag-backend/internal/platform/gcs"
	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/platform/openai"
	"github.com/yungbote/minirag-backend/internal/platform/prompts"
	"github.com/yungbote/minirag-backend/internal/platform/rediscache"
	"github.com/yungbote/minirag-backend/internal/temporalx"
)

type Clients struct {
	OpenaiClient openai.Client
	EmbedCache   *rediscache.Cache
	Bucket       gcs.BucketService
	Prompts      *prompts.Parser
	Temporal     temporalsdkclient.Client
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	// Redis embedding cache is optional; without it every embed call goes
	// to the provider.
	var cache *rediscache.Cache
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		c, err := rediscache.New(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis embedding cache: %w", err)
		}
		cache = c
	}

	bucket, err := gcs.NewBucketService(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init bucket client: %w", err)
	}

	openaiClient, err := openai.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}

	promptParser, err := prompts.NewParser(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init prompt catalog: %w", err)
	}

	// Nil when TEMPORAL_ADDRESS is unset; deletion sagas then always run
	// in-process.
	tc, err := temporalx.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init temporal client: %w", err)
	}

	return Clients{
		OpenaiClient: openaiClient,
		EmbedCache:   cache,
		Bucket:       bucket,
		Prompts:      promptParser,
		Temporal:     tc,
	}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.EmbedCache != nil {
		_ = c.EmbedCache.Close()
	}
}
