package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/marketing-agent/internal/creative"
	"github.com/sells-group/marketing-agent/internal/knowledge"
	"github.com/sells-group/marketing-agent/internal/pipeline"
	"github.com/sells-group/marketing-agent/internal/store"
	anthropicpkg "github.com/sells-group/marketing-agent/pkg/anthropic"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "marketing.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initRetriever() knowledge.Retriever {
	r, err := knowledge.LoadStatic(cfg.Knowledge.SnippetsPath)
	if err != nil {
		// An empty knowledge base is a valid deployment; retrieval simply
		// returns nothing and no veto or claim backing applies.
		zap.L().Warn("knowledge base unavailable, continuing without it",
			zap.String("path", cfg.Knowledge.SnippetsPath),
			zap.Error(err))
		return knowledge.NewStatic(nil)
	}
	return r
}

func initGenerator() creative.Generator {
	if cfg.Anthropic.Key == "" {
		zap.L().Info("no API key configured, using template generator")
		return creative.TemplateGenerator{}
	}
	client := anthropicpkg.NewClient(cfg.Anthropic.Key, int(cfg.Anthropic.RequestsPerMinute))
	return creative.NewAnthropicGenerator(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
}

// initRunner wires the full pipeline. The caller owns closing the returned
// store.
func initRunner(ctx context.Context) (*pipeline.Runner, store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, nil, eris.Wrap(err, "migrate store")
	}
	return pipeline.NewRunner(cfg, st, initRetriever(), initGenerator()), st, nil
}
