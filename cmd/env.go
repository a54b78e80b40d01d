package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/import-cli/internal/dedup"
	"github.com/sells-group/import-cli/internal/export"
	"github.com/sells-group/import-cli/internal/ingest"
	"github.com/sells-group/import-cli/internal/pipeline"
	"github.com/sells-group/import-cli/internal/rules"
	"github.com/sells-group/import-cli/internal/store"
	anthropicpkg "github.com/sells-group/import-cli/pkg/anthropic"
	notionpkg "github.com/sells-group/import-cli/pkg/notion"
	sfpkg "github.com/sells-group/import-cli/pkg/salesforce"
	"github.com/sells-group/import-cli/pkg/serp"
)

// appEnv holds the initialized stores, clients, and pipeline shared by the
// commands.
type appEnv struct {
	Store    store.Store
	Dedup    dedup.Store
	Pipeline *pipeline.Pipeline
	Ingestor *ingest.Ingestor
	Exporter *export.Exporter
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Dedup != nil {
		_ = e.Dedup.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the stores, API clients, and pipeline. Callers should
// defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	ds, err := initDedup(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if err := ds.Migrate(ctx); err != nil {
		_ = ds.Close()
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate dedup store")
	}

	// Salesforce is optional: without it the sync stage resolves records
	// through the dedup store only.
	var sfClient sfpkg.Client
	if cfg.Salesforce.ClientID != "" {
		sfClient, err = sfpkg.NewJWT(cfg.Salesforce.LoginURL, cfg.Salesforce.Username,
			cfg.Salesforce.ClientID, cfg.Salesforce.KeyPath, sfpkg.WithRateLimit(5))
		if err != nil {
			_ = ds.Close()
			_ = st.Close()
			return nil, err
		}
	} else {
		zap.L().Debug("IMPORT_SALESFORCE_CLIENT_ID not set, CRM push disabled")
	}

	searchFactory := func(apiKey string) serp.Client {
		return serp.NewClient(apiKey, serp.WithBaseURL(cfg.Serp.BaseURL))
	}
	exec := pipeline.NewExecutor(anthropicpkg.NewClient, searchFactory, configSecrets{}, pipeline.ExecutorOptions{
		StepDelay:    cfg.Pipeline.StepDelay(),
		DefaultModel: cfg.Anthropic.Model,
		MaxTokens:    cfg.Anthropic.MaxTokens,
	})

	var notionClient notionpkg.Client
	if cfg.Notion.Token != "" {
		notionClient = notionpkg.NewClient(cfg.Notion.Token)
	}

	env := &appEnv{
		Store:    st,
		Dedup:    ds,
		Pipeline: pipeline.New(st, ds, exec, sfClient, cfg.Pipeline),
		Ingestor: ingest.NewIngestor(st, cfg.Account.ID, cfg.Pipeline.MaxRetries),
		Exporter: export.New(st, notionClient, cfg.Notion.ParentDB),
	}

	if cfg.Rules.SeedPath != "" {
		n, err := rules.NewLoader(st).SeedFromFile(ctx, cfg.Rules.SeedPath)
		if err != nil {
			zap.L().Warn("rule seeding failed", zap.Error(err))
		} else if n > 0 {
			zap.L().Info("seeded default rules", zap.Int("count", n))
		}
	}

	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "import.db"
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

func initDedup(ctx context.Context) (dedup.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "import.db"
		}
		return dedup.NewSQLite(dsn)
	case "postgres":
		return dedup.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// configSecrets resolves secrets from the loaded config first, falling back
// to process environment variables.
type configSecrets struct{}

func (configSecrets) Lookup(name string) (string, bool) {
	switch name {
	case "ANTHROPIC_API_KEY":
		if cfg.Anthropic.Key != "" {
			return cfg.Anthropic.Key, true
		}
	case "SERP_API_KEY":
		if cfg.Serp.Key != "" {
			return cfg.Serp.Key, true
		}
	}
	return pipeline.EnvResolver{}.Lookup(name)
}
