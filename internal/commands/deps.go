package commands

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dotcommander/lore/internal/ai"
	"github.com/dotcommander/lore/internal/app"
	"github.com/dotcommander/lore/internal/blob"
	"github.com/dotcommander/lore/internal/cache"
	"github.com/dotcommander/lore/internal/rag"
	"github.com/dotcommander/lore/internal/store"
)

// deps is everything a command needs, wired from configuration.
type deps struct {
	dbCfg app.DatabaseConfig
	store *store.Store
	aiCfg app.AISettings
	ai    *ai.Services
	cache cache.Cache
	blob  *blob.Store // nil when archiving is not configured
	svc   *rag.Service
}

func openStore(ctx context.Context) (*store.Store, app.DatabaseConfig, error) {
	cfg, err := app.ResolveDatabase()
	if err != nil {
		return nil, cfg, err
	}
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, cfg, err
	}
	return st, cfg, nil
}

func openDeps(ctx context.Context) (*deps, func(), error) {
	st, dbCfg, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	aiCfg := app.EffectiveAISettings()
	services, err := ai.New(ctx, aiCfg)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	c, err := cache.New(ctx, app.EffectiveCacheSettings())
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	d := &deps{dbCfg: dbCfg, store: st, aiCfg: aiCfg, ai: services, cache: c}
	opts := rag.Options{
		Embedder:    services.Embedder,
		Generator:   services.Generator,
		Cache:       c,
		Settings:    app.EffectiveRAGSettings(),
		Temperature: aiCfg.Temperature,
	}
	if blobCfg := app.EffectiveBlobSettings(); blobCfg.Enabled() {
		b, err := blob.New(blobCfg)
		if err != nil {
			slog.Warn("document archive disabled", "error", err)
		} else {
			d.blob = b
			opts.Archive = b
		}
	}
	d.svc = rag.New(st, opts)

	closeFn := func() {
		// A CLI process exits right after the command; run any backfill
		// that embedding failures scheduled instead of dropping it.
		d.svc.FlushBackfill()
		d.svc.Close()
		_ = c.Close()
		_ = st.Close()
	}
	return d, closeFn, nil
}

// withService opens the runtime, runs fn and routes failures through cmdErr.
func withService(cmd *cobra.Command, fn func(ctx context.Context, d *deps) error) error {
	ctx := cmdContext(cmd)
	d, closeDeps, err := openDeps(ctx)
	if err != nil {
		return cmdErr(err)
	}
	defer closeDeps()

	if err := fn(ctx, d); err != nil {
		return cmdErr(err)
	}
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
