package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotcommander/lore/internal/ai"
	"github.com/dotcommander/lore/internal/app"
	"github.com/dotcommander/lore/internal/blob"
	"github.com/dotcommander/lore/internal/cache"
	"github.com/dotcommander/lore/internal/output"
)

type doctorDB struct {
	Driver        string `json:"driver"`
	Path          string `json:"path,omitempty"`
	Source        string `json:"source,omitempty"`
	OK            bool   `json:"ok"`
	Error         string `json:"error,omitempty"`
	SchemaVersion int64  `json:"schema_version,omitempty"`
	LatestVersion int64  `json:"latest_version,omitempty"`
	Items         int    `json:"items"`
	Embedded      int    `json:"embedded_items"`
}

type doctorAI struct {
	Provider       string `json:"provider"`
	Generator      string `json:"generator"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
	Breaker        string `json:"breaker,omitempty"`
	Error          string `json:"error,omitempty"`
}

type doctorCache struct {
	Backend string `json:"backend"`
	Error   string `json:"error,omitempty"`
}

type doctorBlob struct {
	Enabled bool   `json:"enabled"`
	Bucket  string `json:"bucket,omitempty"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

type doctorReport struct {
	ConfigDir string      `json:"config_dir"`
	DB        doctorDB    `json:"db"`
	AI        doctorAI    `json:"ai"`
	Cache     doctorCache `json:"cache"`
	Blob      doctorBlob  `json:"blob"`
	Hint      string      `json:"hint,omitempty"`
}

// NewDoctorCmd creates the doctor command.
func NewDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, database, provider, cache and archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmdContext(cmd), 30*time.Second)
			defer cancel()
			return output.PrintSuccess(runDoctor(ctx))
		},
	}
	return cmd
}

func runDoctor(ctx context.Context) doctorReport {
	var rep doctorReport
	rep.ConfigDir, _ = app.ConfigDir()

	st, dbCfg, err := openStore(ctx)
	rep.DB.Driver, rep.DB.Path, rep.DB.Source = dbCfg.Driver, dbCfg.Path, dbCfg.Source
	if err != nil {
		rep.DB.Error = err.Error()
		rep.Hint = "If this is running in a sandboxed environment, set db_path to a writable location or use --db-path."
	} else {
		defer st.Close()
		if err := st.Ping(ctx); err != nil {
			rep.DB.Error = err.Error()
		} else {
			rep.DB.OK = true
		}
		rep.DB.SchemaVersion, rep.DB.LatestVersion, _ = st.SchemaVersion()
		if stats, err := st.Stats(ctx); err == nil {
			rep.DB.Items, rep.DB.Embedded = stats.Items, stats.EmbeddedItems
		}
	}

	aiCfg := app.EffectiveAISettings()
	rep.AI.Provider = aiCfg.Provider
	if services, err := ai.New(ctx, aiCfg); err != nil {
		rep.AI.Error = err.Error()
	} else {
		rep.AI.Generator = services.Generator.Name()
		if services.Embedder != nil {
			rep.AI.EmbeddingModel = services.Embedder.Model()
		}
		if services.Guard != nil {
			rep.AI.Breaker = services.Guard.State()
		}
	}

	if c, err := cache.New(ctx, app.EffectiveCacheSettings()); err != nil {
		rep.Cache.Error = err.Error()
	} else {
		rep.Cache.Backend = c.Backend()
		_ = c.Close()
	}

	blobCfg := app.EffectiveBlobSettings()
	rep.Blob.Enabled = blobCfg.Enabled()
	if rep.Blob.Enabled {
		rep.Blob.Bucket = blobCfg.Bucket
		b, err := blob.New(blobCfg)
		if err == nil {
			err = b.EnsureBucket(ctx)
		}
		if err != nil {
			rep.Blob.Error = err.Error()
		} else {
			rep.Blob.OK = true
		}
	}
	return rep
}
