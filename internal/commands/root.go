package commands

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotcommander/lore/internal/app"
	"github.com/dotcommander/lore/internal/output"
)

// Execute runs the CLI application.
func Execute(version string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(app.EffectiveLogLevel())})))

	err := NewRootCmd(version).Execute()
	if err != nil {
		var pe printedError
		if !errors.As(err, &pe) {
			slog.Error("command failed", "error", err.Error())
			_ = output.PrintError(err)
		}
	}
	return err
}

// NewRootCmd builds the lore command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "lore",
		Short:         "Retrieval-augmented knowledge base (store, search, ask)",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			showVersion, _ := cmd.Flags().GetBool("version")
			if showVersion {
				type resp struct {
					Version string `json:"version"`
				}
				return output.PrintSuccess(resp{Version: version})
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := app.EnsureConfigDir(); err != nil {
				return err
			}

			// Wire global flags into the app-level resolvers.
			if v, err := cmd.Flags().GetString("db-path"); err == nil && v != "" {
				app.SetDBPathOverride(v)
			}
			if v, err := cmd.Flags().GetString("db-driver"); err == nil && v != "" {
				app.SetDBDriverOverride(v)
			}
			if v, err := cmd.Flags().GetString("database-url"); err == nil && v != "" {
				app.SetDatabaseURLOverride(v)
			}
			if v, err := cmd.Flags().GetString("provider"); err == nil && v != "" {
				app.SetProviderOverride(v)
			}
			return nil
		},
	}

	root.PersistentFlags().String("db-path", "", "Override SQLite database path")
	root.PersistentFlags().String("db-driver", "", "Database driver: sqlite|postgres")
	root.PersistentFlags().String("database-url", "", "Postgres/Supabase connection string")
	root.PersistentFlags().String("provider", "", "AI provider: hash|cli|gemini|ollama|none")
	root.Flags().BoolP("version", "v", false, "version for lore")

	root.AddCommand(NewAddCmd())
	root.AddCommand(NewGetCmd())
	root.AddCommand(NewListCmd())
	root.AddCommand(NewUpdateCmd())
	root.AddCommand(NewDeleteCmd())
	root.AddCommand(NewSearchCmd())
	root.AddCommand(NewAskCmd())
	root.AddCommand(NewIngestCmd())
	root.AddCommand(NewBackfillCmd())
	root.AddCommand(NewStatsCmd())
	root.AddCommand(NewServeCmd())
	root.AddCommand(NewDoctorCmd())
	root.AddCommand(NewDBCmd())
	root.AddCommand(NewSchemaCmd(root))
	return root
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
