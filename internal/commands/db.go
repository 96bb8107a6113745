package commands

import (
	"github.com/spf13/cobra"

	"github.com/dotcommander/lore/internal/app"
	"github.com/dotcommander/lore/internal/output"
)

func NewDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database utilities",
	}

	cmd.AddCommand(newDBPathCmd())
	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print the resolved database target",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbCfg, err := app.ResolveDatabase()
			if err != nil {
				return cmdErr(err)
			}
			return output.PrintSuccess(dbCfg)
		},
	}
	return cmd
}

// newDBMigrateCmd applies pending migrations. Opening the store migrates,
// so this only needs to open and report.
func newDBMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, dbCfg, err := openStore(cmdContext(cmd))
			if err != nil {
				return cmdErr(err)
			}
			defer st.Close()

			current, latest, err := st.SchemaVersion()
			if err != nil {
				return cmdErr(err)
			}
			type resp struct {
				Driver  string `json:"driver"`
				Source  string `json:"source"`
				Version int64  `json:"version"`
				Latest  int64  `json:"latest"`
			}
			return output.PrintSuccess(resp{Driver: dbCfg.Driver, Source: dbCfg.Source, Version: current, Latest: latest})
		},
	}
}
