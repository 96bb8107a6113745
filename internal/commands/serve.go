package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotcommander/lore/internal/app"
	"github.com/dotcommander/lore/internal/httpapi"
	"github.com/dotcommander/lore/internal/output"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = app.EffectiveHTTPAddr()
			}

			ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withService(cmd, func(ctx context.Context, d *deps) error {
				if d.blob != nil {
					bctx, cancel := context.WithTimeout(ctx, 10*time.Second)
					if err := d.blob.EnsureBucket(bctx); err != nil {
						slog.Warn("blob bucket check failed", "bucket", d.blob.Bucket(), "error", err)
					}
					cancel()
				}

				srv := httpapi.New(d.svc, d.store, httpapi.Options{})
				if err := srv.ListenAndServe(ctx, addr); err != nil {
					return err
				}
				type resp struct {
					Addr    string `json:"addr"`
					Stopped bool   `json:"stopped"`
				}
				return output.PrintSuccess(resp{Addr: addr, Stopped: true})
			})
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default $LORE_HTTP_ADDR, http_addr, 127.0.0.1:8080)")
	return cmd
}
