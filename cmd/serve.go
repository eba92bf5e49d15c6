package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/stock-importer/internal/api"
	"github.com/sells-group/stock-importer/internal/importer"
)

var (
	servePort     int
	serveInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the report API, optionally importing on an interval",
	Long:  "Starts the read-only report API. With --interval, also runs an import pass on that schedule, one pass at a time. With monitoring.webhook_url set, posts import health alerts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		g, ctx := errgroup.WithContext(ctx)

		if serveInterval > 0 {
			env, err := initImport(ctx, false)
			if err != nil {
				return err
			}
			defer env.Close()

			g.Go(func() error {
				return importLoop(ctx, env.Importer, serveInterval)
			})
		}

		history := openHistory(afero.NewOsFs())
		if cfg.Monitoring.Enabled() {
			checker := newChecker(history)
			g.Go(func() error {
				checker.Run(ctx)
				return nil
			})
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.NewServer(history, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		// Graceful shutdown
		g.Go(func() error {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 0, "run an import pass on this interval (0 disables)")
	rootCmd.AddCommand(serveCmd)
}

// importLoop runs an import pass immediately and then every interval until
// ctx is done. Pass failures are logged; the loop keeps going.
func importLoop(ctx context.Context, imp *importer.Importer, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := imp.Run(ctx); err != nil && ctx.Err() == nil {
			zap.L().Error("scheduled import failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
