package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/wardrive/internal/adapter/http"
	"github.com/couchcryptid/wardrive/internal/scheduler"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the periodic offline-buffer sync",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := httpadapter.NewServer(a.cfg.HTTPAddr, a.coord, a.coord, a.metrics, a.logger)
		task := scheduler.New("offline-sync", a.cfg.SyncInterval, func(ctx context.Context) error {
			_, err := a.coord.SyncOfflineBuffer(ctx)
			return err
		}, clockwork.NewRealClock(), a.logger, a.cfg.ShutdownTimeout)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			task.Start(gctx)
			<-gctx.Done()
			a.logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			defer cancel()

			var errs []error
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
			}
			if err := task.Stop(); err != nil {
				errs = append(errs, err)
			}
			return errors.Join(errs...)
		})

		err = g.Wait()
		a.logger.Info("shutdown complete")
		return err
	},
}
