// Package app wires the HTTP server, queue dispatcher, and scheduler into
// one lifecycle with coordinated shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"kakehashi/internal/config"
	"kakehashi/internal/dispatcher"
	"kakehashi/internal/server"
)

const shutdownTimeout = 10 * time.Second

// App owns the long-running components of the service.
type App struct {
	logger     *slog.Logger
	cfg        *config.Config
	srv        *server.Server
	dispatcher *dispatcher.Dispatcher
	scheduler  *Scheduler
}

// New creates the application from its already-constructed components.
func New(
	logger *slog.Logger,
	cfg *config.Config,
	srv *server.Server,
	disp *dispatcher.Dispatcher,
	scheduler *Scheduler,
) *App {
	return &App{
		logger:     logger.With("component", "app"),
		cfg:        cfg,
		srv:        srv,
		dispatcher: disp,
		scheduler:  scheduler,
	}
}

// Run starts all components and blocks until ctx is cancelled or a component
// fails. Shutdown is graceful: in-flight HTTP requests and scheduled jobs
// are given time to finish.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting application")

	httpSrv := &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: a.srv.Router(),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Starting HTTP server", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := a.dispatcher.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("dispatcher failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		<-gCtx.Done()
		a.logger.Info("Stopping scheduler")
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Application stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Application stopped gracefully")
	return nil
}
