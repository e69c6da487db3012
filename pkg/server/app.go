package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"XetraCast/pkg/config"
	xhttp "XetraCast/pkg/http"
	applogger "XetraCast/pkg/logger"
)

// Scheduler is the background refresh loop started alongside the dashboard.
type Scheduler interface {
	Register(spec string) error
	Start()
	Stop()
}

// App runs the dashboard server and the refresh scheduler until interrupted.
type App struct {
	cfg        *config.Config
	handler    xhttp.Handler
	scheduler  Scheduler
	l          *applogger.Logger
	httpServer *xhttp.Server
}

// New creates an App. scheduler may be nil.
func New(cfg *config.Config, handler xhttp.Handler, scheduler Scheduler, l *applogger.Logger) *App {
	if l == nil {
		l = applogger.NewNop()
	}
	return &App{
		cfg:       cfg,
		handler:   handler,
		scheduler: scheduler,
		l:         l.With("app"),
	}
}

// Run starts the services and blocks until ctx is done or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Path
	}
	a.httpServer = xhttp.NewServer(a.handler, a.l,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
	)

	if a.scheduler != nil && a.cfg.Schedule.Enabled {
		if err := a.scheduler.Register(a.cfg.Schedule.RefreshCron); err != nil {
			return err
		}
		a.scheduler.Start()
	}

	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.l.Info("shutdown signal received", applogger.String("signal", sig.String()))
	case <-ctx.Done():
		a.l.Info("context cancelled")
	}
	return a.shutdown()
}

func (a *App) shutdown() error {
	a.l.Info("shutting down...")

	if a.scheduler != nil && a.cfg.Schedule.Enabled {
		a.scheduler.Stop()
	}

	if err := a.httpServer.Stop(context.Background()); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
		return err
	}

	a.l.Info("shutdown complete")
	return nil
}
