package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"XetraCast/internal/domain/models"
	"XetraCast/internal/usecase"
	applogger "XetraCast/pkg/logger"
)

const lockKey = "scheduler:refresh"

// Forecaster is the part of the forecast use case the scheduler drives.
type Forecaster interface {
	Symbols() ([]string, error)
	Forecast(ctx context.Context, p usecase.Params) (*models.ForecastView, error)
}

// Locker keeps two replicas from refreshing at once. cache.Service
// satisfies it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Scheduler refreshes forecasts on a cron schedule (seconds field enabled).
type Scheduler struct {
	cron    *cron.Cron
	svc     Forecaster
	lock    Locker
	symbols []string
	lockTTL time.Duration
	l       *applogger.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. symbols may be empty to refresh every prepared
// symbol; lock may be nil. Scheduled refreshes run under a child of ctx that
// Stop cancels.
func New(ctx context.Context, svc Forecaster, lock Locker, symbols []string, l *applogger.Logger) *Scheduler {
	if l == nil {
		l = applogger.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		svc:     svc,
		lock:    lock,
		symbols: symbols,
		lockTTL: 10 * time.Minute,
		l:       l.With("scheduler"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds the refresh job at spec, e.g. "0 0 18 * * 1-5".
func (s *Scheduler) Register(spec string) error {
	if _, err := s.cron.AddFunc(spec, func() { s.Refresh(s.ctx) }); err != nil {
		return fmt.Errorf("register refresh %q: %w", spec, err)
	}
	s.l.Info("refresh scheduled", applogger.String("spec", spec))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.l.Info("scheduler started")
}

// Stop cancels a running refresh and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.l.Info("scheduler stopped")
}

// Refresh forecasts every symbol at its latest cutoff and returns how many
// succeeded and failed. Failures are logged per symbol and do not stop the
// run.
func (s *Scheduler) Refresh(ctx context.Context) (ok, failed int) {
	if s.lock != nil {
		got, err := s.lock.TryLock(ctx, lockKey, s.lockTTL)
		if err != nil {
			s.l.Error("refresh lock failed", applogger.Error(err))
			return 0, 0
		}
		if !got {
			s.l.Info("refresh already running elsewhere, skipping")
			return 0, 0
		}
		defer func() {
			if err := s.lock.Unlock(context.Background(), lockKey); err != nil {
				s.l.Warn("refresh unlock failed", applogger.Error(err))
			}
		}()
	}

	symbols := s.symbols
	if len(symbols) == 0 {
		all, err := s.svc.Symbols()
		if err != nil {
			s.l.Error("refresh: list symbols failed", applogger.Error(err))
			return 0, 0
		}
		symbols = all
	}

	start := time.Now()
	for _, sym := range symbols {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.svc.Forecast(ctx, usecase.Params{Symbol: sym}); err != nil {
			failed++
			s.l.Error("refresh forecast failed", applogger.String("symbol", sym), applogger.Error(err))
			continue
		}
		ok++
	}
	s.l.Info("forecasts refreshed",
		applogger.Int("ok", ok),
		applogger.Int("failed", failed),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return ok, failed
}
