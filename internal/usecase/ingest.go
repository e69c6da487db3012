package usecase

import (
	"context"
	"fmt"
	"time"

	domrepo "XetraCast/internal/domain/repository"
	applogger "XetraCast/pkg/logger"
)

// IngestUseCase copies bars from the public dataset into the warehouse.
type IngestUseCase struct {
	source  domrepo.BarSource
	store   domrepo.BarStore
	metrics domrepo.Metrics
	l       *applogger.Logger
}

func NewIngestUseCase(source domrepo.BarSource, store domrepo.BarStore, metrics domrepo.Metrics, l *applogger.Logger) *IngestUseCase {
	if l == nil {
		l = applogger.NewNop()
	}
	return &IngestUseCase{source: source, store: store, metrics: metrics, l: l.With("ingest")}
}

type IngestResult struct {
	From   time.Time
	To     time.Time
	Loaded int
	Stored int
}

// Ingest loads [from, to] from the source and stores every bar. The target
// schema is created on first use.
func (uc *IngestUseCase) Ingest(ctx context.Context, from, to time.Time) (*IngestResult, error) {
	if from.After(to) {
		return nil, fmt.Errorf("ingest: from %s is after to %s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	if err := uc.store.Init(ctx); err != nil {
		return nil, fmt.Errorf("ingest: init store: %w", err)
	}

	start := time.Now()
	bars, err := uc.source.LoadBars(ctx, from, to)
	uc.metrics.RecordRemoteCall("load_bars", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	n, err := uc.store.StoreBars(ctx, bars)
	if err != nil {
		uc.metrics.RecordError("ingest")
		return nil, fmt.Errorf("ingest: %w", err)
	}
	uc.metrics.RecordRecords("bars", n)
	uc.l.Info("bars ingested",
		applogger.Int("loaded", len(bars)),
		applogger.Int("stored", n),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return &IngestResult{From: from, To: to, Loaded: len(bars), Stored: n}, nil
}
