package repository

import (
	"context"
	"errors"
	"io"
	"time"

	"XetraCast/internal/domain/models"
)

var ErrNotFound = errors.New("repository: not found")

// BarSource loads minute bars for the trading days in [from, to].
type BarSource interface {
	LoadBars(ctx context.Context, from, to time.Time) ([]models.Bar, error)
}

// BarStore is a warehouse of minute bars.
type BarStore interface {
	BarSource
	Init(ctx context.Context) error
	StoreBars(ctx context.Context, bars []models.Bar) (int, error)
	Health(ctx context.Context) error
}

// ObjectStore keeps dataset files. Put returns the object's URI.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	Get(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Registry records training jobs, endpoints and served forecasts.
type Registry interface {
	SaveTrainingJob(ctx context.Context, job *models.TrainingJob) error
	GetTrainingJob(ctx context.Context, name string) (*models.TrainingJob, error)
	LatestTrainingJob(ctx context.Context) (*models.TrainingJob, error)
	SaveEndpoint(ctx context.Context, ep *models.Endpoint) error
	GetEndpoint(ctx context.Context, name string) (*models.Endpoint, error)
	MarkEndpointDeleted(ctx context.Context, name string, at time.Time) error
	ActiveEndpoints(ctx context.Context) ([]models.Endpoint, error)
	SaveForecast(ctx context.Context, rec *models.ForecastRecord) error
	ListForecasts(ctx context.Context, symbol string, limit int) ([]models.ForecastRecord, error)
	Close() error
}

// ForecastPublisher streams served forecasts to downstream consumers.
type ForecastPublisher interface {
	PublishForecast(ctx context.Context, ev *models.ForecastEvent) error
	Close() error
}

// Metrics is the measurement surface used by the use cases.
type Metrics interface {
	RecordRecords(channel string, n int)
	RecordRemoteCall(op string, d time.Duration, err error)
	RecordCacheLookup(hit bool)
	RecordForecast(symbol string)
	RecordError(kind string)
}
