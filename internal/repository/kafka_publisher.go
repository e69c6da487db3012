package repository

import (
	"context"

	"XetraCast/internal/domain/models"
	pkgkafka "XetraCast/pkg/kafka"
)

// KafkaForecastPublisher writes forecast events keyed by symbol so every
// symbol's forecasts land on one partition in order.
type KafkaForecastPublisher struct {
	producer *pkgkafka.Producer
}

func NewKafkaForecastPublisher(p *pkgkafka.Producer) *KafkaForecastPublisher {
	return &KafkaForecastPublisher{producer: p}
}

func (p *KafkaForecastPublisher) PublishForecast(ctx context.Context, ev *models.ForecastEvent) error {
	return p.producer.Publish(ctx, []byte(ev.Symbol), ev)
}

func (p *KafkaForecastPublisher) Close() error {
	return p.producer.Close()
}

// NopPublisher drops events; used when kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishForecast(context.Context, *models.ForecastEvent) error { return nil }
func (NopPublisher) Close() error { return nil }
