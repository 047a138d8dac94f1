package mq

import (
	"context"
	"fmt"

	"github.com/berfenger/antra2mqtt/internal/config"
	"github.com/berfenger/antra2mqtt/internal/core/port"

	"go.uber.org/zap"
)

// NoOpProducer drops every message, used when no sink is configured.
type NoOpProducer struct{}

func (NoOpProducer) Produce(context.Context, string, []byte) error {
	return nil
}

func (NoOpProducer) Close() error {
	return nil
}

var (
	_ port.MetricSink = NoOpProducer{}
	_ port.MetricSink = (*KafkaProducer)(nil)
	_ port.MetricSink = (*RabbitMQProducer)(nil)
)

func NewProducer(cfg config.SinkConfig, logger *zap.Logger) (port.MetricSink, error) {
	switch cfg.Type {
	case "", config.SINK_NONE:
		return NoOpProducer{}, nil
	case config.SINK_KAFKA:
		return NewKafkaProducer(cfg, logger)
	case config.SINK_RABBITMQ:
		return NewRabbitMQProducer(cfg, logger)
	}
	return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
}
