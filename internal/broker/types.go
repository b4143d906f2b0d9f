package broker

import (
	"context"

	"github.com/segmentio/kafka-go"

	"appevents/pkg/models"
)

// BatchPublisher sends flushed event batches downstream.
type BatchPublisher interface {
	Publish(ctx context.Context, batch models.BatchEnvelope) error
	Close() error
}

type ConfigUpdatePublisher interface {
	PublishConfigUpdate(ctx context.Context, event models.ConfigUpdateEvent) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, handler HandlerFunc) error
	Close() error
}

type HandlerFunc func(ctx context.Context, event models.ConfigUpdateEvent) error

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the producers use.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}
