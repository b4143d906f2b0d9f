package broker

import (
	"fmt"

	"appevents/internal/config"
	"appevents/internal/logger"
)

const (
	TypeKafka = "kafka"
	TypeNone  = "none"
)

func NewBatchPublisher(cfg config.BrokerConfig, log logger.Logger) (BatchPublisher, error) {
	switch cfg.Type {
	case TypeKafka:
		return NewKafkaProducer(cfg.Kafka, log), nil
	case TypeNone, "":
		return NewLogSink(log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

// NewConsumer returns nil without error when no broker is configured.
func NewConsumer(cfg config.BrokerConfig, log logger.Logger) (Consumer, error) {
	switch cfg.Type {
	case TypeKafka:
		return NewKafkaConsumer(cfg.Kafka, log), nil
	case TypeNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
