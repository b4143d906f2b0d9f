package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"appevents/internal/config"
	"appevents/internal/constants"
	"appevents/internal/logger"
	"appevents/pkg/errors"
	"appevents/pkg/logging"
	"appevents/pkg/metrics"
	"appevents/pkg/models"
	"appevents/pkg/retry"
	"appevents/pkg/tracing"
)

const (
	headerDLQReason      = "dlq_reason"
	headerDLQSourceTopic = "dlq_source_topic"
	headerDLQTimestamp   = "dlq_timestamp"
)

func newWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}
}

type KafkaProducer struct {
	writer      messageWriter
	batchTopic  string
	updateTopic string
	logger      logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	return newKafkaProducer(newWriter(cfg.Brokers), cfg, log)
}

func newKafkaProducer(w messageWriter, cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	batchTopic := cfg.BatchTopic
	if batchTopic == "" {
		batchTopic = constants.DefaultBatchTopic
	}
	updateTopic := cfg.ConfigUpdateTopic
	if updateTopic == "" {
		updateTopic = constants.DefaultConfigUpdateTopic
	}
	return &KafkaProducer{writer: w, batchTopic: batchTopic, updateTopic: updateTopic, logger: log}
}

// Publish writes batch to the batch topic keyed by app id, so batches of one
// app stay ordered within a partition.
func (p *KafkaProducer) Publish(ctx context.Context, batch models.BatchEnvelope) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}
	return p.write(ctx, p.batchTopic, []byte(batch.AppID), body)
}

func (p *KafkaProducer) PublishConfigUpdate(ctx context.Context, event models.ConfigUpdateEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal config update: %w", err)
	}
	return p.write(ctx, p.updateTopic, []byte(event.AppID), body)
}

func (p *KafkaProducer) write(ctx context.Context, topic string, key, body []byte) error {
	headers := tracing.InjectTraceContext(ctx, []kafka.Header{})

	start := time.Now()
	err := p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic:   topic,
			Key:     key,
			Value:   body,
			Headers: headers,
			Time:    time.Now(),
		},
	)
	metrics.ObserveKafkaWriteDuration(constants.ServiceName, topic, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(constants.ServiceName, topic)
	metrics.ObserveKafkaMessageSize(constants.ServiceName, topic, "out", len(body))
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads config update notices. Handler failures are retried
// and then sent to the DLQ topic when one is configured.
type KafkaConsumer struct {
	cfg       config.KafkaConfig
	topic     string
	wg        sync.WaitGroup
	mu        sync.Mutex
	reader    messageReader
	newReader func() messageReader
	dlq       messageWriter
	logger    logger.Logger
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	topic := cfg.ConfigUpdateTopic
	if topic == "" {
		topic = constants.DefaultConfigUpdateTopic
	}

	consumer := &KafkaConsumer{
		cfg:    cfg,
		topic:  topic,
		logger: log,
		newReader: func() messageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:  cfg.Brokers,
				GroupID:  cfg.GroupID,
				Topic:    topic,
				MinBytes: 1,
				MaxBytes: 10e6,
			})
		},
	}

	if cfg.DLQTopic != "" {
		consumer.dlq = newWriter(cfg.Brokers)
	}

	return consumer
}

// Consume blocks until ctx is done.
func (c *KafkaConsumer) Consume(ctx context.Context, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", c.topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
	)

	reader := c.newReader()
	c.mu.Lock()
	c.reader = reader
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeLoop(ctx, reader, handler)
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *KafkaConsumer) consumeLoop(ctx context.Context, reader messageReader, handler HandlerFunc) {
	consumeCtx := logging.WithServiceName(ctx, constants.ServiceName)
	c.logger.InfowCtx(consumeCtx, "Started consuming", "topic", c.topic)

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfowCtx(consumeCtx, "Stopped consuming",
					"topic", c.topic,
					"reason", "context canceled",
				)
				return
			}
			c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
				"error", err,
				"topic", c.topic,
			)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		c.handleMessage(ctx, m, handler)

		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.ErrorwCtx(consumeCtx, "Failed to commit message",
				"error", err,
				"topic", c.topic,
			)
		}
	}
}

// handleMessage processes one message. It never blocks the partition: the
// message is committed whatever the outcome.
func (c *KafkaConsumer) handleMessage(ctx context.Context, m kafka.Message, handler HandlerFunc) {
	metrics.IncKafkaMessagesRead(constants.ServiceName, m.Topic)
	metrics.ObserveKafkaMessageSize(constants.ServiceName, m.Topic, "in", len(m.Value))
	if m.HighWaterMark > 0 {
		metrics.SetKafkaConsumerLag(constants.ServiceName, m.Topic, m.Partition, m.HighWaterMark-m.Offset-1)
	}

	msgCtx, span := tracing.StartConsumerSpan(ctx, m)
	var err error
	defer func() { tracing.EndSpan(span, err) }()
	if traceID := tracing.TraceID(msgCtx); traceID != "" {
		msgCtx = logging.WithTraceID(msgCtx, traceID)
	}

	var event models.ConfigUpdateEvent
	if err = json.Unmarshal(m.Value, &event); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to unmarshal config update",
			"error", err,
			"topic", m.Topic,
		)
		c.deadLetter(msgCtx, m, err)
		return
	}
	if event.AppID != "" {
		msgCtx = logging.WithAppID(msgCtx, event.AppID)
	}

	err = c.processWithRetry(msgCtx, event, handler)
	if err == nil {
		return
	}

	c.logger.ErrorwCtx(msgCtx, "Failed to process message after retries",
		"error", err,
		"topic", m.Topic,
	)
	c.deadLetter(msgCtx, m, err)
}

func (c *KafkaConsumer) processWithRetry(ctx context.Context, event models.ConfigUpdateEvent, handler HandlerFunc) error {
	policy := retry.FromConfig(c.cfg.Retry)

	return retry.RetryWithCallback(ctx, policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
					"error", err,
					"topic", c.topic,
				)
			}
		}()
		return handler(ctx, event)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(constants.ServiceName, c.topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", c.topic,
		)
	})
}

func (c *KafkaConsumer) deadLetter(ctx context.Context, m kafka.Message, cause error) {
	if c.dlq == nil || c.cfg.DLQTopic == "" {
		c.logger.WarnwCtx(ctx, "No DLQ configured, committing message to avoid blocking",
			"topic", m.Topic,
		)
		return
	}

	headers := append([]kafka.Header{}, m.Headers...)
	headers = append(headers,
		kafka.Header{Key: headerDLQReason, Value: []byte(cause.Error())},
		kafka.Header{Key: headerDLQSourceTopic, Value: []byte(m.Topic)},
		kafka.Header{Key: headerDLQTimestamp, Value: []byte(time.Now().UTC().Format(time.RFC3339Nano))},
	)

	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
		Time:    time.Now(),
	})
	if err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to send message to DLQ",
			"error", err,
			"topic", m.Topic,
		)
		return
	}

	metrics.DLQMessagesTotal.WithLabelValues(constants.ServiceName, m.Topic, "max_retries_exceeded").Inc()
	c.logger.InfowCtx(ctx, "Message sent to DLQ",
		"source_topic", m.Topic,
		"dlq_topic", c.cfg.DLQTopic,
		"reason", cause.Error(),
	)
}

func (c *KafkaConsumer) Close() error {
	var err error
	c.mu.Lock()
	reader := c.reader
	c.mu.Unlock()
	if reader != nil {
		err = reader.Close()
	}
	if c.dlq != nil {
		if closeErr := c.dlq.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	c.wg.Wait()
	return err
}
