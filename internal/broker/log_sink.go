package broker

import (
	"context"

	"appevents/internal/logger"
	"appevents/pkg/models"
)

// LogSink stands in for a broker when none is configured. Batches are
// logged and discarded.
type LogSink struct {
	logger logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: log}
}

func (s *LogSink) Publish(ctx context.Context, batch models.BatchEnvelope) error {
	s.logger.InfowCtx(ctx, "Batch ready",
		"batch_id", batch.ID,
		"app_id", batch.AppID,
		"events", batch.EventCount,
		"skipped", batch.SkippedCount,
		"reason", batch.Reason,
	)
	return nil
}

func (s *LogSink) Close() error {
	return nil
}
