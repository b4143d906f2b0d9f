package models

import (
	"encoding/json"
	"time"
)

// BatchEnvelope is what a flush hands to the sink for one buffer.
type BatchEnvelope struct {
	ID           string          `json:"id"`
	AppID        string          `json:"app_id"`
	Token        string          `json:"token,omitempty"`
	Events       json.RawMessage `json:"events"`
	EventCount   int             `json:"event_count"`
	SkippedCount uint64          `json:"skipped_count"`
	AllImplicit  bool            `json:"all_implicit"`
	ReceiptData  string          `json:"receipt_data,omitempty"`
	Reason       string          `json:"reason"`
	FlushedAt    time.Time       `json:"flushed_at"`
	Metadata     Metadata        `json:"metadata"`
}

type Metadata struct {
	TraceID string `json:"trace_id,omitempty"`
	// Attributes carries transport annotations such as DLQ reasons.
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

const (
	FlushReasonTimer     = "timer"
	FlushReasonThreshold = "event_threshold"
	FlushReasonExplicit  = "explicit"
	FlushReasonShutdown  = "shutdown"
)
