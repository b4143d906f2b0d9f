// Package events holds the bounded per-identity event buffers.
package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"appevents/pkg/models"
)

// MaxEvents is the capacity of a single buffer.
const MaxEvents = 1000

const receiptDataParam = "receipt_data"

// Buffer accumulates events for one identity. It is not safe for
// concurrent use; callers serialize access per buffer.
type Buffer struct {
	identity    Identity
	records     []models.EventRecord
	skipped     uint64
	allImplicit bool
	processors  *ProcessorRegistry
}

type Option func(*Buffer)

// WithProcessors makes SerializeEvents run the hooks in reg.
func WithProcessors(reg *ProcessorRegistry) Option {
	return func(b *Buffer) {
		b.processors = reg
	}
}

func NewBuffer(token, appID *string, opts ...Option) *Buffer {
	return NewBufferFor(Identity{Token: token, AppID: appID}, opts...)
}

func NewBufferFor(id Identity, opts ...Option) *Buffer {
	b := &Buffer{
		identity:    id,
		allImplicit: true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RestoreBuffer rebuilds a buffer from persisted state. Records beyond
// capacity are counted as skipped.
func RestoreBuffer(id Identity, records []models.EventRecord, skipped uint64, opts ...Option) *Buffer {
	b := NewBufferFor(id, opts...)
	b.skipped = skipped
	for _, record := range records {
		b.AddEvent(record, record.Operational)
	}
	return b
}

func (b *Buffer) Identity() Identity {
	return b.identity
}

func (b *Buffer) Token() *string {
	return b.identity.Token
}

func (b *Buffer) AppID() *string {
	return b.identity.AppID
}

func (b *Buffer) Len() int {
	return len(b.records)
}

func (b *Buffer) SkippedCount() uint64 {
	return b.skipped
}

// AllImplicit is true when the buffer is empty or every record is implicit.
func (b *Buffer) AllImplicit() bool {
	return b.allImplicit
}

// Events returns a copy of the buffered records.
func (b *Buffer) Events() []models.EventRecord {
	out := make([]models.EventRecord, len(b.records))
	copy(out, b.records)
	return out
}

// Clone returns a copy that can be changed without affecting b.
func (b *Buffer) Clone() *Buffer {
	return &Buffer{
		identity:    b.identity,
		records:     b.Events(),
		skipped:     b.skipped,
		allImplicit: b.allImplicit,
		processors:  b.processors,
	}
}

func (b *Buffer) IsValidForPersistence() bool {
	return b.identity.Valid()
}

func (b *Buffer) IsCompatibleWith(other *Buffer) bool {
	return b.identity.Equal(other.identity)
}

// AddEvent appends record, or counts it as skipped when the buffer is full.
func (b *Buffer) AddEvent(record models.EventRecord, operational models.Params) {
	if len(b.records) >= MaxEvents {
		b.skipped++
		return
	}
	if operational != nil {
		record.Operational = operational
	}
	b.records = append(b.records, record)
	b.allImplicit = b.allImplicit && record.Implicit
}

// MergeFrom copies as many of other's records as fit. Everything that does
// not fit, plus other's own skipped count, is added to the skipped count.
// Compatibility is not checked.
func (b *Buffer) MergeFrom(other *Buffer) {
	// other may be b itself; work from a snapshot
	source := make([]models.EventRecord, len(other.records))
	copy(source, other.records)
	sourceSkipped := other.skipped

	room := MaxEvents - len(b.records)
	if room < 0 {
		room = 0
	}
	copied := len(source)
	if copied > room {
		copied = room
	}

	for _, record := range source[:copied] {
		b.records = append(b.records, record)
		b.allImplicit = b.allImplicit && record.Implicit
	}
	b.skipped += uint64(len(source)-copied) + sourceSkipped
}

// SerializeEvents returns the JSON array of buffered params. Implicit
// records are left out unless includeImplicit is set. Registered processors
// run on copies, stored records are not touched.
func (b *Buffer) SerializeEvents(includeImplicit bool) ([]byte, error) {
	out := make([]models.Params, 0, len(b.records))
	var processors []Processor
	if b.processors != nil {
		processors = b.processors.Processors()
	}

	for _, record := range b.records {
		if record.Implicit && !includeImplicit {
			continue
		}
		params := record.Params.Clone()
		if params == nil {
			params = models.Params{}
		}
		for _, p := range processors {
			params = p.Process(params)
		}
		out = append(out, params)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize events: %w", err)
	}
	return data, nil
}

// ExtractReceiptData removes receipt_data from the buffered records and
// returns them joined as receipt_N::<data>;;; with N counting from 1.
func (b *Buffer) ExtractReceiptData() string {
	var sb strings.Builder
	n := 0
	for i := range b.records {
		v, ok := b.records[i].Params[receiptDataParam]
		if !ok {
			continue
		}
		data, ok := v.AsString()
		if !ok {
			continue
		}
		n++
		fmt.Fprintf(&sb, "receipt_%d::%s;;;", n, data)

		params := b.records[i].Params.Clone()
		delete(params, receiptDataParam)
		b.records[i].Params = params
	}
	return sb.String()
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer{token=%q app_id=%q events=%d skipped=%d}",
		valueOf(b.identity.Token), valueOf(b.identity.AppID), len(b.records), b.skipped)
}
