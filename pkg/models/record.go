package models

import "time"

// Reserved parameter names attached to every logged event.
const (
	ParamEventName        = "_eventName"
	ParamLogTime          = "_logTime"
	ParamImplicitlyLogged = "_implicitlyLogged"
)

// EventRecord is one buffered event. Params carry the event data including
// the event name; Operational holds pipeline metadata that is never sent as
// part of the event itself.
type EventRecord struct {
	Params      Params `json:"params"`
	Implicit    bool   `json:"implicit"`
	Operational Params `json:"operational,omitempty"`
}

func (r EventRecord) Name() string {
	if v, ok := r.Params[ParamEventName]; ok {
		if s, ok := v.AsString(); ok {
			return s
		}
	}
	return ""
}

func (r EventRecord) Clone() EventRecord {
	return EventRecord{
		Params:      r.Params.Clone(),
		Implicit:    r.Implicit,
		Operational: r.Operational.Clone(),
	}
}

type RecordBuilder struct {
	record EventRecord
}

func NewRecordBuilder(name string) *RecordBuilder {
	return &RecordBuilder{
		record: EventRecord{
			Params: Params{ParamEventName: String(name)},
		},
	}
}

func (b *RecordBuilder) WithParams(params Params) *RecordBuilder {
	for k, v := range params {
		b.record.Params[k] = v
	}
	return b
}

func (b *RecordBuilder) WithParam(key string, value Value) *RecordBuilder {
	b.record.Params[key] = value
	return b
}

func (b *RecordBuilder) Implicit(implicit bool) *RecordBuilder {
	b.record.Implicit = implicit
	return b
}

func (b *RecordBuilder) WithOperational(params Params) *RecordBuilder {
	b.record.Operational = params
	return b
}

func (b *RecordBuilder) WithLogTime(t time.Time) *RecordBuilder {
	b.record.Params[ParamLogTime] = Int(t.Unix())
	return b
}

func (b *RecordBuilder) Build() EventRecord {
	if _, ok := b.record.Params[ParamLogTime]; !ok {
		b.record.Params[ParamLogTime] = Int(time.Now().Unix())
	}
	if b.record.Implicit {
		b.record.Params[ParamImplicitlyLogged] = String("1")
	}
	return b.record
}
