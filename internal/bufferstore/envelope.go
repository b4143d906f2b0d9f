package bufferstore

import (
	"fmt"
	"time"

	"appevents/internal/events"
	apperrors "appevents/pkg/errors"
	"appevents/pkg/models"
)

// SnapshotVersion is bumped whenever the envelope layout changes in a way
// older readers cannot decode.
const SnapshotVersion = 1

type snapshot struct {
	Version int             `cbor:"version"`
	ID      string          `cbor:"id"`
	SavedAt time.Time       `cbor:"saved_at"`
	Token   *string         `cbor:"token"`
	AppID   *string         `cbor:"app_id"`
	Skipped uint64          `cbor:"skipped"`
	Events  []snapshotEvent `cbor:"events"`
}

type snapshotEvent struct {
	Params      map[string]any `cbor:"params"`
	Implicit    bool           `cbor:"implicit"`
	Operational map[string]any `cbor:"operational,omitempty"`
}

func newSnapshot(id string, savedAt time.Time, buf *events.Buffer) snapshot {
	records := buf.Events()
	s := snapshot{
		Version: SnapshotVersion,
		ID:      id,
		SavedAt: savedAt,
		Token:   buf.Token(),
		AppID:   buf.AppID(),
		Skipped: buf.SkippedCount(),
		Events:  make([]snapshotEvent, len(records)),
	}
	for i, r := range records {
		s.Events[i] = snapshotEvent{
			Params:   r.Params.ToMap(),
			Implicit: r.Implicit,
		}
		if len(r.Operational) > 0 {
			s.Events[i].Operational = r.Operational.ToMap()
		}
	}
	return s
}

func (s snapshot) toBuffer(opts ...events.Option) (*events.Buffer, error) {
	if s.Version != SnapshotVersion {
		return nil, apperrors.ErrUnsupportedVersion.
			WithMessage(fmt.Sprintf("unsupported snapshot version %d", s.Version)).
			WithDetail("version", s.Version)
	}

	records := make([]models.EventRecord, len(s.Events))
	for i, e := range s.Events {
		params, err := models.ParamsFromMap(e.Params)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		operational, err := models.ParamsFromMap(e.Operational)
		if err != nil {
			return nil, fmt.Errorf("event %d operational: %w", i, err)
		}
		records[i] = models.EventRecord{Params: params, Implicit: e.Implicit, Operational: operational}
	}

	id := events.Identity{Token: s.Token, AppID: s.AppID}
	return events.RestoreBuffer(id, records, s.Skipped, opts...), nil
}
