package configcache

import (
	"encoding/json"
	"fmt"
	"time"

	"appevents/internal/logger"
)

// ATEStatus is the advertiser tracking status the server assigns by default.
type ATEStatus int

const (
	ATEUnspecified ATEStatus = iota
	ATEAllowed
	ATEDisallowed
)

func (s ATEStatus) String() string {
	switch s {
	case ATEAllowed:
		return "allowed"
	case ATEDisallowed:
		return "disallowed"
	default:
		return "unspecified"
	}
}

func (s ATEStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ATEStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "allowed":
		*s = ATEAllowed
	case "disallowed":
		*s = ATEDisallowed
	case "unspecified":
		*s = ATEUnspecified
	default:
		return fmt.Errorf("unknown ATE status %q", text)
	}
	return nil
}

// ateFromWire maps the server codes. Unknown codes are unspecified.
func ateFromWire(code int) ATEStatus {
	switch code {
	case 0:
		return ATEAllowed
	case 1:
		return ATEDisallowed
	default:
		return ATEUnspecified
	}
}

const appEventsConfigField = "app_events_config"

type ConfigurationSnapshot struct {
	DefaultATEStatus              ATEStatus  `json:"default_ate_status"`
	AdvertiserIDCollectionEnabled bool       `json:"advertiser_id_collection_enabled"`
	EventCollectionEnabled        bool       `json:"event_collection_enabled"`
	Timestamp                     *time.Time `json:"timestamp,omitempty"`
}

func DefaultSnapshot() ConfigurationSnapshot {
	return ConfigurationSnapshot{
		DefaultATEStatus:              ATEUnspecified,
		AdvertiserIDCollectionEnabled: true,
		EventCollectionEnabled:        false,
	}
}

func (s ConfigurationSnapshot) WithTimestamp(t time.Time) ConfigurationSnapshot {
	s.Timestamp = &t
	return s
}

// ParseSnapshot reads the app_events_config container of a loader payload.
// A missing or unusable container yields the defaults; a present one falls
// back field by field.
func ParseSnapshot(raw []byte) (ConfigurationSnapshot, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ConfigurationSnapshot{}, fmt.Errorf("invalid configuration payload: %w", err)
	}

	snapshot := DefaultSnapshot()

	container, ok := doc[appEventsConfigField]
	if !ok {
		return snapshot, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(container, &fields); err != nil || len(fields) == 0 {
		return snapshot, nil
	}

	if code, ok := fields["default_ate_status"].(float64); ok {
		snapshot.DefaultATEStatus = ateFromWire(int(code))
	}
	if enabled, ok := fields["advertiser_id_collection_enabled"].(bool); ok {
		snapshot.AdvertiserIDCollectionEnabled = enabled
	}
	if enabled, ok := fields["event_collection_enabled"].(bool); ok {
		snapshot.EventCollectionEnabled = enabled
	}

	return snapshot, nil
}

// ConfigurationCache holds the app events configuration.
type ConfigurationCache = Cache[ConfigurationSnapshot]

func NewConfigurationCache(opts Options, loader Loader, log logger.Logger) *ConfigurationCache {
	return New(opts, DefaultSnapshot(), loader, ParseSnapshot, log)
}
