package models

import "time"

// ConfigUpdateEvent announces that remote configuration changed and cached
// copies should be refetched.
type ConfigUpdateEvent struct {
	EventType   string                 `json:"event_type"`
	ServiceType string                 `json:"service_type"`
	AppID       string                 `json:"app_id,omitempty"`
	Action      string                 `json:"action"`
	Timestamp   time.Time              `json:"timestamp"`
	ChangedBy   string                 `json:"changed_by,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

const (
	EventTypeRulesUpdated          = "rules_updated"
	EventTypeAppEventsConfigUpdate = "app_events_config_updated"
)

const (
	ActionUpdate = "update"
	ActionReload = "reload"
)

const (
	ServiceTypeAppEvents = "appevents"
)
