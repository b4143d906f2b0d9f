package api

import (
	"appevents/internal/configcache"
	"appevents/internal/coordinator"
	"appevents/internal/filtering"
	"appevents/pkg/models"
)

type LogEventsRequest struct {
	Token  *string        `json:"token"`
	AppID  *string        `json:"app_id"`
	Events []EventRequest `json:"events" binding:"required,min=1,dive"`
}

type EventRequest struct {
	Name              string        `json:"name" binding:"required"`
	Params            models.Params `json:"params"`
	Implicit          bool          `json:"implicit"`
	OperationalParams models.Params `json:"operational_params"`
}

type EventResult struct {
	Name      string `json:"name"`
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// LogEventsResponse counts every event exactly once: accepted, dropped by
// validation or filtering, or failed.
type LogEventsResponse struct {
	Accepted int           `json:"accepted"`
	Dropped  int           `json:"dropped"`
	Failed   int           `json:"failed"`
	Results  []EventResult `json:"results"`
}

type FlushResponse struct {
	coordinator.FlushResult
	Reason string `json:"reason"`
}

type ConfigResponse struct {
	AppID    string                            `json:"app_id"`
	Snapshot configcache.ConfigurationSnapshot `json:"snapshot"`
	Rules    []filtering.RuleState             `json:"rules"`
	Problems []string                          `json:"problems,omitempty"`
}
