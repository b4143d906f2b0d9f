package models

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

const MaxEventNameLength = 40

// ValidateEventName applies the naming rules events must satisfy before
// they enter the pipeline.
func ValidateEventName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{
			Field:   "name",
			Message: "event name is required",
		}
	}

	if len(name) > MaxEventNameLength {
		return &ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("event name must be at most %d characters, got %d", MaxEventNameLength, len(name)),
		}
	}

	for i, r := range name {
		valid := r == '_' || r == '-' || r == ' ' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !valid || (i == 0 && (r == '-' || r == ' ')) {
			return &ValidationError{
				Field:   "name",
				Message: fmt.Sprintf("event name %q contains invalid character %q", name, r),
			}
		}
	}

	return nil
}

func ValidateParams(params Params) error {
	for key := range params {
		if strings.TrimSpace(key) == "" {
			return &ValidationError{
				Field:   "params",
				Message: "parameter names cannot be empty",
			}
		}
	}
	return nil
}
