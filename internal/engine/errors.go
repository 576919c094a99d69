package engine

import (
	"errors"
	"fmt"
)

// EventError reports an event the Run loop could not process. The loop logs
// it and continues.
type EventError struct {
	Code    EventErrorCode
	Message string
	Token   string
}

// EventErrorCode categorizes event errors.
type EventErrorCode string

const (
	// ErrCodeUnknownEvent indicates an event type the loop does not handle.
	ErrCodeUnknownEvent EventErrorCode = "UNKNOWN_EVENT"

	// ErrCodeMissingPath indicates a Reload event without a path.
	ErrCodeMissingPath EventErrorCode = "MISSING_PATH"

	// ErrCodeNoRoot indicates a ReloadAll with no definitions root configured.
	ErrCodeNoRoot EventErrorCode = "NO_ROOT"
)

func (e *EventError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("%s: %s (token=%s)", e.Code, e.Message, e.Token)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsEventError reports whether err is an *EventError with the given code.
// Uses errors.As to handle wrapped errors.
func IsEventError(err error, code EventErrorCode) bool {
	var ee *EventError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}
