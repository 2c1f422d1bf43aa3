package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsToolFailure reports whether err came from an external tool crashing or
// exceeding its liveness ceiling.
func IsToolFailure(err error) bool {
	return errors.Is(err, ErrExternalTool) || errors.Is(err, ErrTimeout)
}

// Details extracts the human readable portion of a wrapped error.
type Details struct {
	Marker  error
	Message string
}

// Describe returns the marker and message carried by err.
func Describe(err error) Details {
	if err == nil {
		return Details{}
	}
	for _, marker := range []error{ErrTimeout, ErrExternalTool, ErrValidation, ErrConfiguration, ErrNotFound, ErrTransient} {
		if errors.Is(err, marker) {
			msg := strings.TrimPrefix(err.Error(), marker.Error()+": ")
			return Details{Marker: marker, Message: msg}
		}
	}
	return Details{Message: err.Error()}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
