package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTransient         = errors.New("transient provider failure")
	ErrProvider          = errors.New("provider request rejected")
	ErrMalformedOutput   = errors.New("malformed model output")
	ErrMissingEvidence   = errors.New("missing evidence")
	ErrPersistence       = errors.New("persistence failure")
	ErrGroupingAmbiguity = errors.New("unresolved grouping")
	ErrConfiguration     = errors.New("configuration error")
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorDetails is the classification of an error produced by Wrap.
type ErrorDetails struct {
	Kind    string
	Message string
}

// Details classifies err against the sentinel markers. Message is the error
// text with the marker prefix removed.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	msg := strings.TrimSpace(err.Error())
	for _, marker := range []error{
		ErrTransient,
		ErrProvider,
		ErrMalformedOutput,
		ErrMissingEvidence,
		ErrPersistence,
		ErrGroupingAmbiguity,
		ErrConfiguration,
		ErrValidation,
		ErrNotFound,
	} {
		if errors.Is(err, marker) {
			return ErrorDetails{
				Kind:    Kind(marker),
				Message: strings.TrimSpace(strings.TrimPrefix(msg, marker.Error()+":")),
			}
		}
	}
	return ErrorDetails{Kind: "unknown", Message: msg}
}

// Kind returns a short, log-friendly name for a sentinel marker.
func Kind(marker error) string {
	switch {
	case errors.Is(marker, ErrTransient):
		return "transient"
	case errors.Is(marker, ErrProvider):
		return "provider"
	case errors.Is(marker, ErrMalformedOutput):
		return "malformed_output"
	case errors.Is(marker, ErrMissingEvidence):
		return "missing_evidence"
	case errors.Is(marker, ErrPersistence):
		return "persistence"
	case errors.Is(marker, ErrGroupingAmbiguity):
		return "grouping_ambiguity"
	case errors.Is(marker, ErrConfiguration):
		return "configuration"
	case errors.Is(marker, ErrValidation):
		return "validation"
	case errors.Is(marker, ErrNotFound):
		return "not_found"
	default:
		return "unknown"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
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
