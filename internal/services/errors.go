package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRateLimited             = errors.New("rate limited")
	ErrBackendTimeout          = errors.New("backend timeout")
	ErrBackendError            = errors.New("backend error")
	ErrBackendUnavailable      = errors.New("backend unavailable")
	ErrNotFoundInKnowledgeBase = errors.New("not found in knowledge base")
	ErrNotFoundInBackend       = errors.New("not found in backend")
	ErrStoreCorrupt            = errors.New("mapping store corrupt")
	ErrStoreWriteFailed        = errors.New("mapping store write failed")
	ErrValidation              = errors.New("validation error")
	ErrConfiguration           = errors.New("configuration error")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrBackendError
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Severity describes how a failure should be treated by the resolution run.
type Severity string

const (
	// SeverityRetryable failures were already retried or failed over and may
	// succeed on a later run.
	SeverityRetryable Severity = "retryable"
	// SeverityReview failures need an operator to look at the mapping store.
	SeverityReview Severity = "review"
	// SeverityDegraded failures did not change the outcome but lost a side effect.
	SeverityDegraded Severity = "degraded"
)

// Classify maps an error to the severity reported in run summaries.
func Classify(err error) Severity {
	switch {
	case errors.Is(err, ErrNotFoundInKnowledgeBase),
		errors.Is(err, ErrNotFoundInBackend),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration):
		return SeverityReview
	case errors.Is(err, ErrStoreWriteFailed), errors.Is(err, ErrStoreCorrupt):
		return SeverityDegraded
	default:
		return SeverityRetryable
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
