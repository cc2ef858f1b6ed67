package extractions

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("not found")

const (
	ErrorCodeValidation       = "VALIDATION_ERROR"
	ErrorCodeProviderTimeout  = "PROVIDER_TIMEOUT"
	ErrorCodeProviderFailure  = "PROVIDER_FAILURE"
	ErrorCodeCircuitOpen      = "CIRCUIT_OPEN"
	ErrorCodeParseFailure     = "PARSE_FAILURE"
	ErrorCodeAllMethodsFailed = "ALL_METHODS_FAILED"
	ErrorCodeStorage          = "STORAGE_ERROR"
	ErrorCodeInternal         = "INTERNAL_ERROR"
)

// ValidationError means the request itself is unusable. It is surfaced to the
// caller immediately and never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AggregateFailure is returned only when every attempt failed. It carries the
// full attempt list so operators can tell systemic outage from per-call flake.
type AggregateFailure struct {
	Attempts []Attempt
}

func (e *AggregateFailure) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s (%s): %s", a.Method, a.Provider, a.Error))
	}
	return "all extraction attempts failed: " + strings.Join(parts, "; ")
}
