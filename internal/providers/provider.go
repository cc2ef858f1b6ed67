// Package providers defines the canonical contract for external extraction
// services. Adapters map one upstream API to this contract and do nothing
// else: no retries, no circuit breaking, no response parsing beyond pulling
// the raw text out of the provider envelope.
package providers

import (
	"context"
	"fmt"
)

// ErrorKind classifies a single provider call failure.
type ErrorKind string

const (
	KindTimeout           ErrorKind = "timeout"
	KindHTTPError         ErrorKind = "http_error"
	KindAuthError         ErrorKind = "auth_error"
	KindRateLimited       ErrorKind = "rate_limited"
	KindMalformedResponse ErrorKind = "malformed_response"
)

// Error is a typed failure from one provider invocation.
type Error struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// KindForStatus maps an HTTP status to an error kind.
func KindForStatus(status int) ErrorKind {
	switch status {
	case 401, 403:
		return KindAuthError
	case 429:
		return KindRateLimited
	default:
		return KindHTTPError
	}
}

// Usage carries token accounting when the provider reports it.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// RawResponse is the canonical unparsed provider output. Text is free-form
// and expected (not guaranteed) to contain one embeddable JSON object.
type RawResponse struct {
	Text  string
	Model string
	Usage *Usage
}

// Request is the canonical input shape: a prompt plus either page-ordered
// base64 images or plain text.
type Request struct {
	Prompt string
	Images []string
	Text   string
}

// Adapter wraps a single upstream extraction service.
type Adapter interface {
	Name() string
	Invoke(ctx context.Context, req Request) (RawResponse, error)
}
