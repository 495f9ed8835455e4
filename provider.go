package chatrelay

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrProviderFailed  = errors.New("chatrelay: provider error")
	ErrEmptyCompletion = errors.New("chatrelay: provider returned no choices")
)

// Completer defines the contract for completion providers.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// UpstreamError is returned by providers when the remote API answers with a
// non-success status.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("chatrelay: upstream status %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return ErrProviderFailed
}

// Transient reports whether retrying the same request may succeed.
func (e *UpstreamError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// Truncate cuts s to at most maxChars runes for log and error payload snippets.
func Truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
