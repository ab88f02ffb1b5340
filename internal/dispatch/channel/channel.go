// Package channel abstracts the delivery mechanism behind a capability
// boundary. The dispatcher classifies failures through IsPermanent; anything
// else, including timeouts, is treated as retryable.
package channel

import (
	"context"
	"errors"

	"vigil/pkg/domain"
)

// Message is one outbound delivery.
type Message struct {
	To       string
	ToName   string
	Subject  string
	Body     string
	Priority domain.Severity
}

// Channel sends messages through one provider.
type Channel interface {
	// Name identifies the provider for notification metadata and logs.
	Name() string
	// Send delivers the message and returns the provider's message id.
	Send(ctx context.Context, msg Message) (providerID string, err error)
}

// PermanentError wraps failures that retrying cannot fix: bad addresses,
// provider policy rejections.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent delivery failure: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is a non-retryable delivery failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
