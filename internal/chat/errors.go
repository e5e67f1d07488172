package chat

import (
	"chatgogo/messenger/internal/store"
	"chatgogo/messenger/internal/transport"
	"errors"
	"fmt"
)

var (
	ErrEmptySubmission     = errors.New("chat: submission has neither content nor attachment")
	ErrSendFailed          = errors.New("chat: send failed")
	ErrLiveChannelDegraded = errors.New("chat: live channel degraded")
	ErrNotThread           = errors.New("chat: operation requires a discussion thread")
	ErrClosed              = errors.New("chat: conversation closed")

	// ErrUnauthorized is transport.ErrUnauthorized, re-exported for callers
	// that only import this package.
	ErrUnauthorized = transport.ErrUnauthorized
)

// SendFailedError reports a rejected submission. By the time it is
// returned the provisional message has already been removed from the
// store.
type SendFailedError struct {
	Placeholder store.Key
	// Reason is the server's error text when one was available.
	Reason string
	Err    error
}

func (e *SendFailedError) Error() string {
	if e.Reason == "" {
		return ErrSendFailed.Error()
	}
	return fmt.Sprintf("%s: %s", ErrSendFailed.Error(), e.Reason)
}

func (e *SendFailedError) Is(target error) bool {
	return target == ErrSendFailed
}

func (e *SendFailedError) Unwrap() error {
	return e.Err
}

// sendError maps a transport failure to the error returned by Send.
func sendError(key store.Key, err error) error {
	if errors.Is(err, transport.ErrUnauthorized) {
		return fmt.Errorf("chat: send: %w", err)
	}
	reason := err.Error()
	var se *transport.StatusError
	if errors.As(err, &se) && se.Message != "" {
		reason = se.Message
	}
	return &SendFailedError{Placeholder: key, Reason: reason, Err: err}
}
