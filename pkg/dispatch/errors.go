package dispatch

import (
	"errors"
	"fmt"

	"github.com/sipeed/wabridge/pkg/recovery"
)

var (
	ErrNotReady           = errors.New("WhatsApp client not connected or session closed")
	ErrNumberNotFound     = errors.New("Number not found on WhatsApp")
	ErrForbiddenRecipient = errors.New("recipient not allowed")
	ErrInvalidRecipient   = errors.New("invalid recipient")
	ErrEmptyRequest       = errors.New("nothing to send")
	ErrTimeout            = errors.New("Send message timeout")
)

// SessionRecoveryError means the session was lost while serving the request. Recovery is
// already under way and the caller may retry shortly.
type SessionRecoveryError struct {
	Action recovery.Action
	Err    error
}

func (e *SessionRecoveryError) Error() string {
	return fmt.Sprintf("session lost (%s): %v", e.Action, e.Err)
}

func (e *SessionRecoveryError) Unwrap() error {
	return e.Err
}

func IsRetryable(err error) bool {
	var sre *SessionRecoveryError
	return errors.As(err, &sre)
}
