// Package recovery maps client errors to recovery actions and applies them. Every
// component that talks to the WhatsApp client routes its errors through Recoverer so the
// same failure is handled the same way whichever trigger observed it.
package recovery

import "strings"

type Action int

const (
	None Action = iota
	MarkNotReady
	MarkNotReadyAndRestart
	ClearLockAndMarkNotReady
)

func (a Action) String() string {
	switch a {
	case None:
		return "none"
	case MarkNotReady:
		return "mark_not_ready"
	case MarkNotReadyAndRestart:
		return "mark_not_ready_and_restart"
	case ClearLockAndMarkNotReady:
		return "clear_lock_and_mark_not_ready"
	default:
		return "unknown"
	}
}

// Retryable reports whether the action means the session itself was lost, as opposed to
// a failure of the single operation.
func (a Action) Retryable() bool {
	return a != None
}

var sessionClosedMarkers = []string{
	"Session closed",
	"Protocol error",
	"Target closed",
}

const lockMarker = "SingletonLock"

// Classify inspects the error text. Session-closed markers are checked before the lock
// marker and the first match wins.
func Classify(err error) Action {
	if err == nil {
		return None
	}
	return ClassifyText(err.Error())
}

func ClassifyText(text string) Action {
	for _, marker := range sessionClosedMarkers {
		if strings.Contains(text, marker) {
			return MarkNotReady
		}
	}
	if strings.Contains(text, lockMarker) {
		return ClearLockAndMarkNotReady
	}
	return None
}
