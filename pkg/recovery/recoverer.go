package recovery

import (
	"context"

	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/metrics"
	"github.com/sipeed/wabridge/pkg/session"
)

// Recoverer applies the classified action for an error to the shared session state.
type Recoverer struct {
	state   *session.State
	cleaner LockCleaner
	metrics *metrics.Metrics
	restart func(ctx context.Context)
}

func NewRecoverer(state *session.State, cleaner LockCleaner, m *metrics.Metrics) *Recoverer {
	return &Recoverer{state: state, cleaner: cleaner, metrics: m}
}

// SetRestart wires the restart path used by MarkNotReadyAndRestart. It is set after
// construction because the watchdog that owns restarts itself depends on a Recoverer.
func (r *Recoverer) SetRestart(fn func(ctx context.Context)) {
	r.restart = fn
}

// Handle classifies err, applies the resulting action and returns it. source names the
// caller for the log line.
func (r *Recoverer) Handle(ctx context.Context, source string, err error) Action {
	action := Classify(err)
	if action == None {
		return None
	}
	r.Apply(ctx, source, action, err)
	return action
}

func (r *Recoverer) Apply(ctx context.Context, source string, action Action, cause error) {
	fields := map[string]interface{}{
		"source": source,
		"action": action.String(),
	}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	logger.WarnCF("recovery", "Session error detected", fields)
	r.metrics.Recovery(action.String())

	switch action {
	case MarkNotReady:
		r.state.SetReady(false)
	case ClearLockAndMarkNotReady:
		r.state.SetReady(false)
		if r.cleaner != nil {
			r.cleaner.Clean(ctx)
		}
	case MarkNotReadyAndRestart:
		r.state.SetReady(false)
		if r.restart != nil {
			r.restart(ctx)
		}
	}
}
