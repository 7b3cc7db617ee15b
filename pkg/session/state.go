// Package session holds the single connection state cell shared by every component
// that observes or drives the WhatsApp session.
package session

import (
	"sync"
	"time"
)

// Phase is the connection state as observed from outside the process.
type Phase string

const (
	PhaseUninitialized Phase = "UNINITIALIZED"
	PhaseAwaitingQR    Phase = "AWAITING_QR"
	PhaseReady         Phase = "READY"
	PhaseDegraded      Phase = "DEGRADED"
	PhaseDisconnected  Phase = "DISCONNECTED"
)

// Snapshot is a consistent copy of the state at one instant.
type Snapshot struct {
	Ready           bool          `json:"ready"`
	Phase           Phase         `json:"phase"`
	LastOperationAt time.Time     `json:"last_operation_at"`
	Idle            time.Duration `json:"idle"`
}

// State is the ready flag plus the time of the last successful operation. The flag is
// advisory: it means the client reported connected at some point, not that the session
// is alive right now. All mutations are serialized.
type State struct {
	mu       sync.Mutex
	ready    bool
	lastOp   time.Time
	phase    Phase
	now      func() time.Time
	observer func(Snapshot)
}

func NewState() *State {
	return NewStateWithClock(time.Now)
}

func NewStateWithClock(now func() time.Time) *State {
	return &State{
		lastOp: now(),
		phase:  PhaseUninitialized,
		now:    now,
	}
}

// SetObserver registers a callback invoked after every phase change. It runs outside the
// lock and must not block.
func (s *State) SetObserver(fn func(Snapshot)) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

// SetReady flips the ready flag. Becoming ready moves the phase to READY; losing
// readiness from READY moves it to DEGRADED. Any other phase is already more specific
// and is kept.
func (s *State) SetReady(ready bool) {
	if ready {
		s.update(true, PhaseReady)
		return
	}
	s.mu.Lock()
	changed := s.ready
	s.ready = false
	if s.phase == PhaseReady {
		s.phase = PhaseDegraded
		changed = true
	}
	snap, observer := s.snapshotLocked(), s.observer
	s.mu.Unlock()

	if changed && observer != nil {
		observer(snap)
	}
}

// MarkNotReady clears the ready flag and records why through the phase.
func (s *State) MarkNotReady(phase Phase) {
	s.update(false, phase)
}

// SetPhase changes the phase without touching the ready flag.
func (s *State) SetPhase(phase Phase) {
	s.mu.Lock()
	changed := s.phase != phase
	s.phase = phase
	snap, observer := s.snapshotLocked(), s.observer
	s.mu.Unlock()

	if changed && observer != nil {
		observer(snap)
	}
}

// Touch records a successful operation at the current time.
func (s *State) Touch() {
	s.mu.Lock()
	s.lastOp = s.now()
	s.mu.Unlock()
}

func (s *State) IsMarkedReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *State) IdleDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastOp)
}

func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// MarkZombieIfIdle clears readiness when the session is marked ready but has been idle
// for longer than threshold. Check and clear happen under one lock so a concurrent Touch
// cannot interleave. It reports whether the session was declared a zombie.
func (s *State) MarkZombieIfIdle(threshold time.Duration) (bool, time.Duration) {
	s.mu.Lock()
	idle := s.now().Sub(s.lastOp)
	if !s.ready || idle <= threshold {
		s.mu.Unlock()
		return false, idle
	}
	s.ready = false
	s.phase = PhaseUninitialized
	snap, observer := s.snapshotLocked(), s.observer
	s.mu.Unlock()

	if observer != nil {
		observer(snap)
	}
	return true, idle
}

func (s *State) update(ready bool, phase Phase) {
	s.mu.Lock()
	changed := s.phase != phase || s.ready != ready
	s.ready = ready
	s.phase = phase
	if ready {
		s.lastOp = s.now()
	}
	snap, observer := s.snapshotLocked(), s.observer
	s.mu.Unlock()

	if changed && observer != nil {
		observer(snap)
	}
}

func (s *State) snapshotLocked() Snapshot {
	return Snapshot{
		Ready:           s.ready,
		Phase:           s.phase,
		LastOperationAt: s.lastOp,
		Idle:            s.now().Sub(s.lastOp),
	}
}
