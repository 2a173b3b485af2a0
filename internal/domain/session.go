package domain

import "fmt"

// SyncState is a state of the ephemeral sync session.
type SyncState string

// Sync session states.
const (
	SyncIdle        SyncState = "idle"
	SyncFetching    SyncState = "fetching"
	SyncCheckingOut SyncState = "checking-out"
	SyncResetting   SyncState = "resetting"
	SyncCleaning    SyncState = "cleaning"
	SyncDone        SyncState = "done"
	SyncFailed      SyncState = "failed"
)

// PushState is a state of the ephemeral push session.
type PushState string

// Push session states.
const (
	PushIdle          PushState = "idle"
	PushStaging       PushState = "staging"
	PushCommitting    PushState = "committing"
	PushCountingAhead PushState = "counting-ahead"
	PushPushing       PushState = "pushing"
	PushDone          PushState = "done"
	PushFailed        PushState = "failed"
)

var syncTransitions = map[SyncState][]SyncState{
	SyncIdle:        {SyncFetching},
	SyncFetching:    {SyncCheckingOut},
	SyncCheckingOut: {SyncResetting},
	SyncResetting:   {SyncCleaning},
	SyncCleaning:    {SyncDone},
}

var pushTransitions = map[PushState][]PushState{
	PushIdle:          {PushStaging},
	PushStaging:       {PushCommitting, PushCountingAhead},
	PushCommitting:    {PushCountingAhead},
	PushCountingAhead: {PushPushing, PushDone},
	PushPushing:       {PushDone},
}

// Session tracks the state of one sync or push session.
// It is not safe for concurrent use; a session belongs to one operation.
type Session[S ~string] struct {
	state   S
	failed  S
	allowed map[S][]S
	history []S
}

// NewSyncSession returns a session in SyncIdle.
func NewSyncSession() *Session[SyncState] {
	return &Session[SyncState]{
		state:   SyncIdle,
		failed:  SyncFailed,
		allowed: syncTransitions,
		history: []SyncState{SyncIdle},
	}
}

// NewPushSession returns a session in PushIdle.
func NewPushSession() *Session[PushState] {
	return &Session[PushState]{
		state:   PushIdle,
		failed:  PushFailed,
		allowed: pushTransitions,
		history: []PushState{PushIdle},
	}
}

// State returns the current state.
func (s *Session[S]) State() S {
	return s.state
}

// History returns every state entered, in order.
func (s *Session[S]) History() []S {
	out := make([]S, len(s.history))
	copy(out, s.history)
	return out
}

// Terminal reports whether the session has finished.
func (s *Session[S]) Terminal() bool {
	_, ok := s.allowed[s.state]
	return !ok
}

// Advance moves to next. It panics on a transition the state machine does not allow,
// which is always a programming error in the engine.
func (s *Session[S]) Advance(next S) {
	for _, candidate := range s.allowed[s.state] {
		if candidate == next {
			s.state = next
			s.history = append(s.history, next)
			return
		}
	}
	panic(fmt.Sprintf("invalid session transition %s -> %s", s.state, next))
}

// Fail moves to the failed state and wraps err with the state it failed in.
// Failing a terminal session leaves it unchanged.
func (s *Session[S]) Fail(err error) error {
	if err == nil || s.Terminal() {
		return err
	}
	from := s.state
	s.state = s.failed
	s.history = append(s.history, s.failed)
	return fmt.Errorf("failed while %s: %w", from, err)
}
