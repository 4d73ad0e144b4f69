package extract

import (
	"fmt"
	"sync"

	"clinicsync/pkg/domain"
)

// State is a browser session state.
type State string

// Session states.
const (
	StateIdle          State = "idle"
	StateLoggingIn     State = "logging_in"
	StateVerifying2FA  State = "verifying_2fa"
	StateAuthenticated State = "authenticated"
	StateDownloading   State = "downloading"
	StateTearDown      State = "teardown"
)

var transitions = map[State][]State{
	StateIdle:          {StateLoggingIn, StateTearDown},
	StateLoggingIn:     {StateVerifying2FA, StateAuthenticated, StateTearDown},
	StateVerifying2FA:  {StateAuthenticated, StateTearDown},
	StateAuthenticated: {StateDownloading, StateTearDown},
	StateDownloading:   {StateAuthenticated, StateTearDown},
	StateTearDown:      nil,
}

// IllegalTransitionError rejects a move the session graph does not allow.
type IllegalTransitionError struct {
	From, To State
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal session transition %s -> %s", e.From, e.To)
}

// Session tracks the lifecycle of one authenticated source session.
type Session struct {
	mu      sync.Mutex
	state   State
	dataset domain.Dataset
	history []State
}

// NewSession starts in StateIdle.
func NewSession() *Session {
	return &Session{state: StateIdle, history: []State{StateIdle}}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dataset returns the dataset being downloaded, "" outside StateDownloading.
func (s *Session) Dataset() domain.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataset
}

// History returns every state visited, in order.
func (s *Session) History() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.history...)
}

// To moves to next. Entering StateDownloading requires a dataset.
func (s *Session) To(next State, ds domain.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	allowed := false
	for _, st := range transitions[s.state] {
		if st == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return IllegalTransitionError{From: s.state, To: next}
	}
	if next == StateDownloading && ds == "" {
		return fmt.Errorf("downloading requires a dataset")
	}
	s.state = next
	s.dataset = ""
	if next == StateDownloading {
		s.dataset = ds
	}
	s.history = append(s.history, next)
	return nil
}
