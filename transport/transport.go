// Package transport provides the bidirectional byte-stream contract
// consumed by framing. Two families of Transport are implemented: Stdio
// (over a child process's inherited stdin/stdout) and the local-socket/
// named-pipe pair used for the optional data channel.
package transport

import (
	"errors"
	"sync"
)

// State is the transport's connection state. Transitions
// are restricted to: Disconnected->Connecting; Connecting->{Connected,
// Error,Disconnected}; Connected->{Disconnected,Error}; Error->Disconnected.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Connected
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition is returned when a transport is asked to move to a
// state not reachable from its current one.
var ErrInvalidTransition = errors.New("transport: invalid state transition")

var validTransitions = map[State]map[State]bool{
	Disconnected: {Connecting: true},
	Connecting:   {Connected: true, Error: true, Disconnected: true},
	Connected:    {Disconnected: true, Error: true},
	Error:        {Disconnected: true},
}

// Unsubscribe detaches a previously registered observer.
type Unsubscribe func()

// Transport is the byte-stream contract consumed by the framing layer. All
// methods and the three observer hooks may be called concurrently;
// implementations serialize their own internal state.
type Transport interface {
	// Connect blocks until the transport reaches Connected (or returns an
	// error and leaves it in Error).
	Connect() error
	// Write hands bytes to the OS, respecting backpressure: it must not
	// return until the bytes are accepted or a drain signal fires.
	Write(data []byte) error
	// Close is idempotent and releases resources. It does not flush.
	Close() error
	// State returns the current connection state.
	State() State

	OnData(func(data []byte)) Unsubscribe
	OnError(func(err error)) Unsubscribe
	OnClose(func()) Unsubscribe
}

// StateMachine is embedded by concrete transports to share the validated
// state transition logic and observer bookkeeping.
type StateMachine struct {
	mu    sync.Mutex
	state State

	dataObservers  []func([]byte)
	errObservers   []func(error)
	closeObservers []func()
}

// Transition validates and applies a state transition; a transition to the
// current state is accepted and changes nothing. Returns ErrInvalidTransition
// without changing state if the transition is not allowed. It fires no
// observers; emitError moves to Error and then notifies OnError observers.
func (s *StateMachine) Transition(to State) error {
	s.mu.Lock()
	from := s.state
	allowed := from == to || validTransitions[from][to]
	if allowed {
		s.state = to
	}
	s.mu.Unlock()
	if !allowed {
		return ErrInvalidTransition
	}
	return nil
}

func (s *StateMachine) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *StateMachine) OnData(fn func([]byte)) Unsubscribe {
	s.mu.Lock()
	s.dataObservers = append(s.dataObservers, fn)
	idx := len(s.dataObservers) - 1
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.dataObservers[idx] = nil
		s.mu.Unlock()
	}
}

func (s *StateMachine) OnError(fn func(error)) Unsubscribe {
	s.mu.Lock()
	s.errObservers = append(s.errObservers, fn)
	idx := len(s.errObservers) - 1
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.errObservers[idx] = nil
		s.mu.Unlock()
	}
}

func (s *StateMachine) OnClose(fn func()) Unsubscribe {
	s.mu.Lock()
	s.closeObservers = append(s.closeObservers, fn)
	idx := len(s.closeObservers) - 1
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.closeObservers[idx] = nil
		s.mu.Unlock()
	}
}

func (s *StateMachine) emitData(data []byte) {
	s.mu.Lock()
	observers := append([]func([]byte){}, s.dataObservers...)
	s.mu.Unlock()
	for _, fn := range observers {
		if fn != nil {
			fn(data)
		}
	}
}

func (s *StateMachine) emitError(err error) {
	_ = s.Transition(Error)
	s.mu.Lock()
	observers := append([]func(error){}, s.errObservers...)
	s.mu.Unlock()
	for _, fn := range observers {
		if fn != nil {
			fn(err)
		}
	}
}

func (s *StateMachine) emitClose() {
	s.mu.Lock()
	observers := append([]func(){}, s.closeObservers...)
	s.mu.Unlock()
	for _, fn := range observers {
		if fn != nil {
			fn()
		}
	}
}
