// Package shutdown implements the graceful shutdown state machine:
// sending -> awaitingAck -> draining -> awaitingComplete -> completed, with
// a timeout branch from any waiting phase to forceKilling -> completed.
// This generalizes a simple "signal, then wait with a deadline" shutdown
// into the protocol's multi-phase handshake.
package shutdown

import (
	"sync"
	"time"

	"github.com/vela-systems/workerbus/config"
	"github.com/vela-systems/workerbus/wireproto"
)

// Phase is one stage of the shutdown state machine.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseSending
	PhaseAwaitingAck
	PhaseDraining
	PhaseAwaitingComplete
	PhaseForceKilling
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSending:
		return "sending"
	case PhaseAwaitingAck:
		return "awaitingAck"
	case PhaseDraining:
		return "draining"
	case PhaseAwaitingComplete:
		return "awaitingComplete"
	case PhaseForceKilling:
		return "forceKilling"
	case PhaseCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Requester is the subset of rpc.Channel the shutdown manager needs; kept
// minimal so this package doesn't import rpc/process and risk a cycle.
type Requester interface {
	Request(method string, params wireproto.Value, timeout time.Duration) (wireproto.Value, error)
}

// Killer delivers an OS-level signal to the owned process.
type Killer interface {
	Signal(name string) error
}

// Result is the shutdown's terminal attribution, mirrored into
// process.ExitInfo by the caller once the OS process itself exits.
type Result struct {
	Graceful        bool
	ExitCode        int
	PendingAtAck    int
}

// Manager drives one process handle's shutdown. A Manager is single-use:
// build a new one per shutdown attempt on a given handle.
type Manager struct {
	channel Requester
	killer  Killer
	opts    config.ShutdownOptions

	mu         sync.Mutex
	phase      Phase
	observers  []func(Phase)

	completeCh chan wireproto.ShutdownComplete
	doneCh     chan struct{}
	startOnce  sync.Once
	result     Result
}

// New builds a Manager. Call NotifyComplete whenever a __shutdown_complete__
// notification arrives on channel before Shutdown's deadline expires.
func New(channel Requester, killer Killer, opts config.ShutdownOptions) *Manager {
	return &Manager{
		channel:    channel,
		killer:     killer,
		opts:       opts,
		completeCh: make(chan wireproto.ShutdownComplete, 1),
		doneCh:     make(chan struct{}),
	}
}

// Result returns the shutdown's terminal attribution. It is the zero Result
// until Shutdown has completed; safe to call from any goroutine at any time.
func (m *Manager) Result() Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

// Phase returns the current phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// OnPhaseChange subscribes to phase transitions.
func (m *Manager) OnPhaseChange(fn func(Phase)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

func (m *Manager) setPhase(p Phase) {
	m.mu.Lock()
	m.phase = p
	observers := append([]func(Phase){}, m.observers...)
	m.mu.Unlock()
	for _, fn := range observers {
		fn(p)
	}
}

// NotifyComplete delivers a __shutdown_complete__ notification observed on
// the control channel. Safe to call even if Shutdown was never started or
// has already completed (the value is simply dropped).
func (m *Manager) NotifyComplete(info wireproto.ShutdownComplete) {
	select {
	case m.completeCh <- info:
	default:
	}
}

// Shutdown drives the state machine to completion and returns its result.
// A second concurrent (or later) call is idempotent: it observes the same
// completion as the first.
func (m *Manager) Shutdown(reason wireproto.ShutdownReason) Result {
	m.startOnce.Do(func() { go m.run(reason) })
	<-m.doneCh
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

func (m *Manager) run(reason wireproto.ShutdownReason) {
	defer close(m.doneCh)

	m.setPhase(PhaseSending)
	params, err := wireproto.ToValue(wireproto.ShutdownRequest{
		TimeoutMS: m.opts.GracefulTimeoutMS,
		Reason:    reason,
	})
	if err != nil {
		m.forceKill()
		return
	}

	m.setPhase(PhaseAwaitingAck)
	result, err := m.channel.Request(wireproto.MethodShutdown, params, m.opts.GracefulTimeout())
	if err != nil {
		m.forceKill()
		return
	}

	var ack wireproto.ShutdownAck
	_ = wireproto.FromValue(result, &ack)

	m.setPhase(PhaseDraining)
	m.setPhase(PhaseAwaitingComplete)

	select {
	case info := <-m.completeCh:
		m.setResult(Result{Graceful: true, ExitCode: info.ExitCode, PendingAtAck: ack.PendingRequests})
		m.setPhase(PhaseCompleted)
	case <-time.After(m.opts.ExitWait()):
		m.forceKill()
	}
}

func (m *Manager) forceKill() {
	m.setPhase(PhaseForceKilling)
	_ = m.killer.Signal("KILL")

	select {
	case info := <-m.completeCh:
		m.setResult(Result{Graceful: false, ExitCode: info.ExitCode})
	case <-time.After(m.opts.ExitWait()):
		m.setResult(Result{Graceful: false})
	}
	m.setPhase(PhaseCompleted)
}

func (m *Manager) setResult(r Result) {
	m.mu.Lock()
	m.result = r
	m.mu.Unlock()
}
