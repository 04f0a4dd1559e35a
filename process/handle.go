// Package process implements the process handle and process manager:
// spawning a worker, wiring its dual channels, handshaking, heartbeating,
// and restarting it on non-clean exit.
package process

import (
	"errors"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/vela-systems/workerbus/errs"
	"github.com/vela-systems/workerbus/rpc"
	"github.com/vela-systems/workerbus/wireproto"
)

var errNoDataChannel = errors.New("process: handle has no data channel")

// State is a Handle's lifecycle stage.
type State uint8

const (
	StateSpawning State = iota
	StateHandshaking
	StateReady
	StateDisconnected
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ExitInfo attributes how a worker process ended.
type ExitInfo struct {
	Graceful bool
	ExitCode int
	Signal   string
}

// Handle owns one OS process and up to two channels: Control is always
// present; Data is non-nil only when the worker advertised and opened a
// data channel. Forwards request/notify to Control by default.
type Handle struct {
	ID string

	mu    sync.Mutex
	state State

	Control *rpc.Channel
	Data    *rpc.Channel

	log *logging.Logger

	stateObservers []func(State)
	exitObservers  []func(ExitInfo)
	errObservers   []func(error)

	process processHandle

	dataReadyOnce sync.Once
	dataReadyCh   chan struct{}
	dataErrCh     chan wireproto.DataChannelError
}

// processHandle abstracts the OS process so tests can substitute a fake
// without spawning a real binary.
type processHandle interface {
	Signal(sig string) error
	Wait() (ExitInfo, error)
	PID() int
}

func newHandle(id string, log *logging.Logger, proc processHandle) *Handle {
	return &Handle{
		ID:          id,
		log:         log,
		process:     proc,
		dataReadyCh: make(chan struct{}),
		dataErrCh:   make(chan wireproto.DataChannelError, 1),
	}
}

// emitDataChannelReady unblocks a Spawn call waiting on the worker's
// __data_channel_ready__ notification. Safe to call at most meaningfully
// once per spawn attempt; later calls are no-ops.
func (h *Handle) emitDataChannelReady() {
	h.dataReadyOnce.Do(func() { close(h.dataReadyCh) })
}

func (h *Handle) emitDataChannelError(info wireproto.DataChannelError) {
	select {
	case h.dataErrCh <- info:
	default:
	}
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	observers := append([]func(State){}, h.stateObservers...)
	h.mu.Unlock()
	for _, fn := range observers {
		fn(s)
	}
}

// State returns the handle's current lifecycle stage.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// OnStateChange subscribes to lifecycle transitions.
func (h *Handle) OnStateChange(fn func(State)) {
	h.mu.Lock()
	h.stateObservers = append(h.stateObservers, fn)
	h.mu.Unlock()
}

// OnExit subscribes to the process's terminal exit attribution.
func (h *Handle) OnExit(fn func(ExitInfo)) {
	h.mu.Lock()
	h.exitObservers = append(h.exitObservers, fn)
	h.mu.Unlock()
}

// OnError subscribes to asynchronous handle-level errors (heartbeat death,
// channel errors not otherwise surfaced through Request's return value).
func (h *Handle) OnError(fn func(error)) {
	h.mu.Lock()
	h.errObservers = append(h.errObservers, fn)
	h.mu.Unlock()
}

func (h *Handle) emitExit(info ExitInfo) {
	h.mu.Lock()
	observers := append([]func(ExitInfo){}, h.exitObservers...)
	h.mu.Unlock()
	for _, fn := range observers {
		fn(info)
	}
}

func (h *Handle) emitError(err error) {
	h.mu.Lock()
	observers := append([]func(error){}, h.errObservers...)
	h.mu.Unlock()
	for _, fn := range observers {
		fn(err)
	}
}

// Request forwards to the control channel.
func (h *Handle) Request(method string, params rpc.Value, timeout time.Duration) (rpc.Value, error) {
	return h.Control.Request(method, params, timeout)
}

// Notify forwards to the control channel.
func (h *Handle) Notify(method string, params rpc.Value) error {
	return h.Control.Notify(method, params)
}

// RequestViaData targets the data channel; fails if absent.
func (h *Handle) RequestViaData(method string, params rpc.Value, timeout time.Duration) (rpc.Value, error) {
	h.mu.Lock()
	data := h.Data
	h.mu.Unlock()
	if data == nil {
		return rpc.Value{}, errs.Transport(method, errNoDataChannel)
	}
	return data.Request(method, params, timeout)
}

// Close closes both channels. It does not kill the OS process; that is the
// manager's job via the shutdown manager.
func (h *Handle) Close() error {
	var err error
	if h.Control != nil {
		err = h.Control.Close()
	}
	h.mu.Lock()
	data := h.Data
	h.mu.Unlock()
	if data != nil {
		if dErr := data.Close(); err == nil {
			err = dErr
		}
	}
	return err
}
