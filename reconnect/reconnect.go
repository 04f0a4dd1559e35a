// Package reconnect implements the reconnect manager, applied only to the
// optional data channel — the control channel never reconnects; if it dies
// the worker is considered gone. The retry delay grows with every failed
// attempt and resets on success, following an exponential-with-jitter curve,
// and pending requests queue in a bounded FIFO while disconnected.
package reconnect

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/vela-systems/workerbus/config"
	"github.com/vela-systems/workerbus/errs"
	"github.com/vela-systems/workerbus/metrics"
	"github.com/vela-systems/workerbus/rpc"
	"github.com/vela-systems/workerbus/wireproto"
)

var (
	errDisconnected = errors.New("reconnect: data channel disconnected and queueing disabled")
	errQueueFull    = errors.New("reconnect: queue is at capacity")
	errGiveUp       = errors.New("reconnect: max reconnect attempts exceeded")
)

// State is the reconnect manager's view of the data channel's availability.
type State uint8

const (
	StateConnected State = iota
	StateReconnecting
	StateGivenUp
)

// DialFunc builds and starts a brand new data channel. It is supplied by
// the owning process handle, which knows the socket/pipe path and
// negotiated codec.
type DialFunc func() (*rpc.Channel, error)

// Manager owns the data channel's current connection and, while
// disconnected, a bounded queue of requests awaiting reconnection.
type Manager struct {
	dial     DialFunc
	opts     config.ReconnectOptions
	metrics  *metrics.Set
	workerID string

	mu      sync.Mutex
	state   State
	channel *rpc.Channel
	attempt int

	queue *boundedQueue

	giveUpObservers []func()
	stopCh          chan struct{}
	stopOnce        sync.Once
}

// New builds a Manager. Call SetChannel once the initial data channel is
// connected, then HandleDisconnect whenever it is observed to close.
func New(dial DialFunc, opts config.ReconnectOptions, m *metrics.Set, workerID string) *Manager {
	return &Manager{
		dial:     dial,
		opts:     opts,
		metrics:  m,
		workerID: workerID,
		queue:    newBoundedQueue(opts.MaxQueueSize),
		stopCh:   make(chan struct{}),
	}
}

// SetChannel installs the current live data channel (initial connect or a
// freshly reconnected one) and flushes any queued requests against it.
func (m *Manager) SetChannel(ch *rpc.Channel) {
	m.mu.Lock()
	m.channel = ch
	m.state = StateConnected
	m.attempt = 0
	m.mu.Unlock()
	m.flushQueue(ch)
}

func (m *Manager) flushQueue(ch *rpc.Channel) {
	for _, q := range m.queue.drain() {
		go func(q *queuedRequest) {
			if time.Now().After(q.deadline) {
				q.resultCh <- requestOutcome{err: errQueueTimeout}
				return
			}
			v, err := ch.Request(q.method, q.params, q.timeout)
			q.resultCh <- requestOutcome{value: v, err: err}
		}(q)
	}
	m.reportQueueDepth()
}

// State returns the manager's current connectivity state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnGiveUp subscribes to the terminal "reconnect:failed" condition.
func (m *Manager) OnGiveUp(fn func()) {
	m.mu.Lock()
	m.giveUpObservers = append(m.giveUpObservers, fn)
	m.mu.Unlock()
}

// HandleDisconnect is called by the owner when the data channel is observed
// to have closed or errored. It starts the reconnect loop if one is not
// already running.
func (m *Manager) HandleDisconnect() {
	m.mu.Lock()
	if m.state == StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.state = StateReconnecting
	m.channel = nil
	m.mu.Unlock()
	go m.reconnectLoop()
}

func (m *Manager) reconnectLoop() {
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		m.mu.Lock()
		m.attempt++
		attempt := m.attempt
		m.mu.Unlock()

		if m.opts.MaxAttempts > 0 && attempt > m.opts.MaxAttempts {
			m.giveUp()
			return
		}

		delay := backoffDelay(m.opts, attempt)
		select {
		case <-time.After(delay):
		case <-m.stopCh:
			return
		}

		if m.metrics != nil {
			m.metrics.ReconnectAttempted(m.workerID)
		}
		ch, err := m.dial()
		if err != nil {
			continue
		}
		m.SetChannel(ch)
		return
	}
}

func (m *Manager) giveUp() {
	m.mu.Lock()
	m.state = StateGivenUp
	observers := append([]func(){}, m.giveUpObservers...)
	m.mu.Unlock()

	rejectQueued(m.queue.drain(), errs.Supervisor("reconnect", errGiveUp))
	m.reportQueueDepth()
	for _, fn := range observers {
		fn()
	}
}

// Request routes method/params to the live data channel. While
// disconnected it either queues the request (if QueueRequests is set, up
// to MaxQueueSize, each bounded by QueueTimeout) or fails immediately.
func (m *Manager) Request(method string, params wireproto.Value, timeout time.Duration) (wireproto.Value, error) {
	m.mu.Lock()
	ch := m.channel
	state := m.state
	m.mu.Unlock()

	if ch != nil && state == StateConnected {
		return ch.Request(method, params, timeout)
	}

	if state == StateGivenUp || !m.opts.QueueRequests {
		return wireproto.Value{}, errs.ChannelClosed(method, errDisconnected)
	}

	q := &queuedRequest{
		method:   method,
		params:   params,
		timeout:  timeout,
		deadline: time.Now().Add(m.opts.QueueTimeout()),
		resultCh: make(chan requestOutcome, 1),
	}
	if !m.queue.tryEnqueue(q) {
		return wireproto.Value{}, errs.ChannelClosed(method, errQueueFull)
	}
	m.reportQueueDepth()

	select {
	case outcome := <-q.resultCh:
		return outcome.value, outcome.err
	case <-time.After(m.opts.QueueTimeout()):
		return wireproto.Value{}, errQueueTimeout
	}
}

func (m *Manager) reportQueueDepth() {
	if m.metrics != nil {
		m.metrics.SetReconnectQueueDepth(m.workerID, m.queue.len())
	}
}

// Close stops the reconnect loop and rejects any queued requests.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	rejectQueued(m.queue.drain(), errs.ChannelClosed("close", nil))
	m.reportQueueDepth()
}

// backoffDelay computes delay_n = min(maxDelay, initialDelay *
// multiplier^(n-1)) with multiplicative jitter in [1-jitter, 1+jitter].
func backoffDelay(opts config.ReconnectOptions, attempt int) time.Duration {
	base := float64(opts.InitialDelay())
	mult := opts.Multiplier
	if mult <= 0 {
		mult = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= mult
	}
	if max := float64(opts.MaxDelay()); max > 0 && delay > max {
		delay = max
	}
	jitter := opts.Jitter
	factor := 1 + jitter*(2*rand.Float64()-1)
	return time.Duration(delay * factor)
}
