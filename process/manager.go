package process

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"

	"github.com/vela-systems/workerbus/codec"
	"github.com/vela-systems/workerbus/codec/jsoncodec"
	"github.com/vela-systems/workerbus/config"
	"github.com/vela-systems/workerbus/errs"
	"github.com/vela-systems/workerbus/framing"
	"github.com/vela-systems/workerbus/metrics"
	"github.com/vela-systems/workerbus/reconnect"
	"github.com/vela-systems/workerbus/rpc"
	"github.com/vela-systems/workerbus/shutdown"
	"github.com/vela-systems/workerbus/transport"
	"github.com/vela-systems/workerbus/wireproto"
)

// restartLedger tracks restart attempts within a RestartPolicy's window. The
// window is fixed, not sliding: it opens at the first recorded attempt and
// the count starts over once a later attempt lands more than Window() after
// that start.
type restartLedger struct {
	windowStart time.Time
	attempts    int
}

func (l *restartLedger) record(now time.Time, window time.Duration) int {
	if l.windowStart.IsZero() || now.Sub(l.windowStart) > window {
		l.windowStart = now
		l.attempts = 0
	}
	l.attempts++
	return l.attempts
}

// entry bundles everything the manager tracks for one spawned worker across
// restarts: its current Handle, the ledger, and its original spawn options
// (args/env don't change across restarts; only the ledger does).
type entry struct {
	mu       sync.Mutex
	opts     config.SpawnOptions
	handle   *Handle
	ledger   restartLedger
	shutdown *shutdown.Manager
	recon    *reconnect.Manager

	// restartTriggered guards against the heartbeat-dead path and reapLoop
	// both reacting to the same process death: whichever observes it first
	// claims the restart, the other just finishes attributing the exit.
	restartTriggered bool
}

// claimRestart reports whether the caller is the first to react to this
// handle's death and should proceed with a restart.
func (e *entry) claimRestart() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.restartTriggered {
		return false
	}
	e.restartTriggered = true
	return true
}

// Manager owns every spawned worker process: handshake, heartbeat, restart
// policy, and coordinated termination.
type Manager struct {
	registry  *codec.Registry
	reconOpts config.ReconnectOptions
	shutOpts  config.ShutdownOptions
	metrics   *metrics.Set
	log       *logging.Logger

	mu           sync.Mutex
	entries      map[string]*entry
	shuttingDown bool
}

// NewManager builds a Manager. registry resolves data-channel codecs by the
// name negotiated in a handshake; a nil metrics.Set disables instrumentation.
func NewManager(registry *codec.Registry, reconOpts config.ReconnectOptions, shutOpts config.ShutdownOptions, m *metrics.Set, log *logging.Logger) *Manager {
	return &Manager{
		registry:  registry,
		reconOpts: reconOpts,
		shutOpts:  shutOpts,
		metrics:   m,
		log:       log,
		entries:   make(map[string]*entry),
	}
}

// Spawn launches a worker under logical id, wires its control channel,
// handshakes, and — if advertised — opens the data channel. It blocks until
// the handle reaches Ready or the handshake fails.
func (m *Manager) Spawn(id string, opts config.SpawnOptions) (*Handle, error) {
	e := &entry{opts: opts}
	m.mu.Lock()
	m.entries[id] = e
	m.mu.Unlock()

	return m.spawnOnce(id, e)
}

func (m *Manager) spawnOnce(id string, e *entry) (*Handle, error) {
	e.mu.Lock()
	opts := e.opts
	e.restartTriggered = false
	e.mu.Unlock()

	generation := uuid.NewString()
	if m.log != nil {
		m.log.Noticef("worker %s: spawning generation %s", id, generation)
	}

	cmd := exec.Command(opts.ExecutablePath, opts.Args...)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}
	applyEnv(cmd, opts.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errs.Supervisor("spawn", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.Supervisor("spawn", err)
	}
	stderr := newStderrProxy(m.log, id)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, errs.Supervisor("spawn", err)
	}

	h := newHandle(id, m.log, &osProcess{cmd: cmd})
	h.setState(StateSpawning)

	control := rpc.New(
		transport.NewStdio(stdout, stdin),
		framing.NewLineDelimited(0),
		jsoncodec.New(),
		opts.HandshakeTimeout(),
	)
	h.Control = control

	router := &reservedNotificationRouter{handle: h, shutdown: func() *shutdown.Manager {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.shutdown
	}}
	control.OnNotification(router.route)

	if err := control.Start(); err != nil {
		_ = cmd.Process.Kill()
		return nil, errs.Transport("spawn", err)
	}

	h.setState(StateHandshaking)

	go m.reapLoop(id, e, h, cmd, stderr)

	req := wireproto.HandshakeRequest{
		Version:      versioninfo.Version,
		Capabilities: []string{wireproto.CapabilityHeartbeat},
	}
	if opts.DataChannel.Enabled {
		req.DataChannel = &wireproto.DataChannelRequest{
			Path:          transport.SocketPath(opts.DataChannel.Namespace, id),
			Serialization: opts.DataChannel.Serialization,
		}
	}
	params, err := wireproto.ToValue(req)
	if err != nil {
		return nil, errs.Protocol("handshake", err)
	}

	result, err := control.Request(wireproto.MethodHandshake, params, opts.HandshakeTimeout())
	if err != nil {
		h.emitError(err)
		return h, errs.Protocol("handshake", err)
	}
	var hsResult wireproto.HandshakeResult
	if err := wireproto.FromValue(result, &hsResult); err != nil {
		return h, errs.Protocol("handshake", err)
	}

	e.mu.Lock()
	e.handle = h
	e.mu.Unlock()

	h.setState(StateReady)

	if opts.Heartbeat.Enabled {
		go m.heartbeatLoop(id, e, h, opts.Heartbeat)
	}

	if opts.DataChannel.Enabled && hasCapability(hsResult.Capabilities, wireproto.CapabilityDataChannel) {
		go m.openDataChannel(id, e, h, opts)
	}

	return h, nil
}

func hasCapability(caps []string, want string) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}

// openDataChannel waits for __data_channel_ready__ before dialing:
// connecting earlier races the worker's own listener setup.
func (m *Manager) openDataChannel(id string, e *entry, h *Handle, opts config.SpawnOptions) {
	select {
	case <-h.dataReadyCh:
	case info := <-h.dataErrCh:
		h.emitError(errs.Transport("data_channel", fmt.Errorf("%s", info.Message)))
		return
	case <-time.After(opts.HandshakeTimeout()):
		h.emitError(errs.Timeout("data_channel", nil))
		return
	}

	path := transport.SocketPath(opts.DataChannel.Namespace, id)
	dial := m.dataDialFunc(path, opts.DataChannel.Serialization)

	ch, err := dial()
	if err != nil {
		h.emitError(errs.Transport("data_channel", err))
		return
	}

	recon := reconnect.New(dial, m.reconOpts, m.metrics, id)
	recon.SetChannel(ch)
	e.mu.Lock()
	e.recon = recon
	e.mu.Unlock()

	h.mu.Lock()
	h.Data = ch
	h.mu.Unlock()
}

func (m *Manager) dataDialFunc(path, serialization string) reconnect.DialFunc {
	return func() (*rpc.Channel, error) {
		c, err := m.registry.Resolve(serialization)
		if err != nil {
			return nil, errs.Serialization("data_channel", err)
		}
		st, err := transport.DialSocket(path)
		if err != nil {
			return nil, errs.Transport("data_channel", err)
		}
		ch := rpc.New(st, framing.NewLengthPrefixed(0), c, m.shutOpts.GracefulTimeout())
		if err := ch.Start(); err != nil {
			return nil, errs.Transport("data_channel", err)
		}
		return ch, nil
	}
}

// heartbeatLoop pings the control channel at Interval and tracks consecutive
// misses; MissesAllowed consecutive failures marks the handle disconnected
// and triggers restart-or-shutdown.
func (m *Manager) heartbeatLoop(id string, e *entry, h *Handle, opts config.HeartbeatOptions) {
	ticker := time.NewTicker(opts.Interval())
	defer ticker.Stop()

	var misses int
	var seq uint64
	for range ticker.C {
		if h.State() != StateReady {
			return
		}
		seq++
		params, _ := wireproto.ToValue(wireproto.HeartbeatPing{Timestamp: time.Now().Unix(), Seq: seq})
		_, err := h.Control.Request(wireproto.MethodHeartbeatPing, params, opts.ReplyTimeout())
		if err != nil {
			misses++
			if m.metrics != nil {
				m.metrics.HeartbeatMissed(id)
			}
			if misses >= opts.MissesAllowed {
				h.setState(StateDisconnected)
				m.onHeartbeatDead(id, e, h)
				return
			}
			continue
		}
		misses = 0
	}
}

func (m *Manager) onHeartbeatDead(id string, e *entry, h *Handle) {
	e.mu.Lock()
	opts := e.opts
	e.mu.Unlock()

	if opts.Restart.Enabled {
		if !e.claimRestart() {
			// reapLoop already observed this process's death and claimed
			// the restart; nothing further to do here.
			return
		}
		// The process is unresponsive, not necessarily dead: kill it before
		// respawning so the old instance can't linger holding the data
		// channel path or other resources.
		_ = h.process.Signal("KILL")
		m.restart(id, e, h)
		return
	}
	mgr := shutdown.New(h.Control, killerFor(h), m.shutOpts)
	mgr.OnPhaseChange(func(p shutdown.Phase) {
		if p == shutdown.PhaseDraining {
			h.setState(StateDraining)
		}
	})
	e.mu.Lock()
	e.shutdown = mgr
	e.mu.Unlock()
	mgr.Shutdown(wireproto.ReasonHeartbeatDead)
}

type handleKiller struct{ h *Handle }

func (k handleKiller) Signal(name string) error { return k.h.process.Signal(name) }

func killerFor(h *Handle) shutdown.Killer { return handleKiller{h: h} }

// reapLoop waits for the OS process to exit, attributes the exit, rejects
// any still-pending requests, and triggers a restart if policy allows.
func (m *Manager) reapLoop(id string, e *entry, h *Handle, cmd *exec.Cmd, stderr *io.PipeWriter) {
	info, err := h.process.Wait()
	if err != nil {
		h.emitError(errs.Supervisor("wait", err))
	}
	_ = stderr.Close()

	e.mu.Lock()
	mgr := e.shutdown
	e.mu.Unlock()
	if mgr != nil {
		res := mgr.Result()
		info.Graceful = res.Graceful
		if res.Graceful {
			info.ExitCode = res.ExitCode
		}
	}

	h.setState(StateStopped)
	h.emitExit(info)
	_ = h.Control.Close()
	h.mu.Lock()
	data := h.Data
	h.mu.Unlock()
	if data != nil {
		_ = data.Close()
	}
	e.mu.Lock()
	if e.recon != nil {
		e.recon.Close()
	}
	e.mu.Unlock()

	if info.Graceful {
		return
	}

	m.mu.Lock()
	shuttingDown := m.shuttingDown
	m.mu.Unlock()
	if shuttingDown {
		return
	}

	e.mu.Lock()
	policy := e.opts.Restart
	e.mu.Unlock()
	if !policy.Enabled {
		m.removeEntry(id, e)
		return
	}
	if !e.claimRestart() {
		// The heartbeat-dead path already claimed this death and is
		// restarting the worker under the same entry.
		return
	}
	m.restart(id, e, h)
}

func (m *Manager) restart(id string, e *entry, h *Handle) {
	e.mu.Lock()
	policy := e.opts.Restart
	attempts := e.ledger.record(time.Now(), policy.Window())
	e.mu.Unlock()

	if attempts > policy.MaxRestarts {
		h.setState(StateStopped)
		h.emitError(errs.Supervisor("restart", fmt.Errorf("exceeded max restarts (%d) within window", policy.MaxRestarts)))
		m.removeEntry(id, e)
		return
	}

	delay := restartDelay(policy, attempts)
	time.Sleep(delay)

	if m.metrics != nil {
		m.metrics.RestartObserved(id)
	}

	if _, err := m.spawnOnce(id, e); err != nil {
		h.emitError(errs.Supervisor("restart", err))
	}
}

func restartDelay(policy config.RestartPolicy, attempt int) time.Duration {
	base := time.Duration(policy.BaseDelayMS) * time.Millisecond
	if policy.Backoff == config.BackoffFixed {
		return base
	}
	mult := policy.Multiplier
	if mult <= 0 {
		mult = 1
	}
	delay := float64(base)
	for i := 1; i < attempt; i++ {
		delay *= mult
	}
	if max := float64(policy.MaxDelayMS) * float64(time.Millisecond); max > 0 && delay > max {
		delay = max
	}
	return time.Duration(delay)
}

// removeEntry drops id from the directory once its entry is terminally
// stopped and will not be restarted. It only deletes the map slot if it
// still points at e, in case a fresh Spawn(id, ...) has already replaced it.
func (m *Manager) removeEntry(id string, e *entry) {
	m.mu.Lock()
	if m.entries[id] == e {
		delete(m.entries, id)
	}
	m.mu.Unlock()
}

// Handle returns the currently live handle for id, if any.
func (m *Manager) Handle(id string) (*Handle, bool) {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle, e.handle != nil
}

// TerminateAll initiates shutdown for every non-stopped handle concurrently,
// awaits completion up to deadline, and force-kills stragglers.
func (m *Manager) TerminateAll(deadline time.Duration) {
	m.mu.Lock()
	m.shuttingDown = true
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		e.mu.Lock()
		h := e.handle
		e.mu.Unlock()
		if h == nil || h.State() == StateStopped {
			continue
		}
		wg.Add(1)
		go func(e *entry, h *Handle) {
			defer wg.Done()
			opts := m.shutOpts
			opts.GracefulTimeoutMS = deadline.Milliseconds()
			mgr := shutdown.New(h.Control, killerFor(h), opts)
			mgr.OnPhaseChange(func(p shutdown.Phase) {
				if p == shutdown.PhaseDraining {
					h.setState(StateDraining)
				}
			})
			e.mu.Lock()
			e.shutdown = mgr
			e.mu.Unlock()
			mgr.Shutdown(wireproto.ReasonManagerShutdown)
		}(e, h)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(deadline):
		m.mu.Lock()
		for _, e := range entries {
			e.mu.Lock()
			h := e.handle
			e.mu.Unlock()
			if h != nil && h.State() != StateStopped {
				_ = h.process.Signal("KILL")
			}
		}
		m.mu.Unlock()
	}
}
