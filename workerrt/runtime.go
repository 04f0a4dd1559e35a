// Package workerrt is the child-side counterpart a worker binary imports to
// become a workerbus worker: it owns the control channel over the process's
// inherited stdio, answers the reserved protocol methods, and exposes a
// plain dispatch contract — RegisterRequestHandler /
// RegisterNotificationHandler — for the worker's own application methods.
// No "builder" sugar (fluent option chains, struct-tag binding) is layered
// on top, matching what a minimal worker SDK needs and nothing more.
package workerrt

import (
	"os"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/vela-systems/workerbus/codec"
	"github.com/vela-systems/workerbus/codec/jsoncodec"
	"github.com/vela-systems/workerbus/framing"
	"github.com/vela-systems/workerbus/rpc"
	"github.com/vela-systems/workerbus/transport"
	"github.com/vela-systems/workerbus/wireproto"
)

// Runtime owns a worker process's control channel and, optionally, its data
// channel listener. Build one with New, register application handlers, then
// call Run to block until __shutdown__ completes the process's drain.
type Runtime struct {
	control  *rpc.Channel
	registry *codec.Registry
	log      *logging.Logger

	mu                   sync.Mutex
	requestHandlers      map[string]rpc.RequestHandler
	notificationHandlers map[string]rpc.NotificationHandler

	dataChannel       *rpc.Channel
	dataServer        *transport.SocketServer
	dataPath          string
	dataSerialization string

	shutdownCh chan shutdownSignal
	pendingMu  sync.Mutex
	pending    int

	name string
}

type shutdownSignal struct {
	reason  wireproto.ShutdownReason
	timeout time.Duration
}

// New builds a Runtime over the process's inherited stdin/stdout, using
// line-delimited JSON framing for the control channel — the protocol's
// default. name identifies the worker in HandshakeResult.WorkerInfo.Name.
func New(name string, registry *codec.Registry, log *logging.Logger) *Runtime {
	control := rpc.New(
		transport.NewStdio(os.Stdin, os.Stdout),
		framing.NewLineDelimited(0),
		jsoncodec.New(),
		30*time.Second,
	)
	rt := &Runtime{
		control:              control,
		registry:             registry,
		log:                  log,
		requestHandlers:      make(map[string]rpc.RequestHandler),
		notificationHandlers: make(map[string]rpc.NotificationHandler),
		shutdownCh:           make(chan shutdownSignal, 1),
		name:                 name,
	}
	control.OnRequest(rt.dispatchRequest)
	control.OnNotification(rt.dispatchNotification)
	return rt
}

// ListenDataChannel configures this Runtime to open a local-socket/named-pipe
// listener once the handshake negotiates a data channel. When the manager's
// __handshake__ carries a data_channel request, its path and serialization
// replace the ones given here. Must be called before Run.
func (rt *Runtime) ListenDataChannel(path, serialization string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.dataServer = transport.NewSocketServer(path)
	rt.dataPath = path
	rt.dataSerialization = serialization
}

// RegisterRequestHandler installs the handler for an application-defined
// request method. Reserved methods (those both prefixed and suffixed with
// "__") cannot be registered this way.
func (rt *Runtime) RegisterRequestHandler(method string, fn rpc.RequestHandler) {
	if wireproto.IsReserved(method) {
		return
	}
	rt.mu.Lock()
	rt.requestHandlers[method] = fn
	rt.mu.Unlock()
}

// RegisterNotificationHandler installs the handler for an application-defined
// notification method.
func (rt *Runtime) RegisterNotificationHandler(method string, fn rpc.NotificationHandler) {
	if wireproto.IsReserved(method) {
		return
	}
	rt.mu.Lock()
	rt.notificationHandlers[method] = fn
	rt.mu.Unlock()
}

// Request issues an outbound request over the data channel if one is open,
// otherwise over the control channel — symmetric with process.Handle's
// Request/RequestViaData split on the manager side.
func (rt *Runtime) Request(method string, params wireproto.Value, timeout time.Duration) (wireproto.Value, error) {
	rt.mu.Lock()
	ch := rt.dataChannel
	rt.mu.Unlock()
	if ch != nil {
		return ch.Request(method, params, timeout)
	}
	return rt.control.Request(method, params, timeout)
}

// Notify fires a notification over the control channel.
func (rt *Runtime) Notify(method string, params wireproto.Value) error {
	return rt.control.Notify(method, params)
}

// Run starts the control channel and blocks until a __shutdown__ request
// arrives and the drain completes: it waits (up to the requested timeout)
// for in-flight application requests to finish, then emits
// __shutdown_complete__ and returns the exit code the caller should pass to
// os.Exit.
func (rt *Runtime) Run() (int, error) {
	if err := rt.control.Start(); err != nil {
		return 1, err
	}

	sig := <-rt.shutdownCh
	rt.drain(sig.timeout)

	exitCode := 0
	v, _ := wireproto.ToValue(wireproto.ShutdownComplete{ExitCode: exitCode})
	_ = rt.control.Notify(wireproto.MethodShutdownComplete, v)

	rt.mu.Lock()
	data := rt.dataChannel
	server := rt.dataServer
	rt.mu.Unlock()
	if data != nil {
		_ = data.Close()
	}
	if server != nil {
		_ = server.Close()
	}
	_ = rt.control.Close()
	return exitCode, nil
}

// drain waits for in-flight application requests to finish, bounded by
// timeout.
func (rt *Runtime) drain(timeout time.Duration) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for rt.pendingCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}
