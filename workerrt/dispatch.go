package workerrt

import (
	"os"
	"time"

	"github.com/carlmjohnson/versioninfo"

	"github.com/vela-systems/workerbus/errs"
	"github.com/vela-systems/workerbus/framing"
	"github.com/vela-systems/workerbus/rpc"
	"github.com/vela-systems/workerbus/transport"
	"github.com/vela-systems/workerbus/wireproto"
)

func (rt *Runtime) dispatchRequest(method string, params wireproto.Value) (wireproto.Value, error) {
	switch method {
	case wireproto.MethodHandshake:
		return rt.handleHandshake(params)
	case wireproto.MethodHeartbeatPing:
		return rt.handleHeartbeatPing(params)
	case wireproto.MethodShutdown:
		return rt.handleShutdownRequest(params)
	}

	rt.mu.Lock()
	handler := rt.requestHandlers[method]
	rt.mu.Unlock()
	if handler == nil {
		return wireproto.Value{}, errs.Protocol(method, rpcErrMethodNotFound(method))
	}

	rt.trackPending(1)
	defer rt.trackPending(-1)
	return handler(method, params)
}

func (rt *Runtime) dispatchNotification(method string, params wireproto.Value) {
	rt.mu.Lock()
	handler := rt.notificationHandlers[method]
	rt.mu.Unlock()
	if handler != nil {
		handler(method, params)
	}
}

func (rt *Runtime) trackPending(delta int) {
	rt.pendingMu.Lock()
	rt.pending += delta
	rt.pendingMu.Unlock()
}

func (rt *Runtime) pendingCount() int {
	rt.pendingMu.Lock()
	defer rt.pendingMu.Unlock()
	return rt.pending
}

func (rt *Runtime) handleHandshake(params wireproto.Value) (wireproto.Value, error) {
	var req wireproto.HandshakeRequest
	_ = wireproto.FromValue(params, &req)

	caps := []string{wireproto.CapabilityHeartbeat}

	rt.mu.Lock()
	wantsData := req.DataChannel != nil && rt.dataServer != nil
	if wantsData {
		rt.dataPath = req.DataChannel.Path
		rt.dataSerialization = req.DataChannel.Serialization
		rt.dataServer = transport.NewSocketServer(req.DataChannel.Path)
	}
	rt.mu.Unlock()

	if wantsData {
		caps = append(caps, wireproto.CapabilityDataChannel)
		go rt.serveDataChannel()
	}

	result := wireproto.HandshakeResult{
		Version:      req.Version,
		Capabilities: caps,
		WorkerInfo: wireproto.WorkerInfo{
			Name:       rt.name,
			RuntimeTag: versioninfo.Short(),
			PID:        os.Getpid(),
		},
	}
	v, err := wireproto.ToValue(result)
	if err != nil {
		return wireproto.Value{}, errs.Protocol("handshake", err)
	}
	return v, nil
}

// serveDataChannel listens on the negotiated path, accepts the manager's
// single connection, and publishes __data_channel_ready__ — or
// __data_channel_error__ on failure.
func (rt *Runtime) serveDataChannel() {
	rt.mu.Lock()
	server := rt.dataServer
	serialization := rt.dataSerialization
	rt.mu.Unlock()

	if err := server.Listen(); err != nil {
		rt.emitDataChannelError(err)
		return
	}

	_ = rt.control.Notify(wireproto.MethodDataChannelReady, wireproto.Null())

	transport, err := server.Accept()
	if err != nil {
		rt.emitDataChannelError(err)
		return
	}

	c, err := rt.registry.Resolve(serialization)
	if err != nil {
		rt.emitDataChannelError(err)
		return
	}

	ch := rpc.New(transport, framing.NewLengthPrefixed(0), c, 30*time.Second)
	ch.OnRequest(rt.dispatchRequest)
	ch.OnNotification(rt.dispatchNotification)
	if err := ch.Start(); err != nil {
		rt.emitDataChannelError(err)
		return
	}

	rt.mu.Lock()
	rt.dataChannel = ch
	rt.mu.Unlock()
}

func (rt *Runtime) emitDataChannelError(err error) {
	if rt.log != nil {
		rt.log.Errorf("data channel: %v", err)
	}
	v, _ := wireproto.ToValue(wireproto.DataChannelError{Message: err.Error()})
	_ = rt.control.Notify(wireproto.MethodDataChannelError, v)
}

func (rt *Runtime) handleHeartbeatPing(params wireproto.Value) (wireproto.Value, error) {
	var ping wireproto.HeartbeatPing
	_ = wireproto.FromValue(params, &ping)

	pong := wireproto.HeartbeatPong{
		Timestamp: ping.Timestamp,
		Seq:       ping.Seq,
		Load:      &wireproto.LoadStats{PendingRequests: rt.pendingCount()},
	}
	v, err := wireproto.ToValue(pong)
	if err != nil {
		return wireproto.Value{}, errs.Protocol("heartbeat", err)
	}
	return v, nil
}

func (rt *Runtime) handleShutdownRequest(params wireproto.Value) (wireproto.Value, error) {
	var req wireproto.ShutdownRequest
	_ = wireproto.FromValue(params, &req)

	ack := wireproto.ShutdownAck{Status: "shutting_down", PendingRequests: rt.pendingCount()}
	v, err := wireproto.ToValue(ack)
	if err != nil {
		return wireproto.Value{}, errs.Protocol("shutdown", err)
	}

	select {
	case rt.shutdownCh <- shutdownSignal{reason: req.Reason, timeout: time.Duration(req.TimeoutMS) * time.Millisecond}:
	default:
	}
	return v, nil
}

func rpcErrMethodNotFound(method string) error {
	return &methodNotFoundError{method: method}
}

type methodNotFoundError struct{ method string }

func (e *methodNotFoundError) Error() string { return "method not found: " + e.method }
