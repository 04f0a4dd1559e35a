package workerrt

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vela-systems/workerbus/codec/cborcodec"
	"github.com/vela-systems/workerbus/framing"
	"github.com/vela-systems/workerbus/rpc"
	"github.com/vela-systems/workerbus/transport"
	"github.com/vela-systems/workerbus/wireproto"
)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// newTestRuntime wires a Runtime's control channel to an in-process peer
// channel over a pipe, standing in for the process's real stdio, so tests
// can issue requests as the manager side would. Unlike New, it frames with
// length prefixes and encodes with CBOR rather than line-delimited JSON.
func newTestRuntime(t *testing.T) (*Runtime, *rpc.Channel) {
	t.Helper()
	aR, aW := io.Pipe()
	bR, bW := io.Pipe()

	control := rpc.New(transport.NewStdio(bR, nopCloser{aW}), framing.NewLengthPrefixed(0), cborcodec.New(), time.Second)
	peer := rpc.New(transport.NewStdio(aR, nopCloser{bW}), framing.NewLengthPrefixed(0), cborcodec.New(), time.Second)

	rt := &Runtime{
		control:              control,
		requestHandlers:      make(map[string]rpc.RequestHandler),
		notificationHandlers: make(map[string]rpc.NotificationHandler),
		shutdownCh:           make(chan shutdownSignal, 1),
		name:                 "test-worker",
	}
	control.OnRequest(rt.dispatchRequest)
	control.OnNotification(rt.dispatchNotification)

	require.NoError(t, control.Start())
	require.NoError(t, peer.Start())
	return rt, peer
}

func TestHandshakeReturnsWorkerInfoAndHeartbeatCapability(t *testing.T) {
	rt, peer := newTestRuntime(t)
	defer rt.control.Close()
	defer peer.Close()

	req := wireproto.HandshakeRequest{Version: "1.0", Capabilities: []string{"heartbeat"}}
	params, err := wireproto.ToValue(req)
	require.NoError(t, err)

	result, err := peer.Request(wireproto.MethodHandshake, params, time.Second)
	require.NoError(t, err)

	var hs wireproto.HandshakeResult
	require.NoError(t, wireproto.FromValue(result, &hs))
	require.Equal(t, "1.0", hs.Version)
	require.Contains(t, hs.Capabilities, wireproto.CapabilityHeartbeat)
	require.Equal(t, "test-worker", hs.WorkerInfo.Name)
	require.NotZero(t, hs.WorkerInfo.PID)
}

func TestHeartbeatPingEchoesSeqAndReportsPendingLoad(t *testing.T) {
	rt, peer := newTestRuntime(t)
	defer rt.control.Close()
	defer peer.Close()

	rt.trackPending(2)

	params, err := wireproto.ToValue(wireproto.HeartbeatPing{Timestamp: 42, Seq: 7})
	require.NoError(t, err)

	result, err := peer.Request(wireproto.MethodHeartbeatPing, params, time.Second)
	require.NoError(t, err)

	var pong wireproto.HeartbeatPong
	require.NoError(t, wireproto.FromValue(result, &pong))
	require.EqualValues(t, 7, pong.Seq)
	require.EqualValues(t, 42, pong.Timestamp)
	require.NotNil(t, pong.Load)
	require.Equal(t, 2, pong.Load.PendingRequests)
}

func TestShutdownRequestAcksAndSignalsRun(t *testing.T) {
	rt, peer := newTestRuntime(t)
	defer rt.control.Close()
	defer peer.Close()

	params, err := wireproto.ToValue(wireproto.ShutdownRequest{TimeoutMS: 1000, Reason: wireproto.ReasonUserRequested})
	require.NoError(t, err)

	result, err := peer.Request(wireproto.MethodShutdown, params, time.Second)
	require.NoError(t, err)

	var ack wireproto.ShutdownAck
	require.NoError(t, wireproto.FromValue(result, &ack))
	require.Equal(t, "shutting_down", ack.Status)

	select {
	case sig := <-rt.shutdownCh:
		require.Equal(t, wireproto.ReasonUserRequested, sig.reason)
		require.Equal(t, time.Second, sig.timeout)
	case <-time.After(time.Second):
		t.Fatal("shutdown signal never queued")
	}
}

func TestApplicationRequestHandlerDispatchesAndTracksPending(t *testing.T) {
	rt, peer := newTestRuntime(t)
	defer rt.control.Close()
	defer peer.Close()

	var mu sync.Mutex
	var sawPending int
	rt.RegisterRequestHandler("double", func(method string, params wireproto.Value) (wireproto.Value, error) {
		mu.Lock()
		sawPending = rt.pendingCount()
		mu.Unlock()
		n, _ := params.Any().(int64)
		return wireproto.Int(n * 2), nil
	})

	result, err := peer.Request("double", wireproto.Int(21), time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 42, result.Any())

	mu.Lock()
	require.Equal(t, 1, sawPending)
	mu.Unlock()
	require.Equal(t, 0, rt.pendingCount())
}

func TestRegisterRequestHandlerRejectsReservedMethods(t *testing.T) {
	rt, peer := newTestRuntime(t)
	defer rt.control.Close()
	defer peer.Close()

	rt.RegisterRequestHandler(wireproto.MethodHandshake, func(string, wireproto.Value) (wireproto.Value, error) {
		return wireproto.Null(), nil
	})

	// The reserved handler should not have been installed: a handshake
	// still goes through the built-in handler and reports WorkerInfo.
	result, err := peer.Request(wireproto.MethodHandshake, wireproto.Null(), time.Second)
	require.NoError(t, err)
	var hs wireproto.HandshakeResult
	require.NoError(t, wireproto.FromValue(result, &hs))
	require.Equal(t, "test-worker", hs.WorkerInfo.Name)
}

func TestUnregisteredApplicationMethodReturnsError(t *testing.T) {
	rt, peer := newTestRuntime(t)
	defer rt.control.Close()
	defer peer.Close()

	_, err := peer.Request("nope", wireproto.Null(), time.Second)
	require.Error(t, err)
}
