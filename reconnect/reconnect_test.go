package reconnect

import (
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vela-systems/workerbus/codec/cborcodec"
	"github.com/vela-systems/workerbus/config"
	"github.com/vela-systems/workerbus/framing"
	"github.com/vela-systems/workerbus/rpc"
	"github.com/vela-systems/workerbus/transport"
	"github.com/vela-systems/workerbus/wireproto"
)

func fastOpts() config.ReconnectOptions {
	return config.ReconnectOptions{
		InitialDelayMS: 5,
		MaxDelayMS:     20,
		Multiplier:     2,
		Jitter:         0,
		MaxAttempts:    3,
		QueueRequests:  true,
		MaxQueueSize:   4,
		QueueTimeoutMS: 500,
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	opts := config.ReconnectOptions{InitialDelayMS: 100, MaxDelayMS: 300, Multiplier: 2, Jitter: 0}
	require.Equal(t, 100*time.Millisecond, backoffDelay(opts, 1))
	require.Equal(t, 200*time.Millisecond, backoffDelay(opts, 2))
	require.Equal(t, 300*time.Millisecond, backoffDelay(opts, 3)) // would be 400, capped at 300
	require.Equal(t, 300*time.Millisecond, backoffDelay(opts, 4))
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// newLoopbackChannel builds a connected, started rpc.Channel whose peer end
// is a second channel handed back alongside it, so tests can install a
// request handler on the peer and exercise Manager.Request end-to-end.
func newLoopbackChannel(t *testing.T) (*rpc.Channel, *rpc.Channel) {
	t.Helper()
	aR, aW := io.Pipe()
	bR, bW := io.Pipe()

	a := rpc.New(transport.NewStdio(bR, nopCloser{aW}), framing.NewLengthPrefixed(0), cborcodec.New(), time.Second)
	b := rpc.New(transport.NewStdio(aR, nopCloser{bW}), framing.NewLengthPrefixed(0), cborcodec.New(), time.Second)
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	return a, b
}

func TestRequestRoutesToLiveChannel(t *testing.T) {
	client, peer := newLoopbackChannel(t)
	defer client.Close()
	defer peer.Close()

	peer.OnRequest(func(method string, params wireproto.Value) (wireproto.Value, error) {
		return wireproto.String("pong"), nil
	})

	m := New(nil, fastOpts(), nil, "w1")
	m.SetChannel(client)

	result, err := m.Request("ping", wireproto.Null(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "pong", result.Any())
}

func TestRequestFailsImmediatelyWhenQueueingDisabledAndDisconnected(t *testing.T) {
	opts := fastOpts()
	opts.QueueRequests = false
	m := New(nil, opts, nil, "w1")
	m.mu.Lock()
	m.state = StateReconnecting
	m.mu.Unlock()

	_, err := m.Request("ping", wireproto.Null(), time.Second)
	require.Error(t, err)
}

func TestQueueRejectsPastCapacity(t *testing.T) {
	q := newBoundedQueue(1)

	first := &queuedRequest{resultCh: make(chan requestOutcome, 1), deadline: time.Now().Add(time.Second)}
	second := &queuedRequest{resultCh: make(chan requestOutcome, 1), deadline: time.Now().Add(time.Second)}

	require.True(t, q.tryEnqueue(first))
	require.False(t, q.tryEnqueue(second))
}

func TestQueuedRequestFlushesOnReconnect(t *testing.T) {
	opts := fastOpts()
	m := New(nil, opts, nil, "w1")
	m.mu.Lock()
	m.state = StateReconnecting
	m.mu.Unlock()

	done := make(chan struct{})
	var result wireproto.Value
	var reqErr error
	go func() {
		result, reqErr = m.Request("echo", wireproto.Int(9), time.Second)
		close(done)
	}()

	// Give the request time to land in the queue before reconnecting.
	require.Eventually(t, func() bool { return m.queue.len() == 1 }, time.Second, 5*time.Millisecond)

	client, peer := newLoopbackChannel(t)
	defer client.Close()
	defer peer.Close()
	peer.OnRequest(func(method string, params wireproto.Value) (wireproto.Value, error) {
		return params, nil
	})

	m.SetChannel(client)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queued request never flushed")
	}
	require.NoError(t, reqErr)
	require.EqualValues(t, 9, result.Any())
}

var errDialFailure = errors.New("dial failed")

func TestReconnectLoopGivesUpAfterMaxAttempts(t *testing.T) {
	opts := fastOpts()
	opts.MaxAttempts = 2

	var attempts int32
	dial := func() (*rpc.Channel, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, errDialFailure
	}
	m := New(dial, opts, nil, "w1")

	gaveUp := make(chan struct{})
	m.OnGiveUp(func() { close(gaveUp) })

	m.HandleDisconnect()

	select {
	case <-gaveUp:
	case <-time.After(time.Second):
		t.Fatal("reconnect manager never gave up")
	}
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
	require.Equal(t, StateGivenUp, m.State())
}
