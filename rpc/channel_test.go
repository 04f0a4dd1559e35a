package rpc

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vela-systems/workerbus/codec/cborcodec"
	"github.com/vela-systems/workerbus/framing"
	"github.com/vela-systems/workerbus/transport"
	"github.com/vela-systems/workerbus/wireproto"
)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func newPipeChannels(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	aR, aW := io.Pipe()
	bR, bW := io.Pipe()

	a := New(transport.NewStdio(bR, nopCloser{aW}), framing.NewLengthPrefixed(0), cborcodec.New(), time.Second)
	b := New(transport.NewStdio(aR, nopCloser{bW}), framing.NewLengthPrefixed(0), cborcodec.New(), time.Second)

	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	return a, b
}

func TestRequestResponseRoundTrip(t *testing.T) {
	a, b := newPipeChannels(t)
	defer a.Close()
	defer b.Close()

	b.OnRequest(func(method string, params wireproto.Value) (wireproto.Value, error) {
		require.Equal(t, "echo", method)
		return params, nil
	})

	result, err := a.Request("echo", wireproto.String("hi"), time.Second)
	require.NoError(t, err)
	require.Equal(t, "hi", result.Any())
}

func TestRequestPropagatesHandlerError(t *testing.T) {
	a, b := newPipeChannels(t)
	defer a.Close()
	defer b.Close()

	b.OnRequest(func(method string, params wireproto.Value) (wireproto.Value, error) {
		return wireproto.Value{}, io.ErrUnexpectedEOF
	})

	_, err := a.Request("boom", wireproto.Null(), time.Second)
	require.Error(t, err)
}

func TestUnknownMethodGetsProtocolErrorWithoutClosing(t *testing.T) {
	a, b := newPipeChannels(t)
	defer a.Close()
	defer b.Close()

	_, err := a.Request("nope", wireproto.Null(), time.Second)
	require.Error(t, err)

	// The channel survives the unknown-method error: a second, handled
	// request still succeeds.
	b.OnRequest(func(method string, params wireproto.Value) (wireproto.Value, error) {
		return wireproto.Int(42), nil
	})
	result, err := a.Request("anything", wireproto.Null(), time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 42, result.Any())
}

func TestRequestTimesOut(t *testing.T) {
	a, b := newPipeChannels(t)
	defer a.Close()
	defer b.Close()

	b.OnRequest(func(method string, params wireproto.Value) (wireproto.Value, error) {
		time.Sleep(200 * time.Millisecond)
		return wireproto.Null(), nil
	})

	_, err := a.Request("slow", wireproto.Null(), 20*time.Millisecond)
	require.Error(t, err)
}

func TestNotificationDoesNotCorrelate(t *testing.T) {
	a, b := newPipeChannels(t)
	defer a.Close()
	defer b.Close()

	received := make(chan wireproto.Value, 1)
	b.OnNotification(func(method string, params wireproto.Value) {
		received <- params
	})

	require.NoError(t, a.Notify("ping", wireproto.Int(7)))

	select {
	case v := <-received:
		require.EqualValues(t, 7, v.Any())
	case <-time.After(time.Second):
		t.Fatal("notification never arrived")
	}
}

func TestClosePendingRequestsRejected(t *testing.T) {
	a, b := newPipeChannels(t)

	unblock := make(chan struct{})
	b.OnRequest(func(method string, params wireproto.Value) (wireproto.Value, error) {
		<-unblock
		return wireproto.Null(), nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := a.Request("hang", wireproto.Null(), 5*time.Second)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, a.Close())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("close did not reject pending request")
	}

	close(unblock)
	require.NoError(t, b.Close())
}

type erroringWriter struct{ err error }

func (w *erroringWriter) Write(p []byte) (int, error) { return 0, w.err }
func (w *erroringWriter) Close() error                { return nil }

func TestTransportErrorClosesChannelAndRejectsPending(t *testing.T) {
	r, _ := io.Pipe()
	writeErr := io.ErrClosedPipe
	c := New(transport.NewStdio(r, &erroringWriter{err: writeErr}), framing.NewLengthPrefixed(0), cborcodec.New(), time.Second)
	require.NoError(t, c.Start())
	defer c.Close()

	// The failed write fires the transport's OnError observer, which must
	// close the channel the same way a framing/serialization error does.
	_, err := c.Request("anything", wireproto.Null(), time.Second)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		_, err := c.Request("again", wireproto.Null(), time.Second)
		return err != nil
	}, time.Second, 10*time.Millisecond, "channel should be closed after a transport error")
}

func TestIDAllocationWrapsAndSkipsCollisions(t *testing.T) {
	c := New(nil, nil, nil, time.Second)
	c.nextID = maxRequestID
	first := c.allocateIDLocked()
	require.EqualValues(t, maxRequestID, first)
	second := c.allocateIDLocked()
	require.EqualValues(t, 1, second)

	// id 2 is still pending, so the allocator skips forward to 3.
	c.pending.insert(&pendingRequest{id: 2})
	third := c.allocateIDLocked()
	require.EqualValues(t, 3, third)
}
