//go:build !windows

package transport

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSocketTransportRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sock")

	server := NewSocketServer(path)
	require.NoError(t, server.Listen())
	defer server.Close()

	acceptedCh := make(chan *SocketTransport, 1)
	go func() {
		conn, err := server.Accept()
		require.NoError(t, err)
		acceptedCh <- conn
	}()

	client, err := DialSocket(path)
	require.NoError(t, err)
	require.NoError(t, client.Connect())

	serverSide := <-acceptedCh
	require.NoError(t, serverSide.Connect())

	received := make(chan []byte, 1)
	serverSide.OnData(func(data []byte) { received <- data })

	require.NoError(t, client.Write([]byte("ping")))

	select {
	case data := <-received:
		require.Equal(t, "ping", string(data))
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}

	require.NoError(t, client.Close())
	require.NoError(t, serverSide.Close())
}
