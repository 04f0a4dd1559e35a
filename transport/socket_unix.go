//go:build !windows

package transport

import (
	"fmt"
	"net"
	"os"

	"github.com/vela-systems/workerbus/lifecycle"
)

func socketPath(namespace, id string) string {
	return fmt.Sprintf("/tmp/%s-%s.sock", namespace, id)
}

// SocketServer listens on a Unix domain socket and wraps the first accepted
// connection as a Transport. The worker side opens this and waits for the
// manager to dial in — the worker creates the server and waits for the
// manager to connect.
type SocketServer struct {
	path     string
	listener net.Listener
}

// NewSocketServer creates (but does not yet listen on) a socket server at
// path.
func NewSocketServer(path string) *SocketServer {
	return &SocketServer{path: path}
}

// Listen starts listening. Callers must call Accept afterwards and should
// emit __data_channel_ready__ only once Listen has returned successfully.
func (s *SocketServer) Listen() error {
	_ = os.Remove(s.path)
	l, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	s.listener = l
	return nil
}

// Accept blocks for the single expected peer connection and returns it
// wrapped as a Transport already in the Connected state.
func (s *SocketServer) Accept() (*SocketTransport, error) {
	conn, err := s.listener.Accept()
	if err != nil {
		return nil, err
	}
	return newConnectedSocketTransport(conn), nil
}

// Close stops listening and unlinks the socket file on Unix.
func (s *SocketServer) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}

// SocketTransport is a Transport over a Unix domain socket connection.
type SocketTransport struct {
	StateMachine
	lifecycle.Halter

	conn net.Conn
}

// DialSocket connects to a socket server's path. This is the manager side
// of the data channel.
func DialSocket(path string) (*SocketTransport, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	return newConnectedSocketTransport(conn), nil
}

func newConnectedSocketTransport(conn net.Conn) *SocketTransport {
	t := &SocketTransport{conn: conn}
	_ = t.Transition(Connecting)
	_ = t.Transition(Connected)
	return t
}

// Connect implements Transport. A SocketTransport is already connected by
// construction (via DialSocket/Accept); Connect only starts the read loop.
func (t *SocketTransport) Connect() error {
	t.Go(t.readLoop)
	return nil
}

func (t *SocketTransport) readLoop() {
	buf := make([]byte, readBufSize)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.emitData(chunk)
		}
		if err != nil {
			select {
			case <-t.HaltCh():
				return
			default:
			}
			t.emitClose()
			return
		}
	}
}

// Write implements Transport.
func (t *SocketTransport) Write(data []byte) error {
	_, err := t.conn.Write(data)
	if err != nil {
		t.emitError(err)
	}
	return err
}

// Close implements Transport; idempotent.
func (t *SocketTransport) Close() error {
	if t.State() == Disconnected {
		return nil
	}
	_ = t.Transition(Disconnected)
	t.Halt()
	err := t.conn.Close()
	t.emitClose()
	return err
}
