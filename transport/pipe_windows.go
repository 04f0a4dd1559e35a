//go:build windows

package transport

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"

	"github.com/vela-systems/workerbus/lifecycle"
)

func socketPath(namespace, id string) string {
	return fmt.Sprintf(`\\.\pipe\%s-%s`, namespace, id)
}

// SocketServer listens on a Windows named pipe and wraps the first accepted
// connection as a Transport, mirroring socket_unix.go's Unix domain socket
// server. Built on github.com/Microsoft/go-winio, the ecosystem's standard
// named-pipe library.
type SocketServer struct {
	path     string
	listener net.Listener
}

func NewSocketServer(path string) *SocketServer {
	return &SocketServer{path: path}
}

func (s *SocketServer) Listen() error {
	l, err := winio.ListenPipe(s.path, nil)
	if err != nil {
		return err
	}
	s.listener = l
	return nil
}

func (s *SocketServer) Accept() (*SocketTransport, error) {
	conn, err := s.listener.Accept()
	if err != nil {
		return nil, err
	}
	return newConnectedSocketTransport(conn), nil
}

func (s *SocketServer) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// SocketTransport is a Transport over a Windows named pipe connection.
type SocketTransport struct {
	StateMachine
	lifecycle.Halter

	conn net.Conn
}

// DialSocket connects to a named pipe server's path. This is the manager
// side of the data channel.
func DialSocket(path string) (*SocketTransport, error) {
	conn, err := winio.DialPipe(path, nil)
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

func (t *SocketTransport) Write(data []byte) error {
	_, err := t.conn.Write(data)
	if err != nil {
		t.emitError(err)
	}
	return err
}

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
