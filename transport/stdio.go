package transport

import (
	"io"
	"sync"

	"github.com/vela-systems/workerbus/lifecycle"
)

// readBufSize is the chunk size used to pull bytes off the stdio pipe; the
// framing layer reassembles frames regardless of how the OS splits reads.
const readBufSize = 32 * 1024

// Stdio wraps a pair of io.Reader/io.WriteCloser as a Transport: on the
// manager side, r/w are the child's Stdout/Stdin pipes from os/exec; on the
// worker side, r/w are the process's own os.Stdin/os.Stdout.
type Stdio struct {
	StateMachine
	lifecycle.Halter

	r io.Reader
	w io.WriteCloser

	writeMu sync.Mutex
}

// NewStdio creates a Stdio transport. It does not start reading until
// Connect is called.
func NewStdio(r io.Reader, w io.WriteCloser) *Stdio {
	return &Stdio{r: r, w: w}
}

// Connect implements Transport: a stdio pipe is "connected" as soon as both
// ends exist, so this just starts the read loop.
func (s *Stdio) Connect() error {
	if err := s.Transition(Connecting); err != nil {
		return err
	}
	if err := s.Transition(Connected); err != nil {
		return err
	}
	s.Go(s.readLoop)
	return nil
}

func (s *Stdio) readLoop() {
	buf := make([]byte, readBufSize)
	for {
		n, err := s.r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.emitData(chunk)
		}
		if err != nil {
			select {
			case <-s.HaltCh():
				return
			default:
			}
			if err == io.EOF {
				s.emitClose()
			} else {
				s.emitError(err)
			}
			return
		}
	}
}

// Write implements Transport. Writes to a pipe block the caller until the
// OS accepts the bytes, giving the transport natural backpressure.
func (s *Stdio) Write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.w.Write(data)
	if err != nil {
		s.emitError(err)
	}
	return err
}

// Close implements Transport; idempotent. If the reader also implements
// io.Closer (true for an os.File pipe or an io.PipeReader), it is closed
// first to unblock a goroutine parked in a blocking Read — otherwise Halt
// would wait forever for a read that nothing will ever satisfy.
func (s *Stdio) Close() error {
	if s.State() == Disconnected {
		return nil
	}
	_ = s.Transition(Disconnected)
	if rc, ok := s.r.(io.Closer); ok {
		_ = rc.Close()
	}
	s.Halt()
	err := s.w.Close()
	s.emitClose()
	return err
}
