package process

import (
	"bufio"
	"io"

	"gopkg.in/op/go-logging.v1"
)

// newStderrProxy returns an io.Writer suitable for exec.Cmd.Stderr that logs
// each line a worker writes, tagged with its logical id, through the
// manager's own logging backend rather than discarding it. exec.Cmd only
// auto-closes stream fields it owns as *os.File; for this io.Writer the
// caller must close the returned *io.PipeWriter once the process has
// exited, or the scanner goroutine blocks on Read forever.
func newStderrProxy(log *logging.Logger, id string) *io.PipeWriter {
	r, w := io.Pipe()
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if log != nil {
				log.Warningf("worker %s stderr: %s", id, scanner.Text())
			}
		}
	}()
	return w
}
