package process

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vela-systems/workerbus/rpc"
)

type fakeProcess struct {
	pid      int
	signaled []string
	exit     ExitInfo
	waitErr  error
}

func (p *fakeProcess) Signal(sig string) error {
	p.signaled = append(p.signaled, sig)
	return nil
}
func (p *fakeProcess) PID() int               { return p.pid }
func (p *fakeProcess) Wait() (ExitInfo, error) { return p.exit, p.waitErr }

func TestHandleStateTransitionsFireObservers(t *testing.T) {
	h := newHandle("w1", nil, &fakeProcess{pid: 123})

	var seen []State
	h.OnStateChange(func(s State) { seen = append(seen, s) })

	h.setState(StateHandshaking)
	h.setState(StateReady)

	require.Equal(t, []State{StateHandshaking, StateReady}, seen)
	require.Equal(t, StateReady, h.State())
}

func TestHandleRequestViaDataFailsWithoutDataChannel(t *testing.T) {
	h := newHandle("w1", nil, &fakeProcess{})
	_, err := h.RequestViaData("m", rpc.Value{}, 0)
	require.Error(t, err)
}

func TestHandleExitObserversReceiveAttribution(t *testing.T) {
	h := newHandle("w1", nil, &fakeProcess{exit: ExitInfo{ExitCode: 1}})

	var got ExitInfo
	h.OnExit(func(info ExitInfo) { got = info })
	h.emitExit(ExitInfo{ExitCode: 1, Signal: "KILL"})

	require.Equal(t, 1, got.ExitCode)
	require.Equal(t, "KILL", got.Signal)
}

func TestHandleErrorObserversReceiveErrors(t *testing.T) {
	h := newHandle("w1", nil, &fakeProcess{})
	var got error
	h.OnError(func(err error) { got = err })
	h.emitError(errors.New("boom"))
	require.EqualError(t, got, "boom")
}
