package shutdown_test

import (
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vela-systems/workerbus/config"
	"github.com/vela-systems/workerbus/shutdown"
	"github.com/vela-systems/workerbus/wireproto"
)

type fakeRequester struct {
	response wireproto.Value
	err      error
	delay    time.Duration
	calls    int32
}

func (f *fakeRequester) Request(method string, params wireproto.Value, timeout time.Duration) (wireproto.Value, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.response, f.err
}

type fakeKiller struct {
	signals chan string
}

func newFakeKiller() *fakeKiller { return &fakeKiller{signals: make(chan string, 4)} }

func (k *fakeKiller) Signal(name string) error {
	k.signals <- name
	return nil
}

func ackValue(pending int) wireproto.Value {
	v, _ := wireproto.ToValue(wireproto.ShutdownAck{Status: "shutting_down", PendingRequests: pending})
	return v
}

var _ = Describe("Manager", func() {
	opts := config.ShutdownOptions{GracefulTimeoutMS: 200, ExitWaitMS: 100}

	It("completes gracefully when the worker acks and then reports completion", func() {
		req := &fakeRequester{response: ackValue(2)}
		killer := newFakeKiller()
		mgr := shutdown.New(req, killer, opts)

		go func() {
			time.Sleep(10 * time.Millisecond)
			mgr.NotifyComplete(wireproto.ShutdownComplete{ExitCode: 0})
		}()

		result := mgr.Shutdown(wireproto.ReasonUserRequested)
		Expect(result.Graceful).To(BeTrue())
		Expect(result.ExitCode).To(Equal(0))
		Expect(result.PendingAtAck).To(Equal(2))
		Expect(mgr.Phase()).To(Equal(shutdown.PhaseCompleted))
		Expect(killer.signals).To(HaveLen(0))
	})

	It("force-kills when the ack never arrives", func() {
		req := &fakeRequester{err: timeoutErr()}
		killer := newFakeKiller()
		mgr := shutdown.New(req, killer, opts)

		result := mgr.Shutdown(wireproto.ReasonManagerShutdown)
		Expect(result.Graceful).To(BeFalse())
		Expect(killer.signals).To(Receive(Equal("KILL")))
	})

	It("force-kills when the worker acks but never completes draining", func() {
		req := &fakeRequester{response: ackValue(0)}
		killer := newFakeKiller()
		mgr := shutdown.New(req, killer, opts)

		result := mgr.Shutdown(wireproto.ReasonIdleTimeout)
		Expect(result.Graceful).To(BeFalse())
		Expect(killer.signals).To(Receive(Equal("KILL")))
	})

	It("is idempotent: a concurrent second call observes the same result", func() {
		req := &fakeRequester{response: ackValue(0), delay: 20 * time.Millisecond}
		killer := newFakeKiller()
		mgr := shutdown.New(req, killer, opts)

		go func() {
			time.Sleep(5 * time.Millisecond)
			mgr.NotifyComplete(wireproto.ShutdownComplete{ExitCode: 7})
		}()

		type outcome struct{ r shutdown.Result }
		results := make(chan outcome, 2)
		go func() { results <- outcome{mgr.Shutdown(wireproto.ReasonRestart)} }()
		go func() { results <- outcome{mgr.Shutdown(wireproto.ReasonRestart)} }()

		first := <-results
		second := <-results
		Expect(first.r).To(Equal(second.r))
		Expect(atomic.LoadInt32(&req.calls)).To(Equal(int32(1)))
	})
})

// timeoutErr stands in for a timed-out request; the shutdown manager only
// checks err != nil, so the exact type is irrelevant.
func timeoutErr() error {
	return &timeoutStub{}
}

type timeoutStub struct{}

func (*timeoutStub) Error() string { return "timeout" }
