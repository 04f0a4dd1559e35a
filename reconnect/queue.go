package reconnect

import (
	"time"

	channels "gopkg.in/eapache/channels.v1"

	"github.com/vela-systems/workerbus/errs"
	"github.com/vela-systems/workerbus/wireproto"
)

// queuedRequest is one data-channel call waiting for reconnection, with its
// own queueTimeout clock running independently of the eventual request
// timeout.
type queuedRequest struct {
	method   string
	params   wireproto.Value
	timeout  time.Duration
	deadline time.Time
	resultCh chan requestOutcome
}

type requestOutcome struct {
	value wireproto.Value
	err   error
}

// boundedQueue is a bounded FIFO built on gopkg.in/eapache/channels.v1's
// native channel wrapper: its fixed-capacity buffered channel already gives
// FIFO ordering and a hard capacity, so enqueue only needs a non-blocking
// send to get "reject when full" for free.
type boundedQueue struct {
	ch channels.Channel
}

func newBoundedQueue(capacity int) *boundedQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &boundedQueue{ch: channels.NewNativeChannel(channels.BufferCap(capacity))}
}

// tryEnqueue attempts a non-blocking enqueue; it reports false if the queue
// is at capacity.
func (q *boundedQueue) tryEnqueue(r *queuedRequest) bool {
	select {
	case q.ch.In() <- r:
		return true
	default:
		return false
	}
}

// drain pulls every currently queued request off, in FIFO order, without
// blocking.
func (q *boundedQueue) drain() []*queuedRequest {
	var out []*queuedRequest
	for {
		select {
		case v := <-q.ch.Out():
			out = append(out, v.(*queuedRequest))
		default:
			return out
		}
	}
}

func (q *boundedQueue) len() int { return q.ch.Len() }

func rejectQueued(reqs []*queuedRequest, err error) {
	for _, r := range reqs {
		r.resultCh <- requestOutcome{err: err}
	}
}

var errQueueTimeout = errs.Timeout("reconnect_queue", nil)
