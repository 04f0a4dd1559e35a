// Package rpc implements the request channel: the layer that turns a
// Transport+Framer+Codec stack into request/response/notification
// operations with id correlation, in the shape of a small JSON-RPC-style
// dispatch loop with a pending-request correlator.
package rpc

import (
	"sync"
	"time"

	"github.com/vela-systems/workerbus/codec"
	"github.com/vela-systems/workerbus/errs"
	"github.com/vela-systems/workerbus/framing"
	"github.com/vela-systems/workerbus/transport"
	"github.com/vela-systems/workerbus/wireproto"
)

type wireValue = wireproto.Value

// Value is the request/response payload type, re-exported so callers don't
// need to import wireproto directly just to call Request/Notify.
type Value = wireproto.Value

// RequestHandler answers an inbound request. A returned error becomes an
// error response carrying its message; it never closes the channel.
type RequestHandler func(method string, params wireValue) (wireValue, error)

// NotificationHandler handles a fire-and-forget inbound message.
type NotificationHandler func(method string, params wireValue)

const maxRequestID = 1<<31 - 1

// Channel composes one Transport, one Framer and one Codec into a
// request/response/notification surface. The zero value is not usable;
// construct with New.
type Channel struct {
	transport transport.Transport
	framer    framing.Framer
	codec     codec.Codec

	defaultTimeout time.Duration

	mu      sync.Mutex
	nextID  int64
	pending *pendingTable
	closed  bool

	requestHandler      RequestHandler
	notificationHandler NotificationHandler

	unsubData  transport.Unsubscribe
	unsubClose transport.Unsubscribe
	unsubErr   transport.Unsubscribe
}

// New builds a Channel over the given transport/framer/codec. defaultTimeout
// applies to request() calls that pass timeout<=0.
func New(t transport.Transport, f framing.Framer, c codec.Codec, defaultTimeout time.Duration) *Channel {
	return &Channel{
		transport:      t,
		framer:         f,
		codec:          c,
		defaultTimeout: defaultTimeout,
		nextID:         1,
		pending:        newPendingTable(),
	}
}

// Start connects the transport and wires the framing/codec pipeline. Must
// be called before request/notify.
func (c *Channel) Start() error {
	c.unsubData = c.transport.OnData(c.handleBytes)
	c.unsubClose = c.transport.OnClose(func() { c.Close() })
	c.unsubErr = c.transport.OnError(func(err error) {
		c.rejectAllPending(errs.Transport("channel", err))
		_ = c.transport.Close()
	})
	return c.transport.Connect()
}

func (c *Channel) handleBytes(chunk []byte) {
	frames, err := c.framer.Push(chunk)
	if err != nil {
		c.rejectAllPending(errs.Framing("push", err))
		_ = c.transport.Close()
		return
	}
	for _, frame := range frames {
		c.handleFrame(frame)
	}
}

func (c *Channel) handleFrame(frame []byte) {
	var msg wireproto.Message
	if err := c.codec.Unmarshal(frame, &msg); err != nil {
		c.rejectAllPending(errs.Serialization("unmarshal", err))
		_ = c.transport.Close()
		return
	}
	switch msg.Kind() {
	case wireproto.MessageResponse:
		c.resolveResponse(&msg)
	case wireproto.MessageRequest:
		c.dispatchRequest(&msg)
	case wireproto.MessageNotification:
		c.dispatchNotification(&msg)
	}
}

func (c *Channel) resolveResponse(msg *wireproto.Message) {
	id, ok := normalizeID(msg.ID)
	if !ok {
		return
	}
	c.mu.Lock()
	p, found := c.pending.remove(id)
	c.mu.Unlock()
	if !found {
		// Arrived after its own timeout discarded the pending entry, or
		// refers to an id we never issued. Discarded silently.
		return
	}
	p.timer.Stop()
	if msg.Err != nil {
		p.resultCh <- requestOutcome{err: errs.Protocol(p.method, msg.Err)}
		return
	}
	var result wireValue
	if msg.Result != nil {
		result = *msg.Result
	}
	p.resultCh <- requestOutcome{value: result}
}

func (c *Channel) dispatchRequest(msg *wireproto.Message) {
	c.mu.Lock()
	handler := c.requestHandler
	c.mu.Unlock()

	var params wireValue
	if msg.Params != nil {
		params = *msg.Params
	}

	if handler == nil {
		c.writeError(msg.ID, -32601, "method not found: "+msg.Method)
		return
	}
	result, err := handler(msg.Method, params)
	if err != nil {
		c.writeError(msg.ID, -32000, err.Error())
		return
	}
	c.writeMessage(wireproto.NewResult(msg.ID, result))
}

func (c *Channel) dispatchNotification(msg *wireproto.Message) {
	c.mu.Lock()
	handler := c.notificationHandler
	c.mu.Unlock()
	if handler == nil {
		return
	}
	var params wireValue
	if msg.Params != nil {
		params = *msg.Params
	}
	handler(msg.Method, params)
}

// Request sends method/params and blocks until a matching response, the
// deadline passes, or the channel closes. The deadline starts before any
// bytes are written.
func (c *Channel) Request(method string, params wireValue, timeout time.Duration) (wireValue, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	deadline := time.Now().Add(timeout)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return wireValue{}, errs.ChannelClosed(method, nil)
	}
	id := c.allocateIDLocked()
	p := &pendingRequest{
		id:       id,
		method:   method,
		deadline: deadline,
		resultCh: make(chan requestOutcome, 1),
	}
	p.timer = time.AfterFunc(timeout, func() { c.timeoutPending(id) })
	c.pending.insert(p)
	c.mu.Unlock()

	if err := c.writeMessage(wireproto.NewRequest(id, method, params)); err != nil {
		c.mu.Lock()
		c.pending.remove(id)
		c.mu.Unlock()
		p.timer.Stop()
		return wireValue{}, err
	}

	outcome := <-p.resultCh
	return outcome.value, outcome.err
}

func (c *Channel) timeoutPending(id int64) {
	c.mu.Lock()
	p, found := c.pending.remove(id)
	c.mu.Unlock()
	if !found {
		return
	}
	p.resultCh <- requestOutcome{err: errs.Timeout(p.method, nil)}
}

// Notify writes a notification envelope; it returns once the bytes are
// accepted by the transport.
func (c *Channel) Notify(method string, params wireValue) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errs.ChannelClosed(method, nil)
	}
	c.mu.Unlock()
	return c.writeMessage(wireproto.NewNotification(method, params))
}

// OnRequest installs the handler used to answer inbound requests.
func (c *Channel) OnRequest(h RequestHandler) {
	c.mu.Lock()
	c.requestHandler = h
	c.mu.Unlock()
}

// OnNotification installs the handler used for inbound notifications.
func (c *Channel) OnNotification(h NotificationHandler) {
	c.mu.Lock()
	c.notificationHandler = h
	c.mu.Unlock()
}

// Close rejects all pending requests with ChannelClosed, detaches
// observers, and closes the transport. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.rejectAllPending(errs.ChannelClosed("close", nil))

	if c.unsubData != nil {
		c.unsubData()
	}
	if c.unsubClose != nil {
		c.unsubClose()
	}
	if c.unsubErr != nil {
		c.unsubErr()
	}
	return c.transport.Close()
}

func (c *Channel) rejectAllPending(err error) {
	c.mu.Lock()
	drained := c.pending.drain()
	c.mu.Unlock()
	for _, p := range drained {
		p.timer.Stop()
		p.resultCh <- requestOutcome{err: err}
	}
}

func (c *Channel) writeError(id wireproto.ID, code int, message string) {
	c.writeMessage(wireproto.NewError(id, code, message, nil))
}

func (c *Channel) writeMessage(msg *wireproto.Message) error {
	payload, err := c.codec.Marshal(msg)
	if err != nil {
		return errs.Serialization("marshal", err)
	}
	frame, err := c.framer.Encode(payload)
	if err != nil {
		return errs.Framing("encode", err)
	}
	if err := c.transport.Write(frame); err != nil {
		return errs.Transport("write", err)
	}
	return nil
}

// allocateIDLocked returns the next request id, wrapping at maxRequestID
// and forward-probing past any id still occupied by a live pending
// request. Caller holds c.mu.
func (c *Channel) allocateIDLocked() int64 {
	id := c.nextID
	for c.pending.occupied(id) {
		id++
		if id > maxRequestID {
			id = 1
		}
	}
	c.nextID = id + 1
	if c.nextID > maxRequestID {
		c.nextID = 1
	}
	return id
}

// normalizeID coerces a decoded envelope id (which may come back as
// float64 or int64 depending on the codec's reflection path) to int64.
func normalizeID(raw wireproto.ID) (int64, bool) {
	switch v := raw.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case uint64:
		return int64(v), true
	default:
		return 0, false
	}
}
