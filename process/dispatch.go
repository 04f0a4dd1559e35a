package process

import (
	"github.com/vela-systems/workerbus/rpc"
	"github.com/vela-systems/workerbus/shutdown"
	"github.com/vela-systems/workerbus/wireproto"
)

// reservedNotificationRouter is installed as the control channel's single
// NotificationHandler. rpc.Channel only holds one handler slot, so this
// package routes the protocol-reserved notifications to the handle/manager
// internals and everything else to a caller-supplied fallback.
type reservedNotificationRouter struct {
	handle   *Handle
	shutdown func() *shutdown.Manager // current shutdown manager, if a drain is in flight
	fallback rpc.NotificationHandler
}

func (r *reservedNotificationRouter) route(method string, params wireproto.Value) {
	switch method {
	case wireproto.MethodDataChannelReady:
		r.handle.emitDataChannelReady()
	case wireproto.MethodDataChannelError:
		var info wireproto.DataChannelError
		_ = wireproto.FromValue(params, &info)
		r.handle.emitDataChannelError(info)
	case wireproto.MethodShutdownComplete:
		if mgr := r.shutdown(); mgr != nil {
			var info wireproto.ShutdownComplete
			_ = wireproto.FromValue(params, &info)
			mgr.NotifyComplete(info)
		}
	default:
		if r.fallback != nil {
			r.fallback(method, params)
		}
	}
}
