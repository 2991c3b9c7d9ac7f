package uibridge

import "context"

// Handler answers one incoming request packet, optionally returning a
// reply payload (nil means "no reply", matching the original's handlers
// that return None for fire-and-forget packets).
type Handler func(ctx context.Context, env Envelope) (Packet, error)

// Router dispatches incoming envelopes either to RPC (when they carry a
// source_msg_id, i.e. they're a response to one of our own Calls) or to a
// kind-registered Handler, replying through rpc when the handler returns a
// payload. Grounded on original manager/helpers.py's IncomingPacketRouter.
type Router struct {
	rpc      *RPC
	name     string
	handlers map[Kind]Handler
}

// NewRouter builds a Router backed by rpc for response matching and
// reply delivery.
func NewRouter(rpc *RPC, name string) *Router {
	return &Router{rpc: rpc, name: name, handlers: make(map[Kind]Handler)}
}

// Register installs the handler for kind, replacing any previous one.
func (rt *Router) Register(kind Kind, h Handler) {
	rt.handlers[kind] = h
}

// Handle routes one incoming envelope, reporting whether it was handled
// at all (false only when no handler is registered for a request kind).
func (rt *Router) Handle(ctx context.Context, env Envelope) (bool, error) {
	if env.SourceMsgID != nil {
		if !rt.rpc.HandleResponse(env) {
			log.Debug("%s: unmatched response source_msg_id=%d", rt.name, *env.SourceMsgID)
		}
		return true, nil
	}

	handler, ok := rt.handlers[env.Payload.PacketKind()]
	if !ok {
		log.Error("%s: no handler for request kind=%s", rt.name, env.Payload.PacketKind())
		return false, nil
	}

	resp, err := handler(ctx, env)
	if err != nil {
		return true, err
	}
	if resp != nil {
		if err := rt.rpc.Reply(ctx, resp, env.MsgID); err != nil {
			return true, err
		}
	}
	return true, nil
}
