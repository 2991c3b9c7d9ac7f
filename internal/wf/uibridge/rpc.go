package uibridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pocketomega/pocket-omega/internal/wf/logging"
)

var log = logging.New("uibridge")

// DefaultCallTimeout matches RpcHelper.call's 300-second default.
const DefaultCallTimeout = 300 * time.Second

// SendFunc delivers one outgoing Envelope to the peer.
type SendFunc func(ctx context.Context, env Envelope) error

// RPC is a small request/response layer over a one-way SendFunc: Call
// sends a request and blocks for the matching reply (matched by
// source_msg_id), Reply answers an incoming request, and HandleResponse
// feeds incoming envelopes back to whichever Call is waiting for them.
// Grounded on original manager/helpers.py's RpcHelper.
type RPC struct {
	send SendFunc
	name string

	mu      sync.Mutex
	pending map[int]chan Envelope
	counter int
	cancel  chan struct{}
}

var errRPCCanceled = fmt.Errorf("rpc: shutting down")

// NewRPC builds an RPC that delivers outgoing envelopes through send.
func NewRPC(send SendFunc, name string) *RPC {
	return &RPC{send: send, name: name, pending: make(map[int]chan Envelope), cancel: make(chan struct{})}
}

func (r *RPC) nextMsgID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter++
	return r.counter
}

// Call sends payload as a new request and waits up to timeout for the
// matching response, returning nil if the response was an AckPacket (no
// content expected).
func (r *RPC) Call(ctx context.Context, payload Packet, timeout time.Duration) (Packet, error) {
	msgID := r.nextMsgID()
	ch := make(chan Envelope, 1)

	r.mu.Lock()
	r.pending[msgID] = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, msgID)
		r.mu.Unlock()
	}()

	if err := r.send(ctx, Envelope{MsgID: msgID, Payload: payload}); err != nil {
		return nil, fmt.Errorf("%s: send request %d: %w", r.name, msgID, err)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case resp := <-ch:
		if resp.Payload.PacketKind() == KindAck {
			return nil, nil
		}
		return resp.Payload, nil
	case <-r.cancel:
		return nil, errRPCCanceled
	case <-callCtx.Done():
		if callCtx.Err() == context.DeadlineExceeded {
			log.Error("%s: request %d timed out", r.name, msgID)
		}
		return nil, callCtx.Err()
	}
}

// Reply answers sourceMsgID with payload.
func (r *RPC) Reply(ctx context.Context, payload Packet, sourceMsgID int) error {
	msgID := r.nextMsgID()
	return r.send(ctx, Envelope{MsgID: msgID, Payload: payload, SourceMsgID: &sourceMsgID})
}

// HandleResponse delivers env to a pending Call if env.SourceMsgID
// matches one, reporting whether it did.
func (r *RPC) HandleResponse(env Envelope) bool {
	if env.SourceMsgID == nil {
		return false
	}
	r.mu.Lock()
	ch, ok := r.pending[*env.SourceMsgID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- env:
	default:
	}
	return true
}

// CancelAll unblocks every pending Call with a cancellation error,
// matching RpcHelper.cancel_all, and re-arms the RPC so it can be used
// again afterward.
func (r *RPC) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	close(r.cancel)
	r.cancel = make(chan struct{})
	for id := range r.pending {
		delete(r.pending, id)
	}
}
