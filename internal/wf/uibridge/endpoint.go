package uibridge

import (
	"context"
	"fmt"
)

// Endpoint is the transport a Bridge sends/receives Envelopes over.
// Grounded on original manager/helpers.py's BaseEndpoint.
type Endpoint interface {
	Send(ctx context.Context, env Envelope) error
	Recv(ctx context.Context) (Envelope, error)
}

// InMemoryEndpoint is an Endpoint paired with exactly one peer, used for
// embedding a Bridge directly in a process (tests, a TUI front-end)
// without a wire transport. Grounded on original InMemoryEndpoint.
type InMemoryEndpoint struct {
	incoming chan Envelope
	peer     *InMemoryEndpoint
}

// NewInMemoryEndpointPair builds two InMemoryEndpoints, each other's peer,
// matching InMemoryEndpoint.pair.
func NewInMemoryEndpointPair() (*InMemoryEndpoint, *InMemoryEndpoint) {
	a := &InMemoryEndpoint{incoming: make(chan Envelope, 32)}
	b := &InMemoryEndpoint{incoming: make(chan Envelope, 32)}
	a.peer = b
	b.peer = a
	return a, b
}

// Send delivers env to the peer's incoming queue.
func (e *InMemoryEndpoint) Send(ctx context.Context, env Envelope) error {
	if e.peer == nil {
		return fmt.Errorf("uibridge: endpoint has no peer")
	}
	select {
	case e.peer.incoming <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv blocks for the next envelope sent by the peer.
func (e *InMemoryEndpoint) Recv(ctx context.Context) (Envelope, error) {
	select {
	case env := <-e.incoming:
		return env, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}
