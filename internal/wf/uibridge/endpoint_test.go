package uibridge

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryEndpointPairDeliversToPeer(t *testing.T) {
	a, b := NewInMemoryEndpointPair()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := a.Send(ctx, Envelope{MsgID: 1, Payload: StopReqPacket{}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	env, err := b.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if env.MsgID != 1 {
		t.Fatalf("unexpected msg_id: %d", env.MsgID)
	}
}

func TestInMemoryEndpointRecvRespectsContextCancel(t *testing.T) {
	a, _ := NewInMemoryEndpointPair()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Recv(ctx); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
