package uibridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// upgrader has permissive origin checking: the UI bridge is meant to sit
// behind httpd's loopback bind and bearer-token auth, not behind a
// same-origin browser trust boundary.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSEndpoint is an Endpoint backed by a single websocket connection,
// satisfying spec.md's "or any wire transport with equivalent semantics"
// carve-out for the UI bridge: every envelope is JSON-encoded (the same
// shape Envelope.MarshalJSON produces for in-process use) and sent as one
// text frame.
type WSEndpoint struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// NewWSEndpoint wraps an already-upgraded websocket connection.
func NewWSEndpoint(conn *websocket.Conn) *WSEndpoint {
	return &WSEndpoint{conn: conn}
}

// UpgradeWSEndpoint upgrades an incoming HTTP request to a websocket
// connection and wraps it, for mounting as an httpd.Server route handler.
func UpgradeWSEndpoint(w http.ResponseWriter, r *http.Request) (*WSEndpoint, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWSEndpoint(conn), nil
}

// Send JSON-encodes env and writes it as one text frame.
func (e *WSEndpoint) Send(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.conn.WriteMessage(websocket.TextMessage, data)
}

// Recv reads the next text frame and decodes it as an Envelope.
func (e *WSEndpoint) Recv(ctx context.Context) (Envelope, error) {
	_, data, err := e.conn.ReadMessage()
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Close closes the underlying connection.
func (e *WSEndpoint) Close() error {
	return e.conn.Close()
}
