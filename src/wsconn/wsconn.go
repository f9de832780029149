// Package wsconn provides the one WebSocket abstraction shared by the ACS
// media server (accept side) and the AOAI realtime client (dial side), so
// both directions of the bridge go through a single connection type rather
// than two independently-maintained WebSocket libraries.
package wsconn

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn wraps a gorilla/websocket connection with a write mutex, since
// gorilla forbids concurrent writers on the same connection and both the
// mediator's ingress and egress goroutines may need to write to it.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// Upgrader upgrades an inbound HTTP request to a WebSocket connection. It is
// a thin alias so callers never import gorilla/websocket directly.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Accept upgrades r/w into a Conn.
func Accept(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (*Conn, error) {
	ws, err := Upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		return nil, err
	}
	return &Conn{ws: ws}, nil
}

// Dial opens a client WebSocket connection, used by the AOAI client to
// connect to the Realtime endpoint.
func Dial(ctx context.Context, url string, header http.Header) (*Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, resp, err
	}
	return &Conn{ws: ws}, resp, nil
}

// WriteJSON serializes v and writes it as a single text frame. Safe for
// concurrent use with other Write* calls on the same Conn.
func (c *Conn) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// ReadMessage blocks for the next frame and returns its payload.
func (c *Conn) ReadMessage() (messageType int, data []byte, err error) {
	return c.ws.ReadMessage()
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// SetReadDeadline forwards to the underlying connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}
