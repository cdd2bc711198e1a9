package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single outbound write. The forwarder shares the
	// connection with the read loop's replies, so a stuck peer must not
	// hold the write mutex indefinitely.
	writeWait = 10 * time.Second

	// readWait is refreshed on every inbound frame. Clients ping at least
	// this often or the session stream is torn down.
	readWait = 5 * time.Minute
)

// WriteTyped sends a strongly-typed event payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{
		Event: EventError,
		Error: errMsg,
	})
}

// ReadJSON reads and decodes the next frame into v, refreshing the read
// deadline first.
func ReadJSON(conn *websocket.Conn, v any) error {
	conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}
