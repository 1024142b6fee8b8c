package realtime

import (
	"github.com/gorilla/websocket"
)

// Conn is the transport a session talks through. Production uses a
// websocket adapter; tests use an in-memory pipe.
type Conn interface {
	// ReadMessage blocks until the next inbound message or a transport
	// error.
	ReadMessage() ([]byte, error)
	// WriteJSON sends one outbound frame. Callers must serialize writes.
	WriteJSON(v interface{}) error
	// Close tears the transport down. Safe to call multiple times.
	Close() error
}

// wsConn adapts a gorilla websocket connection to Conn.
type wsConn struct {
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *wsConn) WriteJSON(v interface{}) error {
	return w.conn.WriteJSON(v)
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}
