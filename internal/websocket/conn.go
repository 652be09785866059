package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// Connection abstracts the underlying socket so the pumps can run against a
// scripted double in tests.
type Connection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
	RemoteAddr() string
}

type gorillaConn struct {
	*websocket.Conn
}

func (c gorillaConn) RemoteAddr() string {
	return c.Conn.RemoteAddr().String()
}

// Wrap adapts an upgraded gorilla connection to the Connection interface.
func Wrap(conn *websocket.Conn) Connection {
	return gorillaConn{conn}
}
