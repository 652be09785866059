package websocket

import (
	"bytes"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Pump timing. pingPeriod must stay below pongWait so a healthy peer always
// gets a chance to answer before the read deadline fires.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var heartbeat = []byte(`{"type":"heartbeat"}`)

// Client owns one subscriber connection. ReadPump watches for closure and
// heartbeats, WritePump drains the send queue and keeps the ping cycle going.
type Client struct {
	hub  *Hub
	conn Connection
	send chan []byte

	id          string
	remoteAddr  string
	connectedAt time.Time
	sent        int64

	logger *slog.Logger
}

// NewClient wraps an accepted connection. traceID may be empty; when set it
// tags every log line this client emits.
func NewClient(hub *Hub, conn Connection, traceID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	logger = logger.With(
		slog.String("component", "websocket_client"),
		slog.String("client_id", id),
	)
	if traceID != "" {
		logger = logger.With(slog.String("trace_id", traceID))
	}

	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		id:          id,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		logger:      logger,
	}
}

// ReadPump consumes the connection until it fails. Subscribers never send
// payloads the server acts on: pongs and the textual heartbeat refresh the
// read deadline, everything else is discarded.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		c.logger.Info("websocket read loop ended",
			slog.Duration("connected_for", time.Since(c.connectedAt)))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.refreshReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		return c.refreshReadDeadline()
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket closed unexpectedly",
					slog.String("error", err.Error()))
			}
			return
		}
		if bytes.Equal(bytes.TrimSpace(message), heartbeat) {
			c.refreshReadDeadline()
		}
	}
}

func (c *Client) refreshReadDeadline() error {
	return c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

// WritePump writes queued events and pings until the send channel closes or
// a write fails. Each wakeup drains the whole backlog so a burst of events
// cannot be starved by ping traffic.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug("websocket write loop ended",
			slog.Int64("events_sent", c.sent))
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.deliver(message, ok) {
				return
			}
			for n := len(c.send); n > 0; n-- {
				message, ok := <-c.send
				if !c.deliver(message, ok) {
					return
				}
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliver sends one event frame, or the closing frame when the hub has shut
// the channel. A false return stops the pump.
func (c *Client) deliver(message []byte, open bool) bool {
	if !open {
		c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		return false
	}
	if err := c.write(websocket.TextMessage, message); err != nil {
		c.logger.Warn("websocket write failed",
			slog.String("error", err.Error()))
		return false
	}
	c.sent++
	return true
}

// write applies the write deadline before every frame.
func (c *Client) write(messageType int, payload []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, payload)
}

// ServeWS registers an upgraded connection with the hub and starts the pumps.
func ServeWS(hub *Hub, conn *websocket.Conn, traceID string, logger *slog.Logger) {
	client := NewClient(hub, Wrap(conn), traceID, logger)
	hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
