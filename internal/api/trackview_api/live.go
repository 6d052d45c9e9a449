package trackview_api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/ShipTrack/internal/metrics"
	"github.com/BearBump/ShipTrack/internal/services/tracking"
	"github.com/BearBump/ShipTrack/internal/services/trackview"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 32
)

// Типы сообщений live-протокола.
const (
	MessageTypeTrack    = "track"
	MessageTypeStop     = "stop"
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
	MessageTypeSnapshot = "snapshot"
	MessageTypeError    = "error"
	MessageTypeStopped  = "stopped"
)

type Message struct {
	Type       string                  `json:"type"`
	ShipmentID string                  `json:"shipment_id,omitempty"`
	Data       *trackview.ViewSnapshot `json:"data,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// liveClient — одно WebSocket-соединение со своим реестром сессий.
type liveClient struct {
	svc  Tracker
	reg  *tracking.Registry
	send chan Message
	done chan struct{}
	once sync.Once

	// только из горутины readPump (до serve — из handleLive)
	view *trackview.View
}

func newLiveClient(svc Tracker, reg *tracking.Registry) *liveClient {
	return &liveClient{
		svc:  svc,
		reg:  reg,
		send: make(chan Message, sendBuffer),
		done: make(chan struct{}),
	}
}

// OnSnapshot реализует trackview.Listener.
func (c *liveClient) OnSnapshot(s trackview.ViewSnapshot) {
	c.enqueue(Message{Type: MessageTypeSnapshot, ShipmentID: s.ShipmentID, Data: &s})
}

// enqueue не блокирует: при переполнении выбрасывается самое старое сообщение.
func (c *liveClient) enqueue(m Message) {
	for {
		select {
		case <-c.done:
			return
		case c.send <- m:
			return
		default:
		}
		select {
		case <-c.send:
		default:
		}
	}
}

func (c *liveClient) track(ctx context.Context, shipmentID string) error {
	c.stop()
	v, err := c.svc.Track(ctx, c.reg, shipmentID, c)
	if err != nil {
		return err
	}
	c.view = v
	s := v.Snapshot()
	c.enqueue(Message{Type: MessageTypeSnapshot, ShipmentID: s.ShipmentID, Data: &s})
	return nil
}

func (c *liveClient) stop() {
	if c.view != nil {
		_ = c.view.Close()
		c.view = nil
	}
}

func (c *liveClient) serve(conn *websocket.Conn) {
	metrics.LiveConnections.Inc()
	defer metrics.LiveConnections.Dec()

	go c.writePump(conn)
	c.readPump(conn)

	c.stop()
	c.reg.CloseAll()
	c.once.Do(func() { close(c.done) })
}

func (c *liveClient) readPump(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("unexpected websocket close", "error", err.Error())
			}
			return
		}

		switch msg.Type {
		case MessageTypeTrack:
			if err := c.track(context.Background(), msg.ShipmentID); err != nil {
				c.enqueue(Message{Type: MessageTypeError, ShipmentID: msg.ShipmentID, Error: err.Error()})
			}
		case MessageTypeStop:
			c.stop()
			c.enqueue(Message{Type: MessageTypeStopped})
		case MessageTypePing:
			c.enqueue(Message{Type: MessageTypePong})
		default:
			c.enqueue(Message{Type: MessageTypeError, Error: "unknown message type: " + msg.Type})
		}
	}
}

func (c *liveClient) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case m := <-c.send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(m); err != nil {
				slog.Warn("websocket write failed", "error", err.Error())
				return
			}

		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
