package http

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/monitor"
)

// Close codes sent to a monitor that cannot be served.
const (
	CloseQuizNotFound        = 4004
	CloseForbidden           = 4003
	CloseUpstreamUnavailable = 4503
)

const maxMessageSize = 512

var (
	errClientClosed = errors.New("monitor connection closed")
	errSendBuffer   = errors.New("monitor send buffer full")
)

// WSConfig tunes the monitor connections.
type WSConfig struct {
	SendBuffer int
	WriteWait  time.Duration
	PongWait   time.Duration
}

func (c WSConfig) withDefaults() WSConfig {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	return c
}

type WSHandler struct {
	monitors *app.MonitorService
	hub      *monitor.Hub
	cfg      WSConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(monitors *app.MonitorService, hub *monitor.Hub, cfg WSConfig) *WSHandler {
	return &WSHandler{
		monitors: monitors,
		hub:      hub,
		cfg:      cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// wsClient is the hub's view of one connection. Send only enqueues; the
// write pump is the single writer on the socket.
type wsClient struct {
	send chan domain.Event
	done chan struct{}
	once sync.Once
}

func newWSClient(buffer int) *wsClient {
	return &wsClient{send: make(chan domain.Event, buffer), done: make(chan struct{})}
}

func (c *wsClient) Send(event domain.Event) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- event:
		return nil
	default:
		return errSendBuffer
	}
}

func (c *wsClient) Close() {
	c.once.Do(func() { close(c.done) })
}

// ServeWS handles GET /ws/quizzes/{quiz_id}/monitor?teacher_id=
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := mux.Vars(r)["quiz_id"]
	teacherID := r.URL.Query().Get("teacher_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	if _, err := h.monitors.Authorize(ctx, quizID, teacherID); err != nil {
		h.reject(conn, quizID, err)
		return
	}

	client := newWSClient(h.cfg.SendBuffer)
	unsubscribe, err := h.hub.Subscribe(quizID, client)
	if err != nil {
		h.closeWith(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer unsubscribe()
	defer client.Close()

	// The snapshot goes out before the write pump starts, so anything the hub
	// queued since Subscribe follows it in order.
	snapshot, err := h.monitors.Snapshot(ctx, quizID)
	if err != nil {
		h.reject(conn, quizID, err)
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
	if err := conn.WriteJSON(snapshot); err != nil {
		log.Printf("ws snapshot to quiz %s: %v", quizID, err)
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(conn, client)
	}()

	h.readPump(ctx, conn, client, quizID)
	client.Close()
	<-writerDone
}

func (h *WSHandler) readPump(ctx context.Context, conn *websocket.Conn, client *wsClient, quizID string) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("ws read from quiz %s monitor: %v", quizID, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		var reply domain.Event
		switch string(data) {
		case "ping":
			reply = domain.Pong()
		case "stats":
			reply, err = h.monitors.Stats(ctx, quizID)
			if err != nil {
				log.Printf("ws stats for quiz %s: %v", quizID, err)
				continue
			}
		default:
			continue
		}
		if err := client.Send(reply); err != nil {
			return
		}
	}
}

func (h *WSHandler) writePump(conn *websocket.Conn, client *wsClient) {
	ticker := time.NewTicker(h.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := conn.WriteJSON(event); err != nil {
				client.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.Close()
				return
			}
		case <-client.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(h.cfg.WriteWait))
			return
		}
	}
}

func (h *WSHandler) reject(conn *websocket.Conn, quizID string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.closeWith(conn, CloseQuizNotFound, "quiz not found")
	case errors.Is(err, domain.ErrForbidden):
		h.closeWith(conn, CloseForbidden, "access denied")
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		h.closeWith(conn, CloseUpstreamUnavailable, "course registry unavailable")
	default:
		log.Printf("ws monitor for quiz %s: %v", quizID, err)
		h.closeWith(conn, websocket.CloseInternalServerErr, "internal error")
	}
}

func (h *WSHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteWait))
}
