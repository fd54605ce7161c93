package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/socq/internal/conversation"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 64 << 10
	wsSendBuffer = 64
)

// Frame is one message on the /ws stream.
type Frame struct {
	Type     string                 `json:"type"` // snapshot, event, error
	Snapshot *conversation.Snapshot `json:"snapshot,omitempty"`
	Event    *conversation.Event    `json:"event,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Hub fans conversation events out to WebSocket clients. A client may also
// submit questions by sending {"text": "..."}.
type Hub struct {
	conv     Conversation
	ctx      context.Context
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	clients     map[*wsClient]struct{}
	closed      bool
	unsubscribe func()
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// NewHub subscribes to conv. Queries submitted over the socket run under
// ctx.
func NewHub(ctx context.Context, conv Conversation, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		conv:   conv,
		ctx:    ctx,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*wsClient]struct{}),
	}
	h.unsubscribe = conv.Subscribe(h.broadcast)
	return h
}

// Close unsubscribes from the conversation and disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	h.unsubscribe()
	for c := range clients {
		c.close()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		done: make(chan struct{}),
	}

	// Snapshot and registration happen under h.mu so no broadcast slips
	// between them.
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.close()
		return
	}
	snap := h.conv.Snapshot()
	c.send <- mustMarshal(Frame{Type: "snapshot", Snapshot: &snap})
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", "remote", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) broadcast(ev conversation.Event) {
	data := mustMarshal(Frame{Type: "event", Event: &ev})

	h.mu.Lock()
	var slow []*wsClient
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow websocket client")
		h.remove(c)
	}
}

type wsSubmit struct {
	Text string `json:"text"`
}

func (h *Hub) readPump(c *wsClient) {
	defer h.remove(c)

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		var msg wsSubmit
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(c, Frame{Type: "error", Error: "invalid message: " + err.Error()})
			continue
		}
		if _, err := h.conv.StartText(h.ctx, msg.Text); err != nil {
			text := err.Error()
			switch {
			case errors.Is(err, conversation.ErrBusy):
				text = "busy"
			case errors.Is(err, conversation.ErrEmptyInput):
				text = "empty"
			}
			h.reply(c, Frame{Type: "error", Error: text})
		}
	}
}

func (h *Hub) reply(c *wsClient, f Frame) {
	select {
	case c.send <- mustMarshal(f):
	case <-c.done:
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(c)
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func mustMarshal(f Frame) []byte {
	data, err := json.Marshal(f)
	if err != nil {
		// Frame holds only strings, ints and slices of them.
		panic(err)
	}
	return data
}
