package ipc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"dbconnector/internal/logger"
	"dbconnector/internal/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	subscriberSize = 256
)

// Hub fans responses and log entries out to the UI websocket
// subscribers. Subscribers may also send requests; their responses are
// broadcast like any other.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*subscriber]struct{}
	handler  *Handler
	log      *logger.Logger
	upgrader websocket.Upgrader
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub returns a hub. checkOrigin may be nil to accept same-origin
// requests only.
func NewHub(handler *Handler, log *logger.Logger, checkOrigin func(r *http.Request) bool) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		clients: make(map[*subscriber]struct{}),
		handler: handler,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// SetCheckOrigin replaces the upgrade origin check. It must be called
// before the hub serves requests.
func (h *Hub) SetCheckOrigin(checkOrigin func(r *http.Request) bool) {
	h.upgrader.CheckOrigin = checkOrigin
}

// ForwardLogs broadcasts every forwarded log entry until the returned
// function is called.
func (h *Hub) ForwardLogs() func() {
	return h.log.Subscribe(func(entry logger.Entry) {
		h.Send(map[string]interface{}{"log": entry}, 200)
	})
}

// Send broadcasts one response. It has the session.ResponseSender shape.
func (h *Hub) Send(response interface{}, status int) {
	h.broadcast(0, response, status)
}

func (h *Hub) broadcast(id int64, response interface{}, status int) {
	body, err := json.Marshal(response)
	if err != nil {
		h.log.Zap().Warn("failed to encode channel message", zap.Error(err))
		return
	}
	message, err := json.Marshal(Response{ID: id, Status: status, Response: body})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			// slow subscriber
			h.remove(client)
		}
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(client *subscriber) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	metrics.SubscriberDisconnected()
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Zap().Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &subscriber{conn: conn, send: make(chan []byte, subscriberSize)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	metrics.SubscriberConnected()

	go h.writePump(client)
	go h.readPump(r.Context(), client)
}

func (h *Hub) readPump(ctx context.Context, client *subscriber) {
	defer func() {
		h.mu.Lock()
		h.remove(client)
		h.mu.Unlock()
		client.conn.Close()
	}()

	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		var req Request
		if err := client.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Zap().Warn("websocket error", zap.Error(err))
			}
			return
		}
		if h.handler == nil {
			continue
		}
		id := req.ID
		_ = h.handler.Handle(context.WithoutCancel(ctx), req.Payload, func(response interface{}, status int) {
			h.broadcast(id, response, status)
		})
	}
}

func (h *Hub) writePump(client *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.remove(client)
	}
}
