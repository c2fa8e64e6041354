package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kongswap/kong-backend/internal/archive"
	"go.uber.org/zap"
)

const (
	TopicRequests = "requests"
	TopicClaims   = "claims"
)

// UserTopic is the per-user topic a client joins by naming its user id.
func UserTopic(userID uint32) string {
	return "user:" + strconv.FormatUint(uint64(userID), 10)
}

type Metrics interface {
	IncrementConnections(ctx context.Context)
	DecrementConnections(ctx context.Context)
}

type noopMetrics struct{}

func (noopMetrics) IncrementConnections(context.Context) {}
func (noopMetrics) DecrementConnections(context.Context) {}

// Hub fans finalized requests out to websocket and SSE subscribers. It is
// registered as an archive sink.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan envelope
	done       chan struct{}
	upgrader   websocket.Upgrader
	logger     *zap.SugaredLogger
	metrics    Metrics
	mu         sync.RWMutex
}

type envelope struct {
	topics  []string
	payload []byte
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn // nil for SSE subscribers
	send   chan []byte
	userID string

	mu         sync.Mutex
	topics     map[string]bool
	lastActive time.Time
}

type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type SubscriptionRequest struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
	UserID *uint32  `json:"user_id,omitempty"`
}

// NewHub creates a hub. Websocket upgrades are accepted from allowedOrigins
// and from same-origin requests; metrics may be nil.
func NewHub(allowedOrigins []string, logger *zap.SugaredLogger, metrics Metrics) *Hub {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, 64),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
		logger:  logger,
		metrics: metrics,
	}
}

func (h *Hub) Run(ctx context.Context) {
	go h.startClientCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("Stream hub shutting down")
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.IncrementConnections(ctx)
			h.logger.Debugw("Client registered", "sse", client.conn == nil)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
			h.mu.Unlock()
			h.metrics.DecrementConnections(ctx)
			h.logger.Debugw("Client unregistered", "sse", client.conn == nil)

		case env := <-h.broadcast:
			h.broadcastToClients(env)
		}
	}
}

// drop must be called with h.mu held.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
}

func (h *Hub) Name() string { return "stream" }

// Write publishes rec to the requests topic and to its owner's topic. Claims
// created by the request also go to the claims topic.
func (h *Hub) Write(ctx context.Context, rec archive.Record) error {
	topics := []string{TopicRequests, UserTopic(rec.Request.UserID)}
	if len(rec.Claims) > 0 {
		topics = append(topics, TopicClaims)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- envelope{topics: topics, payload: data}:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// join and leave are no-ops once Run has returned.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) broadcastToClients(env envelope) {
	now := time.Now().Unix()
	messages := make(map[string][]byte, len(env.topics))
	for _, topic := range env.topics {
		msg, err := json.Marshal(Message{Type: "update", Topic: topic, Data: env.payload, Timestamp: now})
		if err != nil {
			h.logger.Errorw("Failed to marshal stream message", "error", err)
			return
		}
		messages[topic] = msg
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		for _, topic := range env.topics {
			if !client.isSubscribed(topic) {
				continue
			}
			select {
			case client.send <- messages[topic]:
			default:
				// slow consumer
				h.drop(client)
			}
			break
		}
	}
}

func (h *Hub) startClientCleanup(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.cleanupInactiveClients()
		}
	}
}

func (h *Hub) cleanupInactiveClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := time.Now().Add(-60 * time.Second)
	for client := range h.clients {
		if client.conn == nil {
			continue
		}
		client.mu.Lock()
		idle := client.lastActive.Before(cutoff)
		client.mu.Unlock()
		if idle {
			h.drop(client)
			h.logger.Debugw("Cleaned up inactive client", "remote", client.conn.RemoteAddr().String())
		}
	}
}

func (h *Hub) newClient(conn *websocket.Conn, topics []string) *Client {
	c := &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, 256),
		topics:     make(map[string]bool),
		lastActive: time.Now(),
	}
	for _, t := range topics {
		c.topics[t] = true
	}
	return c
}

// HandleWebSocket upgrades the connection and subscribes it to the topics
// the client asks for.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	client := h.newClient(conn, nil)
	if !h.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Errorw("WebSocket error", "error", err)
			}
			break
		}

		c.touch()
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *Client) handleMessage(message []byte) {
	var sub SubscriptionRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		c.hub.logger.Warnw("Invalid subscription message", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch sub.Type {
	case "subscribe":
		for _, topic := range sub.Topics {
			c.topics[topic] = true
		}
		if sub.UserID != nil {
			c.userID = strconv.FormatUint(uint64(*sub.UserID), 10)
			c.topics[UserTopic(*sub.UserID)] = true
		}
		c.hub.logger.Debugw("Client subscribed to topics", "topics", sub.Topics, "userId", c.userID)

	case "unsubscribe":
		for _, topic := range sub.Topics {
			delete(c.topics, topic)
		}
		c.hub.logger.Debugw("Client unsubscribed from topics", "topics", sub.Topics)
	}
}

func (c *Client) isSubscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[topic] || c.topics["*"]
}
