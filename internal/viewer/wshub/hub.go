// Package wshub fans processing events out to connected viewer sockets.
//
// Membership is a plain set: a socket receives only events broadcast while
// it is connected. There is no backlog or replay.
package wshub

import (
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/thebtf/ctxview/internal/metrics"
	"github.com/thebtf/ctxview/pkg/models"
)

// TypeProcessingComplete is sent after each processed message.
const TypeProcessingComplete = "processing_complete"

const writeTimeout = 5 * time.Second

// Message is the payload sent to sockets.
type Message struct {
	Type      string  `json:"type"`
	TTIMS     float64 `json:"tti_ms"`
	AvgTTIMS  float64 `json:"avg_tti_ms"`
	Timestamp string  `json:"timestamp"`
}

// ProcessingComplete builds the event for a recorded sample.
func ProcessingComplete(stats metrics.Stats, now time.Time) Message {
	return Message{
		Type:      TypeProcessingComplete,
		TTIMS:     stats.CurrentMS,
		AvgTTIMS:  stats.AvgMS,
		Timestamp: models.Timestamp(now),
	}
}

type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub is an http.Handler that upgrades requests to WebSockets and keeps
// track of the open sockets.
type Hub struct {
	clients  map[string]*client
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// New creates an empty hub. The viewer page is served from another port,
// so any origin is accepted.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "wshub").Logger(),
	}
}

// ServeHTTP upgrades the connection and holds it until the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}
	h.add(c)
	defer h.remove(c.id)

	// Incoming frames are ignored; reading surfaces close and error frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info().Str("clientId", c.id).Int("totalClients", n).Msg("Viewer socket connected")
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	_ = c.conn.Close()
	h.logger.Info().Str("clientId", id).Int("totalClients", n).Msg("Viewer socket disconnected")
}

// Count returns the number of open sockets.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends v to every socket concurrently and waits for all sends.
// Sockets whose send fails are dropped. It returns the number of successful sends.
func (h *Hub) Broadcast(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal broadcast")
		return 0
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		dead      []string
		delivered int
	)
	for _, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.write(data)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				dead = append(dead, c.id)
				return
			}
			delivered++
		}()
	}
	wg.Wait()

	for _, id := range dead {
		h.remove(id)
	}
	return delivered
}

// Close disconnects every socket.
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.remove(id)
	}
}
