// Package sse provides Server-Sent Events broadcasting for the viewer.
package sse

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Client represents a connected SSE client.
type Client struct {
	ID      string
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}

	mu sync.Mutex
}

func (c *Client) send(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.Writer.Write(message); err != nil {
		return err
	}
	c.Flusher.Flush()
	return nil
}

// Broadcaster manages SSE client connections and message broadcasting.
type Broadcaster struct {
	clients map[string]*Client
	closed  bool
	mu      sync.RWMutex
	logger  zerolog.Logger
}

// ErrClosed is returned by AddClient after Close.
var ErrClosed = errors.New("broadcaster closed")

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
		logger:  logger.With().Str("component", "sse").Logger(),
	}
}

// AddClient adds a new SSE client connection.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	client := &Client{
		ID:      uuid.NewString(),
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.clients[client.ID] = client
	clientCount := len(b.clients)
	b.mu.Unlock()

	b.logger.Debug().
		Str("clientId", client.ID).
		Int("totalClients", clientCount).
		Msg("SSE client connected")

	return client, nil
}

// RemoveClient removes a client connection. It is safe to call more than once.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	_, exists := b.clients[client.ID]
	delete(b.clients, client.ID)
	clientCount := len(b.clients)
	b.mu.Unlock()

	if !exists {
		return
	}
	close(client.Done)

	b.logger.Debug().
		Str("clientId", client.ID).
		Int("totalClients", clientCount).
		Msg("SSE client disconnected")
}

// Broadcast sends data as a named event to all connected clients.
// Clients that fail the write are removed.
func (b *Broadcaster) Broadcast(event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to marshal SSE data")
		return
	}
	message := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, jsonData))

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	var deadClients []*Client
	for _, client := range clients {
		select {
		case <-client.Done:
			continue
		default:
		}
		if err := client.send(message); err != nil {
			b.logger.Debug().
				Str("clientId", client.ID).
				Err(err).
				Msg("Failed to write to SSE client, marking for removal")
			deadClients = append(deadClients, client)
		}
	}

	for _, client := range deadClients {
		b.RemoveClient(client)
	}
}

// Close ends every open stream and refuses new clients.
// Streaming handlers are not cancelled by http.Server.Shutdown, so the
// server calls this when it shuts down.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	clients := make([]*Client, 0, len(b.clients))
	for _, client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.Unlock()

	for _, client := range clients {
		b.RemoveClient(client)
	}
	if len(clients) > 0 {
		b.logger.Info().Int("clients", len(clients)).Msg("Closed SSE streams")
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE handles an SSE connection request.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client, err := b.AddClient(w)
	if errors.Is(err, ErrClosed) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	if err := client.send([]byte(fmt.Sprintf("event: connected\ndata: {\"clientId\":%q}\n\n", client.ID))); err != nil {
		return
	}

	select {
	case <-r.Context().Done():
	case <-client.Done:
	}
}
