// Package realtime delivers best-effort lifecycle events to connected users
// over Server-Sent Events. A Hub fans messages out to the local connections
// of a user; a RedisBus optionally relays messages between instances so a
// user connected to one node sees events raised on another.
//
// Delivery is lossy by contract: a client whose buffer is full misses the
// message, and nothing is persisted for clients that are offline.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const (
	outboundBuffer   = 16
	defaultHeartbeat = 15 * time.Second
)

var (
	connectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connected_clients",
		Help: "Open SSE connections on this instance.",
	})
	droppedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_dropped_messages_total",
		Help: "Messages dropped because a client buffer was full.",
	})
)

func init() {
	prometheus.MustRegister(connectedClients, droppedMessages)
}

// Message is one event addressed to a user.
type Message struct {
	UserID string    `json:"user_id"`
	Event  string    `json:"event"`
	Data   any       `json:"data,omitempty"`
	At     time.Time `json:"at"`
}

// Client is one SSE connection.
type Client struct {
	ID       string
	UserID   string
	Outbound chan Message

	done      chan struct{}
	closeOnce sync.Once
}

// Hub tracks clients per user. It is safe for concurrent use.
type Hub struct {
	// Heartbeat is the interval of keep-alive comments; 15s when zero.
	Heartbeat time.Duration

	mu    sync.RWMutex
	users map[string]map[*Client]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{users: make(map[string]map[*Client]struct{})}
}

// Subscribe registers a new client for userID.
func (h *Hub) Subscribe(userID string) *Client {
	c := &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		Outbound: make(chan Message, outboundBuffer),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	set, ok := h.users[userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.users[userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	connectedClients.Inc()
	log.Debug().Str("client_id", c.ID).Str("user_id", userID).Msg("sse client subscribed")
	return c
}

// Unsubscribe removes c and stops its stream. It is safe to call twice.
func (h *Hub) Unsubscribe(c *Client) {
	c.closeOnce.Do(func() {
		h.mu.Lock()
		if set, ok := h.users[c.UserID]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.users, c.UserID)
			}
		}
		h.mu.Unlock()
		close(c.done)
		connectedClients.Dec()
		log.Debug().Str("client_id", c.ID).Str("user_id", c.UserID).Msg("sse client unsubscribed")
	})
}

// Clients returns how many connections userID has on this instance.
func (h *Hub) Clients(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Broadcast hands msg to every local client of msg.UserID without blocking.
func (h *Hub) Broadcast(msg Message) {
	if strings.TrimSpace(msg.UserID) == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.users[msg.UserID] {
		select {
		case c.Outbound <- msg:
		default:
			droppedMessages.Inc()
			log.Warn().Str("client_id", c.ID).Str("event", msg.Event).Msg("dropping sse message; outbound buffer full")
		}
	}
}

// Publish broadcasts an event to userID's local clients.
func (h *Hub) Publish(_ context.Context, userID, event string, data any) {
	h.Broadcast(Message{UserID: userID, Event: event, Data: data, At: time.Now().UTC()})
}

// ServeHTTP streams c's messages as SSE until the request ends or c is
// unsubscribed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, c *Client) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	every := h.Heartbeat
	if every <= 0 {
		every = defaultHeartbeat
	}
	heartbeat := time.NewTicker(every)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg := <-c.Outbound:
			raw, err := json.Marshal(msg)
			if err != nil {
				log.Warn().Err(err).Str("event", msg.Event).Msg("marshal sse message")
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, raw)
			flusher.Flush()
		}
	}
}
