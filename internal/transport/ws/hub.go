package ws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vedran77/relay/internal/domain"
	"github.com/vedran77/relay/internal/presence"
	"github.com/vedran77/relay/internal/service"
	"nhooyr.io/websocket"
)

// Router is the part of service.Router the gateway drives.
type Router interface {
	SendDirect(ctx context.Context, in service.DirectMessageInput) (*domain.Message, error)
	SendChannel(ctx context.Context, in service.ChannelMessageInput) (*domain.Message, error)
}

type Options struct {
	JWTSecret        []byte
	AllowPlainUserID bool
	OriginPatterns   []string
	SendBuffer       int
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 << 10
	}
	return o
}

// Hub owns the live connections. Presence lives in the registry; the hub
// only keeps the set of clients so they can be closed on shutdown.
type Hub struct {
	registry *presence.Registry
	router   Router
	opts     Options
	log      *slog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool

	// readers counts read loops still running, including ones mid-send.
	readers sync.WaitGroup
}

func NewHub(registry *presence.Registry, router Router, opts Options, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		registry: registry,
		router:   router,
		opts:     opts.withDefaults(),
		log:      log,
		clients:  make(map[*Client]struct{}),
	}
}

// attach registers c with the hub and, when it carries an identity, with the
// presence registry. On success the caller owns one readers slot and must
// release it when its read loop returns.
func (h *Hub) attach(c *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.readers.Add(1)
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	if !c.authenticated {
		h.log.Info("Client connected", "session_id", c.id, "authenticated", false, "total", total)
		return true
	}

	if replaced := h.registry.Register(c.userID, c); replaced != nil {
		h.log.Info("Session replaced", "user_id", c.userID, "previous_session_id", replaced.SessionID())
	}
	h.log.Info("Client connected", "session_id", c.id, "user_id", c.userID, "total", total)
	return true
}

// detach runs once per client when its connection ends.
func (h *Hub) detach(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	total := len(h.clients)
	h.mu.Unlock()

	var connectedFor time.Duration
	if entry, ok := h.registry.Entry(c.userID); ok && entry.Handle == presence.Handle(c) {
		connectedFor = time.Since(entry.ConnectedAt)
	}

	// a no-op for connections that never registered or were superseded
	if userID, ok := h.registry.UnregisterByHandle(c); ok {
		h.log.Info("Client disconnected", "session_id", c.id, "user_id", userID,
			"connected_for", connectedFor.Round(time.Second), "total", total)
		return
	}
	h.log.Debug("Client disconnected", "session_id", c.id, "total", total)
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every connection, refuses new ones and waits for read loops
// to finish the send they are handling, or for ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close(websocket.StatusGoingAway, "server shutting down")
	}

	drained := make(chan struct{})
	go func() {
		h.readers.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		h.log.Info("Hub stopped", "closed", len(clients))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for read loops: %w", ctx.Err())
	}
}
