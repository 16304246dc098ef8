// Package bridge connects UI clients to the supervisor over a websocket and a
// small REST surface.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gofbot/gofbot-launcher/pkg/shared/defs"
)

// ErrNoClients is returned when a notification has nobody to go to.
var ErrNoClients = errors.New("no bridge clients connected")

const (
	writeTimeout = 10 * time.Second
	pongWait     = 70 * time.Second
	pingPeriod   = 30 * time.Second
	maxMessage   = 64 * 1024
)

// Client is one connected UI window.
type Client struct {
	ID   string
	conn *websocket.Conn

	// gorilla connections support one concurrent writer
	mu sync.Mutex
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{ID: uuid.New().String(), conn: conn}
}

// Send writes one event envelope to this client only.
func (c *Client) Send(event string, payload any) error {
	msg, err := encode(event, payload)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, msg)
}

func (c *Client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

func encode(event string, payload any) ([]byte, error) {
	env := defs.Envelope{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Hub fans supervisor notifications out to every connected client.
type Hub struct {
	mu          sync.Mutex
	clients     map[*Client]struct{}
	onAllClosed func()
	logger      *slog.Logger
}

type HubOption func(*Hub)

// OnAllClosed registers fn to run each time the last client disconnects.
func OnAllClosed(fn func()) HubOption {
	return func(h *Hub) {
		h.onAllClosed = fn
	}
}

func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("Bridge client connected", "clientId", c.ID, "clients", n)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.logger.Info("Bridge client disconnected", "clientId", c.ID, "clients", n)
	if n == 0 && h.onAllClosed != nil {
		h.logger.Info("Last bridge client gone")
		h.onAllClosed()
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends an event to all clients. A client that cannot be written to
// is closed; its read loop then unregisters it.
func (h *Hub) Broadcast(event string, payload any) error {
	msg, err := encode(event, payload)
	if err != nil {
		return err
	}

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	if len(clients) == 0 {
		return fmt.Errorf("%s: %w", event, ErrNoClients)
	}

	var errs []error
	for _, c := range clients {
		if err := c.write(websocket.TextMessage, msg); err != nil {
			h.logger.Warn("Dropping bridge client", "clientId", c.ID, "event", event, "error", err)
			_ = c.conn.Close()
			errs = append(errs, fmt.Errorf("client %s: %w", c.ID, err))
		}
	}
	if len(errs) == len(clients) {
		return errors.Join(errs...)
	}
	return nil
}

func (h *Hub) BotStarted(info defs.DisplayInfo) error {
	return h.Broadcast(defs.EventBotStarted, info)
}

func (h *Hub) BotKilled() error {
	return h.Broadcast(defs.EventBotKilled, nil)
}

func (h *Hub) FatalError(detail string) error {
	return h.Broadcast(defs.EventFatalError, defs.FatalErrorBody{Detail: detail})
}

// Close sends a close frame to every client and drops the connections.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "launcher shutting down")
	for _, c := range clients {
		_ = c.write(websocket.CloseMessage, msg)
		_ = c.conn.Close()
	}
}
