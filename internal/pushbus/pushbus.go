// Package pushbus fans persisted run events out to live WebSocket
// subscribers. Each connection is an actor: a reader goroutine, a writer
// goroutine, and a mailbox channel; nothing shares the socket.
package pushbus

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/awaregh/platform/pkg/models"
)

const (
	// idle connections are pinged on this period and dropped when a pong
	// has not arrived before the next tick
	pingPeriod = 30 * time.Second
	pongWait   = pingPeriod + 10*time.Second

	writeWait      = 10 * time.Second
	maxMessageSize = 4 << 10
	mailboxSize    = 64
)

// Message is what the bus pushes to a subscriber.
type Message struct {
	Type      models.EventType `json:"type"`
	RunID     string           `json:"runId"`
	StepKey   string           `json:"stepKey,omitempty"`
	Data      map[string]any   `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// clientCommand is a subscribe/unsubscribe frame sent by the client.
type clientCommand struct {
	Action string `json:"action"`
	RunID  string `json:"runId"`
}

// Bus tracks connected subscribers and routes events by run id within the
// subscriber's tenant.
type Bus struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  hclog.Logger
	closed  bool
}

func New(logger hclog.Logger) *Bus {
	return &Bus{
		clients: make(map[*Client]struct{}),
		logger:  logger.Named("pushbus"),
	}
}

// Broadcast delivers the event to every subscriber of its run within
// tenantID. Slow subscribers are disconnected rather than blocking the
// caller.
func (b *Bus) Broadcast(tenantID string, event *models.Event) {
	msg := Message{
		Type:      event.Type,
		RunID:     event.RunID,
		StepKey:   event.StepKey,
		Data:      event.Payload,
		Timestamp: event.Timestamp,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		if client.tenantID != tenantID || !client.subscribed(event.RunID) {
			continue
		}
		select {
		case client.mailbox <- msg:
		default:
			b.logger.Warn("dropping slow subscriber", "user_id", client.userID)
			client.closeAsync()
		}
	}
}

// Attach registers an upgraded connection and starts its pumps.
func (b *Bus) Attach(conn *websocket.Conn, tenantID, userID string) *Client {
	client := &Client{
		bus:       b,
		conn:      conn,
		tenantID:  tenantID,
		userID:    userID,
		mailbox:   make(chan Message, mailboxSize),
		runs:      make(map[string]struct{}),
		goingAway: make(chan struct{}),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return nil
	}
	b.clients[client] = struct{}{}
	b.mu.Unlock()

	go client.writePump()
	go client.readPump()

	b.logger.Debug("subscriber connected", "tenant_id", tenantID, "user_id", userID)
	return client
}

func (b *Bus) detach(client *Client) {
	b.mu.Lock()
	delete(b.clients, client)
	b.mu.Unlock()
}

// Shutdown sends a going-away close to every subscriber and waits for the
// connections to drain, bounded by ctx.
func (b *Bus) Shutdown(ctx context.Context) {
	b.mu.Lock()
	b.closed = true
	clients := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, client := range clients {
		client.goAway()
	}

	deadline := time.NewTimer(5 * time.Second)
	defer deadline.Stop()
	for _, client := range clients {
		select {
		case <-client.done:
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		}
	}
}

// Client is one connected subscriber.
type Client struct {
	bus      *Bus
	conn     *websocket.Conn
	tenantID string
	userID   string
	mailbox  chan Message

	mu   sync.Mutex
	runs map[string]struct{}

	closeOnce  sync.Once
	goAwayOnce sync.Once
	goingAway  chan struct{}
	done       chan struct{}
}

func (c *Client) subscribed(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.runs[runID]
	return ok
}

func (c *Client) subscribe(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs[runID] = struct{}{}
}

func (c *Client) unsubscribe(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.runs, runID)
}

func (c *Client) closeAsync() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// goAway asks the writer goroutine to send the close frame; only the
// writer ever touches the socket for writes.
func (c *Client) goAway() {
	c.goAwayOnce.Do(func() {
		close(c.goingAway)
	})
}

// readPump consumes subscribe/unsubscribe frames and keeps the liveness
// deadline fresh on pongs.
func (c *Client) readPump() {
	defer func() {
		c.bus.detach(c)
		c.closeAsync()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.bus.logger.Debug("ignoring malformed client frame", "user_id", c.userID)
			continue
		}
		switch cmd.Action {
		case "subscribe":
			if cmd.RunID != "" {
				c.subscribe(cmd.RunID)
			}
		case "unsubscribe":
			c.unsubscribe(cmd.RunID)
		}
	}
}

// writePump owns all writes to the socket: mailbox messages and pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeAsync()
	}()

	for {
		select {
		case msg := <-c.mailbox:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.goingAway:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-c.done:
			return
		}
	}
}
