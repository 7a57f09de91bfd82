// Package uihub pushes live call feedback to browser clients over WebSocket:
// call state, microphone volume, the playing flag and requests to open the
// image studio. Clients may send back "connect" and "disconnect" commands.
package uihub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout   = 5 * time.Second
	pingInterval   = 20 * time.Second
	readLimit      = 4096
	clientQueueLen = 32
)

// Message types sent to clients.
const (
	TypeState        = "state"
	TypeVolume       = "volume"
	TypePlaying      = "playing"
	TypeImageSurface = "image_surface"
)

// Message is the JSON frame exchanged with clients. Outbound frames set the
// field matching Type; inbound commands set Type to "connect" or
// "disconnect" and may carry a ConversationID.
type Message struct {
	Type           string   `json:"type"`
	State          string   `json:"state,omitempty"`
	Volume         *float64 `json:"volume,omitempty"`
	Playing        *bool    `json:"playing,omitempty"`
	Prompt         string   `json:"prompt,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
}

// CommandHandler receives inbound client commands.
type CommandHandler func(ctx context.Context, cmd Message)

// Option configures a [Hub].
type Option func(*Hub)

// WithCommandHandler sets the handler for client commands. Without one,
// commands are ignored.
func WithCommandHandler(fn CommandHandler) Option {
	return func(h *Hub) { h.onCommand = fn }
}

// WithCheckOrigin overrides the upgrader's origin check. By default only
// same-origin requests are accepted.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// Hub fans messages out to every connected client. Slow clients drop
// messages rather than block publishers. All methods are safe for concurrent
// use.
type Hub struct {
	upgrader  websocket.Upgrader
	onCommand CommandHandler

	mu      sync.Mutex
	clients map[*client]struct{}
	state   string
	playing bool
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// New creates a Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		clients: make(map[*client]struct{}),
		state:   "idle",
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
// A new client first receives the current state and playing flag.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("uihub: upgrade", "err", err)
		return
	}
	conn.SetReadLimit(readLimit)

	c := &client{
		conn: conn,
		send: make(chan []byte, clientQueueLen),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	playing := h.playing
	snapshot := []Message{
		{Type: TypeState, State: h.state},
		{Type: TypePlaying, Playing: &playing},
	}
	for _, m := range snapshot {
		if b, err := json.Marshal(m); err == nil {
			c.send <- b
		}
	}
	h.mu.Unlock()

	slog.Debug("uihub: client connected", "remote", r.RemoteAddr)
	go h.writeLoop(c)
	h.readLoop(r.Context(), c)

	h.remove(c)
	slog.Debug("uihub: client disconnected", "remote", r.RemoteAddr)
}

// readLoop decodes commands until the connection fails.
func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		var cmd Message
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("uihub: read", "err", err)
			}
			return
		}
		if h.onCommand != nil {
			h.onCommand(context.WithoutCancel(ctx), cmd)
		}
	}
}

// writeLoop drains the client's queue and keeps the connection alive.
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			return
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// broadcast queues m for every client.
func (h *Hub) broadcast(m Message) {
	b, err := json.Marshal(m)
	if err != nil {
		slog.Warn("uihub: marshal", "type", m.Type, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			slog.Debug("uihub: client queue full, dropping", "type", m.Type)
		}
	}
}

// ── Publishers ───────────────────────────────────────────────────────────────

// PublishState announces a call state such as "open" or "closed".
func (h *Hub) PublishState(state string) {
	h.mu.Lock()
	h.state = state
	h.mu.Unlock()
	h.broadcast(Message{Type: TypeState, State: state})
}

// PublishPlaying announces whether model speech is playing.
func (h *Hub) PublishPlaying(playing bool) {
	h.mu.Lock()
	h.playing = playing
	h.mu.Unlock()
	h.broadcast(Message{Type: TypePlaying, Playing: &playing})
}

// PublishVolume announces the microphone level on a 0..100 scale.
func (h *Hub) PublishVolume(level float64) {
	h.broadcast(Message{Type: TypeVolume, Volume: &level})
}

// OpenImageSurface asks the UI to open the image studio with prompt. It is
// the UI callback of the tool bridge.
func (h *Hub) OpenImageSurface(prompt string) {
	h.broadcast(Message{Type: TypeImageSurface, Prompt: prompt})
}

// RunVolumeMeter publishes level() every interval until ctx is done.
// Unchanged levels are not republished.
func (h *Hub) RunVolumeMeter(ctx context.Context, interval time.Duration, level func() float64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := -1.0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if v := level(); v != last {
				last = v
				h.PublishVolume(v)
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
	return nil
}
