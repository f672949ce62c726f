package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsPingInterval   = 20 * time.Second
	wsMaxCommandSize = 64 << 10
	clientSendBuffer = 64
)

// CommandHandler executes a frontend command.
type CommandHandler func(ctx context.Context, cmd Command) error

// Hub fans notifications out to websocket clients and feeds their commands to
// a handler. Slow clients miss notifications rather than block the sender.
type Hub struct {
	handle CommandHandler
	hello  func() []Notification

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	// Guarded by Hub.mu. Broadcasts that arrive while the hello snapshot is
	// being built are held in backlog and sent after it.
	ready   bool
	backlog [][]byte
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// NewHub creates a hub. hello, if set, is sent to every new client.
func NewHub(handle CommandHandler, hello func() []Notification) *Hub {
	return &Hub{
		handle: handle,
		hello:  hello,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Broadcast sends a notification to every connected client.
func (h *Hub) Broadcast(name string, data any) {
	msg, err := json.Marshal(Notification{Event: name, Data: data})
	if err != nil {
		slog.Warn("marshal notification", "event", name, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.ready {
			if len(c.backlog) < clientSendBuffer {
				c.backlog = append(c.backlog, msg)
			}
			continue
		}
		c.enqueue(msg, name)
	}
}

func (c *client) enqueue(msg []byte, name string) {
	select {
	case c.send <- msg:
	default:
		slog.Debug("client send buffer full, dropping", "event", name)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

// ServeHTTP upgrades the request and serves one client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(wsMaxCommandSize)

	c := &client{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
		done: make(chan struct{}),
	}
	// Register before building the hello snapshot so no broadcast falls
	// between the two.
	if !h.register(c) {
		conn.Close()
		return
	}
	var hello []Notification
	if h.hello != nil {
		hello = h.hello()
	}
	h.markReady(c, hello)
	slog.Debug("websocket client connected", "remote", r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(r.Context(), c)

	h.unregister(c)
	c.close()
	slog.Debug("websocket client disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// markReady queues hello and then any broadcasts held while it was built.
func (h *Hub) markReady(c *client, hello []Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range hello {
		if msg, err := json.Marshal(n); err == nil {
			c.enqueue(msg, n.Event)
		}
	}
	for _, msg := range c.backlog {
		c.enqueue(msg, "backlog")
	}
	c.backlog = nil
	c.ready = true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.reply(c, EventError, "invalid command: "+err.Error())
			continue
		}
		if err := h.handle(context.WithoutCancel(ctx), cmd); err != nil {
			h.reply(c, EventError, err.Error())
		}
	}
}

func (h *Hub) reply(c *client, event string, data any) {
	msg, err := json.Marshal(Notification{Event: event, Data: data})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (h *Hub) writeLoop(c *client) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteTimeout))
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// HTTP server
// ─────────────────────────────────────────────────────────────────────────────

// NewMux routes /ws to the hub and /metrics to the registry.
func NewMux(hub *Hub, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Serve listens on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("ui bridge listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
