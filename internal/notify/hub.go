// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package notify

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tombee/llmdebug/internal/log"
)

var (
	// ErrHubClosed is returned when operations are attempted on a closed hub.
	ErrHubClosed = errors.New("notify: hub closed")

	// ErrShutdownTimeout is returned when graceful shutdown exceeds the timeout.
	ErrShutdownTimeout = errors.New("notify: shutdown timeout exceeded")
)

// HubConfig configures the WebSocket notification hub.
type HubConfig struct {
	// Addr is the listen address. Default: 127.0.0.1:0
	Addr string

	// AuthToken, when set, must be sent in the X-Auth-Token header.
	AuthToken string

	// Replay is how many recent notifications a new client receives.
	// Default: 16
	Replay int

	// ShutdownTimeout bounds graceful shutdown. Default: 5 seconds
	ShutdownTimeout time.Duration

	// Logger for hub events.
	Logger *slog.Logger
}

const clientBuffer = 64

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub streams notifications as JSON text frames to WebSocket clients.
// Clients are passive; frames they send are read and discarded.
type Hub struct {
	config   HubConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu         sync.RWMutex
	httpServer *http.Server
	listener   net.Listener
	closed     bool

	clientsMu sync.Mutex
	clients   map[*hubClient]struct{}
	recent    [][]byte

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

var _ Sink = (*Hub)(nil)

// NewHub creates a hub. Call Start to begin listening.
func NewHub(config HubConfig) *Hub {
	if config.Addr == "" {
		config.Addr = "127.0.0.1:0"
	}
	if config.Replay <= 0 {
		config.Replay = 16
	}
	if config.Replay > clientBuffer {
		config.Replay = clientBuffer
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.Discard()
	}

	return &Hub{
		config: config,
		logger: log.WithComponent(config.Logger, "notify-hub"),
		upgrader: websocket.Upgrader{
			// Local display surfaces connect from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[*hubClient]struct{}),
		shutdownCh: make(chan struct{}),
	}
}

// Handler returns the hub's HTTP routes: /health and /ws.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ws", h.handleWebSocket)
	return mux
}

// Start listens on the configured address and returns the bound address.
func (h *Hub) Start(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return "", ErrHubClosed
	}
	if h.httpServer != nil {
		return h.listener.Addr().String(), nil
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", h.config.Addr)
	if err != nil {
		return "", err
	}
	h.listener = listener
	h.httpServer = &http.Server{
		Handler:     h.Handler(),
		ReadTimeout: 10 * time.Second,
		// WriteTimeout intentionally omitted to support long-lived WebSocket connections
	}

	go func() {
		if err := h.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("notification hub error", log.Error(err))
		}
	}()

	addr := listener.Addr().String()
	h.logger.Info("notification hub started", "addr", addr)
	return addr, nil
}

// Notify implements Sink. Slow clients drop frames rather than block.
func (h *Hub) Notify(n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		h.logger.Error("failed to encode notification", log.Error(err))
		return
	}

	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	h.recent = append(h.recent, data)
	if len(h.recent) > h.config.Replay {
		h.recent = h.recent[len(h.recent)-h.config.Replay:]
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("client too slow, dropping notification", log.EventKey, string(n.Type))
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()

	status, code := "ready", http.StatusOK
	if closed {
		status, code = "closed", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "clients": h.Clients()})
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "Hub shutting down", http.StatusServiceUnavailable)
		return
	}

	if h.config.AuthToken != "" {
		token := r.Header.Get("X-Auth-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.config.AuthToken)) != 1 {
			h.logger.Warn("authentication failed", "remote", r.RemoteAddr, "hasToken", token != "")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "remote", r.RemoteAddr, log.Error(err))
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, clientBuffer)}
	h.clientsMu.Lock()
	for _, data := range h.recent {
		c.send <- data
	}
	h.clients[c] = struct{}{}
	h.clientsMu.Unlock()

	h.logger.Debug("websocket client connected", "remote", r.RemoteAddr)
	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) remove(c *hubClient) {
	h.clientsMu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.clientsMu.Unlock()
}

// readLoop discards client frames and detects disconnects.
func (h *Hub) readLoop(c *hubClient) {
	defer h.remove(c)

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", log.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	pingTicker := time.NewTicker(30 * time.Second)
	defer func() {
		pingTicker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-h.shutdownCh:
			c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub shutdown"),
				time.Now().Add(time.Second),
			)
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("websocket write failed", log.Error(err))
				return
			}
		case <-pingTicker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

// Shutdown closes every client and stops the listener.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	h.closed = true
	server := h.httpServer
	h.mu.Unlock()

	var shutdownErr error
	h.shutdownOnce.Do(func() {
		close(h.shutdownCh)

		if server == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(ctx, h.config.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				shutdownErr = ErrShutdownTimeout
			} else {
				shutdownErr = err
			}
		}
		h.logger.Info("notification hub stopped")
	})
	return shutdownErr
}
