package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmylchreest/vertd/internal/observability"
	"github.com/jmylchreest/vertd/internal/session"
)

const (
	// maxMessageBytes caps a single client message.
	maxMessageBytes = 64 << 10
	pongWait        = 60 * time.Second
	pingPeriod      = pongWait * 9 / 10
	writeWait       = 10 * time.Second
)

// WebSocketHandler upgrades GET /api/ws and runs one session per
// connection.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	deps     session.Deps
	logger   *slog.Logger

	// base is cancelled when the process stops.
	base context.Context
	wg   sync.WaitGroup
}

// NewWebSocketHandler creates the handler. base bounds every session.
// origins restricts the Origin header; empty allows any origin.
func NewWebSocketHandler(base context.Context, deps session.Deps, origins []string) *WebSocketHandler {
	h := &WebSocketHandler{
		deps:   deps,
		logger: slog.Default(),
		base:   base,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(origins),
	}
	return h
}

// WithLogger sets the logger.
func (h *WebSocketHandler) WithLogger(logger *slog.Logger) *WebSocketHandler {
	h.logger = logger
	return h
}

func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}

// ServeHTTP upgrades the connection and blocks until the session ends.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := observability.LoggerFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	h.wg.Add(1)
	defer h.wg.Done()

	conn.SetReadLimit(maxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go h.keepAlive(conn, stop)

	deps := h.deps
	deps.Logger = logger
	session.New(conn, deps).Run(h.base)
}

// Wait blocks until every running session has ended or ctx is done.
func (h *WebSocketHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// keepAlive pings the client until stop is closed. WriteControl may run
// concurrently with the session's writes.
func (h *WebSocketHandler) keepAlive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
