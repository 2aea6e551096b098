package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vertd/internal/session"
)

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    bool
	}{
		{"unrestricted", nil, "https://evil.example", true},
		{"wildcard", []string{"*"}, "https://evil.example", true},
		{"listed", []string{"https://vert.sh"}, "https://vert.sh", true},
		{"unlisted", []string{"https://vert.sh"}, "https://evil.example", false},
		{"no origin header", []string{"https://vert.sh"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, originChecker(tt.origins)(r))
		})
	}
}

func TestWebSocket_InvalidAuthThenClose(t *testing.T) {
	f := newFixture(t)
	deps := session.Deps{Registry: f.registry, Logger: quietLogger()}
	h := NewWebSocketHandler(context.Background(), deps, nil).WithLogger(quietLogger())

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "hello", "auth": "not-a-token"}))

	var msg map[string]any
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, session.MsgInvalidAuth, msg["message"])

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, h.Wait(ctx))
}

func TestWebSocket_RejectsUnlistedOrigin(t *testing.T) {
	f := newFixture(t)
	h := NewWebSocketHandler(context.Background(), session.Deps{Registry: f.registry}, []string{"https://vert.sh"}).
		WithLogger(quietLogger())

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
