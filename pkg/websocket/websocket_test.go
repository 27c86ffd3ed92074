package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"carpool/pkg/auth"
	"carpool/pkg/logger"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, m *Manager, jwt *auth.JWTManager) string {
	t.Helper()
	h := NewHandler(logger.Nop(), jwt, func(conn *Connection) {
		m.AddConnection(conn)
		conn.ReadPump(nil, func() { m.RemoveConnection(conn) })
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialAndAuth(t *testing.T, url, token string) *gws.Conn {
	t.Helper()
	c, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.WriteJSON(authRequest{Type: "auth", Token: "Bearer " + token}))
	return c
}

func TestHandler_DeliversToEverySession(t *testing.T) {
	jwt := auth.NewJWTManager("secret", time.Hour)
	token, err := jwt.GenerateToken("owner")
	require.NoError(t, err)

	m := NewManager(logger.Nop())
	url := startServer(t, m, jwt)

	first := dialAndAuth(t, url, token)
	second := dialAndAuth(t, url, token)

	require.Eventually(t, func() bool { return m.GetConnectionCount() == 2 }, time.Second, 10*time.Millisecond)
	assert.True(t, m.IsUserConnected("owner"))
	assert.False(t, m.IsUserConnected("rider"))

	assert.Equal(t, 2, m.SendToUser("owner", map[string]string{"title": "New booking request"}))
	assert.Equal(t, 0, m.SendToUser("rider", map[string]string{"title": "ignored"}))

	for _, c := range []*gws.Conn{first, second} {
		c.SetReadDeadline(time.Now().Add(time.Second))
		_, raw, err := c.ReadMessage()
		require.NoError(t, err)
		var got map[string]string
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "New booking request", got["title"])
	}

	first.Close()
	require.Eventually(t, func() bool { return m.GetConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHandler_RejectsBadToken(t *testing.T) {
	jwt := auth.NewJWTManager("secret", time.Hour)
	m := NewManager(logger.Nop())
	url := startServer(t, m, jwt)

	c := dialAndAuth(t, url, "garbage")
	c.SetReadDeadline(time.Now().Add(time.Second))

	var resp wsErrorResponse
	require.NoError(t, c.ReadJSON(&resp))
	assert.Equal(t, "error", resp.Type)
	assert.Zero(t, m.GetConnectionCount())
}
