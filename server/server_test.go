package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func attached(rl *Relay, name string) int {
	rm, ok := rl.rooms.Get(name)
	if !ok {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	n := 0
	for _, p := range rm.peers {
		if p != nil && p.conn != nil {
			n++
		}
	}
	return n
}

func newTestRelay(t *testing.T, tokens ...string) (*Relay, string) {
	t.Helper()
	rl := New(Config{Listen: ":0", Tokens: tokens, MaxMsgSize: 1 << 16})
	srv := httptest.NewServer(rl.Handler())
	t.Cleanup(srv.Close)
	return rl, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestServer(t *testing.T) {
	rl, wsURL := newTestRelay(t, "secret")
	header := http.Header{"Authorization": {"Bearer secret"}}

	t.Run("Unauthorized", func(t *testing.T) {
		bad := http.Header{"Authorization": {"Bearer wrong-token"}}
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, bad)
		require.Error(t, err)
		require.NotNil(t, resp)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Forwarding", func(t *testing.T) {
		url := wsURL + "?room=forward"
		connA, _, err := websocket.DefaultDialer.Dial(url, header)
		require.NoError(t, err)
		defer connA.Close()
		connB, _, err := websocket.DefaultDialer.Dial(url, header)
		require.NoError(t, err)
		defer connB.Close()

		require.Eventually(t, func() bool { return attached(rl, "forward") == 2 }, 2*time.Second, 10*time.Millisecond)

		payload := `{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}}`
		require.NoError(t, connA.WriteMessage(websocket.TextMessage, []byte(payload)))

		connB.SetReadDeadline(time.Now().Add(2 * time.Second))
		typ, data, err := connB.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.TextMessage, typ)
		require.Equal(t, payload, string(data))

		require.NoError(t, connB.WriteMessage(websocket.TextMessage, []byte("pong")))
		connA.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err = connA.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, "pong", string(data))
	})

	t.Run("RoomFull", func(t *testing.T) {
		url := wsURL + "?room=full"
		for i := 0; i < 2; i++ {
			c, _, err := websocket.DefaultDialer.Dial(url, header)
			require.NoError(t, err)
			defer c.Close()
		}
		_, resp, err := websocket.DefaultDialer.Dial(url, header)
		require.Error(t, err)
		require.NotNil(t, resp)
		require.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("DefaultRoom", func(t *testing.T) {
		c, _, err := websocket.DefaultDialer.Dial(wsURL, header)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return attached(rl, DefaultRoom) == 1 }, 2*time.Second, 10*time.Millisecond)
		c.Close()
		require.Eventually(t, func() bool {
			_, ok := rl.rooms.Get(DefaultRoom)
			return !ok
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestOpenAccess(t *testing.T) {
	_, wsURL := newTestRelay(t)
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	c.Close()
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Listen: ":8090", MaxMsgSize: 1024}, false},
		{"missing listen", Config{MaxMsgSize: 1024}, true},
		{"zero size", Config{Listen: ":8090"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
