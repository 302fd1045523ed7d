package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"rtcall/negotiation"
	"rtcall/signal"
)

type fakeReceiver struct {
	mu     sync.Mutex
	msgs   []signal.Message
	closed bool
	err    error
}

func (r *fakeReceiver) Deliver(m signal.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *fakeReceiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReceiver) received() []signal.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signal.Message(nil), r.msgs...)
}

// newTestServer accepts one websocket and hands the server side to the test.
func newTestServer(t *testing.T, token string) (string, <-chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("Failed to upgrade: %v", err)
			return
		}
		conns <- c
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), conns
}

func offer() signal.Message {
	return signal.NewOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
}

func TestSend(t *testing.T) {
	addr, conns := newTestServer(t, "secret")
	ws, err := Dial(context.Background(), Config{Addr: addr, Token: "secret"})
	require.NoError(t, err)
	defer ws.Close()
	server := <-conns
	defer server.Close()

	require.NoError(t, ws.Send(offer()))

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := server.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, typ)
	m, err := signal.Decode(data)
	require.NoError(t, err)
	require.Equal(t, signal.TypeOffer, m.Type)
}

func TestDialUnauthorized(t *testing.T) {
	addr, _ := newTestServer(t, "secret")
	_, err := Dial(context.Background(), Config{Addr: addr, Token: "wrong"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to connect to signaling server")

	_, err = Dial(context.Background(), Config{})
	require.Error(t, err)
}

func TestSendAfterClose(t *testing.T) {
	addr, conns := newTestServer(t, "")
	ws, err := Dial(context.Background(), Config{Addr: addr})
	require.NoError(t, err)
	server := <-conns
	defer server.Close()

	require.NoError(t, ws.Close())
	require.NoError(t, ws.Close())
	require.ErrorIs(t, ws.Send(offer()), signal.ErrChannelUnavailable)
}

func TestServe(t *testing.T) {
	addr, conns := newTestServer(t, "")
	ws, err := Dial(context.Background(), Config{Addr: addr})
	require.NoError(t, err)
	server := <-conns
	defer server.Close()

	r := &fakeReceiver{}
	done := make(chan error, 1)
	go func() { done <- ws.Serve(context.Background(), r) }()

	frames := []string{
		`{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}}`,
		`not json`,
		`{"type":"bye"}`,
		`{"type":"answer","answer":{"sdp":"v=0"}}`,
	}
	for _, f := range frames {
		require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(f)))
	}
	require.NoError(t, server.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))

	require.Eventually(t, func() bool { return len(r.received()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := r.received()
	require.Equal(t, signal.TypeCandidate, got[0].Type)
	require.Equal(t, signal.TypeAnswer, got[1].Type)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	require.NoError(t, server.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after close")
	}
	r.mu.Lock()
	require.True(t, r.closed)
	r.mu.Unlock()
	require.ErrorIs(t, ws.Send(offer()), signal.ErrChannelUnavailable)
}

func TestServeStopsWhenReceiverClosed(t *testing.T) {
	addr, conns := newTestServer(t, "")
	ws, err := Dial(context.Background(), Config{Addr: addr})
	require.NoError(t, err)
	server := <-conns
	defer server.Close()

	r := &fakeReceiver{err: negotiation.ErrClosed}
	done := make(chan error, 1)
	go func() { done <- ws.Serve(context.Background(), r) }()

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"answer","answer":{"sdp":"v=0"}}`)))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServeContextCancel(t *testing.T) {
	addr, conns := newTestServer(t, "")
	ws, err := Dial(context.Background(), Config{Addr: addr})
	require.NoError(t, err)
	server := <-conns
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Serve(ctx, &fakeReceiver{}) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
