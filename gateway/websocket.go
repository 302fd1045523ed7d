// Package gateway connects a negotiation.Session to a websocket signaling
// channel.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"rtcall/common"
	"rtcall/negotiation"
	"rtcall/signal"
)

const writeWait = 10 * time.Second

type Config struct {
	Addr  string
	Token string
	// MaxMessageSize bounds inbound frames; zero means no limit.
	MaxMessageSize int64
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("signaling server address is required")
	}
	if c.MaxMessageSize < 0 {
		return fmt.Errorf("max message size must not be negative")
	}
	return nil
}

// Receiver consumes inbound messages. *negotiation.Session satisfies it.
type Receiver interface {
	Deliver(signal.Message) error
	Close() error
}

// WebSocket is a signaling channel over one websocket connection. It
// implements negotiation.Sender.
type WebSocket struct {
	conn      *common.RWLock[*websocket.Conn]
	raw       *websocket.Conn
	open      atomic.Bool
	closeOnce sync.Once
}

var _ negotiation.Sender = (*WebSocket)(nil)

// Dial connects to the signaling server, authenticating with a bearer token
// when one is configured.
func Dial(ctx context.Context, cfg Config) (*WebSocket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	header := http.Header{}
	if cfg.Token != "" {
		header.Add("Authorization", "Bearer "+cfg.Token)
	}
	c, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.Addr, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling server: %w", err)
	}
	if cfg.MaxMessageSize > 0 {
		c.SetReadLimit(cfg.MaxMessageSize)
	}
	slog.Info("connected to signaling server", "addr", cfg.Addr)
	return New(c), nil
}

// New wraps an established connection.
func New(c *websocket.Conn) *WebSocket {
	ws := &WebSocket{
		conn: common.NewRWLock(c),
		raw:  c,
	}
	ws.open.Store(true)
	return ws
}

// Send writes msg as one text frame. It fails with signal.ErrChannelUnavailable
// once the connection is closed or broken.
func (w *WebSocket) Send(msg signal.Message) error {
	if !w.open.Load() {
		return signal.ErrChannelUnavailable
	}
	data, err := signal.Encode(msg)
	if err != nil {
		return err
	}
	err = w.conn.WriteErr(func(c *websocket.Conn) error {
		c.SetWriteDeadline(time.Now().Add(writeWait))
		return c.WriteMessage(websocket.TextMessage, data)
	})
	if err != nil {
		w.open.Store(false)
		return fmt.Errorf("%w: %v", signal.ErrChannelUnavailable, err)
	}
	slog.Debug("signal sent", "type", msg.Type, "bytes", len(data))
	return nil
}

// Serve reads frames until the connection or ctx ends, delivering every
// well-formed message to r. Malformed frames are logged and skipped. When
// Serve returns, both the connection and r are closed.
func (w *WebSocket) Serve(ctx context.Context, r Receiver) error {
	defer func() {
		if err := r.Close(); err != nil {
			slog.Warn("close receiver error", "err", err)
		}
	}()
	defer w.Close()

	stop := context.AfterFunc(ctx, func() { w.Close() })
	defer stop()

	for {
		typ, data, err := w.raw.ReadMessage()
		if err != nil {
			if !w.open.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read signal: %w", err)
		}
		if typ != websocket.TextMessage {
			continue
		}
		msg, err := signal.Decode(data)
		if err != nil {
			slog.Warn("discarding inbound message", "err", err)
			continue
		}
		slog.Debug("signal received", "type", msg.Type)
		if err := r.Deliver(msg); err != nil {
			if errors.Is(err, negotiation.ErrClosed) {
				return nil
			}
			slog.Warn("deliver error", "err", err)
		}
	}
}

// Close sends a close frame and closes the connection.
func (w *WebSocket) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.open.Store(false)
		w.conn.Write(func(c *websocket.Conn) {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		})
		err = w.raw.Close()
	})
	return err
}
