// Package server is a minimal signaling relay: two websockets that join the
// same room get each other's frames, verbatim. It does no addressing or
// routing of its own.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const DefaultRoom = "default"

type Config struct {
	Listen string
	// Tokens, if any, are the accepted bearer tokens.
	Tokens     []string
	MaxMsgSize int64
}

func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.MaxMsgSize <= 0 {
		return fmt.Errorf("max message size must be positive, got: %d", c.MaxMsgSize)
	}
	return nil
}

// Relay pairs websocket connections by room.
type Relay struct {
	cfg      Config
	upgrader websocket.Upgrader

	// mu serialises joins and leaves; lookups go straight to the map.
	mu    sync.Mutex
	rooms *hashmap.Map[string, *room]
}

func New(cfg Config) *Relay {
	return &Relay{
		cfg:   cfg,
		rooms: hashmap.New[string, *room](),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler serves the relay at /ws?room=<name>.
func (rl *Relay) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(Logger)
	r.Get("/ws", rl.serveWS)
	return r
}

// Run serves until ctx is done.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           New(cfg).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ec := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", cfg.Listen)
		ec <- srv.ListenAndServe()
	}()

	select {
	case err := <-ec:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-ec; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (rl *Relay) authorized(r *http.Request) bool {
	if len(rl.cfg.Tokens) == 0 {
		return true
	}
	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return false
	}
	for _, t := range rl.cfg.Tokens {
		if parts[1] == t {
			return true
		}
	}
	return false
}

func (rl *Relay) serveWS(w http.ResponseWriter, r *http.Request) {
	if !rl.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	name := r.URL.Query().Get("room")
	if name == "" {
		name = DefaultRoom
	}

	id, err := uuid.NewRandom()
	if err != nil {
		slog.Error("generate uuid error", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	p := &peer{id: id}

	rm, ok := rl.join(name, p)
	if !ok {
		slog.Warn("room full", "room", name)
		http.Error(w, "room full", http.StatusConflict)
		return
	}
	defer rl.leave(name, rm, p)

	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrade error", "err", err)
		return
	}
	defer conn.Close()
	if rl.cfg.MaxMsgSize > 0 {
		conn.SetReadLimit(rl.cfg.MaxMsgSize)
	}
	rm.attach(p, conn)
	slog.Info("peer joined", "room", name, "peer", id)

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("read error", "peer", id, "err", err)
			}
			return
		}
		other := rm.other(p)
		if other == nil {
			slog.Warn("no peer in room, dropping frame", "room", name, "bytes", len(data))
			continue
		}
		if err := other.write(typ, data); err != nil {
			slog.Error("forward error", "room", name, "to", other.id, "err", err)
		}
	}
}

func (rl *Relay) join(name string, p *peer) (*room, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rm, _ := rl.rooms.GetOrInsert(name, &room{})
	if !rm.add(p) {
		return nil, false
	}
	return rm, true
}

func (rl *Relay) leave(name string, rm *room, p *peer) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rm.remove(p) {
		rl.rooms.Del(name)
		slog.Debug("room removed", "room", name)
	}
	slog.Info("peer left", "room", name, "peer", p.id)
}

// Rooms reports the number of rooms with at least one peer.
func (rl *Relay) Rooms() int {
	return rl.rooms.Len()
}
