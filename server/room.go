package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"rtcall/common"
)

const writeWait = 10 * time.Second

type peer struct {
	id   uuid.UUID
	conn *common.RWLock[*websocket.Conn]
}

func (p *peer) write(typ int, data []byte) error {
	return p.conn.WriteErr(func(c *websocket.Conn) error {
		c.SetWriteDeadline(time.Now().Add(writeWait))
		return c.WriteMessage(typ, data)
	})
}

// room holds at most two peers.
type room struct {
	mu    sync.Mutex
	peers [2]*peer
}

// add places p in a free slot and reports whether there was one.
func (r *room) add(p *peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.peers {
		if r.peers[i] == nil {
			r.peers[i] = p
			return true
		}
	}
	return false
}

func (r *room) attach(p *peer, c *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.conn = common.NewRWLock(c)
}

// other returns the connected peer that is not p, if any.
func (r *room) other(p *peer) *peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.peers {
		if o != nil && o != p && o.conn != nil {
			return o
		}
	}
	return nil
}

// remove drops p and reports whether the room is now empty.
func (r *room) remove(p *peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.peers {
		if r.peers[i] == p {
			r.peers[i] = nil
		}
	}
	return r.peers[0] == nil && r.peers[1] == nil
}
