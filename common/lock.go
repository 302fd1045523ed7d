package common

import "sync"

// RWLock serialises access to a value that is not safe for concurrent use,
// such as the write side of a websocket connection.
type RWLock[V any] struct {
	l sync.RWMutex
	v V
}

func NewRWLock[V any](v V) *RWLock[V] {
	return &RWLock[V]{v: v}
}

// Read calls f with the value under a shared lock.
func (l *RWLock[V]) Read(f func(V)) {
	l.l.RLock()
	defer l.l.RUnlock()
	f(l.v)
}

// Write calls f with the value under the exclusive lock.
func (l *RWLock[V]) Write(f func(V)) {
	l.l.Lock()
	defer l.l.Unlock()
	f(l.v)
}

// WriteErr is Write for functions that can fail.
func (l *RWLock[V]) WriteErr(f func(V) error) error {
	l.l.Lock()
	defer l.l.Unlock()
	return f(l.v)
}
