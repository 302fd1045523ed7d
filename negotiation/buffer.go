package negotiation

import "github.com/pion/webrtc/v4"

// CandidateBuffer holds remote candidates that arrived before a remote
// description. It is owned by a single Session goroutine and does no locking.
type CandidateBuffer struct {
	pending []webrtc.ICECandidateInit
}

// Enqueue appends c. It never drops.
func (b *CandidateBuffer) Enqueue(c webrtc.ICECandidateInit) {
	b.pending = append(b.pending, c)
}

// DrainAll removes and returns every buffered candidate in arrival order.
func (b *CandidateBuffer) DrainAll() []webrtc.ICECandidateInit {
	drained := b.pending
	b.pending = nil
	return drained
}

func (b *CandidateBuffer) IsEmpty() bool {
	return len(b.pending) == 0
}

func (b *CandidateBuffer) Len() int {
	return len(b.pending)
}

// Clear discards everything. Only used on session teardown.
func (b *CandidateBuffer) Clear() {
	b.pending = nil
}
