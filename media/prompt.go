package media

import (
	"context"
	"sync"
)

// Prompt is a one-shot permission decision that can be awaited before it is
// made. Its Wait method fits Source.Permission.
type Prompt struct {
	once    sync.Once
	decided chan struct{}
	err     error
}

func NewPrompt() *Prompt {
	return &Prompt{decided: make(chan struct{})}
}

func (p *Prompt) Grant() { p.decide(nil) }

func (p *Prompt) Deny() { p.decide(ErrPermissionDenied) }

func (p *Prompt) decide(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.decided)
	})
}

// Wait blocks until a decision is made or ctx is done.
func (p *Prompt) Wait(ctx context.Context) error {
	select {
	case <-p.decided:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
