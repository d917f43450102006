package importer

import "context"

// Prompt bridges a run's blocking conflict resolution to an interactive
// caller. The pipeline side calls Ask (wired in as OnDuplicateFound); the
// interactive side receives conflicts from Pending and answers via Resolve.
type Prompt struct {
	asks    chan *Conflict
	answers chan Resolution
}

func NewPrompt() *Prompt {
	return &Prompt{
		asks:    make(chan *Conflict),
		answers: make(chan Resolution),
	}
}

// Ask publishes the conflict and blocks until a resolution arrives or ctx
// ends. It satisfies ResolveFunc.
func (p *Prompt) Ask(ctx context.Context, conflict *Conflict) (Resolution, error) {
	select {
	case p.asks <- conflict:
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
	select {
	case res := <-p.answers:
		return res, nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}

// Pending blocks until the run raises a conflict.
func (p *Prompt) Pending(ctx context.Context) (*Conflict, error) {
	select {
	case c := <-p.asks:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve answers the conflict currently suspended in Ask.
func (p *Prompt) Resolve(ctx context.Context, res Resolution) error {
	select {
	case p.answers <- res:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
