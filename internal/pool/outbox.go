package pool

import (
	"context"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// pending is a committed event waiting for the sink. ctx is the context of
// the operation that produced it, stripped of cancellation because another
// goroutine may deliver it after that operation has returned.
type pending struct {
	ctx context.Context
	ev  domain.Event
}

// queueLocked appends ev to the outbox. Must be called with p.mu held, in
// the same critical section that assigned ev.Seq.
func (p *Pool) queueLocked(ctx context.Context, ev domain.Event) {
	p.outbox = append(p.outbox, pending{ctx: context.WithoutCancel(ctx), ev: ev})
}

// FlushEvents hands queued events to the sink in sequence order. Only one
// goroutine delivers at a time; a caller that finds delivery in progress
// returns at once and leaves its events to the current deliverer, which keeps
// draining until the outbox is empty. p.mu is never held while the sink
// runs, so a sink may read pool views.
func (p *Pool) FlushEvents() {
	for p.emitting.TryLock() {
		for {
			next, ok := p.dequeue()
			if !ok {
				break
			}
			p.deps.Sink.Emit(next.ctx, next.ev)
		}
		p.emitting.Unlock()

		// An event queued after the last dequeue but before Unlock saw the
		// lock taken and is ours to deliver.
		p.mu.Lock()
		empty := len(p.outbox) == 0
		p.mu.Unlock()
		if empty {
			return
		}
	}
}

func (p *Pool) dequeue() (pending, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.outbox) == 0 {
		return pending{}, false
	}
	next := p.outbox[0]
	p.outbox[0] = pending{}
	p.outbox = p.outbox[1:]
	return next, true
}
