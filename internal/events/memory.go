package events

import (
	"context"
	"sync"

	"quotefeed/internal/quote"
)

// Memory captures published events for tests. FailWith makes subsequent
// publish attempts fail while still counting them.
type Memory struct {
	mu       sync.Mutex
	events   []quote.Event
	attempts int
	failWith error
}

// NewMemory constructs an empty capture publisher.
func NewMemory() *Memory {
	return &Memory{}
}

func (p *Memory) Publish(ctx context.Context, ev quote.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts++
	if p.failWith != nil {
		return p.failWith
	}
	p.events = append(p.events, ev)
	return nil
}

// FailWith makes future publish attempts return err; nil restores success.
func (p *Memory) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// Events returns a copy of the successfully published events.
func (p *Memory) Events() []quote.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]quote.Event(nil), p.events...)
}

// Attempts returns how many publish attempts were made, failed included.
func (p *Memory) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}
