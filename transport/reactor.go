package transport

import (
	"context"
	"sync"
	"time"
)

// StepFunc makes one non-blocking attempt at progress. It returns true once
// the exchange it drives is complete.
type StepFunc func() bool

type entry struct {
	step StepFunc
}

// Reactor drives registered step functions, one call per Tick. A step that
// returns true is removed. Steps may add or remove entries, including their
// own, while being called.
type Reactor struct {
	// OnTick, when set, runs at the start of every Tick.
	OnTick func()

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
}

// NewReactor returns an empty reactor.
func NewReactor() *Reactor {
	return &Reactor{entries: make(map[string]*entry)}
}

// Add registers step under id, replacing any previous registration.
func (r *Reactor) Add(id string, step StepFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		r.order = append(r.order, id)
	}
	r.entries[id] = &entry{step: step}
}

// Remove drops the registration for id, if any.
func (r *Reactor) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

func (r *Reactor) removeLocked(id string) {
	if _, ok := r.entries[id]; !ok {
		return
	}
	delete(r.entries, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered steps.
func (r *Reactor) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Tick calls every registered step once, in registration order.
func (r *Reactor) Tick() {
	if r.OnTick != nil {
		r.OnTick()
	}

	r.mu.Lock()
	ids := append([]string(nil), r.order...)
	r.mu.Unlock()

	for _, id := range ids {
		r.mu.Lock()
		e := r.entries[id]
		r.mu.Unlock()
		if e == nil {
			continue
		}
		if !e.step() {
			continue
		}
		r.mu.Lock()
		if r.entries[id] == e {
			r.removeLocked(id)
		}
		r.mu.Unlock()
	}
}

// Run ticks every interval until ctx is done.
func (r *Reactor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Tick()
		}
	}
}
