package query

import "context"

// Observer is one subscriber's read-only view of a cache entry.
type Observer struct {
	cache   *Cache
	key     string
	entry   *entry
	updates chan State
	closed  bool
}

func (o *Observer) Key() string { return o.key }

// State returns the entry's current state.
func (o *Observer) State() State {
	o.cache.mu.Lock()
	defer o.cache.mu.Unlock()
	return o.entry.state
}

// Updates delivers state transitions. Only the latest undelivered state is
// kept, so a slow reader skips intermediate states but always sees the last.
// The channel closes when the observer closes.
func (o *Observer) Updates() <-chan State {
	return o.updates
}

func (o *Observer) Refetch(ctx context.Context) (State, error) {
	return o.cache.Refetch(ctx, o.key)
}

// Close releases the subscription. A fetch in flight keeps running and still
// updates the cache.
func (o *Observer) Close() {
	c := o.cache
	c.mu.Lock()
	defer c.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	delete(o.entry.observers, o)
	close(o.updates)
	c.scheduleGCLocked(o.entry)
}

func (o *Observer) pushLocked(s State) {
	if o.closed {
		return
	}
	select {
	case <-o.updates:
	default:
	}
	o.updates <- s
}
