package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultStaleTime = 30 * time.Minute
	DefaultGCTime    = 5 * time.Minute
)

var (
	ErrUnknownKey = errors.New("query: unknown key")
	ErrNoFetcher  = errors.New("query: no fetcher for key")
	ErrClosed     = errors.New("query: cache closed")
)

// Fetcher produces the data for one key. It runs detached from any
// subscriber and is cancelled only when the cache closes.
type Fetcher func(ctx context.Context) (any, error)

type Options struct {
	// StaleTime is how long a successful result is served without a new
	// fetch. Zero means DefaultStaleTime; negative means always stale.
	StaleTime time.Duration
	// GCTime is how long an unobserved entry is kept. Zero means DefaultGCTime.
	GCTime time.Duration
	Now    func() time.Time
	Logger *zap.Logger
}

// Cache owns every query result. All mutation happens under mu; fetch
// goroutines hand their results back and apply them under the same lock.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	staleTime time.Duration
	gcTime    time.Duration
	now       func() time.Time
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type entry struct {
	key         string
	fetcher     Fetcher
	state       State
	invalidated bool

	// seq is the last sequence number handed out, applied the one whose
	// write is visible. Results older than applied are dropped.
	seq     uint64
	applied uint64

	inflight  *call
	observers map[*Observer]struct{}
	gcTimer   *time.Timer
}

type call struct {
	seq   uint64
	done  chan struct{}
	state State
	err   error
}

func New(opts Options) *Cache {
	if opts.StaleTime == 0 {
		opts.StaleTime = DefaultStaleTime
	}
	if opts.GCTime <= 0 {
		opts.GCTime = DefaultGCTime
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		entries:   make(map[string]*entry),
		staleTime: opts.StaleTime,
		gcTime:    opts.GCTime,
		now:       opts.Now,
		logger:    opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Subscribe registers an observer for key. A missing or stale entry starts a
// fetch unless one is already in flight; a fresh entry is served as is.
// fetcher replaces the entry's previous fetcher when non-nil.
func (c *Cache) Subscribe(key string, fetcher Fetcher) *Observer {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(key, fetcher)
	o := &Observer{cache: c, key: key, entry: e, updates: make(chan State, 1)}
	e.observers[o] = struct{}{}
	c.stopGCLocked(e)

	if !c.freshLocked(e) && e.inflight == nil {
		c.startLocked(e)
	}
	o.pushLocked(e.state)
	return o
}

// Fetch returns the entry's state, fetching first when it is missing or stale.
func (c *Cache) Fetch(ctx context.Context, key string, fetcher Fetcher) (State, error) {
	c.mu.Lock()
	e := c.entryLocked(key, fetcher)
	if c.freshLocked(e) {
		s := e.state
		c.mu.Unlock()
		return s, nil
	}
	cl := e.inflight
	if cl == nil {
		cl = c.startLocked(e)
	}
	c.mu.Unlock()

	return c.wait(ctx, cl)
}

// Refetch forces a fetch of key regardless of staleness and waits for it.
// Callers arriving while a fetch is in flight join that fetch.
func (c *Cache) Refetch(ctx context.Context, key string) (State, error) {
	c.mu.Lock()
	cl, err := c.refetchLocked(key)
	c.mu.Unlock()
	if err != nil {
		return State{}, err
	}
	return c.wait(ctx, cl)
}

// RefetchAsync is Refetch without waiting. The returned channel closes when
// the (possibly shared) fetch has been applied.
func (c *Cache) RefetchAsync(key string) (<-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, err := c.refetchLocked(key)
	if err != nil {
		return nil, err
	}
	return cl.done, nil
}

// Invalidate marks key stale. Observed entries refetch immediately; others
// refetch on their next subscription.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.invalidated = true
	if len(e.observers) > 0 && e.inflight == nil {
		c.startLocked(e)
	}
}

// SetData writes data for key directly. A fetch already in flight for key
// will not overwrite it.
func (c *Cache) SetData(key string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(key, nil)
	e.seq++
	e.applied = e.seq
	e.invalidated = false
	e.state.Data = data
	e.state.Err = nil
	e.state.Status = StatusSuccess
	e.state.UpdatedAt = c.now()
	c.notifyLocked(e)
	c.scheduleGCLocked(e)
}

// GetState reads key without fetching.
func (c *Cache) GetState(key string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return State{}, false
	}
	return e.state, true
}

// Remove drops an idle entry. It reports false when key is missing, still
// observed or has a fetch in flight.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || len(e.observers) > 0 || e.inflight != nil {
		return false
	}
	c.stopGCLocked(e)
	delete(c.entries, key)
	return true
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close cancels in-flight fetches and waits for them to return.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	for _, e := range c.entries {
		c.stopGCLocked(e)
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Cache) entryLocked(key string, fetcher Fetcher) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key, observers: make(map[*Observer]struct{})}
		c.entries[key] = e
	}
	if fetcher != nil {
		e.fetcher = fetcher
	}
	return e
}

func (c *Cache) freshLocked(e *entry) bool {
	if !e.state.IsSuccess() || e.invalidated {
		return false
	}
	if c.staleTime < 0 {
		return false
	}
	return c.now().Sub(e.state.UpdatedAt) < c.staleTime
}

func (c *Cache) refetchLocked(key string) (*call, error) {
	e, ok := c.entries[key]
	if !ok {
		return nil, ErrUnknownKey
	}
	if e.inflight != nil {
		return e.inflight, nil
	}
	if c.closed {
		return nil, ErrClosed
	}
	return c.startLocked(e), nil
}

// startLocked launches the one fetch allowed for e.
func (c *Cache) startLocked(e *entry) *call {
	e.seq++
	cl := &call{seq: e.seq, done: make(chan struct{})}
	if c.closed {
		cl.state, cl.err = e.state, ErrClosed
		close(cl.done)
		return cl
	}

	e.inflight = cl
	e.state.IsFetching = true
	e.state.FetchCount++
	c.stopGCLocked(e)
	c.notifyLocked(e)

	c.logger.Debug("query fetch started", zap.String("key", e.key), zap.Uint64("seq", cl.seq))

	c.wg.Add(1)
	go c.run(e, cl, e.fetcher)
	return cl
}

func (c *Cache) run(e *entry, cl *call, fetch Fetcher) {
	defer c.wg.Done()

	var (
		data any
		err  error
	)
	if fetch == nil {
		err = ErrNoFetcher
	} else {
		data, err = fetch(c.ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(cl.done)

	if e.inflight == cl {
		e.inflight = nil
		e.state.IsFetching = false
	}
	cl.err = err

	if c.entries[e.key] != e || cl.seq < e.applied {
		c.logger.Debug("query result discarded",
			zap.String("key", e.key),
			zap.Uint64("seq", cl.seq),
			zap.Uint64("applied", e.applied))
		cl.state = e.state
		c.notifyLocked(e)
		c.scheduleGCLocked(e)
		return
	}

	now := c.now()
	if err != nil {
		e.state.Status = StatusError
		e.state.Err = err
		e.state.ErrorAt = now
		c.logger.Debug("query fetch failed", zap.String("key", e.key), zap.Error(err))
	} else {
		e.state.Status = StatusSuccess
		e.state.Data = data
		e.state.Err = nil
		e.state.UpdatedAt = now
		e.invalidated = false
	}
	e.applied = cl.seq
	cl.state = e.state

	c.notifyLocked(e)
	c.scheduleGCLocked(e)
}

func (c *Cache) wait(ctx context.Context, cl *call) (State, error) {
	select {
	case <-cl.done:
		return cl.state, cl.err
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

func (c *Cache) notifyLocked(e *entry) {
	for o := range e.observers {
		o.pushLocked(e.state)
	}
}

func (c *Cache) scheduleGCLocked(e *entry) {
	if c.closed || len(e.observers) > 0 || e.inflight != nil || e.gcTimer != nil {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(c.gcTime, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if e.gcTimer != t {
			return
		}
		e.gcTimer = nil
		if c.entries[e.key] == e && len(e.observers) == 0 && e.inflight == nil {
			delete(c.entries, e.key)
			c.logger.Debug("query evicted", zap.String("key", e.key))
		}
	})
	e.gcTimer = t
}

func (c *Cache) stopGCLocked(e *entry) {
	if e.gcTimer != nil {
		e.gcTimer.Stop()
		e.gcTimer = nil
	}
}
