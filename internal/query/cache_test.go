package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// countingFetcher returns the next value from values (repeating the last one)
// and counts calls. When gate is non-nil each call blocks until it receives.
type countingFetcher struct {
	calls  atomic.Int32
	values []any
	err    error
	gate   chan struct{}
}

func (f *countingFetcher) Fetch(ctx context.Context) (any, error) {
	n := int(f.calls.Add(1))
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if n > len(f.values) {
		n = len(f.values)
	}
	return f.values[n-1], nil
}

func newTestCache(t *testing.T, clock *fakeClock) *Cache {
	t.Helper()
	opts := Options{}
	if clock != nil {
		opts.Now = clock.Now
	}
	c := New(opts)
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, o *Observer, pred func(State) bool) State {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s, ok := <-o.Updates():
			require.True(t, ok, "updates closed before condition was met")
			if pred(s) {
				return s
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state on %s", o.Key())
		}
	}
}

func settled(s State) bool { return !s.IsFetching && !s.IsPending() }

func TestSubscribeFirstFetch(t *testing.T) {
	c := newTestCache(t, nil)
	f := &countingFetcher{values: []any{"titles"}, gate: make(chan struct{})}

	o := c.Subscribe("mdx-popular-titles", f.Fetch)
	defer o.Close()

	first := <-o.Updates()
	assert.True(t, first.IsFetching)
	assert.True(t, first.IsLoading())
	assert.False(t, first.IsSuccess())

	close(f.gate)
	s := waitFor(t, o, settled)
	assert.True(t, s.IsSuccess())
	assert.False(t, s.IsFetching)
	assert.Equal(t, "titles", s.Data)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestSubscribeTwiceWithinStaleWindowFetchesOnce(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	f := &countingFetcher{values: []any{"titles"}}

	o1 := c.Subscribe("mdx-popular-titles", f.Fetch)
	waitFor(t, o1, settled)
	o1.Close()

	clock.Advance(29 * time.Minute)

	o2 := c.Subscribe("mdx-popular-titles", f.Fetch)
	defer o2.Close()
	s := <-o2.Updates()
	assert.True(t, s.IsSuccess())
	assert.False(t, s.IsFetching)
	assert.Equal(t, "titles", s.Data)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestSubscribeWhileFetchingJoins(t *testing.T) {
	c := newTestCache(t, nil)
	f := &countingFetcher{values: []any{"titles"}, gate: make(chan struct{})}

	o1 := c.Subscribe("k", f.Fetch)
	defer o1.Close()
	o2 := c.Subscribe("k", f.Fetch)
	defer o2.Close()

	close(f.gate)
	waitFor(t, o1, settled)
	waitFor(t, o2, settled)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestStaleEntryServesCachedDataAndRefetches(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	f := &countingFetcher{values: []any{"old", "new"}}

	o1 := c.Subscribe("k", f.Fetch)
	waitFor(t, o1, settled)
	o1.Close()

	clock.Advance(31 * time.Minute)
	f.gate = make(chan struct{})

	o2 := c.Subscribe("k", f.Fetch)
	defer o2.Close()
	s := <-o2.Updates()
	assert.True(t, s.IsSuccess())
	assert.True(t, s.IsFetching)
	assert.Equal(t, "old", s.Data)

	close(f.gate)

	s = waitFor(t, o2, settled)
	assert.Equal(t, "new", s.Data)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestRefetchIgnoresStaleness(t *testing.T) {
	c := newTestCache(t, nil)
	f := &countingFetcher{values: []any{"v1", "v2"}}

	o := c.Subscribe("k", f.Fetch)
	defer o.Close()
	waitFor(t, o, settled)

	s, err := o.Refetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v2", s.Data)
	assert.Equal(t, 2, s.FetchCount)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestConcurrentRefetchSingleInFlight(t *testing.T) {
	c := newTestCache(t, nil)
	f := &countingFetcher{values: []any{"v1", "v2", "v3"}}

	o := c.Subscribe("k", f.Fetch)
	defer o.Close()
	waitFor(t, o, settled)

	f.gate = make(chan struct{})

	const callers = 16
	dones := make([]<-chan struct{}, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			done, err := c.RefetchAsync("k")
			assert.NoError(t, err)
			dones[i] = done
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Equal(t, dones[0], dones[i], "caller %d started its own fetch", i)
	}
	assert.True(t, o.State().IsFetching)

	close(f.gate)
	<-dones[0]

	s := o.State()
	assert.False(t, s.IsFetching)
	assert.Equal(t, "v2", s.Data)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestConcurrentBlockingRefetchJoins(t *testing.T) {
	c := newTestCache(t, nil)
	f := &countingFetcher{values: []any{"v1", "v2"}}

	o := c.Subscribe("k", f.Fetch)
	defer o.Close()
	waitFor(t, o, settled)

	f.gate = make(chan struct{})
	done, err := c.RefetchAsync("k")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := o.Refetch(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "v2", s.Data)
		}()
	}

	close(f.gate)
	<-done
	wg.Wait()
	assert.False(t, o.State().IsFetching)
}

func TestFetchErrorSurfacesAsErrorState(t *testing.T) {
	c := newTestCache(t, nil)
	boom := errors.New("transport unavailable")
	f := &countingFetcher{err: boom}

	o := c.Subscribe("k", f.Fetch)
	defer o.Close()

	s := waitFor(t, o, func(s State) bool { return !s.IsFetching && s.IsError() })
	assert.False(t, s.IsSuccess())
	assert.ErrorIs(t, s.Err, boom)

	_, err := o.Refetch(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestErrorKeepsPreviousData(t *testing.T) {
	c := newTestCache(t, nil)
	f := &countingFetcher{values: []any{"v1"}}

	o := c.Subscribe("k", f.Fetch)
	defer o.Close()
	waitFor(t, o, settled)

	f.err = errors.New("backend error")
	s, err := o.Refetch(context.Background())
	require.Error(t, err)
	assert.True(t, s.IsError())
	assert.Equal(t, "v1", s.Data)
}

func TestOlderResultDoesNotOverwriteNewerWrite(t *testing.T) {
	c := newTestCache(t, nil)
	f := &countingFetcher{values: []any{"from-fetch"}, gate: make(chan struct{})}

	o := c.Subscribe("k", f.Fetch)
	defer o.Close()

	c.SetData("k", "written-later")
	close(f.gate)

	s := waitFor(t, o, func(s State) bool { return !s.IsFetching })
	assert.Equal(t, "written-later", s.Data)
	assert.True(t, s.IsSuccess())
}

func TestClosingObserverMidFetchStillUpdatesCache(t *testing.T) {
	c := newTestCache(t, nil)
	f := &countingFetcher{values: []any{"v1"}, gate: make(chan struct{})}

	o := c.Subscribe("k", f.Fetch)
	o.Close()
	_, open := <-o.Updates()
	for open {
		_, open = <-o.Updates()
	}

	done, err := c.RefetchAsync("k")
	require.NoError(t, err)
	close(f.gate)
	<-done

	s, ok := c.GetState("k")
	require.True(t, ok)
	assert.True(t, s.IsSuccess())
	assert.Equal(t, "v1", s.Data)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestInvalidateRefetchesObservedEntry(t *testing.T) {
	c := newTestCache(t, nil)
	f := &countingFetcher{values: []any{"v1", "v2"}}

	o := c.Subscribe("k", f.Fetch)
	defer o.Close()
	waitFor(t, o, settled)

	c.Invalidate("k")
	s := waitFor(t, o, func(s State) bool { return settled(s) && s.Data == "v2" })
	assert.Equal(t, 2, s.FetchCount)
}

func TestFetchServesFreshAndWaitsOtherwise(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	f := &countingFetcher{values: []any{"v1", "v2"}}
	ctx := context.Background()

	s, err := c.Fetch(ctx, "k", f.Fetch)
	require.NoError(t, err)
	assert.Equal(t, "v1", s.Data)

	s, err = c.Fetch(ctx, "k", f.Fetch)
	require.NoError(t, err)
	assert.Equal(t, "v1", s.Data)
	assert.Equal(t, int32(1), f.calls.Load())

	clock.Advance(time.Hour)
	s, err = c.Fetch(ctx, "k", f.Fetch)
	require.NoError(t, err)
	assert.Equal(t, "v2", s.Data)
}

func TestRefetchUnknownKey(t *testing.T) {
	c := newTestCache(t, nil)
	_, err := c.Refetch(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestUnobservedEntryIsEvicted(t *testing.T) {
	c := New(Options{GCTime: 20 * time.Millisecond})
	defer c.Close()
	f := &countingFetcher{values: []any{"v1"}}

	o := c.Subscribe("k", f.Fetch)
	waitFor(t, o, settled)
	o.Close()

	require.Eventually(t, func() bool {
		_, ok := c.GetState("k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestObservedEntryIsNotEvicted(t *testing.T) {
	c := New(Options{GCTime: 10 * time.Millisecond})
	defer c.Close()
	f := &countingFetcher{values: []any{"v1"}}

	o := c.Subscribe("k", f.Fetch)
	defer o.Close()
	waitFor(t, o, settled)

	time.Sleep(50 * time.Millisecond)
	_, ok := c.GetState("k")
	assert.True(t, ok)
	assert.False(t, c.Remove("k"))
}

func TestRemoveKeepsEntryWithFetchInFlight(t *testing.T) {
	c := newTestCache(t, nil)
	f := &countingFetcher{values: []any{"v1"}, gate: make(chan struct{})}

	o := c.Subscribe("k", f.Fetch)
	o.Close()

	assert.False(t, c.Remove("k"))

	o2 := c.Subscribe("k", f.Fetch)
	defer o2.Close()
	assert.True(t, o2.State().IsFetching)
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	f.gate <- struct{}{}
	s := waitFor(t, o2, settled)
	assert.Equal(t, "v1", s.Data)
	assert.Equal(t, int32(1), f.calls.Load())

	o2.Close()
	assert.True(t, c.Remove("k"))
}

func TestCloseCancelsInFlightFetch(t *testing.T) {
	c := New(Options{})
	f := &countingFetcher{values: []any{"v1"}, gate: make(chan struct{})}

	o := c.Subscribe("k", f.Fetch)
	defer o.Close()

	c.Close()
	_, err := c.RefetchAsync("k")
	assert.ErrorIs(t, err, ErrClosed)
}
