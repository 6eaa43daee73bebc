package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_BasicGetPut(t *testing.T) {
	c := New[string](10, time.Minute)

	_, ok := c.Get(Key("OVERVIEW", "AAPL"))
	assert.False(t, ok)

	c.Put(Key("OVERVIEW", "AAPL"), "payload")
	v, ok := c.Get(Key("OVERVIEW", "AAPL"))
	assert.True(t, ok)
	assert.Equal(t, "payload", v)
}

func TestCache_TTLExpiration(t *testing.T) {
	c := New[string](10, 50*time.Millisecond)

	c.Put("k", "v")
	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(80 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestCache_LRUEviction(t *testing.T) {
	c := New[int](2, time.Minute)

	c.Put("a", 1)
	c.Put("b", 2)
	_, _ = c.Get("a")
	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCache_Stats(t *testing.T) {
	c := New[int](5, time.Minute)
	var observed atomic.Int64
	c.OnLookup = func(bool) { observed.Add(1) }

	c.Put("a", 1)
	_, _ = c.Get("a")
	_, _ = c.Get("a")
	_, _ = c.Get("missing")

	s := c.Stats()
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 0.667, s.HitRate, 0.001)
	assert.Equal(t, 1, s.Entries)
	assert.Equal(t, 5, s.MaxEntries)
	assert.Equal(t, int64(3), observed.Load())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestCache_GetOrLoad_SingleLoad(t *testing.T) {
	c := New[string](10, time.Minute)
	var loads atomic.Int64
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]string, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "quote|MSFT", func(_ context.Context) (string, error) {
				loads.Add(1)
				<-release
				return "412.30", nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, loads.Load(), int64(2))
	for _, r := range results {
		assert.Equal(t, "412.30", r)
	}
	v, ok := c.Get("quote|MSFT")
	assert.True(t, ok)
	assert.Equal(t, "412.30", v)
}

func TestCache_GetOrLoad_ErrorsNotCached(t *testing.T) {
	c := New[string](10, time.Minute)
	calls := 0
	load := func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("rate limited")
		}
		return "ok", nil
	}

	_, err := c.GetOrLoad(context.Background(), "k", load)
	require.Error(t, err)
	v, err := c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
}

func TestCache_GetOrLoad_FirstCallerCancelDoesNotFailWaiters(t *testing.T) {
	c := New[string](10, time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	var loadErr atomic.Value

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(first, "quote|AAPL", func(ctx context.Context) (string, error) {
			close(started)
			<-release
			if err := ctx.Err(); err != nil {
				loadErr.Store(err)
				return "", err
			}
			return "231.40", nil
		})
		firstDone <- err
	}()
	<-started

	waiterDone := make(chan string, 1)
	go func() {
		v, err := c.GetOrLoad(context.Background(), "quote|AAPL", func(context.Context) (string, error) {
			return "", errors.New("second load must not run")
		})
		assert.NoError(t, err)
		waiterDone <- v
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstDone, context.Canceled)

	close(release)
	assert.Equal(t, "231.40", <-waiterDone)
	assert.Nil(t, loadErr.Load())

	v, ok := c.Get("quote|AAPL")
	assert.True(t, ok)
	assert.Equal(t, "231.40", v)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int](50, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c.Put(fmt.Sprintf("k%d", i%70), i)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, _ = c.Get(fmt.Sprintf("k%d", i%70))
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
}

func TestNew_Defaults(t *testing.T) {
	c := New[int](0, 0)
	assert.Equal(t, 100, c.Stats().MaxEntries)
}
