package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSimpleStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewInMemory(ctx, WithExpiryCheck(time.Second))
	assert.NoError(t, store.Close(ctx))
	cancel()
}

func TestSetGetStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	found, val, err := store.Get(ctx, "test")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
	_, err = store.Set(ctx, "test", "value", time.Millisecond*10)
	assert.NoError(t, err)
	found, val, err = store.Get(ctx, "test")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value", val)
	ok, hits := store.Hits(ctx, "test")
	assert.True(t, ok)
	assert.Equal(t, 1, hits)
	time.Sleep(time.Millisecond * 11)
	found, val, err = store.Get(ctx, "test")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
	ok, hits = store.Hits(ctx, "test")
	assert.False(t, ok)
	assert.Equal(t, 0, hits)
	store.Close(ctx)
	cancel()
}

func TestStoreBackgroundExpire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewInMemory(ctx, WithExpiryCheck(time.Millisecond*100))
	_, err := store.Set(ctx, "test", "value", 90*time.Millisecond)
	assert.NoError(t, err)
	time.Sleep(time.Millisecond * 250)
	s := store.(*inMemoryStore)
	s.mutex.Lock()
	assert.Empty(t, s.entries)
	s.mutex.Unlock()
	store.Close(ctx)
	cancel()
}

func TestStoreRevisions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	rev1, err := store.Set(ctx, "test", "a", time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), rev1)
	rev2, err := store.Set(ctx, "test", "b", time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, uint64(2), rev2)

	// A write carrying an older revision than the current one is rejected.
	written, rev, err := store.SetIfNewer(ctx, "test", "stale", time.Minute, rev1)
	assert.NoError(t, err)
	assert.False(t, written)
	assert.Equal(t, uint64(2), rev)
	found, val, _ := store.Get(ctx, "test")
	assert.True(t, found)
	assert.Equal(t, "b", val)

	written, rev, err = store.SetIfNewer(ctx, "test", "newer", time.Minute, rev2)
	assert.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, uint64(3), rev)
	found, val, _ = store.Get(ctx, "test")
	assert.True(t, found)
	assert.Equal(t, "newer", val)
	store.Close(ctx)
	cancel()
}

func TestStoreUpdate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	_, err := store.Set(ctx, "count", 1, time.Minute)
	assert.NoError(t, err)
	rev, err := store.Update(ctx, "count", func(old any, found bool) (any, bool) {
		assert.True(t, found)
		return old.(int) + 1, true
	})
	assert.NoError(t, err)
	assert.Equal(t, uint64(2), rev)
	found, val, _ := store.Get(ctx, "count")
	assert.True(t, found)
	assert.Equal(t, 2, val)

	// Declining the write leaves the value and revision untouched.
	rev, err = store.Update(ctx, "count", func(old any, found bool) (any, bool) {
		return nil, false
	})
	assert.NoError(t, err)
	assert.Equal(t, uint64(2), rev)
	found, val, _ = store.Get(ctx, "count")
	assert.True(t, found)
	assert.Equal(t, 2, val)

	rev, err = store.Update(ctx, "fresh", func(old any, found bool) (any, bool) {
		assert.False(t, found)
		assert.Nil(t, old)
		return "created", true
	})
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), rev)
	found, val, _ = store.Get(ctx, "fresh")
	assert.True(t, found)
	assert.Equal(t, "created", val)
	store.Close(ctx)
	cancel()
}

func TestStoreInvalidate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	_, err := store.Set(ctx, "test", "value", time.Minute)
	assert.NoError(t, err)
	ok, err := store.Invalidate(ctx, "test")
	assert.NoError(t, err)
	assert.True(t, ok)

	// Get treats stale as a miss; Entry still hands back the value.
	found, val, _ := store.Get(ctx, "test")
	assert.False(t, found)
	assert.Nil(t, val)
	found, ent, err := store.Entry(ctx, "test")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.True(t, ent.Stale)
	assert.Equal(t, "value", ent.Value)

	_, err = store.Set(ctx, "test", "fresh", time.Minute)
	assert.NoError(t, err)
	found, val, _ = store.Get(ctx, "test")
	assert.True(t, found)
	assert.Equal(t, "fresh", val)

	ok, err = store.Invalidate(ctx, "missing")
	assert.NoError(t, err)
	assert.False(t, ok)
	store.Close(ctx)
	cancel()
}

func TestStoreSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	var mu sync.Mutex
	var events []Event
	cancelSub := store.Subscribe("test", func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	_, err := store.Set(ctx, "test", "value", time.Minute)
	assert.NoError(t, err)
	_, err = store.Invalidate(ctx, "test")
	assert.NoError(t, err)
	_, err = store.Remove(ctx, "test")
	assert.NoError(t, err)
	_, err = store.Set(ctx, "other", "value", time.Minute)
	assert.NoError(t, err)

	mu.Lock()
	assert.Len(t, events, 3)
	assert.Equal(t, EventSet, events[0].Kind)
	assert.Equal(t, "value", events[0].Value)
	assert.Equal(t, uint64(1), events[0].Revision)
	assert.Equal(t, EventInvalidated, events[1].Kind)
	assert.Equal(t, EventRemoved, events[2].Kind)
	mu.Unlock()

	cancelSub()
	_, err = store.Set(ctx, "test", "again", time.Minute)
	assert.NoError(t, err)
	mu.Lock()
	assert.Len(t, events, 3)
	mu.Unlock()
	store.Close(ctx)
	cancel()
}

func TestStoreInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewInMemory(ctx, WithExpiryCheck(time.Minute))

	fetchCtx, ok := store.TrackFetch("test")
	assert.True(t, ok)
	assert.NotNil(t, fetchCtx)
	assert.True(t, store.InFlight("test"))

	// A second fetch for the same key is refused while the first runs.
	_, ok = store.TrackFetch("test")
	assert.False(t, ok)

	store.FetchDone("test")
	assert.False(t, store.InFlight("test"))
	assert.Error(t, fetchCtx.Err())

	fetchCtx, ok = store.TrackFetch("test")
	assert.True(t, ok)
	store.CancelFetch("test", "unknown")
	assert.False(t, store.InFlight("test"))
	assert.Error(t, fetchCtx.Err())
	store.Close(ctx)
	cancel()
}

func TestStoreClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	assert.NoError(t, store.Close(ctx))
	_, err := store.Set(ctx, "test", "value", time.Minute)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = store.Update(ctx, "test", func(old any, found bool) (any, bool) { return "x", true })
	assert.ErrorIs(t, err, ErrClosed)
	_, ok := store.TrackFetch("test")
	assert.False(t, ok)
	cancel()
}

// slowPersister stalls every Load so tests can hold a snapshot query open.
type slowPersister struct {
	delay time.Duration

	mu   sync.Mutex
	data map[string][]byte
}

func (p *slowPersister) Load(ctx context.Context, key string) (bool, []byte, error) {
	select {
	case <-ctx.Done():
		return false, nil, ctx.Err()
	case <-time.After(p.delay):
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.data[key]
	return ok, data, nil
}

func (p *slowPersister) Save(_ context.Context, key string, data []byte, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data == nil {
		p.data = make(map[string][]byte)
	}
	p.data[key] = data
	return nil
}

func (p *slowPersister) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.data, key)
	return nil
}

func (p *slowPersister) Close(_ context.Context) error { return nil }

func TestSlowSnapshotLoadDoesNotBlockOtherKeys(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &slowPersister{delay: 200 * time.Millisecond}
	assert.NoError(t, p.Save(ctx, "cold", []byte("pickled"), time.Now().Add(time.Minute)))
	store := NewInMemory(ctx, WithExpiryCheck(time.Minute), WithPersister(p), WithQueryTimeout(time.Second))
	defer store.Close(ctx)

	coldDone := make(chan struct{})
	go func() {
		defer close(coldDone)
		found, val, err := store.Get(ctx, "cold")
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("pickled"), val)
	}()
	// Let the cold read enter the snapshot query.
	time.Sleep(20 * time.Millisecond)

	// Reads and writes of other keys complete while the query is still out.
	start := time.Now()
	_, err := store.Set(ctx, "hot", "soup", time.Minute)
	assert.NoError(t, err)
	found, val, err := store.Get(ctx, "hot")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "soup", val)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	<-coldDone
}

func TestLiveWriteWinsOverSnapshotLoad(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &slowPersister{delay: 100 * time.Millisecond}
	assert.NoError(t, p.Save(ctx, "dinner", []byte("snapshot"), time.Now().Add(time.Minute)))
	store := NewInMemory(ctx, WithExpiryCheck(time.Minute), WithPersister(p), WithQueryTimeout(time.Second))
	defer store.Close(ctx)

	coldDone := make(chan struct{})
	go func() {
		defer close(coldDone)
		found, val, err := store.Get(ctx, "dinner")
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "fresh", val)
	}()
	time.Sleep(20 * time.Millisecond)

	// The write lands while the snapshot query is out; the snapshot must not
	// clobber it.
	_, err := store.Set(ctx, "dinner", "fresh", time.Minute)
	assert.NoError(t, err)

	<-coldDone
	found, val, err := store.Get(ctx, "dinner")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "fresh", val)
}

func TestEntryDoesNotCountHits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	_, err := store.Set(ctx, "test", "value", time.Minute)
	assert.NoError(t, err)

	found, ent, err := store.Entry(ctx, "test")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value", ent.Value)
	ok, hits := store.Hits(ctx, "test")
	assert.True(t, ok)
	assert.Equal(t, 0, hits)

	// A stale entry read through Entry does not count either.
	_, err = store.Invalidate(ctx, "test")
	assert.NoError(t, err)
	_, _, err = store.Entry(ctx, "test")
	assert.NoError(t, err)
	ok, hits = store.Hits(ctx, "test")
	assert.True(t, ok)
	assert.Equal(t, 0, hits)

	// Get is what counts a hit.
	_, err = store.Set(ctx, "test", "value", time.Minute)
	assert.NoError(t, err)
	_, _, err = store.Get(ctx, "test")
	assert.NoError(t, err)
	ok, hits = store.Hits(ctx, "test")
	assert.True(t, ok)
	assert.Equal(t, 1, hits)
	store.Close(ctx)
	cancel()
}

func TestTypedGet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	type payload struct {
		Name string `msgpack:"name"`
	}
	_, err := store.Set(ctx, "typed", payload{Name: "bread"}, time.Minute)
	assert.NoError(t, err)
	found, val, err := Get[payload](ctx, store, "typed")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "bread", val.Name)

	found, _, err = Get[payload](ctx, store, "missing")
	assert.NoError(t, err)
	assert.False(t, found)
	store.Close(ctx)
	cancel()
}
