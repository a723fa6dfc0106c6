package cache

import (
	"context"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type entryRecord struct {
	object   any
	revision uint64
	stale    bool
	expires  time.Time
	hits     int
}

type inMemoryStore struct {
	ctx       context.Context
	cancel    context.CancelFunc
	mutex     sync.Mutex
	entries   map[string]*entryRecord
	subs      map[string]map[uint64]func(Event)
	nextSub   uint64
	inflight  map[string]context.CancelFunc
	closed    bool
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Store = (*inMemoryStore)(nil)

// NewInMemory returns a new in-memory Store implementation.
func NewInMemory(parent context.Context, opts ...Option) Store {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	s := &inMemoryStore{
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[string]*entryRecord),
		subs:     make(map[string]map[uint64]func(Event)),
		inflight: make(map[string]context.CancelFunc),
		cfg:      cfg,
	}
	s.waitGroup.Add(1)
	go s.run()
	return s
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (bool, any, error) {
	s.mutex.Lock()
	rec, ok := s.lookupLocked(key)
	if !ok {
		s.mutex.Unlock()
		if !s.restore(ctx, key) {
			return false, nil, nil
		}
		s.mutex.Lock()
		rec, ok = s.lookupLocked(key)
		if !ok {
			s.mutex.Unlock()
			return false, nil, nil
		}
	}
	if rec.stale {
		s.mutex.Unlock()
		return false, nil, nil
	}
	rec.hits++
	val := rec.object
	s.mutex.Unlock()
	return true, val, nil
}

func (s *inMemoryStore) Entry(ctx context.Context, key string) (bool, Entry, error) {
	s.mutex.Lock()
	rec, ok := s.lookupLocked(key)
	if !ok {
		s.mutex.Unlock()
		if !s.restore(ctx, key) {
			return false, Entry{}, nil
		}
		s.mutex.Lock()
		rec, ok = s.lookupLocked(key)
		if !ok {
			s.mutex.Unlock()
			return false, Entry{}, nil
		}
	}
	ent := Entry{Value: rec.object, Revision: rec.revision, Stale: rec.stale, Expires: rec.expires}
	s.mutex.Unlock()
	return true, ent, nil
}

// lookupLocked resolves key against the map, dropping it if expired. Caller
// holds the mutex.
func (s *inMemoryStore) lookupLocked(key string) (*entryRecord, bool) {
	rec, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if rec.expires.Before(time.Now()) {
		delete(s.entries, key)
		return nil, false
	}
	return rec, true
}

// restore warms a missing key from the persister. The snapshot query runs
// outside the store lock so a slow load cannot stall reads of other keys. A
// live write that lands while the query is out wins over the snapshot.
func (s *inMemoryStore) restore(ctx context.Context, key string) bool {
	if s.cfg.persister == nil {
		return false
	}
	qctx, cancelQuery := context.WithTimeout(ctx, s.cfg.queryTimeout)
	found, data, err := s.cfg.persister.Load(qctx, key)
	cancelQuery()
	if err != nil || !found {
		return false
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return false
	}
	if _, ok := s.lookupLocked(key); ok {
		return true
	}
	// A restored snapshot is immediately usable but starts at revision 1 so
	// any live write supersedes it.
	s.entries[key] = &entryRecord{
		object:   data,
		revision: 1,
		expires:  time.Now().Add(s.cfg.defaultExpires),
	}
	return true
}

func (s *inMemoryStore) Set(ctx context.Context, key string, val any, expires time.Duration) (uint64, error) {
	_, rev, err := s.write(ctx, key, val, expires, 0, false)
	return rev, err
}

func (s *inMemoryStore) SetIfNewer(ctx context.Context, key string, val any, expires time.Duration, seen uint64) (bool, uint64, error) {
	return s.write(ctx, key, val, expires, seen, true)
}

func (s *inMemoryStore) write(ctx context.Context, key string, val any, expires time.Duration, seen uint64, guarded bool) (bool, uint64, error) {
	if expires <= 0 {
		expires = s.cfg.defaultExpires
	}
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return false, 0, ErrClosed
	}
	rec, ok := s.entries[key]
	if ok && guarded && seen < rec.revision {
		rev := rec.revision
		s.mutex.Unlock()
		return false, rev, nil
	}
	if !ok {
		rec = &entryRecord{}
		s.entries[key] = rec
	}
	rec.object = val
	rec.revision++
	rec.stale = false
	rec.hits = 0
	rec.expires = time.Now().Add(expires)
	rev := rec.revision
	expiresAt := rec.expires
	s.mutex.Unlock()

	s.persist(ctx, key, val, expiresAt)
	s.notify(key, Event{Key: key, Kind: EventSet, Value: val, Revision: rev})
	return true, rev, nil
}

func (s *inMemoryStore) Update(ctx context.Context, key string, fn func(old any, found bool) (any, bool)) (uint64, error) {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return 0, ErrClosed
	}
	rec, ok := s.lookupLocked(key)
	if !ok {
		s.mutex.Unlock()
		restored := s.restore(ctx, key)
		s.mutex.Lock()
		if s.closed {
			s.mutex.Unlock()
			return 0, ErrClosed
		}
		if restored {
			rec, ok = s.lookupLocked(key)
		}
	}
	var old any
	if ok {
		old = rec.object
	}
	next, write := fn(old, ok)
	if !write {
		var rev uint64
		if ok {
			rev = rec.revision
		}
		s.mutex.Unlock()
		return rev, nil
	}
	if !ok {
		rec = &entryRecord{expires: time.Now().Add(s.cfg.defaultExpires)}
		s.entries[key] = rec
	}
	rec.object = next
	rec.revision++
	rec.stale = false
	rev := rec.revision
	expires := rec.expires
	s.mutex.Unlock()

	s.persist(ctx, key, next, expires)
	s.notify(key, Event{Key: key, Kind: EventSet, Value: next, Revision: rev})
	return rev, nil
}

func (s *inMemoryStore) Invalidate(ctx context.Context, key string) (bool, error) {
	s.mutex.Lock()
	rec, ok := s.lookupLocked(key)
	if !ok {
		s.mutex.Unlock()
		if !s.restore(ctx, key) {
			return false, nil
		}
		s.mutex.Lock()
		rec, ok = s.lookupLocked(key)
		if !ok {
			s.mutex.Unlock()
			return false, nil
		}
	}
	rec.stale = true
	rev := rec.revision
	s.mutex.Unlock()

	s.notify(key, Event{Key: key, Kind: EventInvalidated, Revision: rev})
	return true, nil
}

func (s *inMemoryStore) Remove(ctx context.Context, key string) (bool, error) {
	s.mutex.Lock()
	_, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.mutex.Unlock()

	if s.cfg.persister != nil {
		qctx, cancelQuery := context.WithTimeout(ctx, s.cfg.queryTimeout)
		_ = s.cfg.persister.Delete(qctx, key)
		cancelQuery()
	}
	if ok {
		s.notify(key, Event{Key: key, Kind: EventRemoved})
	}
	return ok, nil
}

func (s *inMemoryStore) Hits(_ context.Context, key string) (bool, int) {
	s.mutex.Lock()
	var val int
	var found bool
	if rec, ok := s.entries[key]; ok {
		val = rec.hits
		found = true
	}
	s.mutex.Unlock()
	return found, val
}

func (s *inMemoryStore) Subscribe(key string, fn func(Event)) func() {
	s.mutex.Lock()
	id := s.nextSub
	s.nextSub++
	if s.subs[key] == nil {
		s.subs[key] = make(map[uint64]func(Event))
	}
	s.subs[key][id] = fn
	s.mutex.Unlock()

	return func() {
		s.mutex.Lock()
		if subs, ok := s.subs[key]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(s.subs, key)
			}
		}
		s.mutex.Unlock()
	}
}

// notify delivers an event to key subscribers outside the store lock so a
// subscriber can read back through the store without deadlocking.
func (s *inMemoryStore) notify(key string, ev Event) {
	s.mutex.Lock()
	fns := make([]func(Event), 0, len(s.subs[key]))
	for _, fn := range s.subs[key] {
		fns = append(fns, fn)
	}
	s.mutex.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// persist mirrors a write to the persister, best-effort. Values that cannot
// be msgpack-encoded are simply not persisted.
func (s *inMemoryStore) persist(ctx context.Context, key string, val any, expires time.Time) {
	if s.cfg.persister == nil {
		return
	}
	data, ok := val.([]byte)
	if !ok {
		var err error
		data, err = msgpack.Marshal(val)
		if err != nil {
			return
		}
	}
	qctx, cancelQuery := context.WithTimeout(ctx, s.cfg.queryTimeout)
	_ = s.cfg.persister.Save(qctx, key, data, expires)
	cancelQuery()
}

func (s *inMemoryStore) TrackFetch(key string) (context.Context, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil, false
	}
	if _, ok := s.inflight[key]; ok {
		return nil, false
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.inflight[key] = cancel
	return ctx, true
}

func (s *inMemoryStore) FetchDone(key string) {
	s.mutex.Lock()
	cancel, ok := s.inflight[key]
	if ok {
		delete(s.inflight, key)
	}
	s.mutex.Unlock()
	if ok {
		cancel()
	}
}

func (s *inMemoryStore) CancelFetch(keys ...string) {
	s.mutex.Lock()
	cancels := make([]context.CancelFunc, 0, len(keys))
	for _, key := range keys {
		if cancel, ok := s.inflight[key]; ok {
			cancels = append(cancels, cancel)
			delete(s.inflight, key)
		}
	}
	s.mutex.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (s *inMemoryStore) InFlight(key string) bool {
	s.mutex.Lock()
	_, ok := s.inflight[key]
	s.mutex.Unlock()
	return ok
}

func (s *inMemoryStore) Close(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.mutex.Lock()
		s.closed = true
		for key, cancel := range s.inflight {
			cancel()
			delete(s.inflight, key)
		}
		s.mutex.Unlock()
		s.cancel()
		s.waitGroup.Wait()
		if s.cfg.persister != nil {
			err = s.cfg.persister.Close(ctx)
		}
	})
	return err
}

func (s *inMemoryStore) run() {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(s.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.mutex.Lock()
			var removed []string
			for key, rec := range s.entries {
				if rec.expires.Before(now) {
					delete(s.entries, key)
					removed = append(removed, key)
				}
			}
			s.mutex.Unlock()
			for _, key := range removed {
				s.notify(key, Event{Key: key, Kind: EventRemoved})
			}
		}
	}
}
