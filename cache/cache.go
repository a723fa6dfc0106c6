package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("cache: store is closed")

// Entry is a cached value together with its synchronization metadata.
type Entry struct {
	// Value is the cached object as stored. Persister-loaded values are raw
	// msgpack []byte; use Get or Fetch for typed access.
	Value any
	// Revision increases monotonically per key on every accepted write.
	Revision uint64
	// Stale marks an entry that has been invalidated but whose value is kept
	// for display until a refetch replaces it.
	Stale   bool
	Expires time.Time
}

// EventKind classifies a change notification.
type EventKind int

const (
	// EventSet fires when a key's value is written or patched.
	EventSet EventKind = iota
	// EventInvalidated fires when a key is marked stale.
	EventInvalidated
	// EventRemoved fires when a key is removed, explicitly or by expiry.
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventSet:
		return "set"
	case EventInvalidated:
		return "invalidated"
	case EventRemoved:
		return "removed"
	}
	return "unknown"
}

// Event is delivered to key subscribers on every change to that key.
type Event struct {
	Key      string
	Kind     EventKind
	Value    any
	Revision uint64
}

// Store is a key-addressed cache with per-key revisions, staleness marking,
// change subscription, and in-flight fetch tracking. It is the single shared
// mutable resource of the synchronization layer; all components read and
// patch through it and never hold copies across an asynchronous boundary.
type Store interface {
	// Get returns the value for key when it is present, fresh, and not
	// marked stale.
	Get(ctx context.Context, key string) (bool, any, error)

	// Entry returns the full entry for key, including stale entries, so a
	// caller can show stale data while a refetch is in flight.
	Entry(ctx context.Context, key string) (bool, Entry, error)

	// Set stores a value with a TTL and returns the key's new revision.
	// If expires <= 0, the store's configured default TTL is used.
	Set(ctx context.Context, key string, val any, expires time.Duration) (uint64, error)

	// SetIfNewer stores a value only if seen is at least the key's current
	// revision, i.e. the writer observed the latest value before computing
	// its write. A rejected write returns false and the surviving revision.
	SetIfNewer(ctx context.Context, key string, val any, expires time.Duration, seen uint64) (bool, uint64, error)

	// Update applies fn to the current value under the store lock. fn
	// receives the current value (or found=false) and returns the next value
	// and whether to write it. A write keeps the entry's remaining TTL and
	// clears its stale mark. Returns the key's revision after the call.
	Update(ctx context.Context, key string, fn func(old any, found bool) (any, bool)) (uint64, error)

	// Invalidate marks a key stale without discarding its value.
	Invalidate(ctx context.Context, key string) (bool, error)

	// Remove deletes a key outright.
	Remove(ctx context.Context, key string) (bool, error)

	// Hits returns the number of times a key has been read.
	Hits(ctx context.Context, key string) (bool, int)

	// Subscribe registers fn for change events on key. The returned func
	// cancels the subscription; after it returns, fn is never called again.
	Subscribe(key string, fn func(Event)) (cancel func())

	// TrackFetch registers an in-flight fetch for key and returns a context
	// that is canceled when the fetch is superseded or the store closes.
	// Returns false when a fetch for key is already in flight.
	TrackFetch(key string) (context.Context, bool)

	// FetchDone clears the in-flight marker for key.
	FetchDone(key string)

	// CancelFetch cancels any in-flight fetches for the given keys so their
	// eventual results are discarded rather than applied.
	CancelFetch(keys ...string)

	// InFlight reports whether a fetch for key is currently tracked.
	InFlight(key string) bool

	// Close shuts down the store and its background goroutines.
	Close(ctx context.Context) error
}

// DefaultExpires is the default TTL used when Set is called with expires <= 0.
const DefaultExpires = 5 * time.Minute

// DefaultQueryTimeout is the per-operation timeout applied to persister I/O.
const DefaultQueryTimeout = 5 * time.Second

type config struct {
	defaultExpires time.Duration
	queryTimeout   time.Duration
	expiryCheck    time.Duration
	persister      Persister
}

// Option configures a Store implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		defaultExpires: DefaultExpires,
		queryTimeout:   DefaultQueryTimeout,
		expiryCheck:    time.Minute,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithExpires sets the default TTL for cached values. This is used when Set
// is called with expires <= 0. Defaults to DefaultExpires (5 minutes).
func WithExpires(d time.Duration) Option {
	return func(c *config) { c.defaultExpires = d }
}

// WithQueryTimeout sets the per-operation timeout for persister I/O.
// Defaults to DefaultQueryTimeout (5 seconds).
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets the interval for background expired entry cleanup.
// Defaults to 1 minute.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithPersister attaches a write-through persister. Writes are mirrored to it
// best-effort and misses fall back to it, so a warm snapshot survives process
// restart. The store owns the persister and closes it on Close.
func WithPersister(p Persister) Option {
	return func(c *config) { c.persister = p }
}

// Persister is a second-level snapshot store beneath the in-memory Store.
// Values are msgpack-encoded by the store before they reach the persister.
type Persister interface {
	Load(ctx context.Context, key string) (bool, []byte, error)
	Save(ctx context.Context, key string, data []byte, expires time.Time) error
	Delete(ctx context.Context, key string) error
	Close(ctx context.Context) error
}

// Get retrieves a typed value from the store. In-memory values are returned
// via direct type assertion; persister-loaded []byte values are deserialized
// with msgpack.
func Get[T any](ctx context.Context, s Store, key string) (bool, T, error) {
	found, val, err := s.Get(ctx, key)
	if !found || err != nil {
		var zero T
		return false, zero, err
	}
	return coerce[T](val)
}

// As converts a stored value to T, transparently decoding persister-loaded
// msgpack []byte values. Returns false when the value is absent or of an
// incompatible type.
func As[T any](val any) (T, bool) {
	found, typed, err := coerce[T](val)
	if err != nil || !found {
		var zero T
		return zero, false
	}
	return typed, true
}

func coerce[T any](val any) (bool, T, error) {
	if typed, ok := val.(T); ok {
		return true, typed, nil
	}
	if data, ok := val.([]byte); ok {
		var result T
		if err := msgpack.Unmarshal(data, &result); err != nil {
			var zero T
			return false, zero, fmt.Errorf("cache: failed to unmarshal value: %w", err)
		}
		return true, result, nil
	}
	var zero T
	return false, zero, fmt.Errorf("cache: cannot convert value of type %T to %T", val, zero)
}

// FetchConfig configures the Fetch helper.
type FetchConfig struct {
	// Key is the cache key. Required.
	Key string
	// Expires is the TTL for the fetched value. Defaults to the store's
	// default TTL if zero.
	Expires time.Duration
	// AllowStale returns a stale cached value instead of nothing when a
	// fetch for the same key is already in flight.
	AllowStale bool
}

// Invoker is a function that produces a value of type T. The bool return
// indicates whether a value was found; return false to signal "not found"
// without caching a zero value.
type Invoker[T any] func(ctx context.Context) (T, bool, error)

// Fetch is a cache-aside helper with in-flight deduplication and cooperative
// cancellation. It returns the cached value when it is fresh. On a miss or a
// stale entry it registers an in-flight fetch for the key and calls invoke;
// if another fetch for the key is already in flight, invoke is not called and
// the caller gets the stale value (with AllowStale) or nothing, relying on
// the in-flight fetch to eventually patch the cache.
//
// If the fetch is canceled via Store.CancelFetch while invoke runs, its
// result is discarded by the cache layer: the value is returned to this
// caller but never written to the store.
func Fetch[T any](ctx context.Context, cfg FetchConfig, s Store, invoke Invoker[T]) (bool, T, error) {
	var zero T

	found, ent, err := s.Entry(ctx, cfg.Key)
	if err != nil {
		return false, zero, err
	}
	if found && !ent.Stale {
		return coerce[T](ent.Value)
	}

	fetchCtx, ok := s.TrackFetch(cfg.Key)
	if !ok {
		// Another fetch for this key is already in flight.
		if found && cfg.AllowStale {
			return coerce[T](ent.Value)
		}
		return false, zero, nil
	}
	defer s.FetchDone(cfg.Key)

	// The invocation observes both the caller's context and the fetch
	// context, so CancelFetch aborts the network call cooperatively.
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(fetchCtx, cancel)
	defer stop()

	result, ok, err := invoke(callCtx)
	if err != nil {
		if fetchCtx.Err() != nil {
			// Canceled fetch: the failure is not the caller's problem.
			return false, zero, nil
		}
		return false, zero, err
	}
	if !ok {
		return false, zero, nil
	}

	// A canceled fetch must not clobber whatever write caused the
	// cancellation. The caller still gets the value.
	if fetchCtx.Err() == nil {
		// Set errors are swallowed; the caller already has the value.
		_, _ = s.Set(ctx, cfg.Key, result, cfg.Expires)
	}

	return true, result, nil
}
