// Package counts coalesces refreshes of count-style derived values (comment
// count, like count) that several UI locations may request near
// simultaneously. Requests debounce over a quiet period, a request for an id
// already being fetched is dropped outright, and resolved counts are fanned
// out to every cached view. Callers never get a return value; they observe
// the result through the cache.
package counts

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ladleapp/go-client/cache"
	"github.com/ladleapp/go-client/recipe"
	"github.com/ladleapp/go-client/rpc"
	"github.com/ladleapp/go-client/views"
)

// DefaultQuietPeriod is the debounce window: the fetch fires this long after
// the most recent request for an id, with each new request resetting the
// clock.
const DefaultQuietPeriod = 300 * time.Millisecond

const (
	kindComments = "comments"
	kindLikes    = "likes"
)

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithQuietPeriod overrides the debounce window. Defaults to
// DefaultQuietPeriod.
func WithQuietPeriod(d time.Duration) Option {
	return func(a *Aggregator) { a.quiet = d }
}

type refreshTimer struct {
	timer    *time.Timer
	viewerID string
}

// Aggregator debounces and deduplicates count refreshes.
type Aggregator struct {
	ctx     context.Context
	cancel  context.CancelFunc
	store   cache.Store
	views   *views.Synchronizer
	backend rpc.Client
	log     *zap.Logger
	quiet   time.Duration

	mu      sync.Mutex
	timers  map[string]*refreshTimer
	pending map[string]struct{}
	wg      sync.WaitGroup
	closed  bool
}

// NewAggregator returns a running Aggregator. Close releases its timers.
func NewAggregator(parent context.Context, store cache.Store, sync *views.Synchronizer, backend rpc.Client, log *zap.Logger, opts ...Option) *Aggregator {
	ctx, cancel := context.WithCancel(parent)
	a := &Aggregator{
		ctx:     ctx,
		cancel:  cancel,
		store:   store,
		views:   sync,
		backend: backend,
		log:     log.Named("counts"),
		quiet:   DefaultQuietPeriod,
		timers:  make(map[string]*refreshTimer),
		pending: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RequestCommentCount schedules a comment count refresh for a recipe.
func (a *Aggregator) RequestCommentCount(recipeID, viewerID string) {
	a.request(kindComments, recipeID, viewerID)
}

// RequestLikeCount schedules a like count refresh for a recipe.
func (a *Aggregator) RequestLikeCount(recipeID, viewerID string) {
	a.request(kindLikes, recipeID, viewerID)
}

func (a *Aggregator) request(kind, recipeID, viewerID string) {
	if recipeID == "" {
		return
	}
	key := kind + ":" + recipeID

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if _, inFlight := a.pending[key]; inFlight {
		// A fetch for this id is already on the wire; this caller relies on
		// it to patch the cache.
		return
	}
	if rt, ok := a.timers[key]; ok {
		// Reset only while the timer is still pending. Stop reporting false
		// means it already fired and its refresh is waiting on this lock;
		// resetting then would run the callback a second time for one
		// scheduled entry. The request rides along with that refresh.
		if rt.timer.Stop() {
			rt.viewerID = viewerID
			rt.timer.Reset(a.quiet)
		}
		return
	}
	rt := &refreshTimer{viewerID: viewerID}
	a.wg.Add(1)
	rt.timer = time.AfterFunc(a.quiet, func() {
		a.fire(kind, key, recipeID)
	})
	a.timers[key] = rt
}

// fire owns the WaitGroup accounting: whoever removes the timers entry, fire
// or Close, marks the scheduled refresh done exactly once.
func (a *Aggregator) fire(kind, key, recipeID string) {
	a.mu.Lock()
	rt, ok := a.timers[key]
	if !ok {
		// Close already settled this entry.
		a.mu.Unlock()
		return
	}
	defer a.wg.Done()
	delete(a.timers, key)
	viewerID := rt.viewerID
	a.pending[key] = struct{}{}
	a.mu.Unlock()

	// Always clear the pending marker so a future request is not
	// permanently suppressed.
	defer func() {
		a.mu.Lock()
		delete(a.pending, key)
		a.mu.Unlock()
	}()

	if a.ctx.Err() != nil {
		return
	}

	count, ok, err := a.resolve(kind, recipeID)
	if err != nil {
		a.log.Warn("count refresh failed",
			zap.String("kind", kind),
			zap.String("recipe_id", recipeID),
			zap.Error(err))
		return
	}
	if !ok {
		return
	}

	update := views.Update{RecipeID: recipeID, ViewerID: viewerID}
	switch kind {
	case kindComments:
		update.CommentCount = &count
	case kindLikes:
		update.LikeCount = &count
	}
	_ = a.views.Apply(a.ctx, update)
}

// resolve answers the count from a sufficiently fresh cached list when one
// exists, otherwise from the backend. Per-key exclusivity is already held by
// the caller via the pending marker.
func (a *Aggregator) resolve(kind, recipeID string) (int, bool, error) {
	if kind == kindComments {
		if found, comments, err := cache.Get[[]recipe.Comment](a.ctx, a.store, views.CommentsKey(recipeID)); err == nil && found {
			return len(comments), true, nil
		}
	}

	var (
		count int
		err   error
	)
	switch kind {
	case kindLikes:
		count, err = a.backend.LikeCount(a.ctx, recipeID)
	default:
		count, err = a.backend.CommentCount(a.ctx, recipeID)
	}
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

// Close stops scheduled timers and waits for in-flight refreshes.
func (a *Aggregator) Close() {
	a.mu.Lock()
	a.closed = true
	for key, rt := range a.timers {
		// The entry is still in the map, so fire has not consumed it; settle
		// its WaitGroup slot here whether the timer fired or not. A callback
		// that already fired will find the entry gone and return.
		rt.timer.Stop()
		delete(a.timers, key)
		a.wg.Done()
	}
	a.mu.Unlock()
	a.cancel()
	a.wg.Wait()
}
