// Package ladle is the client core for the Ladle recipe and pantry app. It
// wires the cache store, view synchronizer, mutation coordinator, count
// aggregator, and realtime listener into one handle for a UI to drive.
package ladle

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ladleapp/go-client/cache"
	"github.com/ladleapp/go-client/config"
	"github.com/ladleapp/go-client/counts"
	"github.com/ladleapp/go-client/mutate"
	"github.com/ladleapp/go-client/realtime"
	"github.com/ladleapp/go-client/recipe"
	"github.com/ladleapp/go-client/rpc"
	"github.com/ladleapp/go-client/views"
)

// Client is the app-facing handle. All read methods serve from cache when
// possible and fall back to the backend; mutation methods apply optimistic
// updates that roll back on failure.
type Client struct {
	cfg      *config.Config
	log      *zap.Logger
	store    cache.Store
	backend  rpc.Client
	sync     *views.Synchronizer
	reader   *views.Reader
	mutator  *mutate.Coordinator
	counts   *counts.Aggregator
	stream   realtime.Stream
	listener *realtime.Listener
	rdb      *redis.Client
}

// New constructs a Client from the given config. The returned Client must be
// closed with Close when no longer needed.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		var err error
		if log, err = config.NewLogger(cfg.LogLevel); err != nil {
			return nil, err
		}
	}

	storeOpts := []cache.Option{cache.WithExpires(cfg.CacheTTL)}
	if cfg.CachePath != "" {
		persister, err := cache.NewSQLitePersister(ctx, cfg.CachePath, cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("error opening cache snapshot at %s: %w", cfg.CachePath, err)
		}
		storeOpts = append(storeOpts, cache.WithPersister(persister))
	}
	store := cache.NewInMemory(ctx, storeOpts...)

	backend, err := rpc.NewSupabase(cfg.SupabaseURL, cfg.SupabaseKey, log)
	if err != nil {
		store.Close(ctx)
		return nil, err
	}
	backend = rpc.WithBreaker(backend, rpc.DefaultBreakerConfig(), log)

	sync := views.NewSynchronizer(store, log)
	c := &Client{
		cfg:     cfg,
		log:     log,
		store:   store,
		backend: backend,
		sync:    sync,
		reader:  views.NewReader(store, backend),
		mutator: mutate.NewCoordinator(store, sync, backend, log),
		counts:  counts.NewAggregator(ctx, store, sync, backend, log, counts.WithQuietPeriod(cfg.DebounceWindow)),
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			c.Close(ctx)
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		c.rdb = redis.NewClient(opts)
		c.stream = realtime.NewRedisStream(ctx, c.rdb, log)
		c.listener = realtime.NewListener(c.stream, store, sync, log)
	}
	return c, nil
}

// Store exposes the underlying cache, mainly so UIs can Subscribe to key
// change notifications.
func (c *Client) Store() cache.Store {
	return c.store
}

// Feed returns the community feed for a viewer, cached or fetched.
func (c *Client) Feed(ctx context.Context, viewerID string) ([]recipe.Summary, bool, error) {
	return c.reader.Feed(ctx, viewerID)
}

// Recipe returns the full detail view for one recipe.
func (c *Client) Recipe(ctx context.Context, recipeID, viewerID string) (recipe.Detail, bool, error) {
	return c.reader.Recipe(ctx, recipeID, viewerID)
}

// Profile returns a user's profile with their created and saved recipes.
func (c *Client) Profile(ctx context.Context, userID string) (recipe.Profile, bool, error) {
	return c.reader.Profile(ctx, userID)
}

// Comments returns the comment list for a recipe.
func (c *Client) Comments(ctx context.Context, recipeID string) ([]recipe.Comment, bool, error) {
	return c.reader.Comments(ctx, recipeID)
}

// Pantry returns the viewer's pantry items.
func (c *Client) Pantry(ctx context.Context, userID string) ([]recipe.PantryItem, bool, error) {
	return c.reader.Pantry(ctx, userID)
}

// ToggleLike flips the viewer's like on a recipe, optimistically.
func (c *Client) ToggleLike(ctx context.Context, recipeID, viewerID string) error {
	return c.mutator.ToggleLike(ctx, recipeID, viewerID)
}

// ToggleSave flips the viewer's save on a recipe, optimistically.
func (c *Client) ToggleSave(ctx context.Context, recipeID, viewerID string) error {
	return c.mutator.ToggleSave(ctx, recipeID, viewerID)
}

// PostComment posts a comment, showing it optimistically until the backend
// confirms.
func (c *Client) PostComment(ctx context.Context, recipeID, viewerID, body string) (recipe.Comment, error) {
	return c.mutator.PostComment(ctx, recipeID, viewerID, body)
}

// RefreshCommentCount schedules a debounced comment count refresh.
func (c *Client) RefreshCommentCount(recipeID, viewerID string) {
	c.counts.RequestCommentCount(recipeID, viewerID)
}

// RefreshLikeCount schedules a debounced like count refresh.
func (c *Client) RefreshLikeCount(recipeID, viewerID string) {
	c.counts.RequestLikeCount(recipeID, viewerID)
}

// Watch subscribes to realtime changes for the given user across all
// tables. It is a no-op when no redis url was configured.
func (c *Client) Watch(ctx context.Context, userID string) error {
	if c.listener == nil {
		return nil
	}
	return c.listener.ListenAll(ctx, userID)
}

// Unwatch tears down the realtime subscriptions for a user.
func (c *Client) Unwatch(userID string) {
	if c.listener == nil {
		return
	}
	for _, table := range realtime.Tables {
		c.listener.StopListening(table, userID)
	}
}

// Subscribe registers fn for change notifications on one cache key. The
// returned func cancels the subscription.
func (c *Client) Subscribe(key string, fn func(cache.Event)) func() {
	return c.store.Subscribe(key, fn)
}

// Close shuts down the listener, aggregator, stream, and cache store.
func (c *Client) Close(ctx context.Context) error {
	if c.listener != nil {
		c.listener.Shutdown()
	}
	if c.counts != nil {
		c.counts.Close()
	}
	var firstErr error
	if c.stream != nil {
		if err := c.stream.Close(); err != nil {
			firstErr = err
		}
	}
	if c.rdb != nil {
		if err := c.rdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.store.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
