package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ladleapp/go-client/recipe"
)

// BreakerConfig configures the circuit breaker around a Client.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the default circuit breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "backend-rpc",
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

type breakerClient struct {
	inner Client
	cb    *gobreaker.CircuitBreaker
	reads singleflight.Group
}

var _ Client = (*breakerClient)(nil)

// WithBreaker wraps a Client in a circuit breaker so a flapping backend
// sheds calls fast instead of stacking timeouts. There are no retries; a
// rejected call surfaces to the caller like any other RPC error.
//
// Identical concurrent reads are collapsed into a single backend call. The
// feed reader, the count aggregator, and the change listener can all reach
// for the same row at once; only one request goes on the wire and every
// caller gets its result. Mutations are never collapsed.
func WithBreaker(inner Client, cfg BreakerConfig, log *zap.Logger) Client {
	log = log.Named("breaker")
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &breakerClient{inner: inner, cb: cb}
}

func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// share routes a read through the single-flight group before the breaker.
// Joined callers share the winning call's result, error included, which also
// means they share the winner's context.
func share[T any](c *breakerClient, key string, fn func() (T, error)) (T, error) {
	res, err, _ := c.reads.Do(key, func() (any, error) {
		v, err := execute(c.cb, fn)
		return v, err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

func (c *breakerClient) ToggleLike(ctx context.Context, recipeID, viewerID string) (LikeResult, error) {
	return execute(c.cb, func() (LikeResult, error) { return c.inner.ToggleLike(ctx, recipeID, viewerID) })
}

func (c *breakerClient) ToggleSave(ctx context.Context, recipeID, viewerID string) (SaveResult, error) {
	return execute(c.cb, func() (SaveResult, error) { return c.inner.ToggleSave(ctx, recipeID, viewerID) })
}

func (c *breakerClient) PostComment(ctx context.Context, nc NewComment) (CommentResult, error) {
	return execute(c.cb, func() (CommentResult, error) { return c.inner.PostComment(ctx, nc) })
}

func (c *breakerClient) Feed(ctx context.Context, viewerID string, limit, offset int) ([]recipe.Summary, error) {
	key := fmt.Sprintf("feed:%s:%d:%d", viewerID, limit, offset)
	return share(c, key, func() ([]recipe.Summary, error) { return c.inner.Feed(ctx, viewerID, limit, offset) })
}

func (c *breakerClient) RecipeDetail(ctx context.Context, recipeID, viewerID string) (recipe.Detail, error) {
	key := "detail:" + recipeID + ":" + viewerID
	return share(c, key, func() (recipe.Detail, error) { return c.inner.RecipeDetail(ctx, recipeID, viewerID) })
}

func (c *breakerClient) Profile(ctx context.Context, userID string) (recipe.Profile, error) {
	return share(c, "profile:"+userID, func() (recipe.Profile, error) { return c.inner.Profile(ctx, userID) })
}

func (c *breakerClient) Comments(ctx context.Context, recipeID string) ([]recipe.Comment, error) {
	return share(c, "comments:"+recipeID, func() ([]recipe.Comment, error) { return c.inner.Comments(ctx, recipeID) })
}

func (c *breakerClient) CommentCount(ctx context.Context, recipeID string) (int, error) {
	return share(c, "comment_count:"+recipeID, func() (int, error) { return c.inner.CommentCount(ctx, recipeID) })
}

func (c *breakerClient) LikeCount(ctx context.Context, recipeID string) (int, error) {
	return share(c, "like_count:"+recipeID, func() (int, error) { return c.inner.LikeCount(ctx, recipeID) })
}

func (c *breakerClient) PantryItems(ctx context.Context, userID string) ([]recipe.PantryItem, error) {
	return share(c, "pantry:"+userID, func() ([]recipe.PantryItem, error) { return c.inner.PantryItems(ctx, userID) })
}
