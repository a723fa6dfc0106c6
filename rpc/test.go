package rpc

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ladleapp/go-client/recipe"
)

// TestClient is a scriptable in-memory Client for tests. Set the result
// fields to what the fake backend should answer; set Err to make every call
// fail; set Delay to simulate network latency (honoring context
// cancellation). Calls records every invocation as "Method:arg1:arg2".
type TestClient struct {
	mu    sync.Mutex
	Calls []string

	LikeResultValue    LikeResult
	SaveResultValue    SaveResult
	CommentResultValue CommentResult
	FeedValue          []recipe.Summary
	DetailValue        recipe.Detail
	ProfileValue       recipe.Profile
	CommentsValue      []recipe.Comment
	CommentCountValue  int
	LikeCountValue     int
	PantryValue        []recipe.PantryItem

	Err   error
	Delay time.Duration
}

var _ Client = (*TestClient)(nil)

func (c *TestClient) record(ctx context.Context, parts ...string) error {
	c.mu.Lock()
	c.Calls = append(c.Calls, strings.Join(parts, ":"))
	delay := c.Delay
	err := c.Err
	c.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

// CallCount returns how many recorded calls start with the given method name.
func (c *TestClient) CallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for _, call := range c.Calls {
		if call == method || strings.HasPrefix(call, method+":") {
			n++
		}
	}
	return n
}

func (c *TestClient) ToggleLike(ctx context.Context, recipeID, viewerID string) (LikeResult, error) {
	if err := c.record(ctx, "ToggleLike", recipeID, viewerID); err != nil {
		return LikeResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.LikeResultValue, nil
}

func (c *TestClient) ToggleSave(ctx context.Context, recipeID, viewerID string) (SaveResult, error) {
	if err := c.record(ctx, "ToggleSave", recipeID, viewerID); err != nil {
		return SaveResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SaveResultValue, nil
}

func (c *TestClient) PostComment(ctx context.Context, nc NewComment) (CommentResult, error) {
	if err := c.record(ctx, "PostComment", nc.RecipeID, nc.AuthorID); err != nil {
		return CommentResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CommentResultValue, nil
}

func (c *TestClient) Feed(ctx context.Context, viewerID string, limit, offset int) ([]recipe.Summary, error) {
	if err := c.record(ctx, "Feed", viewerID); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.FeedValue, nil
}

func (c *TestClient) RecipeDetail(ctx context.Context, recipeID, viewerID string) (recipe.Detail, error) {
	if err := c.record(ctx, "RecipeDetail", recipeID, viewerID); err != nil {
		return recipe.Detail{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.DetailValue, nil
}

func (c *TestClient) Profile(ctx context.Context, userID string) (recipe.Profile, error) {
	if err := c.record(ctx, "Profile", userID); err != nil {
		return recipe.Profile{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ProfileValue, nil
}

func (c *TestClient) Comments(ctx context.Context, recipeID string) ([]recipe.Comment, error) {
	if err := c.record(ctx, "Comments", recipeID); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CommentsValue, nil
}

func (c *TestClient) CommentCount(ctx context.Context, recipeID string) (int, error) {
	if err := c.record(ctx, "CommentCount", recipeID); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CommentCountValue, nil
}

func (c *TestClient) LikeCount(ctx context.Context, recipeID string) (int, error) {
	if err := c.record(ctx, "LikeCount", recipeID); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.LikeCountValue, nil
}

func (c *TestClient) PantryItems(ctx context.Context, userID string) ([]recipe.PantryItem, error) {
	if err := c.record(ctx, "PantryItems", userID); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.PantryValue, nil
}
