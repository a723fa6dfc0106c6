// Package mutate runs the optimistic-update cycle for user-initiated writes:
// cancel in-flight fetches for the affected keys, snapshot the touched views,
// apply the optimistic guess, call the backend, then either reconcile with
// the authoritative response or roll the snapshot back. Each mutation runs
// the cycle once; there are no automatic retries, the user re-triggers.
package mutate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ladleapp/go-client/cache"
	"github.com/ladleapp/go-client/recipe"
	"github.com/ladleapp/go-client/rpc"
	"github.com/ladleapp/go-client/views"
)

// ErrNotAuthenticated is returned when a personalized write is attempted
// without a signed-in viewer. The backend is never called in that case.
var ErrNotAuthenticated = errors.New("mutate: sign in to do that")

// Coordinator orchestrates optimistic writes against the cached views.
type Coordinator struct {
	store   cache.Store
	views   *views.Synchronizer
	backend rpc.Client
	log     *zap.Logger
}

// NewCoordinator returns a Coordinator over the given store, synchronizer,
// and backend.
func NewCoordinator(store cache.Store, sync *views.Synchronizer, backend rpc.Client, log *zap.Logger) *Coordinator {
	return &Coordinator{store: store, views: sync, backend: backend, log: log.Named("mutate")}
}

// begin cancels fetches whose late results would clobber the optimistic
// patch, then captures the pre-mutation state of every affected view.
func (c *Coordinator) begin(ctx context.Context, recipeID, viewerID string) views.Snapshot {
	c.store.CancelFetch(views.Keys(recipeID, viewerID)...)
	return c.views.Snapshot(ctx, recipeID, viewerID)
}

// ToggleLike flips the viewer's like on a recipe, optimistically adjusting
// the like count across all cached views before the backend confirms.
func (c *Coordinator) ToggleLike(ctx context.Context, recipeID, viewerID string) error {
	if viewerID == "" {
		return ErrNotAuthenticated
	}

	snap := c.begin(ctx, recipeID, viewerID)
	if cur, ok := snap.Current(); ok {
		liked := !cur.Liked
		likes := cur.LikeCount
		if liked {
			likes++
		} else if likes > 0 {
			likes--
		}
		_ = c.views.Apply(ctx, views.Update{
			RecipeID:  recipeID,
			ViewerID:  viewerID,
			Liked:     &liked,
			LikeCount: &likes,
		})
	}

	res, err := c.backend.ToggleLike(ctx, recipeID, viewerID)
	if err != nil {
		c.views.Restore(ctx, snap)
		c.log.Warn("like toggle failed", zap.String("recipe_id", recipeID), zap.Error(err))
		return fmt.Errorf("failed to toggle like: %w", err)
	}

	// An unrecognized response shape is success without a countercheck:
	// the optimistic value stands.
	if res.Known {
		_ = c.views.Apply(ctx, views.Update{
			RecipeID:  recipeID,
			ViewerID:  viewerID,
			Liked:     &res.Liked,
			LikeCount: &res.LikeCount,
		})
	}
	return nil
}

// ToggleSave flips the viewer's save on a recipe. The profile's saved list
// membership changes server-side, so the profile view is marked stale for
// refetch after a confirmed toggle.
func (c *Coordinator) ToggleSave(ctx context.Context, recipeID, viewerID string) error {
	if viewerID == "" {
		return ErrNotAuthenticated
	}

	snap := c.begin(ctx, recipeID, viewerID)
	if cur, ok := snap.Current(); ok {
		saved := !cur.Saved
		_ = c.views.Apply(ctx, views.Update{
			RecipeID: recipeID,
			ViewerID: viewerID,
			Saved:    &saved,
		})
	}

	res, err := c.backend.ToggleSave(ctx, recipeID, viewerID)
	if err != nil {
		c.views.Restore(ctx, snap)
		c.log.Warn("save toggle failed", zap.String("recipe_id", recipeID), zap.Error(err))
		return fmt.Errorf("failed to toggle save: %w", err)
	}

	if res.Known {
		_ = c.views.Apply(ctx, views.Update{
			RecipeID: recipeID,
			ViewerID: viewerID,
			Saved:    &res.Saved,
		})
	}
	_, _ = c.store.Invalidate(ctx, views.ProfileKey(viewerID))
	return nil
}

// PostComment posts a comment, optimistically bumping the comment count and
// appending to the cached comment list. The comment id is generated client
// side so the backend can deduplicate a re-submission.
func (c *Coordinator) PostComment(ctx context.Context, recipeID, viewerID, body string) (recipe.Comment, error) {
	if viewerID == "" {
		return recipe.Comment{}, ErrNotAuthenticated
	}

	snap := c.begin(ctx, recipeID, viewerID)

	optimistic := recipe.Comment{
		ID:        uuid.NewString(),
		RecipeID:  recipeID,
		AuthorID:  viewerID,
		Body:      body,
		CreatedAt: time.Now(),
	}

	if cur, ok := snap.Current(); ok {
		count := cur.CommentCount + 1
		_ = c.views.Apply(ctx, views.Update{
			RecipeID:     recipeID,
			ViewerID:     viewerID,
			CommentCount: &count,
		})
	}
	c.appendComment(ctx, recipeID, optimistic)

	res, err := c.backend.PostComment(ctx, rpc.NewComment{
		ID:       optimistic.ID,
		RecipeID: recipeID,
		AuthorID: viewerID,
		Body:     body,
	})
	if err != nil {
		c.views.Restore(ctx, snap)
		c.removeComment(ctx, recipeID, optimistic.ID)
		c.log.Warn("comment post failed", zap.String("recipe_id", recipeID), zap.Error(err))
		return recipe.Comment{}, fmt.Errorf("failed to post comment: %w", err)
	}

	committed := optimistic
	if res.Comment.ID != "" {
		committed = res.Comment
		if committed.ID != optimistic.ID {
			c.removeComment(ctx, recipeID, optimistic.ID)
			c.appendComment(ctx, recipeID, committed)
		}
	}
	if res.Known {
		_ = c.views.Apply(ctx, views.Update{
			RecipeID:     recipeID,
			ViewerID:     viewerID,
			CommentCount: &res.CommentCount,
		})
	}
	return committed, nil
}

// appendComment adds a comment to the cached list if one with the same id is
// not already there. A missing list is not populated; the next read fetches.
func (c *Coordinator) appendComment(ctx context.Context, recipeID string, comment recipe.Comment) {
	_, _ = c.store.Update(ctx, views.CommentsKey(recipeID), func(old any, found bool) (any, bool) {
		if !found {
			return nil, false
		}
		comments, ok := cache.As[[]recipe.Comment](old)
		if !ok {
			return nil, false
		}
		for i := range comments {
			if comments[i].ID == comment.ID {
				return nil, false
			}
		}
		return append(comments, comment), true
	})
}

func (c *Coordinator) removeComment(ctx context.Context, recipeID, commentID string) {
	_, _ = c.store.Update(ctx, views.CommentsKey(recipeID), func(old any, found bool) (any, bool) {
		if !found {
			return nil, false
		}
		comments, ok := cache.As[[]recipe.Comment](old)
		if !ok {
			return nil, false
		}
		for i := range comments {
			if comments[i].ID == commentID {
				return append(comments[:i:i], comments[i+1:]...), true
			}
		}
		return nil, false
	})
}
