// Package rpc defines the contract the cache layer assumes about the Ladle
// backend: a set of named procedures plus tolerant decoding of their
// historically drifting response shapes. Internal code only ever sees the
// canonical field names produced here.
package rpc

import (
	"context"

	"github.com/ladleapp/go-client/recipe"
)

// LikeResult is the authoritative outcome of a like toggle. Known is false
// when the backend replied successfully but with a shape this client does
// not recognize; the caller then keeps its optimistic value.
type LikeResult struct {
	Liked     bool
	LikeCount int
	Known     bool
}

// SaveResult is the authoritative outcome of a save toggle.
type SaveResult struct {
	Saved bool
	Known bool
}

// CommentResult is the authoritative outcome of posting a comment.
type CommentResult struct {
	Comment      recipe.Comment
	CommentCount int
	Known        bool
}

// NewComment is the argument shape for PostComment. ID is a client-generated
// identifier so a duplicate submission is deduplicated server-side.
type NewComment struct {
	ID       string
	RecipeID string
	AuthorID string
	Body     string
}

// Client is the backend boundary. Every method maps to one named backend
// procedure; implementations must never reach into the cache layer.
type Client interface {
	ToggleLike(ctx context.Context, recipeID, viewerID string) (LikeResult, error)
	ToggleSave(ctx context.Context, recipeID, viewerID string) (SaveResult, error)
	PostComment(ctx context.Context, c NewComment) (CommentResult, error)

	Feed(ctx context.Context, viewerID string, limit, offset int) ([]recipe.Summary, error)
	RecipeDetail(ctx context.Context, recipeID, viewerID string) (recipe.Detail, error)
	Profile(ctx context.Context, userID string) (recipe.Profile, error)
	Comments(ctx context.Context, recipeID string) ([]recipe.Comment, error)
	CommentCount(ctx context.Context, recipeID string) (int, error)
	LikeCount(ctx context.Context, recipeID string) (int, error)
	PantryItems(ctx context.Context, userID string) ([]recipe.PantryItem, error)
}
