package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"github.com/ladleapp/go-client/recipe"
)

// ErrEmptyResponse is returned when the backend replies with no payload,
// which is how the underlying client surfaces a failed procedure call.
var ErrEmptyResponse = errors.New("rpc: empty response from backend")

// Procedure names exposed by the backend.
const (
	procToggleLike   = "toggle_recipe_like"
	procToggleSave   = "toggle_recipe_save"
	procPostComment  = "post_recipe_comment"
	procFeed         = "get_community_feed"
	procRecipeDetail = "get_recipe_details"
	procProfile      = "get_user_profile"
	procComments     = "get_recipe_comments"
	procCommentCount = "get_comment_count"
	procLikeCount    = "get_like_count"
	procPantryItems  = "get_pantry_items"
)

type supabaseClient struct {
	sb  *supabase.Client
	log *zap.Logger
}

var _ Client = (*supabaseClient)(nil)

// NewSupabase returns a Client that invokes the backend's named Postgres
// procedures through the Supabase RPC endpoint.
func NewSupabase(url, anonKey string, log *zap.Logger) (Client, error) {
	sb, err := supabase.NewClient(url, anonKey, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc: failed to create supabase client: %w", err)
	}
	return &supabaseClient{sb: sb, log: log.Named("rpc")}, nil
}

// call invokes one named procedure. The underlying client does not accept a
// context, so cancellation is cooperative: the HTTP call may still complete,
// but its result is discarded once ctx is done.
func (c *supabaseClient) call(ctx context.Context, name string, params map[string]any) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resultCh := make(chan string, 1)
	go func() {
		resultCh <- c.sb.Rpc(name, "", params)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case raw := <-resultCh:
		if raw == "" {
			return nil, fmt.Errorf("%w: %s", ErrEmptyResponse, name)
		}
		c.log.Debug("procedure call completed", zap.String("procedure", name), zap.Int("bytes", len(raw)))
		return []byte(raw), nil
	}
}

func (c *supabaseClient) ToggleLike(ctx context.Context, recipeID, viewerID string) (LikeResult, error) {
	raw, err := c.call(ctx, procToggleLike, map[string]any{
		"p_recipe_id": recipeID,
		"p_user_id":   viewerID,
	})
	if err != nil {
		return LikeResult{}, err
	}
	return decodeLikeResult(raw), nil
}

func (c *supabaseClient) ToggleSave(ctx context.Context, recipeID, viewerID string) (SaveResult, error) {
	raw, err := c.call(ctx, procToggleSave, map[string]any{
		"p_recipe_id": recipeID,
		"p_user_id":   viewerID,
	})
	if err != nil {
		return SaveResult{}, err
	}
	return decodeSaveResult(raw), nil
}

func (c *supabaseClient) PostComment(ctx context.Context, nc NewComment) (CommentResult, error) {
	raw, err := c.call(ctx, procPostComment, map[string]any{
		"p_id":        nc.ID,
		"p_recipe_id": nc.RecipeID,
		"p_user_id":   nc.AuthorID,
		"p_body":      nc.Body,
	})
	if err != nil {
		return CommentResult{}, err
	}
	return decodeCommentResult(raw), nil
}

func (c *supabaseClient) Feed(ctx context.Context, viewerID string, limit, offset int) ([]recipe.Summary, error) {
	raw, err := c.call(ctx, procFeed, map[string]any{
		"p_viewer_id": viewerID,
		"p_limit":     limit,
		"p_offset":    offset,
	})
	if err != nil {
		return nil, err
	}
	return decodeSummaries(raw), nil
}

func (c *supabaseClient) RecipeDetail(ctx context.Context, recipeID, viewerID string) (recipe.Detail, error) {
	raw, err := c.call(ctx, procRecipeDetail, map[string]any{
		"p_recipe_id": recipeID,
		"p_viewer_id": viewerID,
	})
	if err != nil {
		return recipe.Detail{}, err
	}
	row, ok := decodeRow(raw)
	if !ok {
		return recipe.Detail{}, fmt.Errorf("rpc: unrecognized recipe detail payload for %s", recipeID)
	}
	return NormalizeDetail(row), nil
}

func (c *supabaseClient) Profile(ctx context.Context, userID string) (recipe.Profile, error) {
	raw, err := c.call(ctx, procProfile, map[string]any{"p_user_id": userID})
	if err != nil {
		return recipe.Profile{}, err
	}
	return decodeProfile(raw, userID), nil
}

func (c *supabaseClient) Comments(ctx context.Context, recipeID string) ([]recipe.Comment, error) {
	raw, err := c.call(ctx, procComments, map[string]any{"p_recipe_id": recipeID})
	if err != nil {
		return nil, err
	}
	return decodeComments(raw), nil
}

func (c *supabaseClient) CommentCount(ctx context.Context, recipeID string) (int, error) {
	raw, err := c.call(ctx, procCommentCount, map[string]any{"p_recipe_id": recipeID})
	if err != nil {
		return 0, err
	}
	count, ok := decodeCount(raw)
	if !ok {
		return 0, fmt.Errorf("rpc: unrecognized comment count payload for %s", recipeID)
	}
	return count, nil
}

func (c *supabaseClient) LikeCount(ctx context.Context, recipeID string) (int, error) {
	raw, err := c.call(ctx, procLikeCount, map[string]any{"p_recipe_id": recipeID})
	if err != nil {
		return 0, err
	}
	count, ok := decodeCount(raw)
	if !ok {
		return 0, fmt.Errorf("rpc: unrecognized like count payload for %s", recipeID)
	}
	return count, nil
}

func (c *supabaseClient) PantryItems(ctx context.Context, userID string) ([]recipe.PantryItem, error) {
	raw, err := c.call(ctx, procPantryItems, map[string]any{"p_user_id": userID})
	if err != nil {
		return nil, err
	}
	return decodePantryItems(raw), nil
}
