package views

import (
	"context"
	"time"

	"github.com/ladleapp/go-client/cache"
	"github.com/ladleapp/go-client/recipe"
	"github.com/ladleapp/go-client/rpc"
)

// DefaultFeedPageSize is the number of feed entries fetched per page.
const DefaultFeedPageSize = 50

// TTLs per view. Engagement-heavy views go stale faster than the pantry.
const (
	feedTTL    = 2 * time.Minute
	detailTTL  = 5 * time.Minute
	profileTTL = 5 * time.Minute
	commentTTL = 2 * time.Minute
	pantryTTL  = 10 * time.Minute
)

// Reader provides fetch-through access to the cached views: a fresh cached
// value answers immediately, otherwise the backend is called once per key
// (concurrent requests for the same key are deduplicated) and the result is
// cached. A request dropped by deduplication returns found=false; such
// callers observe the eventual value through Store.Subscribe.
type Reader struct {
	store   cache.Store
	backend rpc.Client
}

// NewReader returns a Reader over the given store and backend.
func NewReader(store cache.Store, backend rpc.Client) *Reader {
	return &Reader{store: store, backend: backend}
}

// Feed returns the community feed for a viewer.
func (r *Reader) Feed(ctx context.Context, viewerID string) ([]recipe.Summary, bool, error) {
	found, entries, err := cache.Fetch(ctx, cache.FetchConfig{Key: FeedKey(viewerID), Expires: feedTTL, AllowStale: true}, r.store,
		func(ctx context.Context) ([]recipe.Summary, bool, error) {
			entries, err := r.backend.Feed(ctx, viewerID, DefaultFeedPageSize, 0)
			if err != nil {
				return nil, false, err
			}
			return entries, true, nil
		},
	)
	return entries, found, err
}

// Recipe returns the detail view of one recipe for a viewer.
func (r *Reader) Recipe(ctx context.Context, recipeID, viewerID string) (recipe.Detail, bool, error) {
	found, detail, err := cache.Fetch(ctx, cache.FetchConfig{Key: DetailKey(recipeID, viewerID), Expires: detailTTL, AllowStale: true}, r.store,
		func(ctx context.Context) (recipe.Detail, bool, error) {
			detail, err := r.backend.RecipeDetail(ctx, recipeID, viewerID)
			if err != nil {
				return recipe.Detail{}, false, err
			}
			return detail, true, nil
		},
	)
	return detail, found, err
}

// Profile returns a user's created and saved recipe lists.
func (r *Reader) Profile(ctx context.Context, userID string) (recipe.Profile, bool, error) {
	found, profile, err := cache.Fetch(ctx, cache.FetchConfig{Key: ProfileKey(userID), Expires: profileTTL, AllowStale: true}, r.store,
		func(ctx context.Context) (recipe.Profile, bool, error) {
			profile, err := r.backend.Profile(ctx, userID)
			if err != nil {
				return recipe.Profile{}, false, err
			}
			return profile, true, nil
		},
	)
	return profile, found, err
}

// Comments returns a recipe's comment list.
func (r *Reader) Comments(ctx context.Context, recipeID string) ([]recipe.Comment, bool, error) {
	found, comments, err := cache.Fetch(ctx, cache.FetchConfig{Key: CommentsKey(recipeID), Expires: commentTTL, AllowStale: true}, r.store,
		func(ctx context.Context) ([]recipe.Comment, bool, error) {
			comments, err := r.backend.Comments(ctx, recipeID)
			if err != nil {
				return nil, false, err
			}
			return comments, true, nil
		},
	)
	return comments, found, err
}

// Pantry returns a user's pantry item list.
func (r *Reader) Pantry(ctx context.Context, userID string) ([]recipe.PantryItem, bool, error) {
	found, items, err := cache.Fetch(ctx, cache.FetchConfig{Key: PantryKey(userID), Expires: pantryTTL, AllowStale: true}, r.store,
		func(ctx context.Context) ([]recipe.PantryItem, bool, error) {
			items, err := r.backend.PantryItems(ctx, userID)
			if err != nil {
				return nil, false, err
			}
			return items, true, nil
		},
	)
	return items, found, err
}
