package views

import (
	"context"

	"go.uber.org/zap"

	"github.com/ladleapp/go-client/cache"
	"github.com/ladleapp/go-client/recipe"
)

// Update is a partial engagement update for one recipe. Nil fields mean
// "do not touch". ViewerID scopes the detail and profile views; when empty,
// only the anonymous feed is patched.
type Update struct {
	RecipeID     string
	ViewerID     string
	LikeCount    *int
	Liked        *bool
	Saved        *bool
	CommentCount *int
}

// apply copies the set fields onto e and reports whether anything changed.
func (u Update) apply(e *recipe.Engagement) bool {
	var changed bool
	if u.LikeCount != nil && e.LikeCount != *u.LikeCount {
		e.LikeCount = *u.LikeCount
		changed = true
	}
	if u.Liked != nil && e.Liked != *u.Liked {
		e.Liked = *u.Liked
		changed = true
	}
	if u.Saved != nil && e.Saved != *u.Saved {
		e.Saved = *u.Saved
		changed = true
	}
	if u.CommentCount != nil && e.CommentCount != *u.CommentCount {
		e.CommentCount = *u.CommentCount
		changed = true
	}
	return changed
}

// full returns an Update carrying every field of e, scoped like u.
func (u Update) full(e recipe.Engagement) Update {
	return Update{
		RecipeID:     u.RecipeID,
		ViewerID:     u.ViewerID,
		LikeCount:    &e.LikeCount,
		Liked:        &e.Liked,
		Saved:        &e.Saved,
		CommentCount: &e.CommentCount,
	}
}

// IntPtr, BoolPtr are small helpers for building partial Updates.
func IntPtr(n int) *int    { return &n }
func BoolPtr(b bool) *bool { return &b }

// Synchronizer fans a partial engagement update for one recipe out to every
// cached view that redundantly projects it: the viewer's feed entry, the
// recipe detail entity, and both profile sub-lists. Views that do not hold
// the recipe are left untouched, and nothing here ever touches the network.
type Synchronizer struct {
	store cache.Store
	log   *zap.Logger
}

// NewSynchronizer returns a Synchronizer over the given store.
func NewSynchronizer(store cache.Store, log *zap.Logger) *Synchronizer {
	return &Synchronizer{store: store, log: log.Named("views")}
}

// Keys returns the cache keys of all views that can project the recipe for
// this viewer. Used by the mutation path to cancel in-flight fetches.
func Keys(recipeID, viewerID string) []string {
	return []string{
		FeedKey(viewerID),
		DetailKey(recipeID, viewerID),
		ProfileKey(viewerID),
	}
}

// Apply patches every cached view holding the recipe with the update's set
// fields. Unchanged views are not rewritten, so re-applying the same update
// is observably idempotent.
func (s *Synchronizer) Apply(ctx context.Context, u Update) error {
	if u.RecipeID == "" {
		return nil
	}
	s.patchFeed(ctx, u)
	if u.ViewerID != "" {
		s.patchDetail(ctx, u)
		s.patchProfile(ctx, u, u)
	}
	return nil
}

func (s *Synchronizer) patchFeed(ctx context.Context, u Update) {
	_, err := s.store.Update(ctx, FeedKey(u.ViewerID), func(old any, found bool) (any, bool) {
		if !found {
			return nil, false
		}
		entries, ok := cache.As[[]recipe.Summary](old)
		if !ok {
			return nil, false
		}
		var changed bool
		for i := range entries {
			if entries[i].Matches(u.RecipeID) && u.apply(&entries[i].Engagement) {
				changed = true
			}
		}
		return entries, changed
	})
	if err != nil {
		s.log.Warn("feed patch failed", zap.String("recipe_id", u.RecipeID), zap.Error(err))
	}
}

func (s *Synchronizer) patchDetail(ctx context.Context, u Update) {
	_, err := s.store.Update(ctx, DetailKey(u.RecipeID, u.ViewerID), func(old any, found bool) (any, bool) {
		if !found {
			return nil, false
		}
		detail, ok := cache.As[recipe.Detail](old)
		if !ok {
			return nil, false
		}
		return detail, u.apply(&detail.Engagement)
	})
	if err != nil {
		s.log.Warn("detail patch failed", zap.String("recipe_id", u.RecipeID), zap.Error(err))
	}
}

// patchProfile applies created to the created sub-list and saved to the
// saved sub-list; the mutation path passes the same update for both, the
// rollback path restores each list to its own captured values.
func (s *Synchronizer) patchProfile(ctx context.Context, created, saved Update) {
	_, err := s.store.Update(ctx, ProfileKey(created.ViewerID), func(old any, found bool) (any, bool) {
		if !found {
			return nil, false
		}
		profile, ok := cache.As[recipe.Profile](old)
		if !ok {
			return nil, false
		}
		var changed bool
		for i := range profile.Created {
			if profile.Created[i].Matches(created.RecipeID) && created.apply(&profile.Created[i].Engagement) {
				changed = true
			}
		}
		for i := range profile.Saved {
			if profile.Saved[i].Matches(saved.RecipeID) && saved.apply(&profile.Saved[i].Engagement) {
				changed = true
			}
		}
		return profile, changed
	})
	if err != nil {
		s.log.Warn("profile patch failed", zap.String("recipe_id", created.RecipeID), zap.Error(err))
	}
}

// ViewState is the captured engagement of one view, and whether the view
// held the recipe at capture time.
type ViewState struct {
	Engagement recipe.Engagement
	Present    bool
}

// Snapshot is the pre-mutation state of every view touched by an optimistic
// update. It is ephemeral: created at mutation start and either discarded on
// commit or consumed by Restore on rollback.
type Snapshot struct {
	RecipeID string
	ViewerID string

	Feed           ViewState
	Detail         ViewState
	ProfileCreated ViewState
	ProfileSaved   ViewState
}

// Current returns the recipe's current engagement from the first view that
// holds it, preferring the detail view as the richest projection.
func (snap Snapshot) Current() (recipe.Engagement, bool) {
	for _, vs := range []ViewState{snap.Detail, snap.Feed, snap.ProfileCreated, snap.ProfileSaved} {
		if vs.Present {
			return vs.Engagement, true
		}
	}
	return recipe.Engagement{}, false
}

// Snapshot captures the recipe's engagement in every view, including stale
// entries, since those are exactly what an optimistic patch will touch.
func (s *Synchronizer) Snapshot(ctx context.Context, recipeID, viewerID string) Snapshot {
	snap := Snapshot{RecipeID: recipeID, ViewerID: viewerID}

	if found, ent, err := s.store.Entry(ctx, FeedKey(viewerID)); err == nil && found {
		if entries, ok := cache.As[[]recipe.Summary](ent.Value); ok {
			for i := range entries {
				if entries[i].Matches(recipeID) {
					snap.Feed = ViewState{Engagement: entries[i].Engagement, Present: true}
					break
				}
			}
		}
	}
	if viewerID != "" {
		if found, ent, err := s.store.Entry(ctx, DetailKey(recipeID, viewerID)); err == nil && found {
			if detail, ok := cache.As[recipe.Detail](ent.Value); ok {
				snap.Detail = ViewState{Engagement: detail.Engagement, Present: true}
			}
		}
		if found, ent, err := s.store.Entry(ctx, ProfileKey(viewerID)); err == nil && found {
			if profile, ok := cache.As[recipe.Profile](ent.Value); ok {
				for i := range profile.Created {
					if profile.Created[i].Matches(recipeID) {
						snap.ProfileCreated = ViewState{Engagement: profile.Created[i].Engagement, Present: true}
						break
					}
				}
				for i := range profile.Saved {
					if profile.Saved[i].Matches(recipeID) {
						snap.ProfileSaved = ViewState{Engagement: profile.Saved[i].Engagement, Present: true}
						break
					}
				}
			}
		}
	}
	return snap
}

// Restore puts every captured view back to its snapshot state, field for
// field. Views absent at capture time are left alone.
func (s *Synchronizer) Restore(ctx context.Context, snap Snapshot) {
	base := Update{RecipeID: snap.RecipeID, ViewerID: snap.ViewerID}
	if snap.Feed.Present {
		s.patchFeed(ctx, base.full(snap.Feed.Engagement))
	}
	if snap.ViewerID != "" {
		if snap.Detail.Present {
			s.patchDetail(ctx, base.full(snap.Detail.Engagement))
		}
		if snap.ProfileCreated.Present || snap.ProfileSaved.Present {
			created := base
			saved := base
			if snap.ProfileCreated.Present {
				created = base.full(snap.ProfileCreated.Engagement)
			}
			if snap.ProfileSaved.Present {
				saved = base.full(snap.ProfileSaved.Engagement)
			}
			s.patchProfile(ctx, created, saved)
		}
	}
}
