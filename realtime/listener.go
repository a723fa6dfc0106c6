package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ladleapp/go-client/cache"
	"github.com/ladleapp/go-client/recipe"
	"github.com/ladleapp/go-client/rpc"
	"github.com/ladleapp/go-client/views"
)

// Backend tables with change streams the client cares about.
const (
	TableRecipes     = "recipes"
	TablePantryItems = "pantry_items"
	TableComments    = "recipe_comments"
	TableLikes       = "recipe_likes"
)

// Tables lists every table the listener subscribes to for a signed-in user.
var Tables = []string{TableRecipes, TablePantryItems, TableComments, TableLikes}

// Listener subscribes to per-(table, user) change streams and keeps the
// cached views consistent with pushed inserts, updates, and deletes. At most
// one subscription exists per pair; subscribing again for the same pair
// first tears down the previous one. Setup failures are logged and
// non-fatal; the affected data just falls back to fetch-on-demand.
type Listener struct {
	stream Stream
	store  cache.Store
	views  *views.Synchronizer
	log    *zap.Logger

	mu   sync.Mutex
	subs map[string]Subscription
}

// NewListener returns a Listener applying events through the given store and
// synchronizer.
func NewListener(stream Stream, store cache.Store, sync *views.Synchronizer, log *zap.Logger) *Listener {
	return &Listener{
		stream: stream,
		store:  store,
		views:  sync,
		log:    log.Named("realtime"),
		subs:   make(map[string]Subscription),
	}
}

func pairKey(table, userID string) string {
	return table + "|" + userID
}

// Listen establishes the subscription for one (table, userID) pair,
// replacing any existing subscription for that pair. The subscription lives
// until StopListening, Shutdown, or ctx cancellation.
func (l *Listener) Listen(ctx context.Context, table, userID string) error {
	key := pairKey(table, userID)

	l.mu.Lock()
	if old, ok := l.subs[key]; ok {
		old.Close()
		delete(l.subs, key)
	}
	l.mu.Unlock()

	sub, err := l.stream.Subscribe(ctx, table, userID, func(ctx context.Context, ev Event) {
		l.apply(ctx, userID, ev)
	})
	if err != nil {
		l.log.Warn("subscription setup failed, falling back to fetch-on-demand",
			zap.String("table", table),
			zap.String("user_id", userID),
			zap.Error(err))
		return err
	}

	l.mu.Lock()
	if old, ok := l.subs[key]; ok {
		// Lost a race with a concurrent Listen for the same pair.
		old.Close()
	}
	l.subs[key] = sub
	l.mu.Unlock()
	return nil
}

// ListenAll subscribes to every table in Tables for one user. Individual
// setup failures are already logged; the first error is returned for
// visibility but callers may ignore it.
func (l *Listener) ListenAll(ctx context.Context, userID string) error {
	var firstErr error
	for _, table := range Tables {
		if err := l.Listen(ctx, table, userID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StopListening tears down the subscription for one pair, if any.
func (l *Listener) StopListening(table, userID string) {
	key := pairKey(table, userID)
	l.mu.Lock()
	sub, ok := l.subs[key]
	if ok {
		delete(l.subs, key)
	}
	l.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// Shutdown tears down every subscription.
func (l *Listener) Shutdown() {
	l.mu.Lock()
	subs := l.subs
	l.subs = make(map[string]Subscription)
	l.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

func (l *Listener) apply(ctx context.Context, userID string, ev Event) {
	switch ev.Table {
	case TableRecipes:
		l.applyRecipe(ctx, userID, ev)
	case TablePantryItems:
		l.applyPantry(ctx, userID, ev)
	case TableComments:
		l.applyComment(ctx, userID, ev)
	case TableLikes:
		l.applyLike(ctx, userID, ev)
	default:
		l.log.Debug("ignoring event for unknown table", zap.String("table", ev.Table))
	}
}

// applyRecipe keeps the feed, detail, and profile views in step with pushed
// recipe rows.
func (l *Listener) applyRecipe(ctx context.Context, userID string, ev Event) {
	switch ev.Type {
	case EventInsert:
		summary := rpc.NormalizeSummary(ev.Row)
		if summary.Key() == "" {
			return
		}
		_, _ = l.store.Update(ctx, views.FeedKey(userID), func(old any, found bool) (any, bool) {
			if !found {
				return nil, false
			}
			entries, ok := cache.As[[]recipe.Summary](old)
			if !ok {
				return nil, false
			}
			for i := range entries {
				if entries[i].Matches(summary.Key()) {
					return nil, false
				}
			}
			return append([]recipe.Summary{summary}, entries...), true
		})

	case EventUpdate:
		recipeID := rpc.NormalizeRecipeID(ev.Row)
		if recipeID == "" {
			return
		}
		fields := rpc.NormalizeEngagementFields(ev.Row)
		_ = l.views.Apply(ctx, views.Update{
			RecipeID:     recipeID,
			ViewerID:     userID,
			LikeCount:    fields.LikeCount,
			Liked:        fields.Liked,
			Saved:        fields.Saved,
			CommentCount: fields.CommentCount,
		})

	case EventDelete:
		recipeID := rpc.NormalizeRecipeID(ev.OldRow)
		if recipeID == "" {
			recipeID = rpc.NormalizeRecipeID(ev.Row)
		}
		if recipeID == "" {
			return
		}
		l.removeFromLists(ctx, userID, recipeID)
		_, _ = l.store.Remove(ctx, views.DetailKey(recipeID, userID))
	}
}

// removeFromLists drops a deleted recipe from the feed and both profile
// sub-lists.
func (l *Listener) removeFromLists(ctx context.Context, userID, recipeID string) {
	_, _ = l.store.Update(ctx, views.FeedKey(userID), func(old any, found bool) (any, bool) {
		if !found {
			return nil, false
		}
		entries, ok := cache.As[[]recipe.Summary](old)
		if !ok {
			return nil, false
		}
		next, changed := withoutSummary(entries, recipeID)
		return next, changed
	})
	_, _ = l.store.Update(ctx, views.ProfileKey(userID), func(old any, found bool) (any, bool) {
		if !found {
			return nil, false
		}
		profile, ok := cache.As[recipe.Profile](old)
		if !ok {
			return nil, false
		}
		var changed bool
		if next, ok := withoutSummary(profile.Created, recipeID); ok {
			profile.Created = next
			changed = true
		}
		if next, ok := withoutSummary(profile.Saved, recipeID); ok {
			profile.Saved = next
			changed = true
		}
		return profile, changed
	})
}

func withoutSummary(entries []recipe.Summary, recipeID string) ([]recipe.Summary, bool) {
	for i := range entries {
		if entries[i].Matches(recipeID) {
			return append(entries[:i:i], entries[i+1:]...), true
		}
	}
	return entries, false
}

// applyPantry patches the pantry list in place: inserts prepend (dedup by
// id), updates replace the matching item, deletes remove it.
func (l *Listener) applyPantry(ctx context.Context, userID string, ev Event) {
	row := ev.Row
	if ev.Type == EventDelete && len(ev.OldRow) > 0 {
		row = ev.OldRow
	}
	item := rpc.NormalizePantryItem(row)
	if item.ID == "" {
		return
	}
	_, _ = l.store.Update(ctx, views.PantryKey(userID), func(old any, found bool) (any, bool) {
		if !found {
			return nil, false
		}
		items, ok := cache.As[[]recipe.PantryItem](old)
		if !ok {
			return nil, false
		}
		switch ev.Type {
		case EventInsert:
			for i := range items {
				if items[i].ID == item.ID {
					return nil, false
				}
			}
			return append([]recipe.PantryItem{item}, items...), true
		case EventUpdate:
			for i := range items {
				if items[i].ID == item.ID {
					items[i] = item
					return items, true
				}
			}
			return nil, false
		case EventDelete:
			for i := range items {
				if items[i].ID == item.ID {
					return append(items[:i:i], items[i+1:]...), true
				}
			}
			return nil, false
		}
		return nil, false
	})
}

// applyComment patches the cached comment list when one exists and keeps the
// comment count projections in step with its length. Without a cached list
// the count is not derivable from the event, so dependent keys are marked
// stale for refetch instead.
func (l *Listener) applyComment(ctx context.Context, userID string, ev Event) {
	row := ev.Row
	if ev.Type == EventDelete && len(ev.OldRow) > 0 {
		row = ev.OldRow
	}
	comment := rpc.NormalizeComment(row)
	if comment.RecipeID == "" {
		return
	}

	patched := false
	var count int
	_, _ = l.store.Update(ctx, views.CommentsKey(comment.RecipeID), func(old any, found bool) (any, bool) {
		if !found {
			return nil, false
		}
		comments, ok := cache.As[[]recipe.Comment](old)
		if !ok {
			return nil, false
		}
		switch ev.Type {
		case EventInsert:
			for i := range comments {
				if comments[i].ID == comment.ID {
					return nil, false
				}
			}
			comments = append(comments, comment)
		case EventDelete:
			idx := -1
			for i := range comments {
				if comments[i].ID == comment.ID {
					idx = i
					break
				}
			}
			if idx < 0 {
				return nil, false
			}
			comments = append(comments[:idx:idx], comments[idx+1:]...)
		default:
			return nil, false
		}
		patched = true
		count = len(comments)
		return comments, true
	})

	if patched {
		_ = l.views.Apply(ctx, views.Update{
			RecipeID:     comment.RecipeID,
			ViewerID:     userID,
			CommentCount: &count,
		})
		return
	}
	_, _ = l.store.Invalidate(ctx, views.CommentsKey(comment.RecipeID))
	_, _ = l.store.Invalidate(ctx, views.DetailKey(comment.RecipeID, userID))
}

// applyLike patches the like count when the pushed row carries one;
// otherwise the count is not derivable and the detail view is marked stale.
func (l *Listener) applyLike(ctx context.Context, userID string, ev Event) {
	row := ev.Row
	if ev.Type == EventDelete && len(ev.OldRow) > 0 {
		row = ev.OldRow
	}
	recipeID := rpc.NormalizeRecipeID(row)
	if recipeID == "" {
		return
	}
	fields := rpc.NormalizeEngagementFields(row)
	if fields.LikeCount != nil {
		_ = l.views.Apply(ctx, views.Update{
			RecipeID:  recipeID,
			ViewerID:  userID,
			LikeCount: fields.LikeCount,
		})
		return
	}
	_, _ = l.store.Invalidate(ctx, views.DetailKey(recipeID, userID))
}
