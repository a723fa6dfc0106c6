package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ladleapp/go-client/cache"
	"github.com/ladleapp/go-client/recipe"
	"github.com/ladleapp/go-client/views"
)

const (
	testViewer = "user-1"
	testRecipe = "recipe-1"
)

type listenerFixture struct {
	ctx      context.Context
	store    cache.Store
	stream   *MemoryStream
	listener *Listener
}

func newListenerFixture(t *testing.T) *listenerFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	store := cache.NewInMemory(ctx, cache.WithExpiryCheck(time.Minute))
	stream := NewMemoryStream()
	sync := views.NewSynchronizer(store, zap.NewNop())
	listener := NewListener(stream, store, sync, zap.NewNop())
	t.Cleanup(func() {
		listener.Shutdown()
		stream.Close()
		store.Close(ctx)
		cancel()
	})
	return &listenerFixture{ctx: ctx, store: store, stream: stream, listener: listener}
}

func (f *listenerFixture) seedFeed(t *testing.T, entries ...recipe.Summary) {
	t.Helper()
	_, err := f.store.Set(f.ctx, views.FeedKey(testViewer), entries, time.Minute)
	assert.NoError(t, err)
}

func (f *listenerFixture) feed(t *testing.T) []recipe.Summary {
	t.Helper()
	found, entries, err := cache.Get[[]recipe.Summary](f.ctx, f.store, views.FeedKey(testViewer))
	assert.NoError(t, err)
	assert.True(t, found)
	return entries
}

func TestRecipeUpdatePatchesAllViews(t *testing.T) {
	f := newListenerFixture(t)
	eng := recipe.Engagement{LikeCount: 4, CommentCount: 2}
	f.seedFeed(t, recipe.Summary{ID: testRecipe, Title: "Bread", Engagement: eng})
	detail := recipe.Detail{Summary: recipe.Summary{ID: testRecipe, Title: "Bread", Engagement: eng}}
	_, err := f.store.Set(f.ctx, views.DetailKey(testRecipe, testViewer), detail, time.Minute)
	assert.NoError(t, err)
	assert.NoError(t, f.listener.Listen(f.ctx, TableRecipes, testViewer))

	err = f.stream.Publish(f.ctx, testViewer, Event{
		Type:  EventUpdate,
		Table: TableRecipes,
		Row:   map[string]any{"id": testRecipe, "like_count": 7},
	})
	assert.NoError(t, err)

	entries := f.feed(t)
	assert.Equal(t, 7, entries[0].LikeCount)
	assert.Equal(t, 2, entries[0].CommentCount)
	found, d, err := cache.Get[recipe.Detail](f.ctx, f.store, views.DetailKey(testRecipe, testViewer))
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 7, d.LikeCount)
}

func TestRecipeInsertPrependsWithDedup(t *testing.T) {
	f := newListenerFixture(t)
	f.seedFeed(t, recipe.Summary{ID: testRecipe, Title: "Bread"})
	assert.NoError(t, f.listener.Listen(f.ctx, TableRecipes, testViewer))

	err := f.stream.Publish(f.ctx, testViewer, Event{
		Type:  EventInsert,
		Table: TableRecipes,
		Row:   map[string]any{"id": "recipe-2", "title": "Soup"},
	})
	assert.NoError(t, err)
	entries := f.feed(t)
	assert.Len(t, entries, 2)
	assert.Equal(t, "recipe-2", entries[0].Key())
	assert.Equal(t, testRecipe, entries[1].Key())

	// Re-delivering the same insert does not duplicate the entry.
	err = f.stream.Publish(f.ctx, testViewer, Event{
		Type:  EventInsert,
		Table: TableRecipes,
		Row:   map[string]any{"id": "recipe-2", "title": "Soup"},
	})
	assert.NoError(t, err)
	assert.Len(t, f.feed(t), 2)
}

func TestRecipeDeleteRemovesEverywhere(t *testing.T) {
	f := newListenerFixture(t)
	f.seedFeed(t,
		recipe.Summary{ID: testRecipe, Title: "Bread"},
		recipe.Summary{ID: "recipe-2", Title: "Soup"},
	)
	detail := recipe.Detail{Summary: recipe.Summary{ID: testRecipe}}
	_, err := f.store.Set(f.ctx, views.DetailKey(testRecipe, testViewer), detail, time.Minute)
	assert.NoError(t, err)
	profile := recipe.Profile{
		UserID:  testViewer,
		Created: []recipe.Summary{{ID: testRecipe}},
		Saved:   []recipe.Summary{{ID: testRecipe}, {ID: "recipe-3"}},
	}
	_, err = f.store.Set(f.ctx, views.ProfileKey(testViewer), profile, time.Minute)
	assert.NoError(t, err)
	assert.NoError(t, f.listener.Listen(f.ctx, TableRecipes, testViewer))

	err = f.stream.Publish(f.ctx, testViewer, Event{
		Type:   EventDelete,
		Table:  TableRecipes,
		OldRow: map[string]any{"id": testRecipe},
	})
	assert.NoError(t, err)

	entries := f.feed(t)
	assert.Len(t, entries, 1)
	assert.Equal(t, "recipe-2", entries[0].Key())
	found, _, err := f.store.Get(f.ctx, views.DetailKey(testRecipe, testViewer))
	assert.NoError(t, err)
	assert.False(t, found)
	found, p, err := cache.Get[recipe.Profile](f.ctx, f.store, views.ProfileKey(testViewer))
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, p.Created)
	assert.Len(t, p.Saved, 1)
	assert.Equal(t, "recipe-3", p.Saved[0].Key())
}

func TestPantryInsertUpdateDelete(t *testing.T) {
	f := newListenerFixture(t)
	items := []recipe.PantryItem{{ID: "p1", Name: "flour"}}
	_, err := f.store.Set(f.ctx, views.PantryKey(testViewer), items, time.Minute)
	assert.NoError(t, err)
	assert.NoError(t, f.listener.Listen(f.ctx, TablePantryItems, testViewer))

	err = f.stream.Publish(f.ctx, testViewer, Event{
		Type:  EventInsert,
		Table: TablePantryItems,
		Row:   map[string]any{"id": "p2", "name": "sugar"},
	})
	assert.NoError(t, err)
	found, got, err := cache.Get[[]recipe.PantryItem](f.ctx, f.store, views.PantryKey(testViewer))
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, got, 2)
	assert.Equal(t, "sugar", got[0].Name)

	err = f.stream.Publish(f.ctx, testViewer, Event{
		Type:  EventUpdate,
		Table: TablePantryItems,
		Row:   map[string]any{"id": "p1", "name": "bread flour"},
	})
	assert.NoError(t, err)
	found, got, err = cache.Get[[]recipe.PantryItem](f.ctx, f.store, views.PantryKey(testViewer))
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, got, 2)
	assert.Equal(t, "bread flour", got[1].Name)

	err = f.stream.Publish(f.ctx, testViewer, Event{
		Type:   EventDelete,
		Table:  TablePantryItems,
		OldRow: map[string]any{"id": "p2"},
	})
	assert.NoError(t, err)
	found, got, err = cache.Get[[]recipe.PantryItem](f.ctx, f.store, views.PantryKey(testViewer))
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
}

func TestCommentInsertPatchesCachedList(t *testing.T) {
	f := newListenerFixture(t)
	f.seedFeed(t, recipe.Summary{ID: testRecipe, Engagement: recipe.Engagement{CommentCount: 1}})
	comments := []recipe.Comment{{ID: "c1", RecipeID: testRecipe, Body: "first"}}
	_, err := f.store.Set(f.ctx, views.CommentsKey(testRecipe), comments, time.Minute)
	assert.NoError(t, err)
	assert.NoError(t, f.listener.Listen(f.ctx, TableComments, testViewer))

	err = f.stream.Publish(f.ctx, testViewer, Event{
		Type:  EventInsert,
		Table: TableComments,
		Row:   map[string]any{"id": "c2", "recipe_id": testRecipe, "body": "second"},
	})
	assert.NoError(t, err)

	found, got, err := cache.Get[[]recipe.Comment](f.ctx, f.store, views.CommentsKey(testRecipe))
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, got, 2)
	assert.Equal(t, "second", got[1].Body)

	// The count projection follows the patched list length.
	entries := f.feed(t)
	assert.Equal(t, 2, entries[0].CommentCount)
}

func TestCommentInsertWithoutCachedListInvalidates(t *testing.T) {
	f := newListenerFixture(t)
	detail := recipe.Detail{Summary: recipe.Summary{ID: testRecipe}}
	_, err := f.store.Set(f.ctx, views.DetailKey(testRecipe, testViewer), detail, time.Minute)
	assert.NoError(t, err)
	assert.NoError(t, f.listener.Listen(f.ctx, TableComments, testViewer))

	err = f.stream.Publish(f.ctx, testViewer, Event{
		Type:  EventInsert,
		Table: TableComments,
		Row:   map[string]any{"id": "c1", "recipe_id": testRecipe, "body": "first"},
	})
	assert.NoError(t, err)

	// No cached list to patch: the count is not derivable, dependent keys
	// go stale for refetch.
	found, ent, err := f.store.Entry(f.ctx, views.DetailKey(testRecipe, testViewer))
	assert.NoError(t, err)
	assert.True(t, found)
	assert.True(t, ent.Stale)
}

func TestLikeEventWithCountPatches(t *testing.T) {
	f := newListenerFixture(t)
	f.seedFeed(t, recipe.Summary{ID: testRecipe, Engagement: recipe.Engagement{LikeCount: 4}})
	assert.NoError(t, f.listener.Listen(f.ctx, TableLikes, testViewer))

	err := f.stream.Publish(f.ctx, testViewer, Event{
		Type:  EventInsert,
		Table: TableLikes,
		Row:   map[string]any{"recipe_id": testRecipe, "like_count": 5},
	})
	assert.NoError(t, err)
	entries := f.feed(t)
	assert.Equal(t, 5, entries[0].LikeCount)
}

func TestLikeEventWithoutCountInvalidatesDetail(t *testing.T) {
	f := newListenerFixture(t)
	detail := recipe.Detail{Summary: recipe.Summary{ID: testRecipe, Engagement: recipe.Engagement{LikeCount: 4}}}
	_, err := f.store.Set(f.ctx, views.DetailKey(testRecipe, testViewer), detail, time.Minute)
	assert.NoError(t, err)
	assert.NoError(t, f.listener.Listen(f.ctx, TableLikes, testViewer))

	err = f.stream.Publish(f.ctx, testViewer, Event{
		Type:  EventInsert,
		Table: TableLikes,
		Row:   map[string]any{"recipe_id": testRecipe, "user_id": "someone-else"},
	})
	assert.NoError(t, err)
	found, ent, err := f.store.Entry(f.ctx, views.DetailKey(testRecipe, testViewer))
	assert.NoError(t, err)
	assert.True(t, found)
	assert.True(t, ent.Stale)
}

func TestResubscribeReplacesOldSubscription(t *testing.T) {
	f := newListenerFixture(t)
	assert.NoError(t, f.listener.Listen(f.ctx, TableRecipes, testViewer))
	assert.Equal(t, 1, f.stream.SubscriberCount(TableRecipes, testViewer))
	assert.NoError(t, f.listener.Listen(f.ctx, TableRecipes, testViewer))
	assert.Equal(t, 1, f.stream.SubscriberCount(TableRecipes, testViewer))
}

func TestStopListeningRemovesSubscription(t *testing.T) {
	f := newListenerFixture(t)
	assert.NoError(t, f.listener.Listen(f.ctx, TableRecipes, testViewer))
	f.listener.StopListening(TableRecipes, testViewer)
	assert.Equal(t, 0, f.stream.SubscriberCount(TableRecipes, testViewer))

	// Events after teardown do not touch the cache.
	f.seedFeed(t, recipe.Summary{ID: testRecipe, Engagement: recipe.Engagement{LikeCount: 4}})
	err := f.stream.Publish(f.ctx, testViewer, Event{
		Type:  EventUpdate,
		Table: TableRecipes,
		Row:   map[string]any{"id": testRecipe, "like_count": 99},
	})
	assert.NoError(t, err)
	entries := f.feed(t)
	assert.Equal(t, 4, entries[0].LikeCount)
}

func TestShutdownClosesEverySubscription(t *testing.T) {
	f := newListenerFixture(t)
	assert.NoError(t, f.listener.ListenAll(f.ctx, testViewer))
	for _, table := range Tables {
		assert.Equal(t, 1, f.stream.SubscriberCount(table, testViewer))
	}
	f.listener.Shutdown()
	for _, table := range Tables {
		assert.Equal(t, 0, f.stream.SubscriberCount(table, testViewer))
	}
}

func TestSubscribeSetupFailureNonFatal(t *testing.T) {
	f := newListenerFixture(t)
	f.stream.Close()
	err := f.listener.Listen(f.ctx, TableRecipes, testViewer)
	assert.ErrorIs(t, err, ErrStreamClosed)
	// The listener stays usable; nothing dangles.
	f.listener.Shutdown()
}
