package views

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ladleapp/go-client/cache"
	"github.com/ladleapp/go-client/recipe"
	"github.com/ladleapp/go-client/rpc"
)

func TestReaderFeedFetchThrough(t *testing.T) {
	ctx, store := newTestStore(t)
	backend := &rpc.TestClient{
		FeedValue: []recipe.Summary{{ID: testRecipe, Title: "Bread"}},
	}
	reader := NewReader(store, backend)

	feed, found, err := reader.Feed(ctx, testViewer)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, feed, 1)
	assert.Equal(t, 1, backend.CallCount("Feed"))

	// Second read is a cache hit without another backend call.
	feed, found, err = reader.Feed(ctx, testViewer)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, feed, 1)
	assert.Equal(t, 1, backend.CallCount("Feed"))
}

func TestReaderStaleServedWhileRefetchInFlight(t *testing.T) {
	ctx, store := newTestStore(t)
	backend := &rpc.TestClient{
		DetailValue: recipe.Detail{Summary: recipe.Summary{ID: testRecipe, Title: "Bread"}},
	}
	reader := NewReader(store, backend)

	_, _, err := reader.Recipe(ctx, testRecipe, testViewer)
	assert.NoError(t, err)
	_, err = store.Invalidate(ctx, DetailKey(testRecipe, testViewer))
	assert.NoError(t, err)

	// Occupy the in-flight slot; the stale value is served instead of a
	// second fetch.
	_, ok := store.TrackFetch(DetailKey(testRecipe, testViewer))
	assert.True(t, ok)
	detail, found, err := reader.Recipe(ctx, testRecipe, testViewer)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Bread", detail.Title)
	assert.Equal(t, 1, backend.CallCount("RecipeDetail"))
	store.FetchDone(DetailKey(testRecipe, testViewer))
}

func TestReaderBackendError(t *testing.T) {
	ctx, store := newTestStore(t)
	backend := &rpc.TestClient{Err: errors.New("backend down")}
	reader := NewReader(store, backend)

	_, found, err := reader.Profile(ctx, testViewer)
	assert.Error(t, err)
	assert.False(t, found)
	found, _, err = store.Get(ctx, ProfileKey(testViewer))
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestReaderCachesPerView(t *testing.T) {
	ctx, store := newTestStore(t)
	backend := &rpc.TestClient{
		CommentsValue: []recipe.Comment{{ID: "c1", RecipeID: testRecipe, Body: "nice"}},
		PantryValue:   []recipe.PantryItem{{ID: "p1", Name: "flour"}},
	}
	reader := NewReader(store, backend)

	comments, found, err := reader.Comments(ctx, testRecipe)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, comments, 1)
	items, found, err := reader.Pantry(ctx, testViewer)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "flour", items[0].Name)

	found, cached, err := cache.Get[[]recipe.Comment](ctx, store, CommentsKey(testRecipe))
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "nice", cached[0].Body)
}
