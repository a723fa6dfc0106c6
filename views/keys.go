// Package views owns the cached projections of recipe data (the feed, the
// recipe detail screen, the profile lists, comments, and the pantry) and
// the cross-view synchronizer that keeps their redundant engagement fields
// in agreement.
package views

// anonViewer is the key segment for unauthenticated browsing, where no
// viewer-specific flags apply.
const anonViewer = "anon"

func viewerSegment(viewerID string) string {
	if viewerID == "" {
		return anonViewer
	}
	return viewerID
}

// FeedKey is the cache key of the community feed as seen by one viewer.
// Feeds are viewer-scoped because pantry-match percentages and the
// liked/saved flags differ per viewer.
func FeedKey(viewerID string) string {
	return "feed:" + viewerSegment(viewerID)
}

// DetailKey is the cache key of a recipe detail view for one viewer.
func DetailKey(recipeID, viewerID string) string {
	return "recipe:" + recipeID + ":" + viewerSegment(viewerID)
}

// ProfileKey is the cache key of a user's own profile lists.
func ProfileKey(userID string) string {
	return "profile:" + userID
}

// CommentsKey is the cache key of a recipe's comment list. Comments are not
// viewer-scoped.
func CommentsKey(recipeID string) string {
	return "comments:" + recipeID
}

// PantryKey is the cache key of a user's pantry item list.
func PantryKey(userID string) string {
	return "pantry:" + userID
}
