// Package recipe defines the entity types shared by the cache views, the
// backend RPC layer, and the realtime listener. All other packages depend on
// recipe; recipe depends on nothing.
package recipe

import "time"

// Creator identifies the user who published a recipe.
type Creator struct {
	ID        string `json:"id" msgpack:"id"`
	Username  string `json:"username" msgpack:"username"`
	AvatarURL string `json:"avatar_url,omitempty" msgpack:"avatar_url,omitempty"`
}

// Engagement holds the viewer-facing interaction fields that are redundantly
// projected into every cached view of a recipe. These are the only fields the
// mutation and synchronization paths ever patch.
type Engagement struct {
	LikeCount    int  `json:"like_count" msgpack:"like_count"`
	Liked        bool `json:"liked" msgpack:"liked"`
	Saved        bool `json:"saved" msgpack:"saved"`
	CommentCount int  `json:"comment_count" msgpack:"comment_count"`
}

// Summary is the denormalized feed entry for one recipe.
//
// RecipeID is a legacy identifier field: older backend rows carry the id under
// recipe_id instead of id. Key resolves the two into one logical identifier.
type Summary struct {
	ID             string    `json:"id" msgpack:"id"`
	RecipeID       string    `json:"recipe_id,omitempty" msgpack:"recipe_id,omitempty"`
	Title          string    `json:"title" msgpack:"title"`
	MediaURL       string    `json:"media_url,omitempty" msgpack:"media_url,omitempty"`
	Creator        Creator   `json:"creator" msgpack:"creator"`
	CreatedAt      time.Time `json:"created_at" msgpack:"created_at"`
	PantryMatchPct int       `json:"pantry_match_pct" msgpack:"pantry_match_pct"`
	Engagement     `msgpack:",inline"`
}

// Key returns the logical recipe identifier, preferring the modern id field.
func (s Summary) Key() string {
	if s.ID != "" {
		return s.ID
	}
	return s.RecipeID
}

// Matches reports whether this entry refers to the given recipe id under
// either of the historical id field names.
func (s Summary) Matches(recipeID string) bool {
	return recipeID != "" && (s.ID == recipeID || s.RecipeID == recipeID)
}

// Ingredient is one line of a recipe's ingredient list.
type Ingredient struct {
	Name     string  `json:"name" msgpack:"name"`
	Quantity float64 `json:"quantity,omitempty" msgpack:"quantity,omitempty"`
	Unit     string  `json:"unit,omitempty" msgpack:"unit,omitempty"`
}

// PantryMatch describes how well the viewer's pantry covers a recipe.
type PantryMatch struct {
	Percent int      `json:"percent" msgpack:"percent"`
	Matched []string `json:"matched,omitempty" msgpack:"matched,omitempty"`
	Missing []string `json:"missing,omitempty" msgpack:"missing,omitempty"`
}

// Detail is the full recipe record as cached for one viewer. It is a strict
// superset of Summary; the shared engagement fields must stay reconcilable
// with the feed and profile projections of the same recipe.
type Detail struct {
	Summary     `msgpack:",inline"`
	Ingredients []Ingredient `json:"ingredients" msgpack:"ingredients"`
	Steps       []string     `json:"steps" msgpack:"steps"`
	PrepMinutes int          `json:"prep_minutes,omitempty" msgpack:"prep_minutes,omitempty"`
	CookMinutes int          `json:"cook_minutes,omitempty" msgpack:"cook_minutes,omitempty"`
	Servings    int          `json:"servings,omitempty" msgpack:"servings,omitempty"`
	PantryMatch PantryMatch  `json:"pantry_match" msgpack:"pantry_match"`
}

// Profile holds the recipe lists shown on a user's own profile screen. Both
// lists carry the same redundant engagement fields as the feed.
type Profile struct {
	UserID  string    `json:"user_id" msgpack:"user_id"`
	Created []Summary `json:"created" msgpack:"created"`
	Saved   []Summary `json:"saved" msgpack:"saved"`
}

// Comment is a single comment on a recipe.
type Comment struct {
	ID        string    `json:"id" msgpack:"id"`
	RecipeID  string    `json:"recipe_id" msgpack:"recipe_id"`
	AuthorID  string    `json:"author_id" msgpack:"author_id"`
	Body      string    `json:"body" msgpack:"body"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
}

// PantryItem is one row of a user's pantry inventory.
type PantryItem struct {
	ID       string    `json:"id" msgpack:"id"`
	UserID   string    `json:"user_id" msgpack:"user_id"`
	Name     string    `json:"name" msgpack:"name"`
	Quantity float64   `json:"quantity,omitempty" msgpack:"quantity,omitempty"`
	Unit     string    `json:"unit,omitempty" msgpack:"unit,omitempty"`
	AddedAt  time.Time `json:"added_at" msgpack:"added_at"`
}
