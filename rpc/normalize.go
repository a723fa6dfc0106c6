package rpc

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/ladleapp/go-client/recipe"
)

// The backend's response shapes have drifted across versions: the same
// logical value shows up under different key names depending on which
// procedure (and which era of it) produced the row. Everything is mapped to
// canonical names here, at ingestion, with missing counts defaulting to zero
// and missing flags to false.

var (
	idKeys           = []string{"id", "recipe_id", "recipeId"}
	likedKeys        = []string{"liked", "is_liked", "liked_by_user", "likedByUser"}
	savedKeys        = []string{"saved", "is_saved", "saved_by_user", "savedByUser"}
	likeCountKeys    = []string{"like_count", "likes_count", "likes", "likeCount"}
	commentCountKeys = []string{"comment_count", "comments_count", "comments", "commentCount"}
	mediaKeys        = []string{"media_url", "image_url", "photo_url", "mediaUrl"}
	matchKeys        = []string{"pantry_match_pct", "pantry_match", "match_percentage", "matchPercentage"}
)

func pickValue(row map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func pickString(row map[string]any, keys ...string) (string, bool) {
	v, ok := pickValue(row, keys)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func pickBool(row map[string]any, keys ...string) (bool, bool) {
	v, ok := pickValue(row, keys)
	if !ok {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(t)
		return b, err == nil
	default:
		return false, false
	}
}

func pickInt(row map[string]any, keys ...string) (int, bool) {
	v, ok := pickValue(row, keys)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	case []any:
		// Some procedures return the raw related rows instead of a count.
		return len(t), true
	default:
		return 0, false
	}
}

func pickTime(row map[string]any, keys ...string) time.Time {
	s, ok := pickString(row, keys...)
	if !ok {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func pickStrings(row map[string]any, keys ...string) []string {
	v, ok := pickValue(row, keys)
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func pickMap(row map[string]any, keys ...string) (map[string]any, bool) {
	v, ok := pickValue(row, keys)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

// EngagementFields holds the engagement values a row actually carried; nil
// means the row did not mention that field.
type EngagementFields struct {
	LikeCount    *int
	Liked        *bool
	Saved        *bool
	CommentCount *int
}

// NormalizeEngagementFields extracts whichever engagement fields a raw row
// carries, under any of the historical key names.
func NormalizeEngagementFields(row map[string]any) EngagementFields {
	var f EngagementFields
	if n, ok := pickInt(row, likeCountKeys...); ok {
		f.LikeCount = &n
	}
	if b, ok := pickBool(row, likedKeys...); ok {
		f.Liked = &b
	}
	if b, ok := pickBool(row, savedKeys...); ok {
		f.Saved = &b
	}
	if n, ok := pickInt(row, commentCountKeys...); ok {
		f.CommentCount = &n
	}
	return f
}

// NormalizeRecipeID resolves the row's recipe identifier under any of the
// historical key names.
func NormalizeRecipeID(row map[string]any) string {
	s, _ := pickString(row, idKeys...)
	return s
}

// NormalizeSummary maps a raw feed/profile row to a canonical Summary.
func NormalizeSummary(row map[string]any) recipe.Summary {
	var s recipe.Summary
	s.ID, _ = pickString(row, "id")
	s.RecipeID, _ = pickString(row, "recipe_id", "recipeId")
	s.Title, _ = pickString(row, "title", "name")
	s.MediaURL, _ = pickString(row, mediaKeys...)
	s.CreatedAt = pickTime(row, "created_at", "createdAt")
	s.PantryMatchPct, _ = pickInt(row, matchKeys...)
	s.LikeCount, _ = pickInt(row, likeCountKeys...)
	s.Liked, _ = pickBool(row, likedKeys...)
	s.Saved, _ = pickBool(row, savedKeys...)
	s.CommentCount, _ = pickInt(row, commentCountKeys...)
	if creator, ok := pickMap(row, "creator", "author", "user"); ok {
		s.Creator.ID, _ = pickString(creator, "id", "user_id")
		s.Creator.Username, _ = pickString(creator, "username", "name")
		s.Creator.AvatarURL, _ = pickString(creator, "avatar_url", "avatarUrl")
	} else {
		s.Creator.ID, _ = pickString(row, "creator_id", "user_id", "author_id")
		s.Creator.Username, _ = pickString(row, "creator_name", "username")
	}
	return s
}

// NormalizeDetail maps a raw recipe-details payload to a canonical Detail.
func NormalizeDetail(row map[string]any) recipe.Detail {
	var d recipe.Detail
	d.Summary = NormalizeSummary(row)
	if raw, ok := pickValue(row, []string{"ingredients"}); ok {
		if items, ok := raw.([]any); ok {
			for _, item := range items {
				switch t := item.(type) {
				case string:
					d.Ingredients = append(d.Ingredients, recipe.Ingredient{Name: t})
				case map[string]any:
					var ing recipe.Ingredient
					ing.Name, _ = pickString(t, "name", "ingredient")
					if q, ok := t["quantity"].(float64); ok {
						ing.Quantity = q
					}
					ing.Unit, _ = pickString(t, "unit")
					d.Ingredients = append(d.Ingredients, ing)
				}
			}
		}
	}
	d.Steps = pickStrings(row, "steps", "instructions")
	d.PrepMinutes, _ = pickInt(row, "prep_minutes", "prep_time")
	d.CookMinutes, _ = pickInt(row, "cook_minutes", "cook_time")
	d.Servings, _ = pickInt(row, "servings")
	if match, ok := pickMap(row, "pantry_match", "pantryMatch"); ok {
		d.PantryMatch.Percent, _ = pickInt(match, "percent", "percentage", "match_percentage")
		d.PantryMatch.Matched = pickStrings(match, "matched", "matched_ingredients")
		d.PantryMatch.Missing = pickStrings(match, "missing", "missing_ingredients")
		d.PantryMatchPct = d.PantryMatch.Percent
	} else {
		d.PantryMatch.Percent = d.PantryMatchPct
	}
	return d
}

// NormalizeComment maps a raw comment row to a canonical Comment.
func NormalizeComment(row map[string]any) recipe.Comment {
	var c recipe.Comment
	c.ID, _ = pickString(row, "id", "comment_id")
	c.RecipeID = NormalizeRecipeID(row)
	c.AuthorID, _ = pickString(row, "author_id", "user_id")
	c.Body, _ = pickString(row, "body", "content", "text")
	c.CreatedAt = pickTime(row, "created_at", "createdAt")
	return c
}

// NormalizePantryItem maps a raw pantry row to a canonical PantryItem.
func NormalizePantryItem(row map[string]any) recipe.PantryItem {
	var p recipe.PantryItem
	p.ID, _ = pickString(row, "id", "item_id")
	p.UserID, _ = pickString(row, "user_id", "owner_id")
	p.Name, _ = pickString(row, "name", "ingredient", "ingredient_name")
	if q, ok := row["quantity"].(float64); ok {
		p.Quantity = q
	}
	p.Unit, _ = pickString(row, "unit")
	p.AddedAt = pickTime(row, "added_at", "created_at")
	return p
}

// decodeRow unmarshals a JSON object, unwrapping the single-element array
// some procedures return for scalar results.
func decodeRow(raw []byte) (map[string]any, bool) {
	var row map[string]any
	if err := json.Unmarshal(raw, &row); err == nil {
		return row, true
	}
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err == nil && len(rows) > 0 {
		return rows[0], true
	}
	return nil, false
}

// decodeRows unmarshals a JSON array of objects, tolerating the list being
// wrapped in a data/items/recipes envelope.
func decodeRows(raw []byte) []map[string]any {
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err == nil {
		return rows
	}
	var wrapper map[string]any
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil
	}
	for _, key := range []string{"data", "items", "recipes", "results"} {
		if inner, ok := wrapper[key].([]any); ok {
			out := make([]map[string]any, 0, len(inner))
			for _, item := range inner {
				if m, ok := item.(map[string]any); ok {
					out = append(out, m)
				}
			}
			return out
		}
	}
	return nil
}

func decodeLikeResult(raw []byte) LikeResult {
	row, ok := decodeRow(raw)
	if !ok {
		return LikeResult{}
	}
	f := NormalizeEngagementFields(row)
	if f.Liked == nil || f.LikeCount == nil {
		return LikeResult{}
	}
	return LikeResult{Liked: *f.Liked, LikeCount: *f.LikeCount, Known: true}
}

func decodeSaveResult(raw []byte) SaveResult {
	row, ok := decodeRow(raw)
	if !ok {
		return SaveResult{}
	}
	f := NormalizeEngagementFields(row)
	if f.Saved == nil {
		return SaveResult{}
	}
	return SaveResult{Saved: *f.Saved, Known: true}
}

func decodeCommentResult(raw []byte) CommentResult {
	row, ok := decodeRow(raw)
	if !ok {
		return CommentResult{}
	}
	var res CommentResult
	if inner, ok := pickMap(row, "comment"); ok {
		res.Comment = NormalizeComment(inner)
	} else {
		res.Comment = NormalizeComment(row)
	}
	f := NormalizeEngagementFields(row)
	if f.CommentCount == nil {
		return res
	}
	res.CommentCount = *f.CommentCount
	res.Known = true
	return res
}

// decodeCount accepts a bare number, a count-keyed object, or a row list.
func decodeCount(raw []byte) (int, bool) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	row, ok := decodeRow(raw)
	if !ok {
		return 0, false
	}
	if c, ok := pickInt(row, "count", "total"); ok {
		return c, true
	}
	if c, ok := pickInt(row, commentCountKeys...); ok {
		return c, true
	}
	if c, ok := pickInt(row, likeCountKeys...); ok {
		return c, true
	}
	return 0, false
}

func decodeSummaries(raw []byte) []recipe.Summary {
	rows := decodeRows(raw)
	out := make([]recipe.Summary, 0, len(rows))
	for _, row := range rows {
		out = append(out, NormalizeSummary(row))
	}
	return out
}

func decodeProfile(raw []byte, userID string) recipe.Profile {
	p := recipe.Profile{UserID: userID}
	row, ok := decodeRow(raw)
	if !ok {
		return p
	}
	if created, ok := row["created"].([]any); ok {
		for _, item := range created {
			if m, ok := item.(map[string]any); ok {
				p.Created = append(p.Created, NormalizeSummary(m))
			}
		}
	}
	if saved, ok := row["saved"].([]any); ok {
		for _, item := range saved {
			if m, ok := item.(map[string]any); ok {
				p.Saved = append(p.Saved, NormalizeSummary(m))
			}
		}
	}
	return p
}

func decodeComments(raw []byte) []recipe.Comment {
	rows := decodeRows(raw)
	out := make([]recipe.Comment, 0, len(rows))
	for _, row := range rows {
		out = append(out, NormalizeComment(row))
	}
	return out
}

func decodePantryItems(raw []byte) []recipe.PantryItem {
	rows := decodeRows(raw)
	out := make([]recipe.PantryItem, 0, len(rows))
	for _, row := range rows {
		out = append(out, NormalizePantryItem(row))
	}
	return out
}
