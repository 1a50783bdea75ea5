package domain

import "time"

// Bookmark is one row of the remote bookmarks table.
//
// The JSON names match the row store columns so the same type decodes
// repository results, realtime payloads and API responses.
type Bookmark struct {
	// ─────────────────────────────
	// Identity (server-assigned)
	// ─────────────────────────────

	// ID is assigned by the row store on insert.
	ID string `json:"id"`

	// OwnerID is the identity that owns the row.
	// A session only ever sees rows where OwnerID equals its identity.
	OwnerID string `json:"user_id"`

	// ─────────────────────────────
	// Content
	// ─────────────────────────────

	// URL is an absolute URL.
	// Example: https://example.com/article
	URL string `json:"url"`

	// Title is never empty after trimming.
	Title string `json:"title"`

	// ─────────────────────────────
	// Metadata
	// ─────────────────────────────

	// CreatedAt is assigned by the row store and drives list ordering.
	CreatedAt time.Time `json:"created_at"`
}

// NewerThan reports whether b sorts before other in a created_at descending list.
// Ties are broken on ID so the order is total.
func (b Bookmark) NewerThan(other Bookmark) bool {
	if b.CreatedAt.Equal(other.CreatedAt) {
		return b.ID < other.ID
	}
	return b.CreatedAt.After(other.CreatedAt)
}
