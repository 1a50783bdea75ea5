package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNewDraft(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		title     string
		wantField string // empty = valid
		wantURL   string
		wantTitle string
	}{
		{name: "valid", url: "https://example.com", title: "Example", wantURL: "https://example.com", wantTitle: "Example"},
		{name: "trims input", url: "  https://example.com/a  ", title: "  Spaced  ", wantURL: "https://example.com/a", wantTitle: "Spaced"},
		{name: "whitespace title", url: "https://example.com", title: "  ", wantField: "title"},
		{name: "empty url", url: "", title: "Example", wantField: "url"},
		{name: "relative url", url: "/just/a/path", title: "Example", wantField: "url"},
		{name: "missing host", url: "https://", title: "Example", wantField: "url"},
		{name: "no scheme", url: "example.com", title: "Example", wantField: "url"},
		{name: "opaque url", url: "mailto:me@example.com", title: "Mail", wantURL: "mailto:me@example.com", wantTitle: "Mail"},
		{name: "inner whitespace", url: "https://exa mple.com", title: "Example", wantField: "url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDraft(tt.url, tt.title)
			if tt.wantField != "" {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("NewDraft() error = %v, want ValidationError", err)
				}
				if verr.Field != tt.wantField {
					t.Errorf("NewDraft() field = %q, want %q", verr.Field, tt.wantField)
				}
				if !errors.Is(err, ErrValidation) {
					t.Errorf("NewDraft() error should match ErrValidation")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewDraft() unexpected error: %v", err)
			}
			if d.URL() != tt.wantURL || d.Title() != tt.wantTitle {
				t.Errorf("NewDraft() = (%q, %q), want (%q, %q)", d.URL(), d.Title(), tt.wantURL, tt.wantTitle)
			}
		})
	}
}

func TestOwnerIDIsStable(t *testing.T) {
	a := OwnerID("google", "1234")
	b := OwnerID("Google", " 1234 ")
	if a != b {
		t.Errorf("OwnerID() not stable: %s != %s", a, b)
	}
	if a == OwnerID("google", "5678") {
		t.Error("OwnerID() collided for different subjects")
	}
}

func TestChangeEventRow(t *testing.T) {
	newRow := &Bookmark{ID: "n", OwnerID: "u1"}
	oldRow := &Bookmark{ID: "o", OwnerID: "u1"}

	tests := []struct {
		name  string
		event ChangeEvent
		want  *Bookmark
	}{
		{name: "insert uses new", event: ChangeEvent{Kind: EventInsert, New: newRow}, want: newRow},
		{name: "update uses new", event: ChangeEvent{Kind: EventUpdate, New: newRow, Old: oldRow}, want: newRow},
		{name: "delete uses old", event: ChangeEvent{Kind: EventDelete, Old: oldRow}, want: oldRow},
		{name: "resync has no row", event: ChangeEvent{Kind: EventResync}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Row(); got != tt.want {
				t.Errorf("Row() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBookmarkNewerThan(t *testing.T) {
	now := time.Now()
	older := Bookmark{ID: "b", CreatedAt: now.Add(-time.Minute)}
	newer := Bookmark{ID: "a", CreatedAt: now}
	if !newer.NewerThan(older) || older.NewerThan(newer) {
		t.Error("NewerThan() should order by created_at descending")
	}
	tie := Bookmark{ID: "c", CreatedAt: now}
	if !newer.NewerThan(tie) {
		t.Error("NewerThan() should break ties on id")
	}
}

func TestTypedErrorsUnwrap(t *testing.T) {
	cause := errors.New("connection refused")

	if err := error(&StoreError{Op: "list", Err: cause}); !errors.Is(err, ErrStore) || !errors.Is(err, cause) {
		t.Errorf("StoreError should unwrap to ErrStore and its cause")
	}
	if err := error(&FeedError{Op: "subscribe", Err: cause}); !errors.Is(err, ErrFeed) || !errors.Is(err, cause) {
		t.Errorf("FeedError should unwrap to ErrFeed and its cause")
	}
	if err := error(&AuthError{Reason: "no session"}); !errors.Is(err, ErrAuth) {
		t.Errorf("AuthError should unwrap to ErrAuth")
	}
}
