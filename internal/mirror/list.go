package mirror

import (
	"sort"

	"github.com/MrSnakeDoc/shelf/internal/domain"
)

// List is the local mirror of one owner's bookmarks, newest first.
// It is owned by a single controller loop and is not safe for concurrent use.
type List struct {
	items []domain.Bookmark
}

// Reset replaces the content with rows sorted by created_at descending.
func (l *List) Reset(rows []domain.Bookmark) {
	items := make([]domain.Bookmark, len(rows))
	copy(items, rows)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].NewerThan(items[j])
	})
	l.items = items
}

// Apply applies one feed event and reports whether the list changed.
func (l *List) Apply(ev domain.ChangeEvent) bool {
	row := ev.Row()
	if row == nil {
		return false
	}
	switch ev.Kind {
	case domain.EventInsert:
		return l.Insert(*row)
	case domain.EventUpdate:
		return l.Replace(*row)
	case domain.EventDelete:
		return l.Remove(row.ID)
	default:
		return false
	}
}

// Insert prepends b unless an entry with the same id is already present.
func (l *List) Insert(b domain.Bookmark) bool {
	if l.indexOf(b.ID) >= 0 {
		return false
	}
	l.items = append([]domain.Bookmark{b}, l.items...)
	return true
}

// Replace swaps the entry with b's id in place. Absent ids are ignored.
func (l *List) Replace(b domain.Bookmark) bool {
	i := l.indexOf(b.ID)
	if i < 0 {
		return false
	}
	l.items[i] = b
	return true
}

// Remove drops the entry with id. Absent ids are ignored.
func (l *List) Remove(id string) bool {
	i := l.indexOf(id)
	if i < 0 {
		return false
	}
	l.items = append(l.items[:i], l.items[i+1:]...)
	return true
}

// Contains reports whether an entry with id is present.
func (l *List) Contains(id string) bool { return l.indexOf(id) >= 0 }

// Len returns the number of entries.
func (l *List) Len() int { return len(l.items) }

// Items returns a copy of the entries. Never nil.
func (l *List) Items() []domain.Bookmark {
	out := make([]domain.Bookmark, len(l.items))
	copy(out, l.items)
	return out
}

func (l *List) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range l.items {
		if l.items[i].ID == id {
			return i
		}
	}
	return -1
}
