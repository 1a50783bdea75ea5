package homepage

import (
	"sort"

	"github.com/MrSnakeDoc/shelf/internal/domain"
)

// Candidate is one importable bookmark found in a document.
type Candidate struct {
	Category string
	Name     string
	Draft    domain.Draft
}

// Skipped is an entry that could not be imported.
type Skipped struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// MapDrafts converts a parsed document to drafts in document order.
// Entries without a valid href or title are skipped, as are repeated hrefs.
func MapDrafts(config BookmarksConfig) ([]Candidate, []Skipped) {
	var (
		candidates []Candidate
		skipped    []Skipped
		seen       = make(map[string]bool)
	)

	for _, category := range config {
		for _, categoryName := range sortedKeys(category) {
			for _, bookmarkMap := range category[categoryName] {
				for _, name := range sortedKeys(bookmarkMap) {
					entries := bookmarkMap[name]
					if len(entries) == 0 {
						skipped = append(skipped, Skipped{Name: name, Reason: "no entry"})
						continue
					}
					entry := entries[0]

					title := entry.Abbr
					if title == "" {
						title = name
					}

					draft, err := domain.NewDraft(entry.Href, title)
					if err != nil {
						skipped = append(skipped, Skipped{Name: name, Reason: err.Error()})
						continue
					}
					if seen[draft.URL()] {
						skipped = append(skipped, Skipped{Name: name, Reason: "duplicate href"})
						continue
					}
					seen[draft.URL()] = true

					candidates = append(candidates, Candidate{
						Category: categoryName,
						Name:     name,
						Draft:    draft,
					})
				}
			}
		}
	}

	return candidates, skipped
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
