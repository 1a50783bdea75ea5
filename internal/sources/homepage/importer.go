package homepage

import (
	"context"
	"fmt"

	"github.com/MrSnakeDoc/shelf/internal/domain"
)

// Creator stores one bookmark.
type Creator interface {
	Create(ctx context.Context, rawURL, title string) (domain.Bookmark, error)
}

// Result summarises an import.
type Result struct {
	Imported []domain.Bookmark `json:"imported"`
	Skipped  []Skipped         `json:"skipped"`
}

// Import parses data and creates every valid entry through creator, up to
// limit entries (0 means no limit). Entries past the limit are reported as skipped.
// A store failure stops the import; the partial result is returned with it.
func Import(ctx context.Context, creator Creator, data []byte, limit int) (Result, error) {
	config, err := Parse(data)
	if err != nil {
		return Result{}, domain.NewValidationError("document", err.Error())
	}

	candidates, skipped := MapDrafts(config)
	res := Result{Imported: []domain.Bookmark{}, Skipped: skipped}
	if res.Skipped == nil {
		res.Skipped = []Skipped{}
	}
	if len(candidates) == 0 && len(skipped) == 0 {
		return res, domain.NewValidationError("document", "no bookmarks found")
	}

	for i, c := range candidates {
		if limit > 0 && i >= limit {
			res.Skipped = append(res.Skipped, Skipped{Name: c.Name, Reason: "import limit reached"})
			continue
		}
		b, err := creator.Create(ctx, c.Draft.URL(), c.Draft.Title())
		if err != nil {
			return res, fmt.Errorf("import %q: %w", c.Name, err)
		}
		res.Imported = append(res.Imported, b)
	}

	return res, nil
}
