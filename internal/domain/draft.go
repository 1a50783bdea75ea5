package domain

import (
	"net/url"
	"strings"
)

// Draft is a validated bookmark that has not been persisted yet.
// Only NewDraft produces one, so every Draft passed to a repository is valid.
type Draft struct {
	url   string
	title string
}

// NewDraft trims and validates user input.
// url must be an absolute URL and title must not be blank.
func NewDraft(rawURL, title string) (Draft, error) {
	rawURL = strings.TrimSpace(rawURL)
	title = strings.TrimSpace(title)

	if rawURL == "" {
		return Draft{}, NewValidationError("url", "url is required")
	}
	if title == "" {
		return Draft{}, NewValidationError("title", "title is required")
	}
	if err := ValidateURL(rawURL); err != nil {
		return Draft{}, err
	}

	return Draft{url: rawURL, title: title}, nil
}

func (d Draft) URL() string   { return d.url }
func (d Draft) Title() string { return d.title }

// ValidateURL checks that raw parses as an absolute URL.
// Hierarchical URLs (http, https, ftp, ...) must carry a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return NewValidationError("url", "url is malformed")
	}
	if !u.IsAbs() {
		return NewValidationError("url", "url must be absolute")
	}
	if u.Opaque == "" && u.Host == "" {
		return NewValidationError("url", "url must include a host")
	}
	if strings.ContainsAny(raw, " \t\n") {
		return NewValidationError("url", "url must not contain whitespace")
	}
	return nil
}
