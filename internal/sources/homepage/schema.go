package homepage

// BookmarkEntry represents a single bookmark entry in the YAML
type BookmarkEntry struct {
	Icon string `yaml:"icon"`
	Abbr string `yaml:"abbr"`
	Href string `yaml:"href"`
}

// BookmarkCategory represents a category with its bookmarks.
// The YAML structure is: - CategoryName: { - BookmarkName: [{ icon, abbr, href }] }
type BookmarkCategory map[string][]map[string][]BookmarkEntry

// BookmarksConfig is the root structure of a Homepage bookmarks.yaml
type BookmarksConfig []BookmarkCategory
