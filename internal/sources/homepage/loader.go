package homepage

import (
	"bytes"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

var templateVariable = regexp.MustCompile(`\{\{[^}]+\}\}`)

// Parse parses a Homepage bookmarks.yaml document.
func Parse(data []byte) (BookmarksConfig, error) {
	data = stripTemplateVariables(data)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("empty bookmarks document")
	}

	var config BookmarksConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse bookmarks yaml: %w", err)
	}

	return config, nil
}

// stripTemplateVariables removes Homepage template variables from YAML
// Example: {{HOMEPAGE_VAR_ADGUARD_USER}} -> ""
func stripTemplateVariables(data []byte) []byte {
	return templateVariable.ReplaceAll(data, []byte(`""`))
}
