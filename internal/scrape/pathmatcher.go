package scrape

import (
	"net/url"
	"path"
	"strings"
)

// defaultExcludePatterns skip targets that never carry contact markup.
var defaultExcludePatterns = []string{
	"*.pdf",
	"*.jpg",
	"*.jpeg",
	"*.png",
	"*.gif",
	"*.zip",
	"*.mp4",
	"/cart/*",
	"/checkout/*",
	"/wp-admin/*",
}

// PathMatcher filters target URLs by glob-style path patterns. A pattern
// ending in "/*" matches the whole subtree; a pattern starting with "*."
// matches the file extension at any depth.
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher creates a PathMatcher. Nil patterns select the defaults;
// an empty non-nil slice excludes nothing.
func NewPathMatcher(patterns []string) *PathMatcher {
	if patterns == nil {
		patterns = defaultExcludePatterns
	}
	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}
	return &PathMatcher{patterns: lowered}
}

// IsExcluded reports whether rawURL is unparseable or matches a pattern.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	if m == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, pattern := range m.patterns {
		if matchPattern(pattern, p) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, p string) bool {
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(p, pattern[1:])
	}
	if ok, _ := path.Match(pattern, p); ok {
		return true
	}
	if prefix, found := strings.CutSuffix(pattern, "/*"); found {
		return p == prefix || strings.HasPrefix(p, prefix+"/")
	}
	return false
}
