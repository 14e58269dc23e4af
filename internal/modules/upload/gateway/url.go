package gateway

import (
	"regexp"
	"strings"
)

var originPattern = regexp.MustCompile(`^https?://[^/]+`)

// Relative strips scheme and host, leaving the storage-relative path.
func Relative(url string) string {
	return originPattern.ReplaceAllString(url, "")
}

// Absolute prefixes a relative URL with base. Already absolute URLs are
// returned as is.
func Absolute(rel, base string) string {
	if originPattern.MatchString(rel) {
		return rel
	}
	base = strings.TrimRight(base, "/")
	if rel == "" {
		return base
	}
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return base + rel
}

// Origin returns the scheme and host of an absolute URL, or "".
func Origin(url string) string {
	return originPattern.FindString(url)
}
