package editor

import (
	"regexp"
	"strings"

	"github.com/mx-space/portal/internal/modules/upload/gateway"
)

// imageSrcPattern takes the src of an <img> quoted either way. data-src and
// other attributes ending in "src" are not matched.
var imageSrcPattern = regexp.MustCompile(`<img\b[^>]*?\ssrc\s*=\s*(?:"([^">]*)"|'([^'>]*)')`)

// ScanImages returns the relative URLs of every <img src> in markup, in
// document order without duplicates.
func ScanImages(markup string) []string {
	matches := imageSrcPattern.FindAllStringSubmatch(markup, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		src := m[1]
		if src == "" {
			src = m[2]
		}
		if src == "" {
			continue
		}
		rel := gateway.Relative(src)
		if _, ok := seen[rel]; ok {
			continue
		}
		seen[rel] = struct{}{}
		out = append(out, rel)
	}
	return out
}

// Sanitize strips the surface's boilerplate fragments. A document with
// nothing left is reported as "".
func Sanitize(markup string, placeholders []string) string {
	for _, p := range placeholders {
		if p == "" {
			continue
		}
		markup = strings.ReplaceAll(markup, p, "")
	}
	markup = strings.TrimSpace(markup)
	if markup == "<p></p>" {
		return ""
	}
	return markup
}

// removed lists entries of before that are absent from after.
func removed(before, after []string) []string {
	if len(before) == 0 {
		return nil
	}
	keep := make(map[string]struct{}, len(after))
	for _, u := range after {
		keep[u] = struct{}{}
	}
	var out []string
	for _, u := range before {
		if _, ok := keep[u]; !ok {
			out = append(out, u)
		}
	}
	return out
}
