package helpers

import (
	"net/url"
	"path"
	"strings"
)

// LastPathSegment returns the last non-empty path segment of rawURL,
// ignoring query and fragment
func LastPathSegment(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	p := strings.TrimRight(u.Path, "/")
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// CanonicalURL resolves href against base, drops query and fragment, and
// forces scheme and host to those of base
func CanonicalURL(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	u := base.ResolveReference(ref)
	u.Scheme = base.Scheme
	u.Host = base.Host
	u.User = nil
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// SanitizeFileName replaces characters that are unsafe in file names
func SanitizeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '[', ']', ',', ' ':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, s)
}
