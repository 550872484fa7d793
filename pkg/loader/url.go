package loader

import (
	"net/url"
	"strings"
)

// NormalizeEndpoint drops a single trailing slash so "https://a/" and "https://a" compare equal.
func NormalizeEndpoint(s string) string {
	return strings.TrimSuffix(strings.TrimSpace(s), "/")
}

// SameEndpoint compares endpoints ignoring a trailing slash.
func SameEndpoint(a, b string) bool {
	return NormalizeEndpoint(a) == NormalizeEndpoint(b)
}

// ValidEndpoint reports whether s is a well-formed absolute address.
func ValidEndpoint(s string) bool {
	if strings.TrimSpace(s) != s || s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.Host != ""
	case "file":
		return u.Path != ""
	default:
		return false
	}
}
