package common

import (
	"net/url"
	"regexp"
	"strings"
)

// imageExtPattern matches URLs or paths that end in a known image extension,
// optionally followed by a query string.
var imageExtPattern = regexp.MustCompile(`(?i)\.(jpe?g|png|gif|webp|bmp)(\?[^\s]*)?$`)

// videoExtPattern matches URLs or paths that end in a known video extension.
var videoExtPattern = regexp.MustCompile(`(?i)\.(mp4|mov|webm|avi|mkv|m4v)(\?[^\s]*)?$`)

// SanitizeURL performs basic cleanup on URLs scraped out of nested snapshot
// fields. Removes whitespace and stray punctuation from sloppy source data.
func SanitizeURL(rawURL string) string {
	cleaned := strings.TrimSpace(rawURL)

	trailingChars := []string{",", ".", ")", "}", "]", "\"", "'", ">", ";"}
	for _, char := range trailingChars {
		cleaned = strings.TrimSuffix(cleaned, char)
	}

	leadingChars := []string{"(", "[", "<", "\"", "'"}
	for _, char := range leadingChars {
		cleaned = strings.TrimPrefix(cleaned, char)
	}

	return strings.TrimSpace(cleaned)
}

// IsValidURL reports whether s parses as an absolute http(s) URL.
func IsValidURL(s string) bool {
	if s == "" || strings.Contains(s, " ") {
		return false
	}
	parsed, err := url.Parse(s)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if parsed.Host == "" {
		return false
	}
	// Hosts with these characters indicate a malformed scrape.
	if strings.ContainsAny(parsed.Host, "{}[]<>\"'") {
		return false
	}
	return true
}

// IsLikelyImageURL reports whether s looks like a direct image link.
func IsLikelyImageURL(s string) bool {
	if !IsValidURL(s) {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return imageExtPattern.MatchString(u.Path) || imageExtPattern.MatchString(s)
}

// IsLikelyVideoURL reports whether s looks like a direct video link.
func IsLikelyVideoURL(s string) bool {
	if !IsValidURL(s) {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return videoExtPattern.MatchString(u.Path) || videoExtPattern.MatchString(s)
}

// URLBasename returns the last path segment of a URL with any query string
// stripped, or "file" when the URL has no usable path.
func URLBasename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "file"
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return "file"
	}
	segments := strings.Split(path, "/")
	base := segments[len(segments)-1]
	if base == "" {
		return "file"
	}
	return base
}
