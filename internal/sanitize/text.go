package sanitize

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNameLength caps sanitized person names.
const MaxNameLength = 100

var (
	// StrictPolicy removes all HTML tags and attributes.
	StrictPolicy = bluemonday.StrictPolicy()

	nameDisallowed = regexp.MustCompile(`[^a-zA-Z\s\-'.]`)
	whitespace     = regexp.MustCompile(`\s+`)

	suspiciousPatterns = []string{
		"<script",
		"javascript:",
		"vbscript:",
		"onload=",
		"onerror=",
	}
)

// Text strips all HTML and surrounding whitespace. The result is plain text,
// so entities produced by the policy are decoded again.
func Text(input string) string {
	return strings.TrimSpace(html.UnescapeString(StrictPolicy.Sanitize(input)))
}

// Name reduces input to letters, spaces, hyphens, apostrophes and periods.
func Name(input string) string {
	cleaned := nameDisallowed.ReplaceAllString(Text(input), "")
	cleaned = strings.TrimSpace(whitespace.ReplaceAllString(cleaned, " "))
	return Truncate(cleaned, MaxNameLength)
}

// TextMax strips HTML and caps the result at maxLen runes.
func TextMax(input string, maxLen int) string {
	return Truncate(Text(input), maxLen)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// Email normalizes an address for use as a natural key.
func Email(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}

// Suspicious reports whether input carries a script injection marker, either
// as sent or in the plain text Text would produce from it, where entities
// such as &lt;script&gt; are decoded.
func Suspicious(input string) bool {
	return hasMarker(input) || hasMarker(html.UnescapeString(input)) || hasMarker(Text(input))
}

func hasMarker(s string) bool {
	lower := strings.ToLower(s)
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// Bool interprets form checkbox values.
func Bool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "on", "1":
			return true
		}
	}
	return false
}
