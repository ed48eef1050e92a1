package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// FieldError reports a validation failure on a single input field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateProfileURL checks that raw is an absolute http(s) URL with a host.
// Empty values are accepted; callers decide whether the field is required.
func ValidateProfileURL(raw, field string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return FieldError{Field: field, Message: "Invalid URL format"}
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return FieldError{Field: field, Message: "URL must start with http:// or https://"}
	}
	if parsed.Host == "" {
		return FieldError{Field: field, Message: "URL must include a host"}
	}
	return nil
}
