package mailchimp

import (
	"errors"
	"fmt"
	"net/http"
)

// Member statuses.
const (
	StatusSubscribed   = "subscribed"
	StatusUnsubscribed = "unsubscribed"
	StatusPending      = "pending"
	StatusCleaned      = "cleaned"
)

// Tag statuses.
const (
	TagActive   = "active"
	TagInactive = "inactive"
)

var (
	// ErrMemberExists is returned when creating a member whose email is
	// already on the audience.
	ErrMemberExists = errors.New("mailchimp: member exists")
	// ErrNotFound is returned for unknown members or resources.
	ErrNotFound = errors.New("mailchimp: resource not found")
	// ErrNotConfigured is returned when no API key or audience is set.
	ErrNotConfigured = errors.New("mailchimp: not configured")
)

// Member is the write model for list members.
type Member struct {
	EmailAddress    string            `json:"email_address"`
	Status          string            `json:"status,omitempty"`
	StatusIfNew     string            `json:"status_if_new,omitempty"`
	MergeFields     map[string]string `json:"merge_fields,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	IPSignup        string            `json:"ip_signup,omitempty"`
	TimestampSignup string            `json:"timestamp_signup,omitempty"`
}

// MemberInfo is the read model returned by the members endpoints.
type MemberInfo struct {
	ID            string         `json:"id"`
	EmailAddress  string         `json:"email_address"`
	UniqueEmailID string         `json:"unique_email_id"`
	Status        string         `json:"status"`
	MergeFields   map[string]any `json:"merge_fields"`
	Tags          []MemberTag    `json:"tags"`
	LastChanged   string         `json:"last_changed"`
}

type MemberTag struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Tag is a tag assignment in an UpdateTags call.
type Tag struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// SegmentInfo describes a saved segment.
type SegmentInfo struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
	Type        string `json:"type"`
	CreatedAt   string `json:"created_at"`
}

// APIError is Mailchimp's problem document.
type APIError struct {
	Status   int    `json:"status"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Instance string `json:"instance"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("mailchimp: %d %s: %s", e.Status, e.Title, e.Detail)
	}
	return fmt.Sprintf("mailchimp: %d %s", e.Status, e.Title)
}

// Is maps well-known problem titles onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrMemberExists:
		return e.Title == "Member Exists"
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// Temporary reports whether a retry may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}
