package subscribers

import (
	"strings"
	"time"
)

type UserType string

const (
	UserTypePhysician  UserType = "physician"
	UserTypeInvestor   UserType = "investor"
	UserTypeSpecialist UserType = "specialist"
)

// ParseUserType normalizes a form value. The site's form posts
// "ai-specialist" for specialists.
func ParseUserType(value string) (UserType, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "physician":
		return UserTypePhysician, true
	case "investor":
		return UserTypeInvestor, true
	case "specialist", "ai-specialist":
		return UserTypeSpecialist, true
	}
	return "", false
}

type Status string

const (
	StatusSubscribed   Status = "subscribed"
	StatusUnsubscribed Status = "unsubscribed"
	StatusPending      Status = "pending"
	StatusCleaned      Status = "cleaned"
)

// Subscriber is a member of the audience as mirrored locally.
type Subscriber struct {
	ID                string
	Email             string
	FirstName         string
	LastName          string
	UserType          UserType
	Specialty         string
	PracticeModel     string
	EMRSystem         string
	Challenge         string
	LinkedInURL       string
	CofounderInterest bool
	Involvement       string
	Consent           bool
	ConsentAt         *time.Time
	ConsentIP         string
	Source            string
	Status            Status
	MailchimpID       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	UnsubscribedAt    *time.Time
}

func (s Subscriber) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// MergeFields returns the Mailchimp merge fields for the subscriber. Empty
// values are omitted so an update never blanks a field set elsewhere.
func (s Subscriber) MergeFields() map[string]string {
	fields := map[string]string{
		"COFOUNDER": yesNo(s.CofounderInterest),
	}
	set := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	set("FNAME", s.FirstName)
	set("LNAME", s.LastName)
	set("USERTYPE", string(s.UserType))
	set("SPECIALTY", s.Specialty)
	set("PRACTICE", s.PracticeModel)
	set("EMR", s.EMRSystem)
	set("CHALLENGE", s.Challenge)
	set("LINKEDIN", s.LinkedInURL)
	set("SOURCE", s.Source)
	return fields
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

// Preferences are the subscriber's communication settings.
type Preferences struct {
	EmailFrequency string   `json:"emailFrequency" validate:"omitempty,oneof=daily weekly monthly"`
	HTMLPreference bool     `json:"htmlPreference"`
	Categories     []string `json:"categories" validate:"max=20,dive,max=50"`
}

func DefaultPreferences() Preferences {
	return Preferences{EmailFrequency: "weekly", HTMLPreference: true, Categories: []string{}}
}

// Submission is a waitlist application.
type Submission struct {
	ID              string    `json:"id"`
	FullName        string    `json:"fullName"`
	Email           string    `json:"email,omitempty"`
	Specialty       string    `json:"specialty"`
	Practice        string    `json:"practice,omitempty"`
	PracticeModel   string    `json:"practiceModel"`
	Challenge       string    `json:"-"`
	CouncilInterest bool      `json:"councilInterest"`
	Source          string    `json:"-"`
	IP              string    `json:"-"`
	CreatedAt       time.Time `json:"submittedAt"`
}

// SubmissionStats aggregates the application table.
type SubmissionStats struct {
	Total              int            `json:"total"`
	CouncilInterest    int            `json:"councilInterest"`
	RecentWeek         int            `json:"recentWeek"`
	PracticeModels     map[string]int `json:"practiceModels"`
	Specialties        map[string]int `json:"specialties"`
	Recent             []Submission   `json:"recentSubmissions"`
	AvgChallengeLength int            `json:"avgChallengeLength"`
}

// Counts summarizes the subscriber mirror.
type Counts struct {
	Total        int            `json:"total"`
	Subscribed   int            `json:"subscribed"`
	Unsubscribed int            `json:"unsubscribed"`
	ByType       map[string]int `json:"byType"`
}

// Meta describes the request a submission arrived on.
type Meta struct {
	IP        string
	UserAgent string
	Referer   string
}
