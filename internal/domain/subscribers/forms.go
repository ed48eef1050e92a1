package subscribers

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/ignite-health/funnel/internal/sanitize"
	"github.com/ignite-health/funnel/internal/validation"
)

const (
	maxSourceLength    = 100
	maxFieldLength     = 200
	maxChallengeLength = 2000
	maxNoteLength      = 1000
	minChallengeLength = 10
)

// NewsletterRequest is the body of a newsletter subscription.
type NewsletterRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Source    string `json:"source"`
	Consent   bool   `json:"consent"`
}

// InterestForm carries the site's interest form as posted. Field names follow
// the form inputs; ToSubscriber maps them onto the stored names.
type InterestForm struct {
	UserType          string `json:"userType"`
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName"`
	Email             string `json:"email"`
	MedicalSpecialty  string `json:"medicalSpecialty"`
	PracticeModel     string `json:"practiceModel"`
	CurrentEMR        string `json:"currentEMR"`
	LinkedInProfile   string `json:"linkedinProfile"`
	Involvement       string `json:"involvement"`
	Challenge         string `json:"challenge"`
	CoFounderInterest any    `json:"coFounderInterest"`
	Consent           any    `json:"consent"`
	Source            string `json:"source"`
}

// SignupRequest is the short "join us" form.
type SignupRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
	Note  string `json:"note"`
}

// Application is a waitlist application from the physician landing page.
type Application struct {
	FullName      string `json:"fullName" validate:"required,max=200"`
	Email         string `json:"email" validate:"required"`
	Specialty     string `json:"specialty" validate:"required,max=200"`
	Practice      string `json:"practice" validate:"required,max=200"`
	PracticeModel string `json:"practiceModel" validate:"required"`
	Challenge     string `json:"challenge" validate:"required,min=10,max=2000"`
	Council       any    `json:"council"`
}

func (r NewsletterRequest) suspicious() bool {
	return anySuspicious(r.Email, r.FirstName, r.LastName, r.Source)
}

func (f InterestForm) suspicious() bool {
	return anySuspicious(f.FirstName, f.LastName, f.Email, f.MedicalSpecialty, f.PracticeModel,
		f.CurrentEMR, f.LinkedInProfile, f.Involvement, f.Challenge, f.Source)
}

func anySuspicious(values ...string) bool {
	for _, v := range values {
		if sanitize.Suspicious(v) {
			return true
		}
	}
	return false
}

// emailError converts a validation failure on an address into a
// ValidationError that matches ErrInvalidEmail.
func emailError(err error) error {
	var fe validation.FieldError
	if errors.As(err, &fe) {
		return ValidationError{Field: "email", Message: fe.Message, Err: ErrInvalidEmail}
	}
	return ValidationError{Field: "email", Message: "Invalid email address", Err: ErrInvalidEmail}
}

// Validate checks the form the way the site does and collects every failure.
func (f InterestForm) Validate() error {
	var errs ValidationErrors
	add := func(field, message string) {
		errs = append(errs, ValidationError{Field: field, Message: message})
	}

	if strings.TrimSpace(f.FirstName) == "" {
		add("firstName", "First name is required")
	}
	if strings.TrimSpace(f.LastName) == "" {
		add("lastName", "Last name is required")
	}
	email := sanitize.Email(f.Email)
	if email == "" {
		errs = append(errs, ValidationError{Field: "email", Message: "Email is required", Err: ErrInvalidEmail})
	} else if err := validation.ValidateEmail(email); err != nil {
		errs = append(errs, emailError(err).(ValidationError))
	}

	userType, ok := ParseUserType(f.UserType)
	switch {
	case strings.TrimSpace(f.UserType) == "":
		add("userType", "Please select your role")
	case !ok:
		add("userType", "Unknown role")
	case userType == UserTypePhysician:
		if strings.TrimSpace(f.MedicalSpecialty) == "" {
			add("medicalSpecialty", "Medical specialty is required")
		}
		if strings.TrimSpace(f.PracticeModel) == "" {
			add("practiceModel", "Practice model is required")
		}
		if strings.TrimSpace(f.Involvement) == "" {
			add("involvement", "Please choose how you would like to be involved")
		}
	default:
		if strings.TrimSpace(f.LinkedInProfile) == "" {
			add("linkedinProfile", "LinkedIn profile is required")
		} else if err := validation.ValidateProfileURL(f.LinkedInProfile, "linkedinProfile"); err != nil {
			var fe validation.FieldError
			if errors.As(err, &fe) {
				add(fe.Field, fe.Message)
			} else {
				add("linkedinProfile", "Invalid URL format")
			}
		}
	}

	if utf8.RuneCountInString(f.Challenge) > maxChallengeLength {
		add("challenge", "Must be at most 2000 characters")
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ToSubscriber maps a validated form onto the stored subscriber.
func (f InterestForm) ToSubscriber() Subscriber {
	userType, _ := ParseUserType(f.UserType)
	source := sanitize.TextMax(f.Source, maxSourceLength)
	if source == "" {
		source = "ignite-health-systems-website"
	}
	return Subscriber{
		Email:             sanitize.Email(f.Email),
		FirstName:         sanitize.Name(f.FirstName),
		LastName:          sanitize.Name(f.LastName),
		UserType:          userType,
		Specialty:         sanitize.TextMax(f.MedicalSpecialty, maxFieldLength),
		PracticeModel:     sanitize.TextMax(f.PracticeModel, maxFieldLength),
		EMRSystem:         sanitize.TextMax(f.CurrentEMR, maxFieldLength),
		LinkedInURL:       strings.TrimSpace(f.LinkedInProfile),
		Involvement:       sanitize.TextMax(f.Involvement, maxFieldLength),
		Challenge:         sanitize.TextMax(f.Challenge, maxChallengeLength),
		CofounderInterest: sanitize.Bool(f.CoFounderInterest),
		Consent:           sanitize.Bool(f.Consent),
		Source:            source,
		Status:            StatusSubscribed,
	}
}

// Validate checks the short signup form.
func (r SignupRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.Email) == "" || strings.TrimSpace(r.Role) == "" {
		return ValidationError{Message: "Missing required fields"}
	}
	if anySuspicious(r.Name, r.Email, r.Role, r.Note) {
		return ErrSuspiciousInput
	}
	if err := validation.ValidateEmail(sanitize.Email(r.Email)); err != nil {
		return ValidationError{Field: "email", Message: "Invalid email format", Err: ErrInvalidEmail}
	}
	if utf8.RuneCountInString(r.Note) > maxNoteLength {
		return ValidationError{Field: "note", Message: "Must be at most 1000 characters"}
	}
	return nil
}

// Validate checks a waitlist application.
func (a Application) Validate() error {
	if anySuspicious(a.FullName, a.Email, a.Specialty, a.Practice, a.PracticeModel, a.Challenge) {
		return ErrSuspiciousInput
	}
	if err := validation.Struct(a); err != nil {
		var fe validation.FieldError
		if errors.As(err, &fe) {
			return ValidationError{Field: fe.Field, Message: fe.Message}
		}
		return err
	}
	if err := validation.ValidateEmail(sanitize.Email(a.Email)); err != nil {
		return emailError(err)
	}
	if !validation.ValidPracticeModel(strings.TrimSpace(a.PracticeModel)) {
		return ValidationError{Field: "practiceModel", Message: "Must be one of: " + strings.Join(validation.PracticeModels, ", ")}
	}
	if utf8.RuneCountInString(strings.TrimSpace(a.Challenge)) < minChallengeLength {
		return ValidationError{Field: "challenge", Message: "Must be at least 10 characters"}
	}
	return nil
}

// ToSubmission maps a validated application onto the stored submission.
func (a Application) ToSubmission(meta Meta) Submission {
	return Submission{
		FullName:        sanitize.Name(a.FullName),
		Email:           sanitize.Email(a.Email),
		Specialty:       sanitize.TextMax(a.Specialty, maxFieldLength),
		Practice:        sanitize.TextMax(a.Practice, maxFieldLength),
		PracticeModel:   strings.TrimSpace(a.PracticeModel),
		Challenge:       sanitize.TextMax(a.Challenge, maxChallengeLength),
		CouncilInterest: sanitize.Bool(a.Council),
		Source:          "api",
		IP:              meta.IP,
	}
}
