package validation

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxEmailLength is the RFC 5321 limit on a forward path.
const MaxEmailLength = 254

var validate = validator.New()

// ValidateEmail checks address syntax. The address is expected to be
// normalized already.
func ValidateEmail(email string) error {
	if email == "" {
		return FieldError{Field: "email", Message: "Email is required"}
	}
	if len(email) > MaxEmailLength {
		return FieldError{Field: "email", Message: "Invalid email address"}
	}
	if err := validate.Var(email, "email"); err != nil {
		return FieldError{Field: "email", Message: "Invalid email address"}
	}
	// validator accepts single-label domains; a public mailbox needs a dot.
	at := strings.LastIndex(email, "@")
	if at < 0 || !strings.Contains(email[at+1:], ".") {
		return FieldError{Field: "email", Message: "Invalid email address"}
	}
	return nil
}

// Struct runs tag-based validation and converts the first failure into a
// FieldError named after the struct's json tag.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err
	}
	first := verrs[0]
	return FieldError{Field: jsonName(first.Field()), Message: messageFor(first)}
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email address"
	case "min":
		return "Must be at least " + fe.Param() + " characters"
	case "max":
		return "Must be at most " + fe.Param() + " characters"
	case "oneof":
		return "Must be one of: " + fe.Param()
	default:
		return "Invalid value"
	}
}

func jsonName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}
