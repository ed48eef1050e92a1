package subscribers

import "errors"

var (
	ErrInvalidEmail        = errors.New("invalid email")
	ErrConsentRequired     = errors.New("consent required")
	ErrSuspiciousInput     = errors.New("suspicious input")
	ErrAlreadySubscribed   = errors.New("already subscribed")
	ErrNotFound            = errors.New("subscriber not found")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrMirrorDisabled      = errors.New("subscriber mirror not configured")
)

// ValidationError reports a single rejected field. Err, when set, is the
// sentinel the failure corresponds to.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e ValidationError) Unwrap() error { return e.Err }

// ValidationErrors carries every rejected field of a form.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	msg := e[0].Error()
	if len(e) > 1 {
		msg += " (and more)"
	}
	return msg
}
