package segment

import (
	"errors"
	"fmt"
)

// Sentinel errors for the segment engine. Callers branch with errors.Is; the
// HTTP layer maps them to response codes.
var (
	// ErrInvalidIdentifier means a supplied id failed format/length validation.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrNotFound means a referenced segment, entity, student, application or
	// share grant does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateMembership means the entity is already a member of the
	// segment; the insert is rejected, nothing is overwritten.
	ErrDuplicateMembership = errors.New("entity already assigned to segment")

	// ErrNoSelector means the caller supplied neither an id nor a name. It is
	// deliberately distinct from ErrNotFound: resolution never ran.
	ErrNoSelector = errors.New("no selector provided")
)

// ValidationError carries a descriptive message for caller mistakes that are
// not identifier or existence problems (bad status value, bad permission,
// missing selector on share updates).
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
