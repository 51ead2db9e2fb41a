package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrTypeError matches every *TypeError via errors.Is.
	ErrTypeError = errors.New("registry: type error")

	// ErrSuperTypeNotKnown matches a *TypeError raised because a link in the
	// super-type chain is not in the known partition yet.
	ErrSuperTypeNotKnown = errors.New("registry: super-type not known")
)

// TypeError reports a caller-contract violation: a missing identifier, an
// unknown type, or a category that does not match the cached definition.
// The registry is unchanged when a TypeError is returned.
type TypeError struct {
	Op       string
	GUID     string
	Name     string
	Category string
	Reason   string
	// Err, when set, is a more specific sentinel matched alongside
	// ErrTypeError.
	Err error
}

func (e *TypeError) Error() string {
	var b []byte
	b = fmt.Appendf(b, "registry: %s", e.Op)
	if e.Name != "" {
		b = fmt.Appendf(b, " %q", e.Name)
	}
	if e.GUID != "" {
		b = fmt.Appendf(b, " (%s)", e.GUID)
	}
	if e.Category != "" {
		b = fmt.Appendf(b, " [%s]", e.Category)
	}
	b = fmt.Appendf(b, ": %s", e.Reason)
	return string(b)
}

func (e *TypeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTypeError, e.Err}
	}
	return []error{ErrTypeError}
}

func typeError(op, guid, name, category, format string, args ...any) *TypeError {
	return &TypeError{Op: op, GUID: guid, Name: name, Category: category, Reason: fmt.Sprintf(format, args...)}
}

// InvariantViolation is the panic value raised when the cache is found to be
// internally inconsistent, such as a super-type link whose target is missing
// or a super-type chain that does not terminate. It is never returned as an
// error and callers must not recover from it to retry.
type InvariantViolation struct {
	Op     string
	Detail string
}

func (v *InvariantViolation) Error() string {
	return "registry: invariant violated in " + v.Op + ": " + v.Detail
}

func violate(op, format string, args ...any) {
	panic(&InvariantViolation{Op: op, Detail: fmt.Sprintf(format, args...)})
}
