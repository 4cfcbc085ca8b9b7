// Package poolerr defines the caller-visible error kinds the pool surfaces,
// per spec.md §6 ("Error surfacing (to callers)") and §7.
package poolerr

import "errors"

// Kind classifies a pool-surfaced error so callers can branch on it without
// string-matching, the same way the teacher distinguishes
// errors.Is(err, ErrTooManyZeroFills) from a generic wrapped error.
type Kind int

const (
	KindOther Kind = iota
	KindCannotConnect
	KindCannotAuthenticate
	KindNoCapacity
	KindProtocolError
	KindArticleMissing
	KindCancelled
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindCannotConnect:
		return "cannot-connect"
	case KindCannotAuthenticate:
		return "cannot-authenticate"
	case KindNoCapacity:
		return "no-capacity"
	case KindProtocolError:
		return "protocol-error"
	case KindArticleMissing:
		return "article-missing"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	default:
		return "other"
	}
}

// Error wraps an underlying error with a caller-facing Kind.
type Error struct {
	Kind Kind
	Err  error
}

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, poolerr.NoCapacity) style sentinel comparisons work
// against a Kind by comparing kinds rather than identity.
func (e *Error) Is(target error) bool {
	var pe *Error
	if errors.As(target, &pe) {
		return pe.Kind == e.Kind
	}
	return false
}

// Sentinels usable with errors.Is(err, poolerr.NoCapacity).
var (
	NoCapacity          = &Error{Kind: KindNoCapacity}
	CannotConnect       = &Error{Kind: KindCannotConnect}
	CannotAuthenticate  = &Error{Kind: KindCannotAuthenticate}
	ProtocolError       = &Error{Kind: KindProtocolError}
	ArticleMissing      = &Error{Kind: KindArticleMissing}
	Cancelled           = &Error{Kind: KindCancelled}
	Timeout             = &Error{Kind: KindTimeout}
)

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; otherwise returns KindOther.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindOther
}
