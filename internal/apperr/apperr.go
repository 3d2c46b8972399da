// Package apperr defines the error taxonomy shared by the cache, sandbox,
// and dispatcher layers. Kinds are compared with errors.Is, never by string
// matching, so wrapping with fmt.Errorf("...: %w", err) is always safe.
package apperr

import "errors"

type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindUnauthorized
	KindForbidden
	KindBadPackage
	KindUnsafeArchive
	KindHashMismatch
	KindSizeMismatch
	KindCacheFull
	KindBusy
	KindBadExport
	KindTimeout
	KindOutOfMemory
	KindGuestError
	KindNoOutput
	KindStoreTransient
	KindENOTSUP
	KindEACCES
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindUnauthorized:
		return "Unauthorized"
	case KindForbidden:
		return "Forbidden"
	case KindBadPackage:
		return "BadPackage"
	case KindUnsafeArchive:
		return "UnsafeArchive"
	case KindHashMismatch:
		return "HashMismatch"
	case KindSizeMismatch:
		return "SizeMismatch"
	case KindCacheFull:
		return "CacheFull"
	case KindBusy:
		return "Busy"
	case KindBadExport:
		return "BadExport"
	case KindTimeout:
		return "Timeout"
	case KindOutOfMemory:
		return "OutOfMemory"
	case KindGuestError:
		return "GuestError"
	case KindNoOutput:
		return "NoOutput"
	case KindStoreTransient:
		return "StoreTransient"
	case KindENOTSUP:
		return "ENOTSUP"
	case KindEACCES:
		return "EACCES"
	default:
		return "Unknown"
	}
}

// Error is a kind-tagged application error. It wraps an optional underlying
// cause so %w chains keep working while Is/As match on Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, apperr.New(apperr.KindNotFound, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or KindUnknown if err isn't an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
