// Package ubierrs carries the POSIX-flavored error taxonomy of spec.md
// §6.4 as idiomatic Go error values rather than negated errno ints, per
// spec.md §9's own instruction ("sentinel error codes ... map to the
// target language's idiomatic error type; the taxonomy is the contract,
// the spelling is not").
package ubierrs

import "fmt"

// Code is the closed taxonomy from spec.md §6.4.
type Code int

const (
	EINVAL Code = iota
	ENOENT
	ENOSPC
	EACCES
	EIO
	EBADMSG
	ECANCELED
	ENOMEM
	ENOSYS
)

func (c Code) String() string {
	switch c {
	case EINVAL:
		return "EINVAL"
	case ENOENT:
		return "ENOENT"
	case ENOSPC:
		return "ENOSPC"
	case EACCES:
		return "EACCES"
	case EIO:
		return "EIO"
	case EBADMSG:
		return "EBADMSG"
	case ECANCELED:
		return "ECANCELED"
	case ENOMEM:
		return "ENOMEM"
	case ENOSYS:
		return "ENOSYS"
	default:
		return "EUNKNOWN"
	}
}

// Error is a sentinel error tagged with its taxonomy code, so callers can
// branch on Code() the way they would branch on errno while still getting
// a normal wrapped Go error for logging.
type Error struct {
	Code Code
	Msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Msg, e.err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.err }

func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, err: err}
}

// CodeOf extracts the taxonomy code from err, defaulting to EIO for
// errors that did not originate in this package (e.g. raw os errors
// surfaced from the MTD adapter).
func CodeOf(err error) Code {
	var e *Error
	if as(err, &e) {
		return e.Code
	}
	return EIO
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

var (
	ErrNoFreePEBs   = New(ENOSPC, "no free PEBs available")
	ErrNoSpace      = New(ENOSPC, "insufficient unallocated LEBs")
	ErrVolNotFound  = New(ENOENT, "volume not found")
	ErrLebNotFound  = New(ENOENT, "leb not mapped")
	ErrLnumRange    = New(EACCES, "lnum or read range out of bounds")
	ErrBufTooBig    = New(ENOSPC, "buffer exceeds leb payload capacity")
	ErrStaticResize = New(ECANCELED, "cannot resize a static volume")
	ErrNoopResize   = New(ECANCELED, "resize to the same leb_count or to zero is rejected")
	ErrBadArg       = New(EINVAL, "invalid argument")
)
