// Package errno defines the libfabric-compatible error codes shared by the
// fabric domain core and its providers.
package errno

import "fmt"

// Errno represents a libfabric error code (positive integral value).
type Errno int32

// Error codes mirrored from <rdma/fi_errno.h>. Values below 256 follow the
// host errno numbering; the remainder sit above FI_ERRNO_OFFSET.
const (
	Success         Errno = 0
	ErrNotFound     Errno = 2
	ErrNoMemory     Errno = 12
	ErrAccess       Errno = 13
	ErrBusy         Errno = 16
	ErrInvalid      Errno = 22
	ErrNoSpace      Errno = 28
	ErrNotSupported Errno = 38
	ErrOpNotSupp    Errno = 95
	ErrAddrInUse    Errno = 98
	ErrAddrNotAvail Errno = 99
	ErrTimedOut     Errno = 110
	ErrAlready      Errno = 114
	ErrInProgress   Errno = 115
	ErrCanceled     Errno = 125
	ErrOther        Errno = 256
	ErrTooSmall     Errno = 257
	ErrBadState     Errno = 258
	ErrUnavailable  Errno = 259
	ErrBadFlags     Errno = 260
	ErrNoEQ         Errno = 261
	ErrDomain       Errno = 262
	ErrNoCQ         Errno = 263
	ErrTrunc        Errno = 265
	ErrNoKey        Errno = 266
	ErrNoAV         Errno = 267
	ErrOverrun      Errno = 268
	ErrNoRX         Errno = 269
	ErrNoMR         Errno = 270
)

var messages = map[Errno]string{
	Success:         "success",
	ErrNotFound:     "no such file or directory",
	ErrNoMemory:     "cannot allocate memory",
	ErrAccess:       "permission denied",
	ErrBusy:         "device or resource busy",
	ErrInvalid:      "invalid argument",
	ErrNoSpace:      "no space left on device",
	ErrNotSupported: "function not implemented",
	ErrOpNotSupp:    "operation not supported",
	ErrAddrInUse:    "address already in use",
	ErrAddrNotAvail: "cannot assign requested address",
	ErrTimedOut:     "connection timed out",
	ErrAlready:      "operation already in progress",
	ErrInProgress:   "operation now in progress",
	ErrCanceled:     "operation canceled",
	ErrOther:        "unspecified error",
	ErrTooSmall:     "provided buffer is too small",
	ErrBadState:     "operation not permitted in current state",
	ErrUnavailable:  "error available",
	ErrBadFlags:     "flags not supported",
	ErrNoEQ:         "missing or unavailable event queue",
	ErrDomain:       "invalid resource domain",
	ErrNoCQ:         "missing or unavailable completion queue",
	ErrTrunc:        "truncation error",
	ErrNoKey:        "required key not available",
	ErrNoAV:         "missing or unavailable address vector",
	ErrOverrun:      "queue has been overrun",
	ErrNoRX:         "receiver not ready, no receive buffers available",
	ErrNoMR:         "memory registration limit exceeded",
}

// Error returns the human-readable string in the form produced by fi_strerror.
func (e Errno) Error() string {
	return e.String()
}

// String returns the message associated with the Errno.
func (e Errno) String() string {
	if msg, ok := messages[e]; ok {
		return msg
	}
	return fmt.Sprintf("unknown error %d", int32(e))
}

// Status returns the negative status value a C caller would have observed.
func (e Errno) Status() int {
	return -int(e)
}

// WithOp adds operation context to the provided Errno.
func (e Errno) WithOp(op string) error {
	if op == "" {
		return e
	}
	return fmt.Errorf("%s: %w", op, e)
}

// Wrapf adds operation context plus a formatted detail message while keeping
// errors.Is compatibility with the Errno.
func (e Errno) Wrapf(op, format string, args ...any) error {
	detail := fmt.Sprintf(format, args...)
	if op == "" {
		return fmt.Errorf("%w (%s)", e, detail)
	}
	return fmt.Errorf("%s: %w (%s)", op, e, detail)
}

// FromStatus converts a libfabric style status code into a Go error. Zero and
// positive values are treated as success.
func FromStatus(status int, op string) error {
	if status >= 0 {
		return nil
	}
	code := Errno(-status)
	if code == Success {
		return nil
	}
	return code.WithOp(op)
}
