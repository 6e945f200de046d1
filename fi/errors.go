package fi

import (
	"errors"

	"github.com/rocketbitz/fidomain/internal/errno"
)

var (
	// ErrNoEvent indicates that no event entries were available.
	ErrNoEvent = errors.New("libfabric: no event available")
	// ErrCapabilityUnsupported indicates that the provider does not support the requested capability.
	ErrCapabilityUnsupported = errors.New("libfabric: capability not supported")
)

// Errno re-exports the libfabric errno type for consumers of the fi package.
type Errno = errno.Errno

// Error taxonomy shared by every domain operation. Wrapped errors returned by
// this package match these values with errors.Is.
const (
	ErrInvalidArgument   = errno.ErrInvalid
	ErrNotSupported      = errno.ErrNotSupported
	ErrNotFound          = errno.ErrNotFound
	ErrKeyInUse          = errno.ErrNoKey
	ErrAddressResolution = errno.ErrAddrNotAvail
	ErrResourceExhausted = errno.ErrNoSpace
	ErrBusy              = errno.ErrBusy
	ErrNoEQ              = errno.ErrNoEQ
	ErrCanceled          = errno.ErrCanceled
	ErrAccessDenied      = errno.ErrAccess
	ErrOverrun           = errno.ErrOverrun
)

// ErrInvalidHandle indicates a nil or closed handle was used.
type ErrInvalidHandle struct {
	Resource string
}

func (e ErrInvalidHandle) Error() string {
	return "invalid or closed " + e.Resource + " handle"
}

// Unwrap lets callers treat invalid handles as invalid arguments.
func (e ErrInvalidHandle) Unwrap() error {
	return ErrInvalidArgument
}
