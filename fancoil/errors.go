package fancoil

import (
	"errors"
	"fmt"
)

// ErrTransport means a register read or write did not complete
var ErrTransport = errors.New("transport failure")

// ErrInvalidDeviceState means a register holds a value outside the known encoding
var ErrInvalidDeviceState = errors.New("invalid device state")

// ErrInvalidCommand means the caller asked for a value the unit cannot take
var ErrInvalidCommand = errors.New("invalid command")

// ErrPartialRefresh is returned when some sensor registers could not be read.
// The fields that were read are committed anyway.
var ErrPartialRefresh = errors.New("partial refresh")

// RegisterError is a transport failure on one register. It matches ErrTransport
// and the underlying bus error.
type RegisterError struct {
	Op      string // "reading" or "writing"
	Address uint16
	Err     error
}

func (e *RegisterError) Error() string {
	return fmt.Sprintf("%v: %s register %d: %v", ErrTransport, e.Op, e.Address, e.Err)
}

func (e *RegisterError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// ReadFailed reports whether err carries a failed read of address
func ReadFailed(err error, address uint16) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *RegisterError:
		return e.Op == "reading" && e.Address == address
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if ReadFailed(inner, address) {
				return true
			}
		}
		return false
	}
	return ReadFailed(errors.Unwrap(err), address)
}
