package vm

import (
	"errors"
	"fmt"
)

// Error kinds reported by the virtual memory system. Callers classify with
// errors.Is.
var (
	// ErrOutOfMemory reports that a kernel object or a physical frame could
	// not be allocated.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrInvalidArgument reports an overlapping or malformed region.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnmappedAddress reports a fault on an address outside every region.
	ErrUnmappedAddress = errors.New("unmapped address")

	// ErrProtectionViolation reports a store to a read-only mapping.
	ErrProtectionViolation = errors.New("protection violation")

	// ErrUnsupportedOperation reports a multiprocessor TLB shootdown. It is
	// never returned; it is the panic value of CPU.Shootdown.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrNotFound reports that a page is not resident.
	ErrNotFound = errors.New("page not resident")
)

// A FaultError is the result of a fault that could not be resolved. The
// faulting process is expected to be terminated by the caller.
type FaultError struct {
	Kind  FaultKind
	VAddr VAddr
	Err   error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s fault at %s: %v", e.Kind, e.VAddr, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}
