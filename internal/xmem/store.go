// Package xmem models the external RAM the perception pipeline stages its
// images and spectra through. The device is a flat byte-addressable space
// reached only by blocking, bounded read and write transactions.
package xmem

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned when a transfer falls outside the device.
	ErrOutOfRange = errors.New("xmem: address range out of bounds")
	// ErrTimeout is returned when the device lock could not be taken in time.
	ErrTimeout = errors.New("xmem: timed out waiting for store")
)

// Store is a linear byte-addressable memory. Both calls are synchronous and
// return a non-nil error when the transaction did not complete.
type Store interface {
	ReadAt(dst []byte, addr uint32) error
	WriteAt(src []byte, addr uint32) error
}

// checkRange reports ErrOutOfRange when [addr, addr+n) exceeds size.
func checkRange(addr uint32, n int, size uint32) error {
	if uint64(addr)+uint64(n) > uint64(size) {
		return fmt.Errorf("%w: addr=0x%06x len=%d size=0x%06x", ErrOutOfRange, addr, n, size)
	}
	return nil
}
