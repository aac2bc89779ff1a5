// Package transport moves raw bytes between the host and a board.
//
// A Port buffers incoming bytes so callers can ask how many are waiting
// without blocking, then read them. Openers turn a device path and baud rate
// into a Port.
package transport

import (
	"context"
	"errors"
)

var (
	ErrClosed    = errors.New("transport: port closed")
	ErrPortInUse = errors.New("transport: port already claimed")
	ErrNoDevice  = errors.New("transport: no such device")
	ErrEmptyPath = errors.New("transport: empty device path")
)

// Port is an open byte link to one board.
type Port interface {
	// Available reports buffered bytes. The error is non-nil once the link
	// failed and the buffer has been drained.
	Available() (int, error)
	// Read returns buffered bytes, blocking until at least one arrives.
	Read(p []byte) (int, error)
	// ReadFull fills p or fails when ctx ends first.
	ReadFull(ctx context.Context, p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Opener opens device paths.
type Opener interface {
	Open(path string, baud int) (Port, error)
	ListDevices() ([]string, error)
}
