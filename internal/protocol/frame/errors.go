package frame

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidChannel   = errors.New("frame: channel out of range")
	ErrNoChannels       = errors.New("frame: no channels selected")
	ErrTooManyChannels  = errors.New("frame: too many channels")
	ErrDuplicateChannel = errors.New("frame: duplicate channel")
	ErrUnknownCommand   = errors.New("frame: unknown command")
	ErrChannelCount     = errors.New("frame: wrong channel count for command")
	ErrTruncated        = errors.New("frame: truncated frame")
	ErrTrailingBytes    = errors.New("frame: bytes past opcode length")
)

// EncodingError reports a command rejected before any byte reached a port.
type EncodingError struct {
	Command Command
	Err     error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("frame: encode %s: %v", e.Command, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

func encodingError(cmd Command, err error) error {
	return &EncodingError{Command: cmd, Err: err}
}
