// Package response decodes the single-byte status codes a board sends back,
// and the fixed identity block it returns for IDENTIFY.
package response

import (
	"errors"
	"fmt"
)

// Code is one status byte from the board.
type Code uint8

const (
	Launch                Code = 0
	End                   Code = 1
	SingleByteDone        Code = 8
	Identity              Code = 9
	MultiByteDone         Code = 16
	ExpectedActionFail    Code = 240
	NotExpectedActionFail Code = 241
)

var ErrUnrecognized = errors.New("response: unrecognized code")

// UnrecognizedError carries the byte that matched no known code.
type UnrecognizedError struct {
	Byte byte
}

func (e *UnrecognizedError) Error() string {
	return fmt.Sprintf("response: unrecognized code 0x%02x", e.Byte)
}

func (e *UnrecognizedError) Unwrap() error {
	return ErrUnrecognized
}

// Decode maps b to a known code. Unknown bytes are reported, never dropped.
func Decode(b byte) (Code, error) {
	c := Code(b)
	switch c {
	case Launch, End, SingleByteDone, Identity, MultiByteDone, ExpectedActionFail, NotExpectedActionFail:
		return c, nil
	default:
		return c, &UnrecognizedError{Byte: b}
	}
}

// IsFault reports whether c means the board failed an action.
func (c Code) IsFault() bool {
	return c == ExpectedActionFail || c == NotExpectedActionFail
}

func (c Code) String() string {
	switch c {
	case Launch:
		return "LAUNCH"
	case End:
		return "END"
	case SingleByteDone:
		return "SINGLE_BYTE_DONE"
	case Identity:
		return "IDENTITY"
	case MultiByteDone:
		return "MULTI_BYTE_DONE"
	case ExpectedActionFail:
		return "EXPECTED_ACTION_FAIL"
	case NotExpectedActionFail:
		return "NOT_EXPECTED_ACTION_FAIL"
	default:
		return fmt.Sprintf("CODE(%d)", uint8(c))
	}
}
