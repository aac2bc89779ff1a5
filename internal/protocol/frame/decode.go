package frame

import (
	"errors"
	"io"
	"math"
)

// Header is a split header byte. Selector holds the channel mask for
// single-byte headers and the channel number for multi-byte headers.
type Header struct {
	Class    Class
	Code     uint8
	Selector uint8
}

// DecodeHeader splits b into its fields. Every byte maps to some header;
// unassigned codes are left for the caller to reject via Command.
func DecodeHeader(b byte) Header {
	if b&singleFlag != 0 {
		return Header{
			Class:    ClassSingle,
			Code:     (b & singleCmdMask) >> singleCmdShift,
			Selector: b & singleMaskBits,
		}
	}
	return Header{
		Class:    ClassMulti,
		Code:     b & multiOpMask,
		Selector: (b & multiChanMask) >> multiChanShift,
	}
}

// Command resolves the header's code, false when unassigned.
func (h Header) Command() (Command, bool) {
	return Lookup(h.Class, h.Code)
}

// Mask returns the channel mask of a single-byte header.
func (h Header) Mask() ChannelMask {
	if h.Class != ClassSingle {
		return 0
	}
	return ChannelMask(h.Selector)
}

// Channel returns the channel of a multi-byte header, -1 otherwise.
func (h Header) Channel() int {
	if h.Class != ClassMulti {
		return -1
	}
	return int(h.Selector)
}

// Message is a fully decoded frame.
type Message struct {
	Command Command
	Header  Header
	Params  Params
}

// Decode parses exactly one frame from b.
func Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return Message{}, ErrTruncated
	}
	h := DecodeHeader(b[0])
	cmd, ok := h.Command()
	if !ok {
		return Message{}, ErrUnknownCommand
	}
	n := cmd.Len()
	if len(b) < n {
		return Message{}, ErrTruncated
	}
	if len(b) > n {
		return Message{}, ErrTrailingBytes
	}
	return Message{Command: cmd, Header: h, Params: decodePayload(cmd, b[1:n])}, nil
}

// ReadFrame reads one frame from r. The payload length comes from the
// opcode table.
func ReadFrame(r io.Reader) (Message, error) {
	var buf [MaxFrameLen]byte
	if _, err := io.ReadFull(r, buf[:1]); err != nil {
		return Message{}, err
	}
	h := DecodeHeader(buf[0])
	cmd, ok := h.Command()
	if !ok {
		return Message{Header: h}, ErrUnknownCommand
	}
	n := cmd.Len()
	if n > 1 {
		if _, err := io.ReadFull(r, buf[1:n]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Message{}, ErrTruncated
			}
			return Message{}, err
		}
	}
	return Message{Command: cmd, Header: h, Params: decodePayload(cmd, buf[1:n])}, nil
}

func decodePayload(cmd Command, payload []byte) Params {
	var p Params
	switch commandTable[cmd].layout {
	case layoutSource:
		p.Source = payload[0]
	case layoutSourceShots:
		p.Source = payload[0]
		p.Shots = int(payload[1])
	case layoutU32:
		p.Time = order.Uint32(payload)
	case layoutF32:
		p.Factor = math.Float32frombits(order.Uint32(payload))
	case layoutI16:
		p.Offset = int16(order.Uint16(payload))
	case layoutU16:
		p.Level = order.Uint16(payload)
	}
	return p
}
