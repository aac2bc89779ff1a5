// Package frame encodes and decodes Cyclops command frames.
//
// A frame is one header byte followed by zero to four payload bytes. The
// payload length is fixed by the opcode and never read from data. Multi-byte
// payload fields are little-endian, the layout the board firmware reads.
package frame

import (
	"encoding/binary"
	"math"
)

var order = binary.LittleEndian

// ChannelMask selects channels in a single-byte header, bit i = channel i.
type ChannelMask uint8

// MaskOf builds a mask from a variable-length channel list.
func MaskOf(channels ...int) (ChannelMask, error) {
	if len(channels) == 0 {
		return 0, ErrNoChannels
	}
	if len(channels) > NumChannels {
		return 0, ErrTooManyChannels
	}
	var m ChannelMask
	for _, ch := range channels {
		if ch < 0 || ch >= NumChannels {
			return 0, ErrInvalidChannel
		}
		m |= 1 << uint(ch)
	}
	return m, nil
}

// Has reports whether channel ch is selected.
func (m ChannelMask) Has(ch int) bool {
	if ch < 0 || ch >= NumChannels {
		return false
	}
	return m&(1<<uint(ch)) != 0
}

// Channels lists selected channels in ascending order.
func (m ChannelMask) Channels() []int {
	out := make([]int, 0, NumChannels)
	for ch := 0; ch < NumChannels; ch++ {
		if m.Has(ch) {
			out = append(out, ch)
		}
	}
	return out
}

// Params is the numeric parameter of a multi-byte command. Only the field
// matching the command's payload layout is encoded.
type Params struct {
	Source uint8   `json:"source,omitempty" toml:"source,omitempty"` // CHANGE_SOURCE_*
	Shots  int     `json:"shots,omitempty" toml:"shots,omitempty"`   // CHANGE_SOURCE_N_SHOT, clamped to >= 1
	Time   uint32  `json:"time,omitempty" toml:"time,omitempty"`     // CHANGE_TIME_PERIOD, SQUARE_ON_TIME, SQUARE_OFF_TIME
	Factor float32 `json:"factor,omitempty" toml:"factor,omitempty"` // TIME_FACTOR, VOLTAGE_FACTOR
	Offset int16   `json:"offset,omitempty" toml:"offset,omitempty"` // VOLTAGE_OFFSET
	Level  uint16  `json:"level,omitempty" toml:"level,omitempty"`   // SQUARE_ON_LEVEL, SQUARE_OFF_LEVEL
}

// Frame is one encoded command.
type Frame struct {
	buf [MaxFrameLen]byte
	n   int
}

// Bytes returns a copy of the encoded frame.
func (f Frame) Bytes() []byte {
	out := make([]byte, f.n)
	copy(out, f.buf[:f.n])
	return out
}

func (f Frame) Len() int {
	return f.n
}

// Header returns the first byte, or 0 for an empty frame.
func (f Frame) Header() byte {
	if f.n == 0 {
		return 0
	}
	return f.buf[0]
}

// Command returns the command the header byte names.
func (f Frame) Command() (Command, bool) {
	if f.n == 0 {
		return 0, false
	}
	return DecodeHeader(f.buf[0]).Command()
}

// Encode builds a frame for cmd. Single-byte commands take a channel list
// (IDENTIFY takes none, SWAP exactly two); multi-byte commands take exactly
// one channel.
func Encode(cmd Command, channels []int, p Params) (Frame, error) {
	if !cmd.Valid() {
		return Frame{}, encodingError(cmd, ErrUnknownCommand)
	}
	spec := commandTable[cmd]
	if spec.class == ClassSingle {
		return encodeSingle(cmd, spec, channels)
	}
	if len(channels) != 1 {
		return Frame{}, encodingError(cmd, ErrChannelCount)
	}
	return encodeMulti(cmd, spec, channels[0], p)
}

func encodeSingle(cmd Command, spec commandSpec, channels []int) (Frame, error) {
	var mask ChannelMask
	switch cmd {
	case CmdIdentify:
		if len(channels) != 0 {
			return Frame{}, encodingError(cmd, ErrChannelCount)
		}
	case CmdSwap:
		if len(channels) != 2 {
			return Frame{}, encodingError(cmd, ErrChannelCount)
		}
		if channels[0] == channels[1] {
			return Frame{}, encodingError(cmd, ErrDuplicateChannel)
		}
		fallthrough
	default:
		m, err := MaskOf(channels...)
		if err != nil {
			return Frame{}, encodingError(cmd, err)
		}
		mask = m
	}
	var f Frame
	f.buf[0] = singleFlag | (spec.code<<singleCmdShift)&singleCmdMask | byte(mask)&singleMaskBits
	f.n = 1
	return f, nil
}

func encodeMulti(cmd Command, spec commandSpec, channel int, p Params) (Frame, error) {
	if channel < 0 || channel >= NumChannels {
		return Frame{}, encodingError(cmd, ErrInvalidChannel)
	}
	var f Frame
	f.buf[0] = (byte(channel)<<multiChanShift)&multiChanMask | spec.code&multiOpMask
	payload := f.buf[1:]
	switch spec.layout {
	case layoutSource:
		payload[0] = p.Source
	case layoutSourceShots:
		payload[0] = p.Source
		payload[1] = clampShots(p.Shots)
	case layoutU32:
		order.PutUint32(payload, p.Time)
	case layoutF32:
		order.PutUint32(payload, math.Float32bits(p.Factor))
	case layoutI16:
		order.PutUint16(payload, uint16(p.Offset))
	case layoutU16:
		order.PutUint16(payload, p.Level)
	}
	f.n = 1 + layoutLen[spec.layout]
	return f, nil
}

func clampShots(shots int) byte {
	if shots < 1 {
		return 1
	}
	if shots > math.MaxUint8 {
		return math.MaxUint8
	}
	return byte(shots)
}

func Start(channels ...int) (Frame, error) {
	return Encode(CmdStart, channels, Params{})
}

func Stop(channels ...int) (Frame, error) {
	return Encode(CmdStop, channels, Params{})
}

func Reset(channels ...int) (Frame, error) {
	return Encode(CmdReset, channels, Params{})
}

// Swap exchanges the sources of two distinct channels.
func Swap(c1, c2 int) (Frame, error) {
	return Encode(CmdSwap, []int{c1, c2}, Params{})
}

// Identify asks the board for its identity block.
func Identify() Frame {
	f, _ := Encode(CmdIdentify, nil, Params{})
	return f
}

func ChangeSourceLoop(channel int, source uint8) (Frame, error) {
	return Encode(CmdChangeSourceLoop, []int{channel}, Params{Source: source})
}

func ChangeSourceOneShot(channel int, source uint8) (Frame, error) {
	return Encode(CmdChangeSourceOneShot, []int{channel}, Params{Source: source})
}

// ChangeSourceNShot plays source shots times; shots below 1 play once.
func ChangeSourceNShot(channel int, source uint8, shots int) (Frame, error) {
	return Encode(CmdChangeSourceNShot, []int{channel}, Params{Source: source, Shots: shots})
}

func ChangeTimePeriod(channel int, period uint32) (Frame, error) {
	return Encode(CmdChangeTimePeriod, []int{channel}, Params{Time: period})
}

func TimeFactor(channel int, factor float32) (Frame, error) {
	return Encode(CmdTimeFactor, []int{channel}, Params{Factor: factor})
}

func VoltageFactor(channel int, factor float32) (Frame, error) {
	return Encode(CmdVoltageFactor, []int{channel}, Params{Factor: factor})
}

func VoltageOffset(channel int, offset int16) (Frame, error) {
	return Encode(CmdVoltageOffset, []int{channel}, Params{Offset: offset})
}

func SquareOnTime(channel int, t uint32) (Frame, error) {
	return Encode(CmdSquareOnTime, []int{channel}, Params{Time: t})
}

func SquareOffTime(channel int, t uint32) (Frame, error) {
	return Encode(CmdSquareOffTime, []int{channel}, Params{Time: t})
}

func SquareOnLevel(channel int, level uint16) (Frame, error) {
	return Encode(CmdSquareOnLevel, []int{channel}, Params{Level: level})
}

func SquareOffLevel(channel int, level uint16) (Frame, error) {
	return Encode(CmdSquareOffLevel, []int{channel}, Params{Level: level})
}
