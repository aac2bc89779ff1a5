package frame

import "fmt"

// Header bit layout.
//
//	single-byte: 1 ccc mmmm   c = command, m = channel mask
//	multi-byte:  0 hh ooooo   h = channel, o = opcode
const (
	singleFlag     byte = 1 << 7
	singleCmdShift      = 4
	singleCmdMask  byte = 0x07 << singleCmdShift
	singleMaskBits byte = 0x0F

	multiChanShift      = 5
	multiChanMask  byte = 0x03 << multiChanShift
	multiOpMask    byte = 0x1F
)

// MaxFrameLen is the largest frame the protocol defines.
const MaxFrameLen = 5

// NumChannels is the number of LED driver channels on one board.
const NumChannels = 4

// Class is the header shape of a frame.
type Class uint8

const (
	ClassMulti Class = iota
	ClassSingle
)

func (c Class) String() string {
	if c == ClassSingle {
		return "single"
	}
	return "multi"
}

// Command is a flat enumeration over both frame classes.
type Command uint8

const (
	CmdStart Command = iota
	CmdStop
	CmdReset
	CmdSwap
	CmdIdentify

	CmdChangeSourceLoop
	CmdChangeSourceOneShot
	CmdChangeSourceNShot
	CmdChangeTimePeriod
	CmdTimeFactor
	CmdVoltageFactor
	CmdVoltageOffset
	CmdSquareOnTime
	CmdSquareOffTime
	CmdSquareOnLevel
	CmdSquareOffLevel

	numCommands
)

// layout names the fixed payload shape of a command.
type layout uint8

const (
	layoutNone layout = iota
	layoutSource
	layoutSourceShots
	layoutU32
	layoutF32
	layoutI16
	layoutU16
)

var layoutLen = [...]int{
	layoutNone:        0,
	layoutSource:      1,
	layoutSourceShots: 2,
	layoutU32:         4,
	layoutF32:         4,
	layoutI16:         2,
	layoutU16:         2,
}

type commandSpec struct {
	name   string
	class  Class
	code   uint8
	layout layout
}

var commandTable = [numCommands]commandSpec{
	CmdStart:    {name: "START", class: ClassSingle, code: 0},
	CmdStop:     {name: "STOP", class: ClassSingle, code: 1},
	CmdReset:    {name: "RESET", class: ClassSingle, code: 2},
	CmdSwap:     {name: "SWAP", class: ClassSingle, code: 3},
	CmdIdentify: {name: "IDENTIFY", class: ClassSingle, code: 4},

	CmdChangeSourceLoop:    {name: "CHANGE_SOURCE_LOOP", class: ClassMulti, code: 0, layout: layoutSource},
	CmdChangeSourceOneShot: {name: "CHANGE_SOURCE_ONE_SHOT", class: ClassMulti, code: 1, layout: layoutSource},
	CmdChangeSourceNShot:   {name: "CHANGE_SOURCE_N_SHOT", class: ClassMulti, code: 2, layout: layoutSourceShots},
	CmdChangeTimePeriod:    {name: "CHANGE_TIME_PERIOD", class: ClassMulti, code: 3, layout: layoutU32},
	CmdTimeFactor:          {name: "TIME_FACTOR", class: ClassMulti, code: 4, layout: layoutF32},
	CmdVoltageFactor:       {name: "VOLTAGE_FACTOR", class: ClassMulti, code: 5, layout: layoutF32},
	CmdVoltageOffset:       {name: "VOLTAGE_OFFSET", class: ClassMulti, code: 6, layout: layoutI16},
	CmdSquareOnTime:        {name: "SQUARE_ON_TIME", class: ClassMulti, code: 7, layout: layoutU32},
	CmdSquareOffTime:       {name: "SQUARE_OFF_TIME", class: ClassMulti, code: 8, layout: layoutU32},
	CmdSquareOnLevel:       {name: "SQUARE_ON_LEVEL", class: ClassMulti, code: 9, layout: layoutU16},
	CmdSquareOffLevel:      {name: "SQUARE_OFF_LEVEL", class: ClassMulti, code: 10, layout: layoutU16},
}

// Valid reports whether c names an assigned command.
func (c Command) Valid() bool {
	return c < numCommands
}

func (c Command) String() string {
	if !c.Valid() {
		return fmt.Sprintf("COMMAND(%d)", uint8(c))
	}
	return commandTable[c].name
}

// Class returns the header class of c.
func (c Command) Class() Class {
	if !c.Valid() {
		return ClassMulti
	}
	return commandTable[c].class
}

// Code returns the header field value of c within its class.
func (c Command) Code() uint8 {
	if !c.Valid() {
		return 0
	}
	return commandTable[c].code
}

// Len returns the total frame length of c, header included.
// Unassigned commands report 0.
func (c Command) Len() int {
	if !c.Valid() {
		return 0
	}
	return 1 + layoutLen[commandTable[c].layout]
}

// Lookup maps a (class, code) pair back to its command.
func Lookup(class Class, code uint8) (Command, bool) {
	for i := Command(0); i < numCommands; i++ {
		spec := commandTable[i]
		if spec.class == class && spec.code == code {
			return i, true
		}
	}
	return 0, false
}

// ParseCommand resolves a wire name such as "CHANGE_TIME_PERIOD".
func ParseCommand(name string) (Command, bool) {
	for i := Command(0); i < numCommands; i++ {
		if commandTable[i].name == name {
			return i, true
		}
	}
	return 0, false
}

func (c Command) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, uint8(c))
	}
	return []byte(commandTable[c].name), nil
}

func (c *Command) UnmarshalText(b []byte) error {
	cmd, ok := ParseCommand(string(b))
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, string(b))
	}
	*c = cmd
	return nil
}
