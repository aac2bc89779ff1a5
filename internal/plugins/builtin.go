package plugins

import (
	"fmt"

	"github.com/danmuck/cyclopsctl/internal/protocol/frame"
)

// Board source slots used by the builtin programs.
const (
	SourceSquare   uint8 = 0
	SourceWaveform uint8 = 1
)

// Static is a Plugin backed by a fixed Info.
type Static struct {
	info Info
}

func (s Static) Info() Info {
	out := s.info
	out.Presets = append([]Preset(nil), s.info.Presets...)
	return out
}

func NewStatic(info Info) Static {
	return Static{info: info}
}

// Square loops the square-wave source at 1 Hz, full scale.
func Square() Static {
	return NewStatic(Info{
		Name:        "square",
		Title:       "Square wave",
		Description: "Continuous square pulses on the square-wave source",
		Presets: []Preset{
			{Command: frame.CmdChangeSourceLoop, Params: frame.Params{Source: SourceSquare}},
			{Command: frame.CmdSquareOnTime, Params: frame.Params{Time: 500}},
			{Command: frame.CmdSquareOffTime, Params: frame.Params{Time: 500}},
			{Command: frame.CmdSquareOnLevel, Params: frame.Params{Level: 4095}},
			{Command: frame.CmdSquareOffLevel, Params: frame.Params{Level: 0}},
		},
	})
}

// Waveform loops the stored waveform at unit scale.
func Waveform() Static {
	return NewStatic(Info{
		Name:        "waveform",
		Title:       "Stored waveform",
		Description: "Loops the board's stored waveform source",
		Presets: []Preset{
			{Command: frame.CmdChangeSourceLoop, Params: frame.Params{Source: SourceWaveform}},
			{Command: frame.CmdChangeTimePeriod, Params: frame.Params{Time: 1000}},
			{Command: frame.CmdTimeFactor, Params: frame.Params{Factor: 1}},
			{Command: frame.CmdVoltageFactor, Params: frame.Params{Factor: 1}},
			{Command: frame.CmdVoltageOffset, Params: frame.Params{Offset: 0}},
		},
	})
}

// NShot plays the square source a fixed number of times per trigger.
func NShot(shots int) Static {
	return NewStatic(Info{
		Name:        "n-shot",
		Title:       "N-shot pulses",
		Description: fmt.Sprintf("Plays %d square pulses per trigger", shots),
		Presets: []Preset{
			{Command: frame.CmdChangeSourceNShot, Params: frame.Params{Source: SourceSquare, Shots: shots}},
		},
	})
}

// NewBuiltinCatalog registers square, waveform and n-shot.
func NewBuiltinCatalog() *Catalog {
	c := NewCatalog()
	for _, p := range []Plugin{Square(), Waveform(), NShot(5)} {
		if err := c.Register(p); err != nil {
			panic(err)
		}
	}
	return c
}
