// Package plugins catalogs the stimulation programs a hook can select.
package plugins

import (
	"fmt"

	"github.com/danmuck/cyclopsctl/internal/protocol/frame"
)

// Preset is one multi-byte command pushed to a hook's channel when the
// plugin is applied.
type Preset struct {
	Command frame.Command `json:"command"`
	Params  frame.Params  `json:"params"`
}

// Info is the identity and configuration a plugin exposes.
type Info struct {
	Name        string   `json:"name"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Presets     []Preset `json:"presets,omitempty"`
}

// Plugin is the selection boundary used by the hook registry.
type Plugin interface {
	Info() Info
}

// Frames encodes the presets for channel in declaration order.
func (i Info) Frames(channel int) ([]frame.Frame, error) {
	out := make([]frame.Frame, 0, len(i.Presets))
	for _, p := range i.Presets {
		if p.Command.Class() != frame.ClassMulti {
			return nil, fmt.Errorf("%w: %s preset %s is not a channel command", ErrInvalidInfo, i.Name, p.Command)
		}
		f, err := frame.Encode(p.Command, []int{channel}, p.Params)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
