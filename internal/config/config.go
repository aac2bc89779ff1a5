package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/cyclopsctl/internal/protocol/frame"
	"github.com/danmuck/cyclopsctl/internal/stimulator"
	"github.com/pelletier/go-toml/v2"
)

// Workspace is the saved layout of sessions and the hooks bound to them.
type Workspace struct {
	Sessions []SessionEntry `toml:"session"`
	Hooks    []HookEntry    `toml:"hook"`
}

type SessionEntry struct {
	ID       int    `toml:"id"`
	Device   string `toml:"device,omitempty"`
	BaudRate int    `toml:"baudrate,omitempty"`
}

// HookEntry binds a hook to a session entry id. Session 0 keeps the hook
// orphaned.
type HookEntry struct {
	ID      int    `toml:"id"`
	Session int    `toml:"session"`
	Plugin  string `toml:"plugin,omitempty"`
	Channel int    `toml:"channel"`
}

func LoadWorkspace(path string) (Workspace, error) {
	var ws Workspace
	if err := loadToml(path, &ws); err != nil {
		return Workspace{}, err
	}
	for i := range ws.Sessions {
		ws.Sessions[i].Device = strings.TrimSpace(ws.Sessions[i].Device)
		if ws.Sessions[i].BaudRate == 0 {
			ws.Sessions[i].BaudRate = stimulator.DefaultBaudRate
		}
	}
	if err := ValidateWorkspace(ws); err != nil {
		return Workspace{}, err
	}
	return ws, nil
}

// SaveWorkspace writes ws to path, replacing any existing file.
func SaveWorkspace(path string, ws Workspace) error {
	if err := ValidateWorkspace(ws); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(ws); err != nil {
		return fmt.Errorf("config encode failed (%s): %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("config write failed (%s): %w", path, err)
	}
	return nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateWorkspace(ws Workspace) error {
	sessions := make(map[int]bool, len(ws.Sessions))
	devices := make(map[string]int, len(ws.Sessions))
	for i, s := range ws.Sessions {
		if err := ValidateSessionEntry(s); err != nil {
			return fmt.Errorf("session[%d] invalid: %w", i, err)
		}
		if sessions[s.ID] {
			return fmt.Errorf("session[%d] invalid: duplicate id %d", i, s.ID)
		}
		sessions[s.ID] = true
		if s.Device == "" {
			continue
		}
		if other, ok := devices[s.Device]; ok {
			return fmt.Errorf("session[%d] invalid: device %s already used by session %d", i, s.Device, other)
		}
		devices[s.Device] = s.ID
	}
	hooks := make(map[int]bool, len(ws.Hooks))
	for i, h := range ws.Hooks {
		if err := ValidateHookEntry(h); err != nil {
			return fmt.Errorf("hook[%d] invalid: %w", i, err)
		}
		if hooks[h.ID] {
			return fmt.Errorf("hook[%d] invalid: duplicate id %d", i, h.ID)
		}
		hooks[h.ID] = true
		if h.Session != 0 && !sessions[h.Session] {
			return fmt.Errorf("hook[%d] invalid: unknown session %d", i, h.Session)
		}
	}
	return nil
}

func ValidateSessionEntry(s SessionEntry) error {
	if s.ID <= 0 {
		return fmt.Errorf("id must be positive")
	}
	if s.BaudRate != 0 && !stimulator.ValidBaud(s.BaudRate) {
		return fmt.Errorf("unsupported baudrate %d", s.BaudRate)
	}
	return nil
}

func ValidateHookEntry(h HookEntry) error {
	if h.ID <= 0 {
		return fmt.Errorf("id must be positive")
	}
	if h.Session < 0 {
		return fmt.Errorf("session must not be negative")
	}
	if h.Channel < 0 || h.Channel >= frame.NumChannels {
		return fmt.Errorf("channel %d out of range", h.Channel)
	}
	return nil
}
