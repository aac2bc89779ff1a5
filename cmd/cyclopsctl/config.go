package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/cyclopsctl/internal/config"
	"github.com/danmuck/cyclopsctl/internal/service"
	"github.com/danmuck/cyclopsctl/internal/stimulator"
)

type fileReconnect struct {
	Enabled      bool    `toml:"enabled"`
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
}

type fileConfig struct {
	Name              string                `toml:"name"`
	ListenAddr        string                `toml:"listen_addr"`
	CorsOrigins       []string              `toml:"cors_origins"`
	APIToken          string                `toml:"api_token"`
	PollInterval      string                `toml:"poll_interval"`
	PollIntervalMS    int64                 `toml:"poll_interval_ms"`
	HeartbeatInterval string                `toml:"heartbeat_interval"`
	IdentifyTimeout   string                `toml:"identify_timeout"`
	TestStep          float64               `toml:"test_step"`
	Workspace         string                `toml:"workspace"`
	SaveOnExit        bool                  `toml:"save_on_exit"`
	Reconnect         fileReconnect         `toml:"reconnect"`
	Sessions          []config.SessionEntry `toml:"session"`
	Hooks             []config.HookEntry    `toml:"hook"`
}

func loadServiceConfig(path string) (service.ServiceConfig, error) {
	cfg := service.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return service.ServiceConfig{}, fmt.Errorf("load cyclopsctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return service.ServiceConfig{}, fmt.Errorf("unknown config keys: %v", undecoded)
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}

	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}

	if meta.IsDefined("api_token") {
		cfg.APIToken = strings.TrimSpace(raw.APIToken)
	}

	if meta.IsDefined("poll_interval") {
		if cfg.PollInterval, err = parseDuration("poll_interval", raw.PollInterval); err != nil {
			return service.ServiceConfig{}, err
		}
	}

	if meta.IsDefined("poll_interval_ms") {
		cfg.PollInterval = time.Duration(raw.PollIntervalMS) * time.Millisecond
	}

	if meta.IsDefined("heartbeat_interval") {
		if cfg.HeartbeatInterval, err = parseDuration("heartbeat_interval", raw.HeartbeatInterval); err != nil {
			return service.ServiceConfig{}, err
		}
	}

	if meta.IsDefined("identify_timeout") {
		if cfg.Session.IdentifyTimeout, err = parseDuration("identify_timeout", raw.IdentifyTimeout); err != nil {
			return service.ServiceConfig{}, err
		}
	}

	if meta.IsDefined("test_step") {
		if raw.TestStep <= 0 || raw.TestStep > 1 {
			return service.ServiceConfig{}, fmt.Errorf("test_step must be in (0, 1]: %v", raw.TestStep)
		}
		cfg.Session.TestStep = raw.TestStep
	}

	if meta.IsDefined("workspace") {
		cfg.Workspace = strings.TrimSpace(raw.Workspace)
	}

	if meta.IsDefined("save_on_exit") {
		cfg.SaveOnExit = raw.SaveOnExit
	}

	if meta.IsDefined("reconnect") {
		if err := applyReconnect(meta, raw.Reconnect, &cfg.Session.Reconnect); err != nil {
			return service.ServiceConfig{}, err
		}
	}

	if meta.IsDefined("session") || meta.IsDefined("hook") {
		cfg.Layout = config.Workspace{Sessions: raw.Sessions, Hooks: raw.Hooks}
		for i := range cfg.Layout.Sessions {
			if cfg.Layout.Sessions[i].BaudRate == 0 {
				cfg.Layout.Sessions[i].BaudRate = stimulator.DefaultBaudRate
			}
		}
		if err := config.ValidateWorkspace(cfg.Layout); err != nil {
			return service.ServiceConfig{}, err
		}
	}

	return cfg, nil
}

func applyReconnect(meta toml.MetaData, raw fileReconnect, out *stimulator.BackoffConfig) error {
	var err error
	if meta.IsDefined("reconnect", "enabled") {
		out.Enabled = raw.Enabled
	}
	if meta.IsDefined("reconnect", "initial_delay") {
		if out.InitialDelay, err = parseDuration("reconnect.initial_delay", raw.InitialDelay); err != nil {
			return err
		}
	}
	if meta.IsDefined("reconnect", "multiplier") {
		if raw.Multiplier < 1 {
			return fmt.Errorf("reconnect.multiplier must be >= 1: %v", raw.Multiplier)
		}
		out.Multiplier = raw.Multiplier
	}
	if meta.IsDefined("reconnect", "max_delay") {
		if out.MaxDelay, err = parseDuration("reconnect.max_delay", raw.MaxDelay); err != nil {
			return err
		}
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
