package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "service":
		return serviceTemplate, nil
	case "workspace":
		return workspaceTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serviceTemplate = `name = "cyclopsctl"
listen_addr = "127.0.0.1:9300"
cors_origins = ["http://localhost:3000"]
api_token = ""
poll_interval = "10ms"
heartbeat_interval = "30s"
identify_timeout = "2s"
test_step = 0.01
workspace = "workspace.toml"

[reconnect]
enabled = false
initial_delay = "500ms"
multiplier = 2.0
max_delay = "30s"
`

const workspaceTemplate = `[[session]]
id = 1
device = "/dev/ttyACM0"
baudrate = 115200

[[hook]]
id = 1
session = 1
plugin = "square"
channel = 0
`
