package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/cyclopsctl/internal/config"
	"github.com/danmuck/cyclopsctl/internal/logging"
	"github.com/danmuck/cyclopsctl/internal/service"
	"github.com/rs/zerolog/log"
)

func main() {
	path := flag.String("config", "cyclopsctl.toml", "service config path")
	initKind := flag.String("init", "", "write a config template and exit: service|workspace")
	output := flag.String("output", "", "template output path (defaults to -config, or workspace.toml)")
	force := flag.Bool("force", false, "overwrite an existing template")
	validate := flag.Bool("validate", false, "validate -config and exit")
	flag.Parse()

	logging.ConfigureRuntime()

	if err := run(*path, *initKind, *output, *force, *validate); err != nil {
		fmt.Fprintf(os.Stderr, "cyclopsctl: %v\n", err)
		os.Exit(1)
	}
}

func run(path, initKind, output string, force, validate bool) error {
	if initKind != "" {
		target := output
		if target == "" {
			target = path
			if initKind == "workspace" {
				target = "workspace.toml"
			}
		}
		if err := config.WriteTemplate(target, initKind, force); err != nil {
			return err
		}
		log.Info().Str("kind", initKind).Str("path", target).Msg("cyclopsctl wrote config template")
		return nil
	}

	cfg := service.DefaultServiceConfig()
	if _, err := os.Stat(path); err == nil {
		if cfg, err = loadServiceConfig(path); err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) || validate {
		return fmt.Errorf("config %s: %w", path, err)
	} else {
		log.Warn().Str("path", path).Msg("cyclopsctl config not found, using defaults")
	}
	if validate {
		log.Info().Str("path", path).Msg("cyclopsctl config valid")
		return nil
	}
	return service.NewService(cfg, nil).Run()
}
