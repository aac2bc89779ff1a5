// Command cyclopssim exposes a simulated Cyclops board on a pseudo-terminal
// so cyclopsctl can be run without hardware.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/danmuck/cyclopsctl/internal/devsim"
	"github.com/danmuck/cyclopsctl/internal/logging"
	"github.com/danmuck/cyclopsctl/internal/protocol/response"
	"github.com/rs/zerolog/log"
)

type options struct {
	link       string
	banner     string
	silent     bool
	faultEvery time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.link, "link", "", "symlink to create for the board tty, e.g. /tmp/cyclops0")
	flag.StringVar(&opts.banner, "banner", devsim.DefaultBanner, "identity banner")
	flag.BoolVar(&opts.silent, "silent", false, "answer IDENTIFY only, never acknowledge commands")
	flag.DurationVar(&opts.faultEvery, "fault-every", 0, "emit EXPECTED_ACTION_FAIL on this interval (0 disables)")
	flag.Parse()

	logging.ConfigureRuntime()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "cyclopssim: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	master, tty, err := pty.Open()
	if err != nil {
		return fmt.Errorf("open pty: %w", err)
	}
	// The slave end stays open here so the master never sees EIO between
	// host connections. The host's serial open puts the line in raw mode.
	defer tty.Close()

	device := tty.Name()
	if opts.link != "" {
		_ = os.Remove(opts.link)
		if err := os.Symlink(device, opts.link); err != nil {
			_ = master.Close()
			return fmt.Errorf("link %s: %w", opts.link, err)
		}
		defer os.Remove(opts.link)
		device = opts.link
	}

	cfg := devsim.DefaultConfig()
	cfg.Banner = opts.banner
	cfg.Silent = opts.silent
	board := devsim.New(cfg)

	if opts.faultEvery > 0 {
		go emitFaults(ctx, board, opts.faultEvery)
	}

	log.Info().Str("device", device).Str("tty", tty.Name()).Str("banner", cfg.Banner).
		Msg("cyclopssim board ready")
	err = board.Serve(ctx, master)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Int("frames", len(board.Received())).Msg("cyclopssim shutdown")
	return nil
}

func emitFaults(ctx context.Context, board *devsim.Board, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if board.Emit(byte(response.ExpectedActionFail)) {
				log.Debug().Msg("cyclopssim emitted fault")
			}
		}
	}
}
