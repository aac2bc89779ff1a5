package transport

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

const pumpReadTimeout = 50 * time.Millisecond

// SerialOpener opens real serial devices.
type SerialOpener struct {
	// GOOS overrides runtime.GOOS for the device-name filter.
	GOOS string
}

var _ Opener = SerialOpener{}

func (o SerialOpener) Open(path string, baud int) (Port, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrEmptyPath
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		var perr *serial.PortError
		if errors.As(err, &perr) && perr.Code() == serial.PortNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNoDevice, path)
		}
		return nil, fmt.Errorf("transport: open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(pumpReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("transport: set read timeout %s: %w", path, err)
	}
	sp := &serialPort{path: path, port: port, in: newInbox(), done: make(chan struct{})}
	go sp.pump()
	log.Debug().Str("path", path).Int("baud", baud).Msg("transport.SerialOpener.Open ok")
	return sp, nil
}

// ListDevices returns the ports that look like boards on this OS.
func (o SerialOpener) ListDevices() ([]string, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("transport: list ports: %w", err)
	}
	goos := o.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	return LikelyDevices(goos, names), nil
}

// LikelyDevices filters port names down to the ones a board enumerates as.
// Windows COM names are all kept.
func LikelyDevices(goos string, names []string) []string {
	var prefixes []string
	switch goos {
	case "linux":
		prefixes = []string{"/dev/ttyUSB", "/dev/ttyACM", "ttyUSB", "ttyACM"}
	case "darwin":
		prefixes = []string{"/dev/cu.", "/dev/tty.", "cu.", "tty."}
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if prefixes == nil {
			out = append(out, name)
			continue
		}
		for _, p := range prefixes {
			if strings.HasPrefix(name, p) {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

type serialPort struct {
	path string
	port serial.Port
	in   *inbox

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (p *serialPort) pump() {
	buf := make([]byte, 256)
	for {
		n, err := p.port.Read(buf)
		if n > 0 {
			_ = p.in.push(buf[:n])
		}
		select {
		case <-p.done:
			p.in.fail(ErrClosed)
			return
		default:
		}
		if err != nil {
			log.Warn().Str("path", p.path).Err(err).Msg("transport.serialPort.pump read failed")
			p.in.fail(err)
			return
		}
	}
}

func (p *serialPort) Available() (int, error) {
	return p.in.available()
}

func (p *serialPort) Read(b []byte) (int, error) {
	return p.in.read(b)
}

func (p *serialPort) ReadFull(ctx context.Context, b []byte) (int, error) {
	return p.in.readFull(ctx, b)
}

func (p *serialPort) Write(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, ErrClosed
	default:
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.port.Write(b)
}

func (p *serialPort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.port.Close()
		p.in.fail(ErrClosed)
	})
	return err
}
