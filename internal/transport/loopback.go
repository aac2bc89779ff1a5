package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// End is one side of an in-memory link.
type End struct {
	in    *inbox
	out   *inbox
	close func()
}

var _ Port = (*End)(nil)

func (e *End) Available() (int, error) { return e.in.available() }

func (e *End) Read(p []byte) (int, error) { return e.in.read(p) }

func (e *End) ReadFull(ctx context.Context, p []byte) (int, error) {
	return e.in.readFull(ctx, p)
}

func (e *End) Write(p []byte) (int, error) {
	if err := e.out.push(p); err != nil {
		return 0, ErrClosed
	}
	return len(p), nil
}

// Close shuts both directions; the peer drains what is buffered and then
// sees end of stream.
func (e *End) Close() error {
	e.close()
	return nil
}

// Loopback is a connected pair of Ends.
type Loopback struct {
	Host   *End
	Device *End
}

func NewLoopback() *Loopback {
	toHost, toDevice := newInbox(), newInbox()
	var once sync.Once
	shut := func() {
		once.Do(func() {
			toHost.fail(ErrClosed)
			toDevice.fail(ErrClosed)
		})
	}
	return &Loopback{
		Host:   &End{in: toHost, out: toDevice, close: shut},
		Device: &End{in: toDevice, out: toHost, close: shut},
	}
}

// LoopbackOpener opens attached in-memory devices. Each Open creates a fresh
// Loopback and hands its device end to the attached serve func.
type LoopbackOpener struct {
	mu      sync.Mutex
	devices map[string]func(device *End)
	opens   map[string]int
}

var _ Opener = (*LoopbackOpener)(nil)

func NewLoopbackOpener() *LoopbackOpener {
	return &LoopbackOpener{
		devices: make(map[string]func(*End)),
		opens:   make(map[string]int),
	}
}

// Attach registers path. serve runs in its own goroutine per Open.
func (o *LoopbackOpener) Attach(path string, serve func(device *End)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.devices[path] = serve
}

func (o *LoopbackOpener) Detach(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.devices, path)
}

func (o *LoopbackOpener) Open(path string, baud int) (Port, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	o.mu.Lock()
	serve, ok := o.devices[path]
	if ok {
		o.opens[path]++
	}
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, path)
	}
	lb := NewLoopback()
	if serve != nil {
		go serve(lb.Device)
	}
	return lb.Host, nil
}

// Opens counts successful opens of path.
func (o *LoopbackOpener) Opens(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens[path]
}

func (o *LoopbackOpener) ListDevices() ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.devices))
	for path := range o.devices {
		out = append(out, path)
	}
	sort.Strings(out)
	return out, nil
}
