package stimulator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/cyclopsctl/internal/devsim"
	"github.com/danmuck/cyclopsctl/internal/notify"
	"github.com/danmuck/cyclopsctl/internal/plugins"
	"github.com/danmuck/cyclopsctl/internal/transport"
)

// bench wires simulated boards to a loopback opener.
type bench struct {
	t      *testing.T
	ctx    context.Context
	opener *transport.LoopbackOpener
	boards map[string]*devsim.Board
	wg     sync.WaitGroup
}

func newBench(t *testing.T) *bench {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	b := &bench{
		t:      t,
		ctx:    ctx,
		opener: transport.NewLoopbackOpener(),
		boards: make(map[string]*devsim.Board),
	}
	t.Cleanup(func() {
		cancel()
		b.wg.Wait()
	})
	return b
}

func (b *bench) attach(path string, cfg devsim.Config) *devsim.Board {
	board := devsim.New(cfg)
	b.boards[path] = board
	b.opener.Attach(path, func(dev *transport.End) {
		b.wg.Add(1)
		defer b.wg.Done()
		ctx, cancel := context.WithCancel(b.ctx)
		defer cancel()
		_ = board.Serve(ctx, dev)
	})
	return board
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.IdentifyTimeout = 200 * time.Millisecond
	return cfg
}

func (b *bench) session(id int) *Session {
	return NewSession(id, testConfig(), b.opener, nil)
}

func (b *bench) registry() *Registry {
	return NewRegistry(testConfig(), b.opener, plugins.NewBuiltinCatalog())
}

// watch binds a recorder straight into a session roster.
func watch(s *Session, hookID int) *notify.Recorder {
	rec := notify.NewRecorder(hookID)
	s.observers.Add(rec)
	return rec
}

// waitBuffered blocks until the session's port holds at least n bytes.
func waitBuffered(t *testing.T, s *Session, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		p := s.port
		s.mu.Unlock()
		if p != nil {
			if got, _ := p.Available(); got >= n {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session %d: fewer than %d bytes buffered", s.id, n)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func countKind(rec *notify.Recorder, kind notify.Kind) int {
	n := 0
	for _, got := range rec.Received() {
		if got.Kind == kind {
			n++
		}
	}
	return n
}
