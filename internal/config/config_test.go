package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/cyclopsctl/internal/devsim"
	"github.com/danmuck/cyclopsctl/internal/notify"
	"github.com/danmuck/cyclopsctl/internal/stimulator"
	"github.com/danmuck/cyclopsctl/internal/testutil/testlog"
	"github.com/danmuck/cyclopsctl/internal/transport"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workspace.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadWorkspaceTemplate(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, workspaceTemplate)
	ws, err := LoadWorkspace(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(ws.Sessions) != 1 || ws.Sessions[0].Device != "/dev/ttyACM0" || ws.Sessions[0].BaudRate != 115200 {
		t.Fatalf("unexpected sessions: %+v", ws.Sessions)
	}
	if len(ws.Hooks) != 1 || ws.Hooks[0].Plugin != "square" || ws.Hooks[0].Session != 1 {
		t.Fatalf("unexpected hooks: %+v", ws.Hooks)
	}
}

func TestLoadWorkspaceDefaultsBaud(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, `
[[session]]
id = 4
device = " /dev/ttyUSB1 "
`)
	ws, err := LoadWorkspace(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ws.Sessions[0].BaudRate != stimulator.DefaultBaudRate {
		t.Fatalf("unexpected baud: %d", ws.Sessions[0].BaudRate)
	}
	if ws.Sessions[0].Device != "/dev/ttyUSB1" {
		t.Fatalf("device not trimmed: %q", ws.Sessions[0].Device)
	}
}

func TestValidateWorkspaceRejects(t *testing.T) {
	testlog.Start(t)
	cases := map[string]Workspace{
		"bad baud":    {Sessions: []SessionEntry{{ID: 1, BaudRate: 12345}}},
		"dup session": {Sessions: []SessionEntry{{ID: 1}, {ID: 1}}},
		"shared device": {Sessions: []SessionEntry{
			{ID: 1, Device: "/dev/ttyACM0"},
			{ID: 2, Device: "/dev/ttyACM0"},
		}},
		"unknown session": {Hooks: []HookEntry{{ID: 1, Session: 3}}},
		"bad channel":     {Hooks: []HookEntry{{ID: 1, Channel: 4}}},
		"dup hook":        {Hooks: []HookEntry{{ID: 2}, {ID: 2}}},
		"zero hook id":    {Hooks: []HookEntry{{ID: 0}}},
	}
	for name, ws := range cases {
		if err := ValidateWorkspace(ws); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadWorkspaceParseError(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "[[session]\nid = ")
	if _, err := LoadWorkspace(path); err == nil || !strings.Contains(err.Error(), "parse") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "svc.toml")
	if err := WriteTemplate(path, "service", false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteTemplate(path, "service", false); err == nil {
		t.Fatalf("expected overwrite refusal")
	}
	if err := WriteTemplate(path, "workspace", true); err != nil {
		t.Fatalf("forced write: %v", err)
	}
	if _, err := Template("firmware"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestRestoreThenCapture(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opener := transport.NewLoopbackOpener()
	board := devsim.New(devsim.DefaultConfig())
	opener.Attach("/dev/ttyACM0", func(dev *transport.End) {
		_ = board.Serve(ctx, dev)
	})
	cfg := stimulator.DefaultConfig()
	cfg.IdentifyTimeout = 200 * time.Millisecond
	r := stimulator.NewRegistry(cfg, opener, nil)
	defer r.CloseAll()

	ws := Workspace{
		Sessions: []SessionEntry{
			{ID: 10, Device: "/dev/ttyACM0", BaudRate: 9600},
			{ID: 20},
		},
		Hooks: []HookEntry{
			{ID: 1, Session: 10, Plugin: "square", Channel: 2},
			{ID: 2, Session: 20},
			{ID: 3},
		},
	}
	recorders := map[int]*notify.Recorder{}
	ids, err := Restore(ctx, r, ws, func(id int) notify.Observer {
		recorders[id] = notify.NewRecorder(id)
		return recorders[id]
	})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if ids[10] != 1 || ids[20] != 2 {
		t.Fatalf("unexpected id map: %v", ids)
	}
	s, _ := r.Session(1)
	if s.Status() != stimulator.Connected {
		t.Fatalf("restored session must connect, got %s", s.Status())
	}
	if recorders[1].SessionID() != 1 || recorders[2].SessionID() != 2 || recorders[3].SessionID() != notify.NoSession {
		t.Fatalf("observers not switched to their sessions")
	}

	got := Capture(r)
	if len(got.Sessions) != 2 || got.Sessions[0].Device != "/dev/ttyACM0" || got.Sessions[0].BaudRate != 9600 {
		t.Fatalf("unexpected captured sessions: %+v", got.Sessions)
	}
	if len(got.Hooks) != 3 || got.Hooks[0] != (HookEntry{ID: 1, Session: 1, Plugin: "square", Channel: 2}) {
		t.Fatalf("unexpected captured hooks: %+v", got.Hooks)
	}

	path := filepath.Join(t.TempDir(), "saved.toml")
	if err := SaveWorkspace(path, got); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadWorkspace(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(loaded.Hooks) != 3 || loaded.Hooks[2].Session != 0 {
		t.Fatalf("unexpected reloaded hooks: %+v", loaded.Hooks)
	}
}

func TestRestoreReportsConnectFailures(t *testing.T) {
	testlog.Start(t)
	r := stimulator.NewRegistry(stimulator.DefaultConfig(), transport.NewLoopbackOpener(), nil)
	defer r.CloseAll()
	ws := Workspace{
		Sessions: []SessionEntry{{ID: 1, Device: "/dev/missing", BaudRate: 115200}},
		Hooks:    []HookEntry{{ID: 1, Session: 1}},
	}
	_, err := Restore(context.Background(), r, ws, func(id int) notify.Observer { return notify.NewRecorder(id) })
	if err == nil {
		t.Fatalf("expected connect failure")
	}
	if sid, ok := r.SessionOf(1); !ok || sid != 1 {
		t.Fatalf("hooks must still be bound after a connect failure")
	}
}

func TestLoadWorkspaceRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "[[session]]\nid = 1\nbaud = 9600\n")
	if _, err := LoadWorkspace(path); err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}
}

func TestRestoreRejectsBeforeOpening(t *testing.T) {
	testlog.Start(t)
	r := stimulator.NewRegistry(stimulator.DefaultConfig(), transport.NewLoopbackOpener(), nil)
	defer r.CloseAll()
	if _, err := r.CreateHook(5, notify.NewRecorder(5)); err != nil {
		t.Fatalf("create hook: %v", err)
	}
	newObserver := func(id int) notify.Observer { return notify.NewRecorder(id) }

	cases := map[string]Workspace{
		"unknown plugin": {
			Sessions: []SessionEntry{{ID: 1}},
			Hooks:    []HookEntry{{ID: 1, Session: 1, Plugin: "sawtooth"}},
		},
		"existing hook": {
			Sessions: []SessionEntry{{ID: 1}},
			Hooks:    []HookEntry{{ID: 5, Session: 1}},
		},
	}
	for name, ws := range cases {
		ids, err := Restore(context.Background(), r, ws, newObserver)
		if err == nil || ids != nil {
			t.Fatalf("%s: expected rejection, got ids=%v err=%v", name, ids, err)
		}
		if n := len(r.Sessions()); n != 0 {
			t.Fatalf("%s: rejected restore opened %d sessions", name, n)
		}
	}
	if _, err := Restore(context.Background(), r, cases["existing hook"], newObserver); !errors.Is(err, stimulator.ErrHookExists) {
		t.Fatalf("existing hook must report ErrHookExists, got %v", err)
	}
}

func TestRestoreRollsBackOnHookFailure(t *testing.T) {
	testlog.Start(t)
	r := stimulator.NewRegistry(stimulator.DefaultConfig(), transport.NewLoopbackOpener(), nil)
	defer r.CloseAll()
	ws := Workspace{
		Sessions: []SessionEntry{{ID: 1}, {ID: 2}},
		Hooks: []HookEntry{
			{ID: 1, Session: 1, Plugin: "square"},
			{ID: 2, Session: 2},
		},
	}
	ids, err := Restore(context.Background(), r, ws, func(id int) notify.Observer {
		if id == 2 {
			return notify.NewRecorder(99)
		}
		return notify.NewRecorder(id)
	})
	if !errors.Is(err, stimulator.ErrObserverMismatch) {
		t.Fatalf("expected observer mismatch, got %v", err)
	}
	if ids != nil {
		t.Fatalf("failed restore must not report ids: %v", ids)
	}
	if len(r.Sessions()) != 0 || len(r.Hooks()) != 0 {
		t.Fatalf("failed restore left sessions=%d hooks=%d", len(r.Sessions()), len(r.Hooks()))
	}
}
