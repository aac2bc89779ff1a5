package plugins

import (
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/cyclopsctl/internal/protocol/frame"
	"github.com/danmuck/cyclopsctl/internal/testutil/testlog"
)

func TestRegisterResolveAndDuplicate(t *testing.T) {
	testlog.Start(t)
	c := NewCatalog()
	p := NewStatic(Info{Name: "ramp", Title: "Ramp"})
	if err := c.Register(p); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.Register(p); !errors.Is(err, ErrPluginExists) {
		t.Fatalf("expected ErrPluginExists, got %v", err)
	}
	got, err := c.Resolve("ramp")
	if err != nil || got.Info().Name != "ramp" {
		t.Fatalf("resolve failed: %v", err)
	}
	if _, err := c.Resolve("missing"); !errors.Is(err, ErrPluginNotFound) {
		t.Fatalf("expected ErrPluginNotFound, got %v", err)
	}
	if err := c.Register(nil); !errors.Is(err, ErrPluginNil) {
		t.Fatalf("expected ErrPluginNil, got %v", err)
	}
}

func TestValidateInfo(t *testing.T) {
	testlog.Start(t)
	bad := []Info{
		{Name: "", Title: "x"},
		{Name: "ok", Title: ""},
		{Name: "Upper", Title: "x"},
		{Name: "-lead", Title: "x"},
		{Name: "a..b", Title: "x"},
		{Name: "ok", Title: "x", Presets: []Preset{{Command: frame.Command(99)}}},
	}
	for _, info := range bad {
		if err := ValidateInfo(info); !errors.Is(err, ErrInvalidInfo) {
			t.Fatalf("expected ErrInvalidInfo for %+v, got %v", info, err)
		}
	}
}

func TestBuiltinCatalogSorted(t *testing.T) {
	testlog.Start(t)
	c := NewBuiltinCatalog()
	if got := c.Names(); !reflect.DeepEqual(got, []string{"n-shot", "square", "waveform"}) {
		t.Fatalf("unexpected names: %v", got)
	}
	list := c.List()
	if len(list) != 3 || list[0].Name != "n-shot" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestInfoFramesTargetChannel(t *testing.T) {
	testlog.Start(t)
	frames, err := Square().Info().Frames(2)
	if err != nil {
		t.Fatalf("frames: %v", err)
	}
	if len(frames) != 5 {
		t.Fatalf("unexpected frame count: %d", len(frames))
	}
	for _, f := range frames {
		h := frame.DecodeHeader(f.Header())
		if h.Class != frame.ClassMulti || h.Channel() != 2 {
			t.Fatalf("frame %x not addressed to channel 2", f.Bytes())
		}
	}
	bad := NewStatic(Info{Name: "bad", Title: "Bad", Presets: []Preset{{Command: frame.CmdStart}}})
	if _, err := bad.Info().Frames(0); !errors.Is(err, ErrInvalidInfo) {
		t.Fatalf("expected ErrInvalidInfo for single-byte preset, got %v", err)
	}
}

func TestStaticInfoIsCopied(t *testing.T) {
	testlog.Start(t)
	s := NShot(3)
	info := s.Info()
	info.Presets[0].Params.Shots = 9
	if s.Info().Presets[0].Params.Shots != 3 {
		t.Fatalf("Info must return a copy of presets")
	}
}
