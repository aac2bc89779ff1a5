package response

import (
	"errors"
	"testing"

	"github.com/danmuck/cyclopsctl/internal/testutil/testlog"
)

func TestDecodeKnownCodes(t *testing.T) {
	testlog.Start(t)
	known := map[byte]Code{
		0:   Launch,
		1:   End,
		8:   SingleByteDone,
		9:   Identity,
		16:  MultiByteDone,
		240: ExpectedActionFail,
		241: NotExpectedActionFail,
	}
	for b, want := range known {
		got, err := Decode(b)
		if err != nil || got != want {
			t.Fatalf("Decode(%d) = %v,%v want %v", b, got, err, want)
		}
	}
	for b := 0; b <= 0xFF; b++ {
		if _, ok := known[byte(b)]; ok {
			continue
		}
		_, err := Decode(byte(b))
		var unk *UnrecognizedError
		if !errors.As(err, &unk) || unk.Byte != byte(b) {
			t.Fatalf("Decode(%d) expected UnrecognizedError, got %v", b, err)
		}
		if !errors.Is(err, ErrUnrecognized) {
			t.Fatalf("Decode(%d) expected ErrUnrecognized", b)
		}
	}
}

func TestFaultCodes(t *testing.T) {
	testlog.Start(t)
	if !ExpectedActionFail.IsFault() || !NotExpectedActionFail.IsFault() {
		t.Fatalf("fail codes must be faults")
	}
	for _, c := range []Code{Launch, End, SingleByteDone, Identity, MultiByteDone} {
		if c.IsFault() {
			t.Fatalf("%s must not be a fault", c)
		}
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	testlog.Start(t)
	raw := BuildIdentity("Cyclops v1.2 (Teensy 3.2)", [4]byte{'1', '0', '1', '0'})
	if len(raw) != IdentitySize {
		t.Fatalf("unexpected size: %d", len(raw))
	}
	info, err := ParseIdentity(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.Banner != "Cyclops v1.2 (Teensy 3.2)" {
		t.Fatalf("unexpected banner: %q", info.Banner)
	}
	if info.Channels() != "1010" {
		t.Fatalf("unexpected markers: %q", info.Channels())
	}
	if err := info.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestIdentityShortAndAdvisoryValidation(t *testing.T) {
	testlog.Start(t)
	if _, err := ParseIdentity(make([]byte, IdentitySize-1)); !errors.Is(err, ErrIdentityShort) {
		t.Fatalf("expected ErrIdentityShort, got %v", err)
	}
	info, err := ParseIdentity(make([]byte, IdentitySize))
	if err != nil {
		t.Fatalf("zero block must still parse: %v", err)
	}
	if err := info.Validate(); !errors.Is(err, ErrIdentityMarkers) {
		t.Fatalf("expected ErrIdentityMarkers, got %v", err)
	}
}
