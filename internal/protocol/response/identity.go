package response

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// IdentitySize is the fixed length of the block answering IDENTIFY.
	IdentitySize = 66

	bannerLen = 51
)

// markerOffsets are the per-channel marker bytes inside the identity block.
var markerOffsets = [4]int{52, 55, 58, 61}

var (
	ErrIdentityShort   = errors.New("response: identity block too short")
	ErrIdentityMarkers = errors.New("response: identity channel markers invalid")
)

// IdentityInfo is a parsed identity block.
type IdentityInfo struct {
	Banner  string
	Markers [4]byte
	Raw     []byte
}

// ParseIdentity splits a raw identity block.
func ParseIdentity(b []byte) (IdentityInfo, error) {
	if len(b) < IdentitySize {
		return IdentityInfo{}, fmt.Errorf("%w: got %d want %d", ErrIdentityShort, len(b), IdentitySize)
	}
	raw := make([]byte, IdentitySize)
	copy(raw, b[:IdentitySize])

	info := IdentityInfo{
		Banner: strings.TrimRight(string(raw[:bannerLen]), "\x00 \r\n"),
		Raw:    raw,
	}
	for i, off := range markerOffsets {
		info.Markers[i] = raw[off]
	}
	return info, nil
}

// Validate checks the channel markers are ASCII digits. It is advisory:
// sessions log a failure and stay connected.
func (i IdentityInfo) Validate() error {
	for ch, m := range i.Markers {
		if m < '0' || m > '9' {
			return fmt.Errorf("%w: channel %d marker 0x%02x", ErrIdentityMarkers, ch, m)
		}
	}
	return nil
}

// Channels returns the marker text, e.g. "0000".
func (i IdentityInfo) Channels() string {
	return string(i.Markers[:])
}

// BuildIdentity lays out an identity block. Banner text past the banner
// field is cut.
func BuildIdentity(banner string, markers [4]byte) []byte {
	out := make([]byte, IdentitySize)
	for i := range out {
		out[i] = ' '
	}
	copy(out[:bannerLen], banner)
	for i, off := range markerOffsets {
		out[off] = markers[i]
	}
	out[IdentitySize-1] = '\n'
	return out
}
