// Package devsim simulates a Cyclops board on the far end of a byte stream.
package devsim

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/danmuck/cyclopsctl/internal/protocol/frame"
	"github.com/danmuck/cyclopsctl/internal/protocol/response"
	"github.com/danmuck/cyclopsctl/internal/transport"
	"github.com/rs/zerolog/log"
)

const DefaultBanner = "Cyclops v1.2 simulator (4 LED channels)"

// Config shapes the simulated board.
type Config struct {
	Banner string
	// Markers are the per-channel identity markers, '1' for a populated LED.
	Markers [4]byte
	// Silent suppresses acknowledgements. IDENTIFY is still answered.
	Silent bool
	// Mute suppresses every reply, IDENTIFY included.
	Mute bool
}

func DefaultConfig() Config {
	return Config{Banner: DefaultBanner, Markers: [4]byte{'1', '1', '1', '1'}}
}

// Board answers host frames: IDENTIFY with an identity block, single-byte
// commands with SINGLE_BYTE_DONE and multi-byte commands with
// MULTI_BYTE_DONE.
type Board struct {
	mu       sync.Mutex
	cfg      Config
	received []frame.Message
	pending  []byte
	running  [frame.NumChannels]bool
	w        io.Writer
}

func New(cfg Config) *Board {
	if cfg.Banner == "" {
		cfg.Banner = DefaultBanner
	}
	return &Board{cfg: cfg}
}

// Serve reads frames from rw until ctx ends or the stream closes.
// A clean end of stream returns nil.
func (b *Board) Serve(ctx context.Context, rw io.ReadWriter) error {
	b.mu.Lock()
	b.w = rw
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.w = nil
		b.mu.Unlock()
	}()
	if c, ok := rw.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}
	for {
		msg, err := frame.ReadFrame(rw)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, frame.ErrTruncated) || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			if errors.Is(err, frame.ErrUnknownCommand) {
				log.Warn().Err(err).Msg("devsim.Board.Serve unknown frame")
				continue
			}
			return err
		}
		if err := b.handle(rw, msg); err != nil {
			return err
		}
	}
}

func (b *Board) handle(w io.Writer, msg frame.Message) error {
	b.mu.Lock()
	b.received = append(b.received, msg)
	reply := b.replyLocked(msg)
	reply = append(reply, b.pending...)
	b.pending = nil
	b.mu.Unlock()

	log.Debug().Str("command", msg.Command.String()).Int("reply_len", len(reply)).Msg("devsim.Board.handle")
	if len(reply) == 0 {
		return nil
	}
	_, err := w.Write(reply)
	return err
}

func (b *Board) replyLocked(msg frame.Message) []byte {
	if b.cfg.Mute {
		return nil
	}
	switch msg.Command {
	case frame.CmdIdentify:
		return response.BuildIdentity(b.cfg.Banner, b.cfg.Markers)
	case frame.CmdStart:
		for _, ch := range msg.Header.Mask().Channels() {
			b.running[ch] = true
		}
	case frame.CmdStop, frame.CmdReset:
		for _, ch := range msg.Header.Mask().Channels() {
			b.running[ch] = false
		}
	case frame.CmdSwap:
		chs := msg.Header.Mask().Channels()
		if len(chs) == 2 {
			b.running[chs[0]], b.running[chs[1]] = b.running[chs[1]], b.running[chs[0]]
		}
	}
	if b.cfg.Silent {
		return nil
	}
	if msg.Command.Class() == frame.ClassSingle {
		return []byte{byte(response.SingleByteDone)}
	}
	return []byte{byte(response.MultiByteDone)}
}

// Inject queues raw response bytes to send after the next reply.
func (b *Board) Inject(codes ...byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, codes...)
}

// Emit writes raw bytes to the host now. It reports false when no host is
// being served.
func (b *Board) Emit(codes ...byte) bool {
	b.mu.Lock()
	w := b.w
	b.mu.Unlock()
	if w == nil {
		return false
	}
	_, err := w.Write(codes)
	return err == nil
}

// SetMute toggles every reply.
func (b *Board) SetMute(mute bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.Mute = mute
}

// Received returns a copy of every decoded frame in arrival order.
func (b *Board) Received() []frame.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]frame.Message, len(b.received))
	copy(out, b.received)
	return out
}

// Running reports whether a channel was last started.
func (b *Board) Running(channel int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if channel < 0 || channel >= frame.NumChannels {
		return false
	}
	return b.running[channel]
}
