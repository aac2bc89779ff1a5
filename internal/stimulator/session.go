// Package stimulator owns board sessions and the hooks bound to them.
//
// A Session is one serial link to a Cyclops board. It runs the identify
// handshake, drains response codes on every poll tick and times channel
// tests. The Registry holds all sessions and hooks and moves hooks between
// sessions.
//
// Locking: Registry.mu is taken before any Session.mu, and when two sessions
// are locked together the lower id is locked first. Session methods never
// take the registry lock.
package stimulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/cyclopsctl/internal/notify"
	"github.com/danmuck/cyclopsctl/internal/observability"
	"github.com/danmuck/cyclopsctl/internal/protocol/frame"
	"github.com/danmuck/cyclopsctl/internal/protocol/response"
	"github.com/danmuck/cyclopsctl/internal/transport"
	"github.com/rs/zerolog/log"
)

// Status is the connectivity summary of a session.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
	NotResponding
	// Testing is only reported by State.
	Testing
)

var statusNames = [...]string{
	Disconnected:  "disconnected",
	Connecting:    "connecting",
	Connected:     "connected",
	NotResponding: "not_responding",
	Testing:       "testing",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stats counts response codes and frames seen by a session.
type Stats struct {
	FramesSent     uint64 `json:"frames_sent"`
	Launches       uint64 `json:"launches"`
	Ends           uint64 `json:"ends"`
	SingleByteDone uint64 `json:"single_byte_done"`
	MultiByteDone  uint64 `json:"multi_byte_done"`
	Identities     uint64 `json:"identities"`
	Faults         uint64 `json:"faults"`
	Unrecognized   uint64 `json:"unrecognized"`
}

// Params are the persisted attributes of a session.
type Params struct {
	Device   string `json:"device" toml:"device"`
	BaudRate int    `json:"baudrate" toml:"baudrate"`
}

// Session is one board link.
type Session struct {
	id        int
	cfg       Config
	opener    transport.Opener
	claims    *transport.Claims
	observers *notify.Roster

	mu           sync.Mutex
	device       string
	baud         int
	status       Status
	port         transport.Port
	rx           []byte
	identity     *response.IdentityInfo
	inputEnabled bool
	acquiring    bool
	testing      bool
	progress     float64
	testChannel  int
	stats        Stats
	lastErr      error
	closed       bool
	attempts     int
	retryAt      time.Time
}

// NewSession builds a disconnected session. claims may be shared between
// sessions to keep device paths exclusive.
func NewSession(id int, cfg Config, opener transport.Opener, claims *transport.Claims) *Session {
	if claims == nil {
		claims = transport.NewClaims()
	}
	return &Session{
		id:           id,
		cfg:          cfg.WithDefaults(),
		opener:       opener,
		claims:       claims,
		observers:    notify.NewRoster(),
		baud:         DefaultBaudRate,
		status:       Disconnected,
		inputEnabled: true,
		testChannel:  -1,
	}
}

func (s *Session) ID() int {
	return s.id
}

// Status returns the connectivity status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// State is Status, or Testing while a test runs.
func (s *Session) State() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.testing {
		return Testing
	}
	return s.status
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// SetDevice points the session at path and runs the identify handshake.
// An empty path releases the port.
func (s *Session) SetDevice(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.testing {
		return ErrTestInProgress
	}
	s.releaseLocked()
	s.device = path
	var err error
	if path != "" {
		err = s.connectLocked(ctx)
	}
	s.observers.Broadcast(notify.Indicator(notify.SerialLED))
	return err
}

// SetBaudRate changes the link speed, reconnecting when a device is set.
func (s *Session) SetBaudRate(ctx context.Context, baud int) error {
	if !ValidBaud(baud) {
		return fmt.Errorf("%w: %d", ErrUnsupportedBaud, baud)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if baud == s.baud {
		return nil
	}
	if s.testing {
		return ErrTestInProgress
	}
	s.baud = baud
	if s.device == "" {
		return nil
	}
	s.releaseLocked()
	err := s.connectLocked(ctx)
	s.observers.Broadcast(notify.Indicator(notify.SerialLED))
	return err
}

// Reconnect reruns the handshake on the current device. It is the way out of
// NotResponding.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.device == "" {
		return ErrNotConnected
	}
	if s.testing {
		return ErrTestInProgress
	}
	s.releaseLocked()
	err := s.connectLocked(ctx)
	s.observers.Broadcast(notify.Indicator(notify.SerialLED))
	return err
}

// Params returns the persisted device path and baud rate.
func (s *Session) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Params{Device: s.device, BaudRate: s.baud}
}

// ApplyParams sets baud rate and device together with a single handshake.
// A zero BaudRate keeps the current rate.
func (s *Session) ApplyParams(ctx context.Context, p Params) error {
	if p.BaudRate != 0 && !ValidBaud(p.BaudRate) {
		return fmt.Errorf("%w: %d", ErrUnsupportedBaud, p.BaudRate)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.testing {
		return ErrTestInProgress
	}
	if p.BaudRate == 0 {
		p.BaudRate = s.baud
	}
	if p.Device == s.device && p.BaudRate == s.baud && s.port != nil {
		return nil
	}
	s.releaseLocked()
	s.device, s.baud = p.Device, p.BaudRate
	var err error
	if s.device != "" {
		err = s.connectLocked(ctx)
	}
	s.observers.Broadcast(notify.Indicator(notify.SerialLED))
	return err
}

func (s *Session) connectLocked(ctx context.Context) error {
	if err := s.claims.Claim(s.device, s.id); err != nil {
		s.failLocked(err)
		return err
	}
	s.status = Connecting
	start := time.Now()

	port, err := s.opener.Open(s.device, s.baud)
	if err != nil {
		s.failLocked(err)
		observability.RecordHandshake(time.Since(start), false)
		return fmt.Errorf("%w: open %s: %w", ErrLinkFailed, s.device, err)
	}
	s.port = port

	id := frame.Identify()
	if _, err := port.Write(id.Bytes()); err != nil {
		s.failLocked(err)
		observability.RecordHandshake(time.Since(start), false)
		return fmt.Errorf("%w: identify write: %v", ErrLinkFailed, err)
	}

	hctx, cancel := context.WithTimeout(ctx, s.cfg.IdentifyTimeout)
	defer cancel()
	buf := make([]byte, response.IdentitySize)
	if n, err := port.ReadFull(hctx, buf); err != nil {
		observability.RecordHandshake(time.Since(start), false)
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: got %d of %d bytes", ErrIdentifyTimeout, n, response.IdentitySize)
			s.failLocked(err)
			return err
		}
		s.failLocked(err)
		return fmt.Errorf("%w: identify read: %v", ErrLinkFailed, err)
	}

	info, err := response.ParseIdentity(buf)
	if err != nil {
		s.failLocked(err)
		return err
	}
	if verr := info.Validate(); verr != nil {
		log.Warn().Int("session_id", s.id).Str("device", s.device).Err(verr).
			Msg("stimulator.Session.connect identity advisory")
	}
	s.identity = &info
	s.status = Connected
	s.lastErr = nil
	s.attempts = 0
	s.retryAt = time.Time{}
	observability.RecordHandshake(time.Since(start), true)
	log.Info().
		Int("session_id", s.id).
		Str("device", s.device).
		Int("baud", s.baud).
		Str("banner", info.Banner).
		Str("channels", info.Channels()).
		Msg("stimulator.Session.connect ok")
	return nil
}

// failLocked drops the link after a transport or handshake failure.
func (s *Session) failLocked(err error) {
	if s.port != nil {
		_ = s.port.Close()
		s.port = nil
	}
	s.claims.Release(s.device, s.id)
	s.status = Disconnected
	s.identity = nil
	s.lastErr = err
	log.Warn().Int("session_id", s.id).Str("device", s.device).Err(err).
		Msg("stimulator.Session link down")
	if s.cfg.Reconnect.Enabled && s.device != "" && !s.closed {
		s.attempts++
		s.retryAt = s.cfg.Now().Add(nextBackoffDelay(s.cfg.Reconnect, s.attempts))
	}
}

// releaseLocked closes the port on request.
func (s *Session) releaseLocked() {
	if s.port != nil {
		_ = s.port.Close()
		s.port = nil
	}
	if s.device != "" {
		s.claims.Release(s.device, s.id)
	}
	s.status = Disconnected
	s.identity = nil
	s.attempts = 0
	s.retryAt = time.Time{}
}

func (s *Session) maybeReconnectLocked() {
	if !s.cfg.Reconnect.Enabled || s.device == "" || s.retryAt.IsZero() {
		return
	}
	if s.cfg.Now().Before(s.retryAt) {
		return
	}
	log.Debug().Int("session_id", s.id).Int("attempt", s.attempts).Msg("stimulator.Session.reconnect")
	if err := s.connectLocked(context.Background()); err == nil {
		s.observers.Broadcast(notify.Indicator(notify.SerialLED))
	}
}

// Poll runs one tick: it advances a running test and drains every buffered
// response byte.
func (s *Session) Poll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.advanceTestLocked()
	if s.port == nil {
		s.maybeReconnectLocked()
		return
	}
	for {
		n, err := s.port.Available()
		if err != nil {
			s.linkLostLocked(err)
			return
		}
		if n == 0 {
			return
		}
		if cap(s.rx) < n {
			s.rx = make([]byte, n)
		}
		got, err := s.port.Read(s.rx[:n])
		for _, b := range s.rx[:got] {
			s.dispatchLocked(b)
		}
		if err != nil {
			s.linkLostLocked(err)
			return
		}
	}
}

func (s *Session) dispatchLocked(b byte) {
	code, err := response.Decode(b)
	if err != nil {
		s.stats.Unrecognized++
		observability.RecordUnrecognized()
		log.Warn().Int("session_id", s.id).Uint8("byte", b).Msg("stimulator.Session.poll unrecognized response")
		return
	}
	observability.RecordResponse(code.String())
	switch code {
	case response.Launch:
		s.stats.Launches++
	case response.End:
		s.stats.Ends++
	case response.SingleByteDone:
		s.stats.SingleByteDone++
	case response.MultiByteDone:
		s.stats.MultiByteDone++
	case response.Identity:
		s.stats.Identities++
	case response.ExpectedActionFail, response.NotExpectedActionFail:
		s.stats.Faults++
		if s.status == NotResponding {
			return
		}
		s.status = NotResponding
		observability.RecordDeviceFault(s.id)
		log.Warn().Int("session_id", s.id).Str("code", code.String()).Msg("stimulator.Session.poll device fault")
		s.observers.Broadcast(notify.Indicator(notify.DeviceFault))
	}
}

func (s *Session) linkLostLocked(err error) {
	s.failLocked(err)
	s.observers.Broadcast(notify.Indicator(notify.SerialLED))
}

// Send writes f to the board.
func (s *Session) Send(f frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(f)
}

func (s *Session) sendLocked(f frame.Frame) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.port == nil || (s.status != Connected && s.status != NotResponding) {
		return ErrNotConnected
	}
	if _, err := s.port.Write(f.Bytes()); err != nil {
		s.linkLostLocked(err)
		return fmt.Errorf("%w: write: %v", ErrLinkFailed, err)
	}
	s.stats.FramesSent++
	if cmd, ok := f.Command(); ok {
		observability.RecordFrameSent(cmd.String())
	}
	return nil
}

// Configure encodes cmd for channel and sends it.
func (s *Session) Configure(channel int, cmd frame.Command, p frame.Params) error {
	f, err := frame.Encode(cmd, []int{channel}, p)
	if err != nil {
		return err
	}
	return s.Send(f)
}

// Run polls on every tick until ctx ends or tick closes.
func (s *Session) Run(ctx context.Context, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-tick:
			if !ok {
				return nil
			}
			s.Poll()
		}
	}
}

// Close cancels a running test and releases the port.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.testing {
		s.finishTestLocked("cancelled")
	}
	s.releaseLocked()
	s.closed = true
	log.Info().Int("session_id", s.id).Msg("stimulator.Session.Close")
	return nil
}

// IdentityView is the printable part of an identity block.
type IdentityView struct {
	Banner   string `json:"banner"`
	Channels string `json:"channels"`
	Valid    bool   `json:"valid"`
}

// Snapshot is a read-only copy of session state.
type Snapshot struct {
	ID           int           `json:"id"`
	Device       string        `json:"device"`
	BaudRate     int           `json:"baudrate"`
	Status       Status        `json:"status"`
	State        Status        `json:"state"`
	InputEnabled bool          `json:"input_enabled"`
	Acquiring    bool          `json:"acquiring"`
	Testing      bool          `json:"testing"`
	Progress     float64       `json:"progress"`
	TestChannel  int           `json:"test_channel"`
	Hooks        []int         `json:"hooks"`
	Identity     *IdentityView `json:"identity,omitempty"`
	Stats        Stats         `json:"stats"`
	LastError    string        `json:"last_error,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:           s.id,
		Device:       s.device,
		BaudRate:     s.baud,
		Status:       s.status,
		State:        s.status,
		InputEnabled: s.inputEnabled,
		Acquiring:    s.acquiring,
		Testing:      s.testing,
		Progress:     s.progress,
		TestChannel:  s.testChannel,
		Hooks:        s.observers.IDs(),
		Stats:        s.stats,
	}
	if s.testing {
		snap.State = Testing
	}
	if s.identity != nil {
		snap.Identity = &IdentityView{
			Banner:   s.identity.Banner,
			Channels: s.identity.Channels(),
			Valid:    s.identity.Validate() == nil,
		}
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}
