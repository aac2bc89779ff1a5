package stimulator

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/danmuck/cyclopsctl/internal/devsim"
	"github.com/danmuck/cyclopsctl/internal/notify"
	"github.com/danmuck/cyclopsctl/internal/protocol/frame"
	"github.com/danmuck/cyclopsctl/internal/protocol/response"
	"github.com/danmuck/cyclopsctl/internal/testutil/testlog"
	"github.com/danmuck/cyclopsctl/internal/transport"
)

func TestSetDeviceRunsIdentifyHandshake(t *testing.T) {
	testlog.Start(t)
	b := newBench(t)
	b.attach("/dev/ttyACM0", devsim.Config{Banner: "bench", Markers: [4]byte{'1', '1', '0', '0'}})
	s := b.session(1)
	rec := watch(s, 10)

	if err := s.SetDevice(context.Background(), "/dev/ttyACM0"); err != nil {
		t.Fatalf("set device: %v", err)
	}
	snap := s.Snapshot()
	if snap.Status != Connected || snap.State != Connected {
		t.Fatalf("unexpected status: %s", snap.Status)
	}
	if snap.Identity == nil || snap.Identity.Banner != "bench" || snap.Identity.Channels != "1100" {
		t.Fatalf("unexpected identity: %+v", snap.Identity)
	}
	if rec.Count(notify.KindIndicator, notify.SerialLED) != 1 {
		t.Fatalf("expected one serial indicator update")
	}
	msgs := b.boards["/dev/ttyACM0"].Received()
	if len(msgs) != 1 || msgs[0].Command != frame.CmdIdentify {
		t.Fatalf("board should see exactly IDENTIFY, got %+v", msgs)
	}
}

func TestIdentifyTimeoutDisconnects(t *testing.T) {
	testlog.Start(t)
	b := newBench(t)
	b.attach("/dev/ttyACM0", devsim.Config{Mute: true})
	s := b.session(1)

	err := s.SetDevice(context.Background(), "/dev/ttyACM0")
	if !errors.Is(err, ErrIdentifyTimeout) {
		t.Fatalf("expected ErrIdentifyTimeout, got %v", err)
	}
	if s.Status() != Disconnected {
		t.Fatalf("expected disconnected, got %s", s.Status())
	}
	if s.Snapshot().LastError == "" {
		t.Fatalf("timeout must be recorded")
	}

	other := NewSession(2, testConfig(), b.opener, s.claims)
	b.boards["/dev/ttyACM0"].SetMute(false)
	if err := other.SetDevice(context.Background(), "/dev/ttyACM0"); err != nil {
		t.Fatalf("port must be released after timeout: %v", err)
	}
}

func TestUnknownDeviceDisconnects(t *testing.T) {
	testlog.Start(t)
	b := newBench(t)
	s := b.session(1)
	err := s.SetDevice(context.Background(), "/dev/ttyUSB7")
	if !errors.Is(err, ErrLinkFailed) || !errors.Is(err, transport.ErrNoDevice) {
		t.Fatalf("expected link failure wrapping ErrNoDevice, got %v", err)
	}
	if s.Status() != Disconnected {
		t.Fatalf("expected disconnected")
	}
}

func TestPortOwnershipIsExclusive(t *testing.T) {
	testlog.Start(t)
	b := newBench(t)
	b.attach("/dev/ttyACM0", devsim.DefaultConfig())
	claims := transport.NewClaims()
	a := NewSession(1, testConfig(), b.opener, claims)
	c := NewSession(2, testConfig(), b.opener, claims)

	if err := a.SetDevice(context.Background(), "/dev/ttyACM0"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := c.SetDevice(context.Background(), "/dev/ttyACM0"); !errors.Is(err, transport.ErrPortInUse) {
		t.Fatalf("expected ErrPortInUse, got %v", err)
	}
	if a.Status() != Connected || c.Status() != Disconnected {
		t.Fatalf("takeover must not happen: a=%s c=%s", a.Status(), c.Status())
	}
	if err := a.SetDevice(context.Background(), ""); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := c.SetDevice(context.Background(), "/dev/ttyACM0"); err != nil {
		t.Fatalf("claim after release: %v", err)
	}
}

func TestSetBaudRate(t *testing.T) {
	testlog.Start(t)
	b := newBench(t)
	b.attach("/dev/ttyACM0", devsim.DefaultConfig())
	s := b.session(1)

	if err := s.SetBaudRate(context.Background(), 12345); !errors.Is(err, ErrUnsupportedBaud) {
		t.Fatalf("expected ErrUnsupportedBaud, got %v", err)
	}
	if err := s.SetBaudRate(context.Background(), 9600); err != nil {
		t.Fatalf("set baud without device: %v", err)
	}
	if b.opener.Opens("/dev/ttyACM0") != 0 {
		t.Fatalf("no device set, nothing should open")
	}
	if err := s.SetDevice(context.Background(), "/dev/ttyACM0"); err != nil {
		t.Fatalf("set device: %v", err)
	}
	if err := s.SetBaudRate(context.Background(), 9600); err != nil {
		t.Fatalf("same baud: %v", err)
	}
	if b.opener.Opens("/dev/ttyACM0") != 1 {
		t.Fatalf("same baud must be a no-op")
	}
	if err := s.SetBaudRate(context.Background(), 230400); err != nil {
		t.Fatalf("change baud: %v", err)
	}
	if b.opener.Opens("/dev/ttyACM0") != 2 || s.Status() != Connected {
		t.Fatalf("baud change must rerun the handshake")
	}
	if p := s.Params(); p.BaudRate != 230400 || p.Device != "/dev/ttyACM0" {
		t.Fatalf("unexpected params: %+v", p)
	}
}

func TestPollFaultTransitionsOnce(t *testing.T) {
	testlog.Start(t)
	b := newBench(t)
	board := b.attach("/dev/ttyACM0", devsim.DefaultConfig())
	s := b.session(1)
	rec := watch(s, 10)
	if err := s.SetDevice(context.Background(), "/dev/ttyACM0"); err != nil {
		t.Fatalf("set device: %v", err)
	}

	if !board.Emit(byte(response.SingleByteDone), byte(response.ExpectedActionFail)) {
		t.Fatalf("board not serving")
	}
	waitBuffered(t, s, 2)
	s.Poll()

	if s.Status() != NotResponding {
		t.Fatalf("expected not responding, got %s", s.Status())
	}
	if got := rec.Count(notify.KindIndicator, notify.DeviceFault); got != 1 {
		t.Fatalf("expected exactly one device fault notification, got %d", got)
	}
	st := s.Stats()
	if st.SingleByteDone != 1 || st.Faults != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}

	board.Emit(byte(response.NotExpectedActionFail))
	waitBuffered(t, s, 1)
	s.Poll()
	if got := rec.Count(notify.KindIndicator, notify.DeviceFault); got != 1 {
		t.Fatalf("repeat fault must not notify again, got %d", got)
	}

	if err := s.Reconnect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if s.Status() != Connected {
		t.Fatalf("explicit reconnect must clear the fault")
	}
}

func TestPollDiscardsUnrecognizedBytes(t *testing.T) {
	testlog.Start(t)
	b := newBench(t)
	board := b.attach("/dev/ttyACM0", devsim.DefaultConfig())
	s := b.session(1)
	rec := watch(s, 10)
	_ = s.SetDevice(context.Background(), "/dev/ttyACM0")
	rec.Reset()

	board.Emit(0x55, byte(response.Launch), 0x77, byte(response.End))
	waitBuffered(t, s, 4)
	s.Poll()

	st := s.Stats()
	if st.Unrecognized != 2 || st.Launches != 1 || st.Ends != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if s.Status() != Connected || len(rec.Received()) != 0 {
		t.Fatalf("bookkeeping codes must not be externally visible")
	}
	if n, _ := s.port.Available(); n != 0 {
		t.Fatalf("poll must drain everything, %d left", n)
	}
}

func TestSendRoundTripAndNotConnected(t *testing.T) {
	testlog.Start(t)
	b := newBench(t)
	b.attach("/dev/ttyACM0", devsim.DefaultConfig())
	s := b.session(1)

	f, _ := frame.Start(0)
	if err := s.Send(f); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	_ = s.SetDevice(context.Background(), "/dev/ttyACM0")
	if err := s.Configure(3, frame.CmdSquareOnLevel, frame.Params{Level: 2048}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := s.Configure(4, frame.CmdSquareOnLevel, frame.Params{}); !errors.Is(err, frame.ErrInvalidChannel) {
		t.Fatalf("expected encoding error, got %v", err)
	}
	waitBuffered(t, s, 1)
	s.Poll()
	if st := s.Stats(); st.FramesSent != 1 || st.MultiByteDone != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	msgs := b.boards["/dev/ttyACM0"].Received()
	last := msgs[len(msgs)-1]
	if last.Command != frame.CmdSquareOnLevel || last.Params.Level != 2048 || last.Header.Channel() != 3 {
		t.Fatalf("unexpected frame at board: %+v", last)
	}
}

func TestLinkLossDisconnects(t *testing.T) {
	testlog.Start(t)
	b := newBench(t)
	b.attach("/dev/ttyACM0", devsim.DefaultConfig())
	s := b.session(1)
	rec := watch(s, 10)
	_ = s.SetDevice(context.Background(), "/dev/ttyACM0")
	rec.Reset()

	s.mu.Lock()
	port := s.port.(*transport.End)
	s.mu.Unlock()
	// closing either end closes the link
	_ = port.Close()

	s.Poll()
	if s.Status() != Disconnected {
		t.Fatalf("expected disconnected after link loss, got %s", s.Status())
	}
	if rec.Count(notify.KindIndicator, notify.SerialLED) != 1 {
		t.Fatalf("link loss must update the serial indicator")
	}
	if s.Params().Device != "/dev/ttyACM0" {
		t.Fatalf("device path must survive link loss")
	}
}

func TestStartTestRejectsReentry(t *testing.T) {
	testlog.Start(t)
	b := newBench(t)
	s := b.session(1)
	rec := watch(s, 10)

	if err := s.StartTest(4); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("expected ErrInvalidChannel, got %v", err)
	}
	if err := s.StartTest(1); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 10; i++ {
		s.Poll()
	}
	if err := s.StartTest(2); !errors.Is(err, ErrTestInProgress) {
		t.Fatalf("expected ErrTestInProgress, got %v", err)
	}
	running, progress := s.Progress()
	if !running || math.Abs(progress-0.10) > 1e-9 {
		t.Fatalf("running test altered: testing=%v progress=%v", running, progress)
	}
	snap := s.Snapshot()
	if snap.TestChannel != 1 || snap.State != Testing || snap.InputEnabled {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if rec.Count(notify.KindInteractivity, notify.Freeze) != 1 {
		t.Fatalf("rejected start must not broadcast")
	}
}

func TestTestCompletesOnTicks(t *testing.T) {
	testlog.Start(t)
	b := newBench(t)
	cfg := testConfig()
	cfg.TestStep = 0.25
	s := NewSession(1, cfg, b.opener, nil)
	rec := watch(s, 10)

	tick := make(chan time.Time)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, tick) }()

	if err := s.StartTest(0); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		tick <- time.Time{}
	}
	if running, _ := s.Progress(); !running {
		t.Fatalf("test must still run after 3 of 4 ticks")
	}
	tick <- time.Time{}
	waitFor(t, "test completion", func() bool {
		running, _ := s.Progress()
		return !running
	})
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	snap := s.Snapshot()
	if !snap.InputEnabled || snap.Testing || snap.Progress != 0 {
		t.Fatalf("unexpected snapshot after completion: %+v", snap)
	}
	if rec.Count(notify.KindInteractivity, notify.Thaw) != 1 {
		t.Fatalf("expected one thaw")
	}
}

func TestTestDrivesBoardChannel(t *testing.T) {
	testlog.Start(t)
	b := newBench(t)
	board := b.attach("/dev/ttyACM0", devsim.DefaultConfig())
	cfg := testConfig()
	cfg.TestStep = 0.5
	s := NewSession(1, cfg, b.opener, nil)
	_ = s.SetDevice(context.Background(), "/dev/ttyACM0")

	_ = s.StartTest(2)
	waitFor(t, "channel start", func() bool { return board.Running(2) })
	s.Poll()
	s.Poll()
	waitFor(t, "channel stop", func() bool { return !board.Running(2) })
	if s.Status() != Connected {
		t.Fatalf("acks during a test must not change status")
	}
}

func TestCloseCancelsRunningTest(t *testing.T) {
	testlog.Start(t)
	b := newBench(t)
	b.attach("/dev/ttyACM0", devsim.DefaultConfig())
	s := b.session(1)
	rec := watch(s, 10)
	_ = s.SetDevice(context.Background(), "/dev/ttyACM0")
	_ = s.StartTest(0)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !rec.Interactive() {
		t.Fatalf("close must restore input before releasing the port")
	}
	received := rec.Received()
	if last := received[len(received)-1]; last.Kind != notify.KindInteractivity || last.Event != notify.Thaw {
		t.Fatalf("expected thaw as last notification, got %+v", last)
	}
	if s.Status() != Disconnected {
		t.Fatalf("close must release the port")
	}
	if err := s.StartTest(0); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if s.CancelTest() {
		t.Fatalf("no test should be running")
	}
}

func TestAcquisitionHoldsInputAcrossTest(t *testing.T) {
	testlog.Start(t)
	b := newBench(t)
	cfg := testConfig()
	cfg.TestStep = 1
	s := NewSession(1, cfg, b.opener, nil)
	rec := watch(s, 10)

	s.BeginAcquisition()
	_ = s.StartTest(0)
	s.Poll()
	if s.Snapshot().InputEnabled || rec.Interactive() {
		t.Fatalf("acquisition must keep input frozen after the test")
	}
	s.EndAcquisition()
	if !s.Snapshot().InputEnabled || !rec.Interactive() {
		t.Fatalf("ending acquisition must thaw")
	}
}

func TestReconnectBackoff(t *testing.T) {
	testlog.Start(t)
	b := newBench(t)
	board := b.attach("/dev/ttyACM0", devsim.Config{Mute: true})
	now := time.Unix(1000, 0)
	cfg := testConfig()
	cfg.IdentifyTimeout = 20 * time.Millisecond
	cfg.Reconnect = BackoffConfig{Enabled: true, InitialDelay: time.Second, Multiplier: 2, MaxDelay: 10 * time.Second}
	cfg.Now = func() time.Time { return now }
	s := NewSession(1, cfg, b.opener, nil)

	if err := s.SetDevice(context.Background(), "/dev/ttyACM0"); err == nil {
		t.Fatalf("muted board must fail the handshake")
	}
	s.Poll()
	if b.opener.Opens("/dev/ttyACM0") != 1 {
		t.Fatalf("retry must wait for the backoff delay")
	}
	board.SetMute(false)
	now = now.Add(time.Second)
	s.Poll()
	if s.Status() != Connected || b.opener.Opens("/dev/ttyACM0") != 2 {
		t.Fatalf("expected reconnect after delay, status=%s", s.Status())
	}
}

func TestNextBackoffDelay(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second}
	for i, w := range want {
		if got := nextBackoffDelay(cfg, i+1); got != w {
			t.Fatalf("attempt %d: got %v want %v", i+1, got, w)
		}
	}
}

func TestValidBaud(t *testing.T) {
	testlog.Start(t)
	for _, baud := range SupportedBaudRates {
		if !ValidBaud(baud) {
			t.Fatalf("%d must be valid", baud)
		}
	}
	for _, baud := range []int{0, 110, 250000, -1} {
		if ValidBaud(baud) {
			t.Fatalf("%d must be invalid", baud)
		}
	}
}
