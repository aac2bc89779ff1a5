package devsim

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/cyclopsctl/internal/protocol/frame"
	"github.com/danmuck/cyclopsctl/internal/protocol/response"
	"github.com/danmuck/cyclopsctl/internal/testutil/testlog"
	"github.com/danmuck/cyclopsctl/internal/transport"
)

func serve(t *testing.T, b *Board) *transport.Loopback {
	t.Helper()
	lb := transport.NewLoopback()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Serve(ctx, lb.Device) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("serve: %v", err)
		}
	})
	return lb
}

func readN(t *testing.T, lb *transport.Loopback, n int) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	buf := make([]byte, n)
	if _, err := lb.Host.ReadFull(ctx, buf); err != nil {
		t.Fatalf("read %d bytes: %v", n, err)
	}
	return buf
}

func TestIdentifyAnswersIdentityBlock(t *testing.T) {
	testlog.Start(t)
	b := New(Config{Banner: "bench board", Markers: [4]byte{'1', '0', '0', '1'}})
	lb := serve(t, b)

	id := frame.Identify()
	if _, err := lb.Host.Write(id.Bytes()); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, err := response.ParseIdentity(readN(t, lb, response.IdentitySize))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.Banner != "bench board" || info.Channels() != "1001" {
		t.Fatalf("unexpected identity: %q %q", info.Banner, info.Channels())
	}
}

func TestAcknowledgesByClassAndTracksChannels(t *testing.T) {
	testlog.Start(t)
	b := New(DefaultConfig())
	lb := serve(t, b)

	start, _ := frame.Start(1, 3)
	period, _ := frame.ChangeTimePeriod(2, 50000)
	_, _ = lb.Host.Write(start.Bytes())
	_, _ = lb.Host.Write(period.Bytes())

	got := readN(t, lb, 2)
	if got[0] != byte(response.SingleByteDone) || got[1] != byte(response.MultiByteDone) {
		t.Fatalf("unexpected acks: %v", got)
	}
	if !b.Running(1) || !b.Running(3) || b.Running(0) {
		t.Fatalf("unexpected running set")
	}
	msgs := b.Received()
	if len(msgs) != 2 || msgs[1].Params.Time != 50000 || msgs[1].Header.Channel() != 2 {
		t.Fatalf("unexpected received frames: %+v", msgs)
	}
}

func TestInjectedFaultFollowsReply(t *testing.T) {
	testlog.Start(t)
	b := New(DefaultConfig())
	lb := serve(t, b)

	b.Inject(byte(response.ExpectedActionFail))
	stop, _ := frame.Stop(0)
	_, _ = lb.Host.Write(stop.Bytes())
	got := readN(t, lb, 2)
	if got[0] != byte(response.SingleByteDone) || got[1] != byte(response.ExpectedActionFail) {
		t.Fatalf("unexpected bytes: %v", got)
	}
}

func TestMuteSuppressesIdentity(t *testing.T) {
	testlog.Start(t)
	b := New(Config{Mute: true})
	lb := serve(t, b)

	id := frame.Identify()
	_, _ = lb.Host.Write(id.Bytes())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := lb.Host.ReadFull(ctx, make([]byte, 1)); err == nil {
		t.Fatalf("muted board must not reply")
	}
	if len(b.Received()) != 1 {
		t.Fatalf("muted board must still decode frames")
	}
}
