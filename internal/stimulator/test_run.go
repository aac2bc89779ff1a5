package stimulator

import (
	"github.com/danmuck/cyclopsctl/internal/notify"
	"github.com/danmuck/cyclopsctl/internal/observability"
	"github.com/danmuck/cyclopsctl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

const progressEpsilon = 1e-9

// StartTest begins a timed test of channel. Input is frozen on every bound
// observer until the test completes or is cancelled. When the link is up the
// channel is started on the board; the duration is counted in poll ticks
// only.
func (s *Session) StartTest(channel int) error {
	if channel < 0 || channel >= frame.NumChannels {
		return ErrInvalidChannel
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.testing {
		return ErrTestInProgress
	}
	s.testing = true
	s.progress = 0
	s.testChannel = channel
	s.inputEnabled = false
	s.observers.Broadcast(notify.Interactivity(notify.Freeze))
	if s.port != nil {
		if f, err := frame.Start(channel); err == nil {
			_ = s.sendLocked(f)
		}
	}
	log.Info().Int("session_id", s.id).Int("channel", channel).Msg("stimulator.Session.StartTest")
	return nil
}

// CancelTest ends a running test early. It reports whether one was running.
func (s *Session) CancelTest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.testing {
		return false
	}
	s.finishTestLocked("cancelled")
	return true
}

// Progress returns the test flag and its progress in [0,1].
func (s *Session) Progress() (bool, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.testing, s.progress
}

func (s *Session) advanceTestLocked() {
	if !s.testing {
		return
	}
	s.progress += s.cfg.TestStep
	if s.progress+progressEpsilon >= 1 {
		s.finishTestLocked("completed")
	}
}

func (s *Session) finishTestLocked(outcome string) {
	channel := s.testChannel
	s.testing = false
	s.progress = 0
	s.testChannel = -1
	if s.port != nil {
		if f, err := frame.Stop(channel); err == nil {
			_ = s.sendLocked(f)
		}
	}
	observability.RecordTest(outcome)
	log.Info().Int("session_id", s.id).Int("channel", channel).Str("outcome", outcome).
		Msg("stimulator.Session test finished")
	if s.acquiring {
		return
	}
	s.inputEnabled = true
	s.observers.Broadcast(notify.Interactivity(notify.Thaw))
}

// BeginAcquisition freezes input while the host acquisition pipeline runs.
func (s *Session) BeginAcquisition() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquiring {
		return
	}
	s.acquiring = true
	s.inputEnabled = false
	s.observers.Broadcast(notify.Interactivity(notify.Freeze))
}

// EndAcquisition thaws input unless a test still holds it.
func (s *Session) EndAcquisition() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquiring {
		return
	}
	s.acquiring = false
	if s.testing {
		return
	}
	s.inputEnabled = true
	s.observers.Broadcast(notify.Interactivity(notify.Thaw))
}
