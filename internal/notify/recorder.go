package notify

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Recorder is a headless Observer. It keeps the state an editor would show
// and the ordered list of notifications it received.
type Recorder struct {
	id int

	mu          sync.RWMutex
	received    []Notification
	interactive bool
	sessionID   int
	indicator   Event
	buttons     map[Event]bool
	logged      bool
}

var _ Observer = (*Recorder)(nil)

func NewRecorder(hookID int) *Recorder {
	return &Recorder{
		id:          hookID,
		interactive: true,
		indicator:   -1,
		buttons:     make(map[Event]bool),
	}
}

// WithLogging makes the recorder log every notification at debug level.
func (r *Recorder) WithLogging() *Recorder {
	r.mu.Lock()
	r.logged = true
	r.mu.Unlock()
	return r
}

func (r *Recorder) HookID() int {
	return r.id
}

func (r *Recorder) UpdateIndicators(ev Event) {
	r.record(Indicator(ev), func() { r.indicator = ev })
}

func (r *Recorder) SetInteractivity(ev Event) {
	r.record(Interactivity(ev), func() {
		switch ev {
		case Freeze:
			r.interactive = false
		case Thaw:
			r.interactive = true
		}
	})
}

func (r *Recorder) ChangeSession(sessionID int) {
	r.record(SessionChange(sessionID), func() { r.sessionID = sessionID })
}

func (r *Recorder) UpdateButtons(ev Event, enabled bool) {
	r.record(Buttons(ev, enabled), func() { r.buttons[ev] = enabled })
}

func (r *Recorder) RefreshPluginInfo() {
	r.record(PluginInfo(), nil)
}

func (r *Recorder) record(n Notification, apply func()) {
	r.mu.Lock()
	r.received = append(r.received, n)
	if apply != nil {
		apply()
	}
	logged := r.logged
	r.mu.Unlock()
	if logged {
		log.Debug().
			Int("hook_id", r.id).
			Int("kind", int(n.Kind)).
			Str("event", n.Event.String()).
			Int("session_id", n.SessionID).
			Msg("notify.Recorder received")
	}
}

// Received returns a copy of every notification in arrival order.
func (r *Recorder) Received() []Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Notification, len(r.received))
	copy(out, r.received)
	return out
}

// Count returns how many received notifications match kind and event.
func (r *Recorder) Count(kind Kind, ev Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, got := range r.received {
		if got.Kind == kind && got.Event == ev {
			n++
		}
	}
	return n
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = nil
}

// Interactive reports whether input is enabled for this hook's editor.
func (r *Recorder) Interactive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.interactive
}

// SessionID is the last session the observer was switched to.
func (r *Recorder) SessionID() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionID
}

// Indicator is the last indicator event, -1 before any.
func (r *Recorder) Indicator() Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.indicator
}

func (r *Recorder) ButtonEnabled(ev Event) (bool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.buttons[ev]
	return v, ok
}
