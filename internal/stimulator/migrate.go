package stimulator

import (
	"fmt"

	"github.com/danmuck/cyclopsctl/internal/notify"
	"github.com/danmuck/cyclopsctl/internal/observability"
	"github.com/rs/zerolog/log"
)

// Migrate moves a hook from one session to another.
//
// The hook's observer is told about the new session before the rosters
// change, then the remaining observers of both sessions get a combo-button
// update, the hook's observer takes on the destination's input state and
// both sessions are refreshed. Validation failures change nothing. Once the
// rosters start changing any failure is an *InvariantError.
func (r *Registry) Migrate(hookID, from, to int) error {
	r.mu.Lock()
	touched, err := r.migrateLocked(hookID, from, to)
	r.mu.Unlock()
	if err != nil {
		observability.RecordMigration("rejected")
		return err
	}
	observability.RecordMigration("ok")
	r.emitRefresh(touched...)
	return nil
}

func (r *Registry) migrateLocked(hookID, from, to int) ([]int, error) {
	h, ok := r.hooks[hookID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrHookNotFound, hookID)
	}
	if from == to {
		return nil, ErrSameSession
	}
	src, ok := r.sessions[from]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrSessionNotFound, from)
	}
	dst, ok := r.sessions[to]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrSessionNotFound, to)
	}
	if h.sessionID != from {
		return nil, fmt.Errorf("%w: hook=%d bound=%d stated=%d", ErrHookNotBound, hookID, h.sessionID, from)
	}

	first, second := src, dst
	if first.id > second.id {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if src.testing || dst.testing {
		return nil, fmt.Errorf("%w: from=%d to=%d", ErrSessionBusy, from, to)
	}
	if !src.observers.Has(hookID) || dst.observers.Has(hookID) {
		return nil, &InvariantError{Op: "migrate", HookID: hookID, Detail: "roster disagrees with hook binding"}
	}

	notify.Deliver(h.observer, notify.SessionChange(to))
	notify.Deliver(h.observer, notify.Buttons(notify.ComboButton, true))

	if _, ok := src.observers.Remove(hookID); !ok {
		log.Error().Int("hook_id", hookID).Int("from", from).Msg("stimulator.Registry.migrate detach failed")
		return nil, &InvariantError{Op: "migrate", HookID: hookID, Detail: "detach from source failed"}
	}
	src.observers.Broadcast(notify.Buttons(notify.ComboButton, true))
	dst.observers.Broadcast(notify.Buttons(notify.ComboButton, true))

	if !dst.observers.Add(h.observer) {
		log.Error().Int("hook_id", hookID).Int("to", to).Msg("stimulator.Registry.migrate attach failed")
		return nil, &InvariantError{Op: "migrate", HookID: hookID, Detail: "attach to destination failed"}
	}
	h.sessionID = to

	// The observer follows the input state of the session it now belongs to.
	switch {
	case src.inputEnabled && !dst.inputEnabled:
		notify.Deliver(h.observer, notify.Interactivity(notify.Freeze))
	case !src.inputEnabled && dst.inputEnabled:
		notify.Deliver(h.observer, notify.Interactivity(notify.Thaw))
	}

	log.Info().Int("hook_id", hookID).Int("from", from).Int("to", to).Msg("stimulator.Registry.Migrate")
	return []int{from, to}, nil
}

// Drop orphans a hook. Dropping an orphan is a no-op.
func (r *Registry) Drop(hookID int) error {
	r.mu.Lock()
	touched, err := r.dropLocked(hookID)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.emitRefresh(touched...)
	return nil
}

func (r *Registry) dropLocked(hookID int) ([]int, error) {
	h, ok := r.hooks[hookID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrHookNotFound, hookID)
	}
	if h.sessionID == notify.NoSession {
		return nil, nil
	}
	from := h.sessionID
	s, ok := r.sessions[from]
	if !ok {
		return nil, &InvariantError{Op: "drop", HookID: hookID, Detail: fmt.Sprintf("bound to missing session %d", from)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.observers.Remove(hookID); !ok {
		return nil, &InvariantError{Op: "drop", HookID: hookID, Detail: "not in session roster"}
	}
	h.sessionID = notify.NoSession
	notify.Deliver(h.observer, notify.Indicator(notify.TransferDrop))
	notify.Deliver(h.observer, notify.SessionChange(notify.NoSession))
	if !s.inputEnabled {
		notify.Deliver(h.observer, notify.Interactivity(notify.Thaw))
	}
	log.Info().Int("hook_id", hookID).Int("from", from).Msg("stimulator.Registry.Drop")
	return []int{from}, nil
}
