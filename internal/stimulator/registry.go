package stimulator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/cyclopsctl/internal/notify"
	"github.com/danmuck/cyclopsctl/internal/observability"
	"github.com/danmuck/cyclopsctl/internal/plugins"
	"github.com/danmuck/cyclopsctl/internal/protocol/frame"
	"github.com/danmuck/cyclopsctl/internal/transport"
	"github.com/rs/zerolog/log"
)

// Registry owns every session and hook.
//
// A hook id maps to one Hook. A bound hook's session id names a session in
// the registry whose observer roster holds the hook's observer, and no
// other roster holds it.
type Registry struct {
	cfg     Config
	opener  transport.Opener
	claims  *transport.Claims
	catalog *plugins.Catalog

	mu       sync.RWMutex
	sessions map[int]*Session
	hooks    map[int]*Hook
	nextID   int

	refreshMu sync.RWMutex
	refresh   []func(sessionID int)
}

func NewRegistry(cfg Config, opener transport.Opener, catalog *plugins.Catalog) *Registry {
	if catalog == nil {
		catalog = plugins.NewBuiltinCatalog()
	}
	return &Registry{
		cfg:      cfg.WithDefaults(),
		opener:   opener,
		claims:   transport.NewClaims(),
		catalog:  catalog,
		sessions: make(map[int]*Session),
		hooks:    make(map[int]*Hook),
	}
}

func (r *Registry) Catalog() *plugins.Catalog {
	return r.catalog
}

func (r *Registry) Opener() transport.Opener {
	return r.opener
}

// OnRefresh subscribes fn to display refresh signals.
func (r *Registry) OnRefresh(fn func(sessionID int)) {
	if fn == nil {
		return
	}
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()
	r.refresh = append(r.refresh, fn)
}

// emitRefresh runs subscribers with no registry or session lock held.
func (r *Registry) emitRefresh(ids ...int) {
	r.refreshMu.RLock()
	subs := append([]func(int){}, r.refresh...)
	r.refreshMu.RUnlock()
	for _, id := range ids {
		for _, fn := range subs {
			fn(id)
		}
	}
}

// OpenSession creates a disconnected session with the next id.
func (r *Registry) OpenSession() *Session {
	r.mu.Lock()
	r.nextID++
	s := NewSession(r.nextID, r.cfg, r.opener, r.claims)
	r.sessions[s.id] = s
	r.notifyAllSessionsLocked(notify.Buttons(notify.ComboButton, len(r.sessions) > 1))
	r.mu.Unlock()

	log.Info().Int("session_id", s.id).Msg("stimulator.Registry.OpenSession")
	r.emitRefresh(s.id)
	return s
}

// CloseSession closes a session with no bound hooks.
func (r *Registry) CloseSession(id int) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}
	if bound := r.boundLocked(id); len(bound) > 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: session=%d hooks=%v", ErrSessionHasHooks, id, bound)
	}
	r.closeLocked(s)
	r.mu.Unlock()
	return nil
}

// CloseSessionWith migrates the hooks named in moves (hook id to destination
// session id), drops every other hook bound to id, then closes the session.
// Nothing changes when any move is invalid.
func (r *Registry) CloseSessionWith(id int, moves map[int]int) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}
	for hookID, dest := range moves {
		h, ok := r.hooks[hookID]
		if !ok {
			r.mu.Unlock()
			return fmt.Errorf("%w: %d", ErrHookNotFound, hookID)
		}
		if h.sessionID != id {
			r.mu.Unlock()
			return fmt.Errorf("%w: hook=%d session=%d", ErrHookNotBound, hookID, id)
		}
		if dest == id {
			r.mu.Unlock()
			return ErrSameSession
		}
		d, ok := r.sessions[dest]
		if !ok {
			r.mu.Unlock()
			return fmt.Errorf("%w: %d", ErrSessionNotFound, dest)
		}
		if testing, _ := d.Progress(); testing {
			r.mu.Unlock()
			return fmt.Errorf("%w: session=%d", ErrSessionBusy, dest)
		}
	}

	s.CancelTest()
	touched := []int{id}
	var firstErr error
	for _, hookID := range r.boundLocked(id) {
		var (
			ids []int
			err error
		)
		if dest, ok := moves[hookID]; ok {
			ids, err = r.migrateLocked(hookID, id, dest)
		} else {
			ids, err = r.dropLocked(hookID)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
		touched = append(touched, ids...)
	}
	if firstErr != nil {
		r.mu.Unlock()
		r.emitRefresh(dedupe(touched)...)
		return firstErr
	}
	r.closeLocked(s)
	r.mu.Unlock()
	r.emitRefresh(dedupe(touched)...)
	return nil
}

func (r *Registry) closeLocked(s *Session) {
	_ = s.Close()
	delete(r.sessions, s.id)
	r.notifyAllSessionsLocked(notify.Buttons(notify.ComboButton, len(r.sessions) > 1))
	log.Info().Int("session_id", s.id).Msg("stimulator.Registry.CloseSession")
}

// CloseAll drops every hook and closes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, hookID := range r.sortedHookIDsLocked() {
		if r.hooks[hookID].sessionID != notify.NoSession {
			_, _ = r.dropLocked(hookID)
		}
	}
	for _, id := range r.sortedSessionIDsLocked() {
		_ = r.sessions[id].Close()
		delete(r.sessions, id)
	}
}

// CreateHook registers an orphaned hook. observer.HookID must equal id.
func (r *Registry) CreateHook(id int, observer notify.Observer) (HookView, error) {
	if id <= 0 {
		return HookView{}, ErrInvalidHookID
	}
	if observer == nil {
		return HookView{}, ErrNilObserver
	}
	if observer.HookID() != id {
		return HookView{}, fmt.Errorf("%w: id=%d observer=%d", ErrObserverMismatch, id, observer.HookID())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hooks[id]; ok {
		return HookView{}, fmt.Errorf("%w: %d", ErrHookExists, id)
	}
	h := &Hook{id: id, observer: observer}
	r.hooks[id] = h
	log.Debug().Int("hook_id", id).Msg("stimulator.Registry.CreateHook")
	return h.view(), nil
}

// Bind attaches an orphaned hook to a session.
func (r *Registry) Bind(hookID, sessionID int) error {
	r.mu.Lock()
	h, ok := r.hooks[hookID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrHookNotFound, hookID)
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrSessionNotFound, sessionID)
	}
	if h.sessionID != notify.NoSession {
		r.mu.Unlock()
		return fmt.Errorf("%w: hook=%d session=%d", ErrHookBound, hookID, h.sessionID)
	}

	s.mu.Lock()
	if !s.observers.Add(h.observer) {
		s.mu.Unlock()
		r.mu.Unlock()
		return &InvariantError{Op: "bind", HookID: hookID, Detail: "observer already in session roster"}
	}
	h.sessionID = sessionID
	notify.Deliver(h.observer, notify.SessionChange(sessionID))
	if !s.inputEnabled {
		notify.Deliver(h.observer, notify.Interactivity(notify.Freeze))
	}
	s.mu.Unlock()
	r.mu.Unlock()

	log.Info().Int("hook_id", hookID).Int("session_id", sessionID).Msg("stimulator.Registry.Bind")
	r.emitRefresh(sessionID)
	return nil
}

// RemoveHook deletes an orphaned hook.
func (r *Registry) RemoveHook(hookID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hooks[hookID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrHookNotFound, hookID)
	}
	if h.sessionID != notify.NoSession {
		return fmt.Errorf("%w: hook=%d session=%d", ErrHookBound, hookID, h.sessionID)
	}
	delete(r.hooks, hookID)
	log.Debug().Int("hook_id", hookID).Msg("stimulator.Registry.RemoveHook")
	return nil
}

// SetChannel picks the board channel a hook's plugin presets target.
func (r *Registry) SetChannel(hookID, channel int) error {
	if channel < 0 || channel >= frame.NumChannels {
		return ErrInvalidChannel
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hooks[hookID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrHookNotFound, hookID)
	}
	if err := r.busyLocked(h); err != nil {
		return err
	}
	h.channel = channel
	return nil
}

// SelectPlugin records the plugin a hook runs and tells its observer.
func (r *Registry) SelectPlugin(hookID int, name string) error {
	if _, err := r.catalog.Resolve(name); err != nil {
		return err
	}
	r.mu.Lock()
	h, ok := r.hooks[hookID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrHookNotFound, hookID)
	}
	if err := r.busyLocked(h); err != nil {
		r.mu.Unlock()
		return err
	}
	h.plugin = name
	notify.Deliver(h.observer, notify.Indicator(notify.PluginSelected))
	notify.Deliver(h.observer, notify.PluginInfo())
	sessionID := h.sessionID
	r.mu.Unlock()

	log.Info().Int("hook_id", hookID).Str("plugin", name).Msg("stimulator.Registry.SelectPlugin")
	if sessionID != notify.NoSession {
		r.emitRefresh(sessionID)
	}
	return nil
}

// ApplyPlugin pushes the selected plugin's presets to the hook's channel.
func (r *Registry) ApplyPlugin(hookID int) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hooks[hookID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrHookNotFound, hookID)
	}
	if h.plugin == "" {
		return fmt.Errorf("%w: %d", ErrNoPlugin, hookID)
	}
	s, ok := r.sessions[h.sessionID]
	if !ok {
		return fmt.Errorf("%w: hook=%d", ErrNotConnected, hookID)
	}
	p, err := r.catalog.Resolve(h.plugin)
	if err != nil {
		return err
	}
	frames, err := p.Info().Frames(h.channel)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.testing {
		return fmt.Errorf("%w: hook=%d", ErrHookBusy, hookID)
	}
	for _, f := range frames {
		if err := s.sendLocked(f); err != nil {
			return err
		}
	}
	log.Info().Int("hook_id", hookID).Str("plugin", h.plugin).Int("frames", len(frames)).
		Msg("stimulator.Registry.ApplyPlugin")
	return nil
}

// busyLocked rejects configuration while the hook's session is testing.
func (r *Registry) busyLocked(h *Hook) error {
	s, ok := r.sessions[h.sessionID]
	if !ok {
		return nil
	}
	if testing, _ := s.Progress(); testing {
		return fmt.Errorf("%w: hook=%d session=%d", ErrHookBusy, h.id, s.id)
	}
	return nil
}

func (r *Registry) Hook(id int) (HookView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hooks[id]
	if !ok {
		return HookView{}, false
	}
	return h.view(), true
}

// Hooks lists every hook by id.
func (r *Registry) Hooks() []HookView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HookView, 0, len(r.hooks))
	for _, id := range r.sortedHookIDsLocked() {
		out = append(out, r.hooks[id].view())
	}
	return out
}

// Observer returns the observer bound to a hook.
func (r *Registry) Observer(hookID int) (notify.Observer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hooks[hookID]
	if !ok {
		return nil, false
	}
	return h.observer, true
}

// Sessions lists open sessions by increasing id.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, id := range r.sortedSessionIDsLocked() {
		out = append(out, r.sessions[id])
	}
	return out
}

func (r *Registry) Session(id int) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// SessionOf returns the session a hook is bound to.
func (r *Registry) SessionOf(hookID int) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hooks[hookID]
	if !ok || h.sessionID == notify.NoSession {
		return notify.NoSession, false
	}
	return h.sessionID, true
}

// SessionReady reports whether a session has a device and every bound hook
// has a plugin.
func (r *Registry) SessionReady(id int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok || s.Params().Device == "" {
		return false
	}
	for _, hookID := range r.boundLocked(id) {
		if r.hooks[hookID].plugin == "" {
			return false
		}
	}
	return true
}

// NotifyOne delivers n to one hook's observer.
func (r *Registry) NotifyOne(hookID int, n notify.Notification) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hooks[hookID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrHookNotFound, hookID)
	}
	notify.Deliver(h.observer, n)
	return nil
}

// NotifyAllInSession delivers n to every observer bound to a session.
func (r *Registry) NotifyAllInSession(sessionID int, n notify.Notification) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrSessionNotFound, sessionID)
	}
	s.observers.Broadcast(n)
	return nil
}

// NotifyAllSessions delivers n to every bound observer, session by session.
func (r *Registry) NotifyAllSessions(n notify.Notification) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.notifyAllSessionsLocked(n)
}

func (r *Registry) notifyAllSessionsLocked(n notify.Notification) {
	for _, id := range r.sortedSessionIDsLocked() {
		r.sessions[id].observers.Broadcast(n)
	}
}

// PollAll runs one poll tick on every session and refreshes the status gauge.
func (r *Registry) PollAll() {
	sessions := r.Sessions()
	counts := make(map[string]int, 4)
	for _, s := range sessions {
		s.Poll()
		counts[s.State().String()]++
	}
	observability.SetSessionCounts(counts)
}

// StatusCounts tallies sessions by State.
func (r *Registry) StatusCounts() map[string]int {
	counts := make(map[string]int, 4)
	for _, s := range r.Sessions() {
		counts[s.State().String()]++
	}
	return counts
}

// boundLocked lists hook ids bound to sessionID in increasing order.
func (r *Registry) boundLocked(sessionID int) []int {
	var out []int
	for _, id := range r.sortedHookIDsLocked() {
		if r.hooks[id].sessionID == sessionID {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) sortedHookIDsLocked() []int {
	ids := make([]int, 0, len(r.hooks))
	for id := range r.hooks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (r *Registry) sortedSessionIDsLocked() []int {
	ids := make([]int, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func dedupe(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
