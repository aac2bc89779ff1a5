package stimulator

import "github.com/danmuck/cyclopsctl/internal/notify"

// Hook is one logical stimulation channel. Its fields are guarded by the
// registry lock.
type Hook struct {
	id        int
	observer  notify.Observer
	plugin    string
	channel   int
	sessionID int
}

// HookView is a copy of a hook's state.
type HookView struct {
	ID        int    `json:"id"`
	SessionID int    `json:"session_id"`
	Plugin    string `json:"plugin,omitempty"`
	Channel   int    `json:"channel"`
	Orphaned  bool   `json:"orphaned"`
}

func (h *Hook) view() HookView {
	return HookView{
		ID:        h.id,
		SessionID: h.sessionID,
		Plugin:    h.plugin,
		Channel:   h.channel,
		Orphaned:  h.sessionID == notify.NoSession,
	}
}
