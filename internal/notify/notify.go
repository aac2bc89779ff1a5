// Package notify delivers session and hook state changes to hook observers.
package notify

import "fmt"

// Event names an observable change.
type Event int

const (
	WindowButton Event = iota
	TabButton
	ComboButton
	SerialLED
	ReadyLED
	PluginSelected
	TransferDrop
	TransferMigrate
	Freeze
	Thaw
	DeviceFault
)

var eventNames = [...]string{
	WindowButton:    "window_button",
	TabButton:       "tab_button",
	ComboButton:     "combo_button",
	SerialLED:       "serial_led",
	ReadyLED:        "ready_led",
	PluginSelected:  "plugin_selected",
	TransferDrop:    "transfer_drop",
	TransferMigrate: "transfer_migrate",
	Freeze:          "freeze",
	Thaw:            "thaw",
	DeviceFault:     "device_fault",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return fmt.Sprintf("event(%d)", int(e))
	}
	return eventNames[e]
}

// NoSession is the session id an orphaned hook's observer is switched to.
const NoSession = 0

// Observer is the editor-side capability set bound to one hook.
//
// Observers are called with registry or session locks held and must not
// call back into either synchronously.
type Observer interface {
	UpdateIndicators(ev Event)
	SetInteractivity(ev Event)
	ChangeSession(sessionID int)
	UpdateButtons(ev Event, enabled bool)
	RefreshPluginInfo()
	HookID() int
}

// Kind selects the Observer method a Notification is delivered through.
type Kind int

const (
	KindIndicator Kind = iota
	KindInteractivity
	KindSession
	KindButtons
	KindPluginInfo
)

// Notification is one message for an observer.
type Notification struct {
	Kind      Kind
	Event     Event
	Enabled   bool
	SessionID int
}

func Indicator(ev Event) Notification {
	return Notification{Kind: KindIndicator, Event: ev}
}

func Interactivity(ev Event) Notification {
	return Notification{Kind: KindInteractivity, Event: ev}
}

func SessionChange(sessionID int) Notification {
	return Notification{Kind: KindSession, Event: TransferMigrate, SessionID: sessionID}
}

func Buttons(ev Event, enabled bool) Notification {
	return Notification{Kind: KindButtons, Event: ev, Enabled: enabled}
}

func PluginInfo() Notification {
	return Notification{Kind: KindPluginInfo, Event: PluginSelected}
}

// Deliver calls the Observer method matching n.Kind.
func Deliver(o Observer, n Notification) {
	if o == nil {
		return
	}
	switch n.Kind {
	case KindIndicator:
		o.UpdateIndicators(n.Event)
	case KindInteractivity:
		o.SetInteractivity(n.Event)
	case KindSession:
		o.ChangeSession(n.SessionID)
	case KindButtons:
		o.UpdateButtons(n.Event, n.Enabled)
	case KindPluginInfo:
		o.RefreshPluginInfo()
	}
}
