package winhandler

import "fmt"

// Event is an observation published to Config.Observer.
type Event interface {
	eventMarker()
	String() string
}

// EventReady fires once per Start, when the peer's INIT arrives.
type EventReady struct{}

// EventStopped fires when the channel stops, whether by Stop, context
// cancellation or a receive error.
type EventStopped struct{}

// EventGamepadBound fires when a GET_GAMEPAD query binds a physical device.
type EventGamepadBound struct {
	ID   uint32
	Name string
}

// EventGamepadReleased fires when a binding is dropped.
type EventGamepadReleased struct {
	ID     uint32
	Reason string
}

// EventCursorPos carries CURSOR_POS_FEEDBACK.
type EventCursorPos struct {
	X, Y int16
}

func (EventReady) eventMarker()           {}
func (EventStopped) eventMarker()         {}
func (EventGamepadBound) eventMarker()    {}
func (EventGamepadReleased) eventMarker() {}
func (EventCursorPos) eventMarker()       {}

func (EventReady) String() string   { return "EventReady()" }
func (EventStopped) String() string { return "EventStopped()" }
func (e EventGamepadBound) String() string {
	return fmt.Sprintf("EventGamepadBound(id=%d, name=%q)", e.ID, e.Name)
}
func (e EventGamepadReleased) String() string {
	return fmt.Sprintf("EventGamepadReleased(id=%d, reason=%s)", e.ID, e.Reason)
}
func (e EventCursorPos) String() string { return fmt.Sprintf("EventCursorPos(x=%d, y=%d)", e.X, e.Y) }
