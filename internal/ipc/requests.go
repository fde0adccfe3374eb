// Package ipc is the daemon's local control surface: line-delimited JSON
// over a Unix domain socket.
//
// Protocol:
//   - Client sends: {"type": "request_name", "data": {...}}
//   - Server responds: {"status": "ok", "data": ...} or {"status": "error", "error": "msg"}
package ipc

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Request Types
// ============================================================================

// Request is a marker interface for everything the daemon accepts over IPC.
type Request interface {
	requestMarker()
}

// Exec launches a command line on the peer.
type Exec struct {
	Command string `json:"command"`
}

type KillProcess struct {
	Name string `json:"name"`
}

// ListProcesses collects one process enumeration. TimeoutMS overrides the
// daemon default; enumeration results travel over datagrams and may be lost.
type ListProcesses struct {
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

type SetProcessAffinity struct {
	PID  uint32 `json:"pid"`
	Mask uint32 `json:"mask"`
}

type MouseEvent struct {
	Flags uint32 `json:"flags"`
	DX    int16  `json:"dx"`
	DY    int16  `json:"dy"`
	Wheel int16  `json:"wheel,omitempty"`
}

type KeyboardEvent struct {
	VKey  uint8  `json:"vkey"`
	Flags uint32 `json:"flags"`
}

type BringToFront struct {
	Name    string `json:"name"`
	Reverse bool   `json:"reverse,omitempty"`
}

// ReleaseGamepad drops the host's gamepad binding.
type ReleaseGamepad struct{}

// SetMapperType selects "standard" or "xinput".
type SetMapperType struct {
	Mapper string `json:"mapper"`
}

// GamepadButton presses or releases a virtual gamepad button by name
// (a, b, x, y, l1, r1, select, start, l3, r3, l2, r2).
type GamepadButton struct {
	Button  string `json:"button"`
	Pressed bool   `json:"pressed"`
}

// GamepadDpad presses or releases a virtual d-pad direction (up, right, down, left).
type GamepadDpad struct {
	Direction string `json:"direction"`
	Pressed   bool   `json:"pressed"`
}

// GamepadThumb moves a virtual thumbstick ("left" or "right"); axes in [-1, 1].
type GamepadThumb struct {
	Stick string  `json:"stick"`
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
}

// Status returns a channel status snapshot.
type Status struct{}

func (Exec) requestMarker()               {}
func (KillProcess) requestMarker()        {}
func (ListProcesses) requestMarker()      {}
func (SetProcessAffinity) requestMarker() {}
func (MouseEvent) requestMarker()         {}
func (KeyboardEvent) requestMarker()      {}
func (BringToFront) requestMarker()       {}
func (ReleaseGamepad) requestMarker()     {}
func (SetMapperType) requestMarker()      {}
func (GamepadButton) requestMarker()      {}
func (GamepadDpad) requestMarker()        {}
func (GamepadThumb) requestMarker()       {}
func (Status) requestMarker()             {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// Envelope wraps a request with a type discriminator.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is the daemon's reply to one request line.
type Response struct {
	Status string          `json:"status"`          // "ok" or "error"
	Error  string          `json:"error,omitempty"` // set when Status == "error"
	Data   json.RawMessage `json:"data,omitempty"`
}

// requestTypes maps discriminators to zero values of each request type.
var requestTypes = map[string]func() Request{
	"exec":                 func() Request { return &Exec{} },
	"kill_process":         func() Request { return &KillProcess{} },
	"list_processes":       func() Request { return &ListProcesses{} },
	"set_process_affinity": func() Request { return &SetProcessAffinity{} },
	"mouse_event":          func() Request { return &MouseEvent{} },
	"keyboard_event":       func() Request { return &KeyboardEvent{} },
	"bring_to_front":       func() Request { return &BringToFront{} },
	"release_gamepad":      func() Request { return &ReleaseGamepad{} },
	"set_mapper_type":      func() Request { return &SetMapperType{} },
	"gamepad_button":       func() Request { return &GamepadButton{} },
	"gamepad_dpad":         func() Request { return &GamepadDpad{} },
	"gamepad_thumb":        func() Request { return &GamepadThumb{} },
	"status":               func() Request { return &Status{} },
}

// UnmarshalRequest decodes one envelope into a concrete request value.
func UnmarshalRequest(data []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	newReq, ok := requestTypes[env.Type]
	if !ok {
		return nil, fmt.Errorf("unknown request type: %q", env.Type)
	}
	ptr := newReq()
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, ptr); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
	}
	return deref(ptr), nil
}

// MarshalRequest encodes req as an envelope.
func MarshalRequest(req Request) ([]byte, error) {
	typ, err := requestType(req)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", typ, err)
	}
	env := Envelope{Type: typ}
	if string(data) != "{}" {
		env.Data = data
	}
	return json.Marshal(env)
}

func requestType(req Request) (string, error) {
	switch req.(type) {
	case Exec:
		return "exec", nil
	case KillProcess:
		return "kill_process", nil
	case ListProcesses:
		return "list_processes", nil
	case SetProcessAffinity:
		return "set_process_affinity", nil
	case MouseEvent:
		return "mouse_event", nil
	case KeyboardEvent:
		return "keyboard_event", nil
	case BringToFront:
		return "bring_to_front", nil
	case ReleaseGamepad:
		return "release_gamepad", nil
	case SetMapperType:
		return "set_mapper_type", nil
	case GamepadButton:
		return "gamepad_button", nil
	case GamepadDpad:
		return "gamepad_dpad", nil
	case GamepadThumb:
		return "gamepad_thumb", nil
	case Status:
		return "status", nil
	default:
		return "", fmt.Errorf("unsupported request type: %T", req)
	}
}

func deref(ptr Request) Request {
	switch r := ptr.(type) {
	case *Exec:
		return *r
	case *KillProcess:
		return *r
	case *ListProcesses:
		return *r
	case *SetProcessAffinity:
		return *r
	case *MouseEvent:
		return *r
	case *KeyboardEvent:
		return *r
	case *BringToFront:
		return *r
	case *ReleaseGamepad:
		return *r
	case *SetMapperType:
		return *r
	case *GamepadButton:
		return *r
	case *GamepadDpad:
		return *r
	case *GamepadThumb:
		return *r
	case *Status:
		return *r
	}
	return ptr
}
