package protocol

import "fmt"

// Message is a decoded datagram. Concrete types are listed below; callers
// switch on the type.
type Message interface {
	Opcode() Opcode
}

// ============================================================================
// Peer -> host messages
// ============================================================================

// Init is the handshake signal.
type Init struct{}

// GamepadQuery asks whether a gamepad is available (GET_GAMEPAD).
// Older peers send no flags; both then read as false.
type GamepadQuery struct {
	XInput bool
	Notify bool
}

// GamepadStateQuery asks for the state of the gamepad the peer knows by ID.
type GamepadStateQuery struct {
	ID uint32
}

// ReleaseGamepad tells the host the peer stopped using the gamepad.
type ReleaseGamepad struct{}

// CursorPos reports the peer's cursor position after a mouse move.
type CursorPos struct {
	X, Y int16
}

func (Init) Opcode() Opcode              { return OpInit }
func (ProcessRecord) Opcode() Opcode     { return OpGetProcess }
func (GamepadQuery) Opcode() Opcode      { return OpGetGamepad }
func (GamepadStateQuery) Opcode() Opcode { return OpGetGamepadState }
func (ReleaseGamepad) Opcode() Opcode    { return OpReleaseGamepad }
func (CursorPos) Opcode() Opcode         { return OpCursorPosFeedback }

// DecodeRequest parses a datagram sent by the peer.
func DecodeRequest(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, ErrShortPacket
	}
	r := &reader{b: b, off: 1}
	var msg Message

	switch op := Opcode(b[0]); op {
	case OpInit:
		msg = Init{}

	case OpGetProcess:
		rec := ProcessRecord{
			Index: int(r.u16()),
			Total: int(r.u16()),
		}
		rec.Info.PID = r.u32()
		rec.Info.MemoryUsage = r.u64()
		rec.Info.AffinityMask = r.u32()
		rec.Info.Name = trimName(r.take(processNameSize))
		msg = rec

	case OpGetGamepad:
		var q GamepadQuery
		if r.remaining() >= 2 {
			q.XInput = r.u8() == 1
			q.Notify = r.u8() == 1
		}
		msg = q

	case OpGetGamepadState:
		msg = GamepadStateQuery{ID: r.u32()}

	case OpReleaseGamepad:
		msg = ReleaseGamepad{}

	case OpCursorPosFeedback:
		msg = CursorPos{X: int16(r.u16()), Y: int16(r.u16())}

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOpcode, op)
	}

	if r.err != nil {
		return nil, fmt.Errorf("decode %s: %w", msg.Opcode(), r.err)
	}
	return msg, nil
}

// ============================================================================
// Host -> peer messages
// ============================================================================

type Exec struct {
	Filename string
	Args     string
}

type KillProcess struct {
	Name string
}

type ListProcesses struct{}

type SetProcessAffinity struct {
	PID  uint32
	Mask uint32
}

type MouseEvent struct {
	Flags  uint32
	DX, DY int16
	Wheel  int16
}

type KeyboardEvent struct {
	VKey  uint8
	Flags uint32
}

type BringToFront struct {
	Name    string
	Reverse bool
}

// GamepadInfo is the GET_GAMEPAD reply. ID 0 means no gamepad.
type GamepadInfo struct {
	ID     uint32
	Mapper MapperType
	Name   string
}

// GamepadStateReply is the GET_GAMEPAD_STATE reply.
type GamepadStateReply struct {
	Present bool
	ID      uint32
	State   GamepadStateBlob
}

func (Exec) Opcode() Opcode               { return OpExec }
func (KillProcess) Opcode() Opcode        { return OpKillProcess }
func (ListProcesses) Opcode() Opcode      { return OpListProcesses }
func (SetProcessAffinity) Opcode() Opcode { return OpSetProcessAffinity }
func (MouseEvent) Opcode() Opcode         { return OpMouseEvent }
func (KeyboardEvent) Opcode() Opcode      { return OpKeyboardEvent }
func (BringToFront) Opcode() Opcode       { return OpBringToFront }
func (GamepadInfo) Opcode() Opcode        { return OpGetGamepad }
func (GamepadStateReply) Opcode() Opcode  { return OpGetGamepadState }

// DecodeCommand parses a datagram sent by the host. The peer side of the
// protocol lives elsewhere; this exists for the simulator and tests.
func DecodeCommand(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, ErrShortPacket
	}
	r := &reader{b: b, off: 1}
	var msg Message

	switch op := Opcode(b[0]); op {
	case OpExec:
		_ = r.u32() // total length
		fnLen := r.u32()
		argsLen := r.u32()
		var m Exec
		if r.err == nil && int(fnLen)+int(argsLen) <= r.remaining() {
			m.Filename = string(r.take(int(fnLen)))
			m.Args = string(r.take(int(argsLen)))
		} else if r.err == nil {
			r.err = ErrShortPacket
		}
		msg = m

	case OpKillProcess:
		msg = KillProcess{Name: r.str()}

	case OpListProcesses:
		_ = r.u32()
		msg = ListProcesses{}

	case OpSetProcessAffinity:
		msg = SetProcessAffinity{PID: r.u32(), Mask: r.u32()}

	case OpMouseEvent:
		msg = MouseEvent{
			Flags: r.u32(),
			DX:    int16(r.u16()),
			DY:    int16(r.u16()),
			Wheel: int16(r.u16()),
		}

	case OpKeyboardEvent:
		msg = KeyboardEvent{VKey: r.u8(), Flags: r.u32()}

	case OpBringToFront:
		name := r.str()
		msg = BringToFront{Name: name, Reverse: r.u8() == 1}

	case OpGetGamepad:
		m := GamepadInfo{ID: r.u32()}
		if m.ID != 0 {
			m.Mapper = MapperType(r.u8())
			m.Name = r.str()
		}
		msg = m

	case OpGetGamepadState:
		m := GamepadStateReply{Present: r.u8() == 1}
		if m.Present {
			m.ID = r.u32()
			copy(m.State[:], r.take(GamepadStateSize))
		}
		msg = m

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOpcode, op)
	}

	if r.err != nil {
		return nil, fmt.Errorf("decode %s: %w", msg.Opcode(), r.err)
	}
	return msg, nil
}
