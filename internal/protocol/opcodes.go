package protocol

import "fmt"

// Opcode is the first byte of every datagram exchanged with the peer.
type Opcode byte

const (
	OpInit               Opcode = 1
	OpExec               Opcode = 2
	OpKillProcess        Opcode = 3
	OpListProcesses      Opcode = 4
	OpGetProcess         Opcode = 5
	OpSetProcessAffinity Opcode = 6
	OpMouseEvent         Opcode = 7
	OpGetGamepad         Opcode = 8
	OpGetGamepadState    Opcode = 9
	OpReleaseGamepad     Opcode = 10
	OpKeyboardEvent      Opcode = 11
	OpBringToFront       Opcode = 12
	OpCursorPosFeedback  Opcode = 13
)

func (o Opcode) String() string {
	switch o {
	case OpInit:
		return "INIT"
	case OpExec:
		return "EXEC"
	case OpKillProcess:
		return "KILL_PROCESS"
	case OpListProcesses:
		return "LIST_PROCESSES"
	case OpGetProcess:
		return "GET_PROCESS"
	case OpSetProcessAffinity:
		return "SET_PROCESS_AFFINITY"
	case OpMouseEvent:
		return "MOUSE_EVENT"
	case OpGetGamepad:
		return "GET_GAMEPAD"
	case OpGetGamepadState:
		return "GET_GAMEPAD_STATE"
	case OpReleaseGamepad:
		return "RELEASE_GAMEPAD"
	case OpKeyboardEvent:
		return "KEYBOARD_EVENT"
	case OpBringToFront:
		return "BRING_TO_FRONT"
	case OpCursorPosFeedback:
		return "CURSOR_POS_FEEDBACK"
	default:
		return fmt.Sprintf("Opcode(%d)", byte(o))
	}
}

// MapperType selects how the peer maps a gamepad onto DirectInput.
type MapperType byte

const (
	MapperStandard MapperType = 0x01
	MapperXInput   MapperType = 0x02
)

func (m MapperType) String() string {
	switch m {
	case MapperStandard:
		return "standard"
	case MapperXInput:
		return "xinput"
	default:
		return fmt.Sprintf("MapperType(%d)", byte(m))
	}
}

func (m MapperType) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *MapperType) UnmarshalText(b []byte) error {
	v, err := ParseMapperType(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMapperType converts the config/IPC spelling of a mapper type.
func ParseMapperType(s string) (MapperType, error) {
	switch s {
	case "standard":
		return MapperStandard, nil
	case "xinput":
		return MapperXInput, nil
	default:
		return 0, fmt.Errorf("invalid mapper type: %s (must be standard or xinput)", s)
	}
}

// Mouse event flags understood by the peer (same bit values as the Win32 MOUSEEVENTF_* set).
const (
	MouseMove       uint32 = 0x0001
	MouseLeftDown   uint32 = 0x0002
	MouseLeftUp     uint32 = 0x0004
	MouseRightDown  uint32 = 0x0008
	MouseRightUp    uint32 = 0x0010
	MouseMiddleDown uint32 = 0x0020
	MouseMiddleUp   uint32 = 0x0040
	MouseWheel      uint32 = 0x0800
)

// Keyboard event flags (Win32 KEYEVENTF_* bits).
const (
	KeyDown        uint32 = 0x0000
	KeyExtendedKey uint32 = 0x0001
	KeyUp          uint32 = 0x0002
)
