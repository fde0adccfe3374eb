package winhandler

import (
	"fmt"

	"winbridge/internal/protocol"
)

// ==============================
// Commands (queued datagrams)
// ==============================

// Command is one queued outbound message. The dispatcher encodes and sends
// commands strictly in the order they were queued.
type Command interface {
	commandMarker()
	String() string
}

// CmdExec launches a program on the peer.
type CmdExec struct {
	Filename string
	Args     string
}

func (CmdExec) commandMarker() {}
func (c CmdExec) String() string {
	return fmt.Sprintf("CmdExec(filename=%q, args=%q)", c.Filename, c.Args)
}

// CmdKillProcess terminates processes by image name.
type CmdKillProcess struct {
	Name string
}

func (CmdKillProcess) commandMarker()   {}
func (c CmdKillProcess) String() string { return fmt.Sprintf("CmdKillProcess(name=%q)", c.Name) }

// CmdListProcesses starts an enumeration; results arrive as GET_PROCESS.
type CmdListProcesses struct{}

func (CmdListProcesses) commandMarker() {}
func (CmdListProcesses) String() string { return "CmdListProcesses()" }

// CmdSetProcessAffinity pins a process to a CPU mask.
type CmdSetProcessAffinity struct {
	PID  uint32
	Mask uint32
}

func (CmdSetProcessAffinity) commandMarker() {}
func (c CmdSetProcessAffinity) String() string {
	return fmt.Sprintf("CmdSetProcessAffinity(pid=%d, mask=%#x)", c.PID, c.Mask)
}

// CmdMouseEvent injects mouse input.
type CmdMouseEvent struct {
	Flags  uint32
	DX, DY int16
	Wheel  int16
}

func (CmdMouseEvent) commandMarker() {}
func (c CmdMouseEvent) String() string {
	return fmt.Sprintf("CmdMouseEvent(flags=%#x, dx=%d, dy=%d, wheel=%d)", c.Flags, c.DX, c.DY, c.Wheel)
}

// CmdKeyboardEvent injects a key transition.
type CmdKeyboardEvent struct {
	VKey  uint8
	Flags uint32
}

func (CmdKeyboardEvent) commandMarker() {}
func (c CmdKeyboardEvent) String() string {
	return fmt.Sprintf("CmdKeyboardEvent(vkey=%#x, flags=%#x)", c.VKey, c.Flags)
}

// CmdBringToFront raises (or, with Reverse, lowers) a window by process name.
type CmdBringToFront struct {
	Name    string
	Reverse bool
}

func (CmdBringToFront) commandMarker() {}
func (c CmdBringToFront) String() string {
	return fmt.Sprintf("CmdBringToFront(name=%q, reverse=%v)", c.Name, c.Reverse)
}

// CmdGamepadInfo answers GET_GAMEPAD. It is sent to Port, the source port of
// the query.
type CmdGamepadInfo struct {
	Port    int
	Present bool
	ID      uint32
	Mapper  protocol.MapperType
	Name    string
}

func (CmdGamepadInfo) commandMarker() {}
func (c CmdGamepadInfo) String() string {
	if !c.Present {
		return fmt.Sprintf("CmdGamepadInfo(port=%d, absent)", c.Port)
	}
	return fmt.Sprintf("CmdGamepadInfo(port=%d, id=%d, mapper=%s, name=%q)", c.Port, c.ID, c.Mapper, c.Name)
}

// CmdGamepadState answers GET_GAMEPAD_STATE, or pushes a state to a notify
// subscriber.
type CmdGamepadState struct {
	Port    int
	Present bool
	ID      uint32
	State   protocol.GamepadStateBlob
}

func (CmdGamepadState) commandMarker() {}
func (c CmdGamepadState) String() string {
	if !c.Present {
		return fmt.Sprintf("CmdGamepadState(port=%d, absent)", c.Port)
	}
	return fmt.Sprintf("CmdGamepadState(port=%d, id=%d)", c.Port, c.ID)
}

// encodeCommand serializes cmd. A zero port means the configured peer port.
func encodeCommand(cmd Command) (payload []byte, port int, err error) {
	switch c := cmd.(type) {
	case CmdExec:
		payload, err = protocol.EncodeExec(c.Filename, c.Args)
	case CmdKillProcess:
		payload, err = protocol.EncodeKillProcess(c.Name)
	case CmdListProcesses:
		payload = protocol.EncodeListProcesses()
	case CmdSetProcessAffinity:
		payload = protocol.EncodeSetProcessAffinity(c.PID, c.Mask)
	case CmdMouseEvent:
		payload = protocol.EncodeMouseEvent(c.Flags, c.DX, c.DY, c.Wheel)
	case CmdKeyboardEvent:
		payload = protocol.EncodeKeyboardEvent(c.VKey, c.Flags)
	case CmdBringToFront:
		payload, err = protocol.EncodeBringToFront(c.Name, c.Reverse)
	case CmdGamepadInfo:
		port = c.Port
		if c.Present {
			payload, err = protocol.EncodeGamepadInfo(c.ID, c.Mapper, c.Name)
		} else {
			payload = protocol.EncodeGamepadAbsent()
		}
	case CmdGamepadState:
		port = c.Port
		if c.Present {
			payload = protocol.EncodeGamepadState(c.ID, c.State)
		} else {
			payload = protocol.EncodeGamepadStateAbsent()
		}
	default:
		err = fmt.Errorf("unknown command %T", cmd)
	}
	return payload, port, err
}
