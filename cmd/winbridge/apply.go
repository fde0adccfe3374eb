package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"winbridge/internal/ipc"
	"winbridge/internal/protocol"
	"winbridge/internal/winhandler"
)

// Channel is the part of *winhandler.Handler the IPC surface drives.
type Channel interface {
	Exec(command string)
	KillProcess(name string)
	CollectProcesses(ctx context.Context) ([]protocol.ProcessInfo, error)
	SetProcessAffinity(pid, mask uint32)
	MouseEvent(flags uint32, dx, dy, wheel int16)
	KeyboardEvent(vkey uint8, flags uint32)
	BringToFront(name string, reverse bool)
	ReleaseGamepadBinding()
	SetMapperType(m protocol.MapperType)
	PushGamepadState(state protocol.GamepadState)
	SendGamepadState()
	Status() winhandler.Status
}

// VirtualPad is the profile-backed on-screen controller.
type VirtualPad interface {
	VirtualGamepad() (winhandler.Gamepad, bool)
	UpdateState(fn func(*protocol.GamepadState)) protocol.GamepadState
}

var errNoVirtualGamepad = errors.New("virtual gamepad is not enabled by the active profile")

// requestApplier maps IPC requests onto channel operations.
type requestApplier struct {
	channel     Channel
	pad         VirtualPad
	listTimeout time.Duration
	logger      *slog.Logger
}

// ProcessList is the list_processes reply payload.
type ProcessList struct {
	Processes []protocol.ProcessInfo `json:"processes"`
}

func (a *requestApplier) apply(ctx context.Context, req ipc.Request) (any, error) {
	a.logger.Debug("IPC request", "type", fmt.Sprintf("%T", req))

	switch r := req.(type) {
	case ipc.Exec:
		a.channel.Exec(r.Command)

	case ipc.KillProcess:
		if r.Name == "" {
			return nil, errors.New("kill_process: name must not be empty")
		}
		a.channel.KillProcess(r.Name)

	case ipc.ListProcesses:
		timeout := a.listTimeout
		if r.TimeoutMS > 0 {
			timeout = time.Duration(r.TimeoutMS) * time.Millisecond
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		procs, err := a.channel.CollectProcesses(ctx)
		if err != nil {
			return nil, fmt.Errorf("list_processes: %w", err)
		}
		return ProcessList{Processes: procs}, nil

	case ipc.SetProcessAffinity:
		a.channel.SetProcessAffinity(r.PID, r.Mask)

	case ipc.MouseEvent:
		a.channel.MouseEvent(r.Flags, r.DX, r.DY, r.Wheel)

	case ipc.KeyboardEvent:
		a.channel.KeyboardEvent(r.VKey, r.Flags)

	case ipc.BringToFront:
		a.channel.BringToFront(r.Name, r.Reverse)

	case ipc.ReleaseGamepad:
		a.channel.ReleaseGamepadBinding()

	case ipc.SetMapperType:
		m, err := protocol.ParseMapperType(r.Mapper)
		if err != nil {
			return nil, err
		}
		a.channel.SetMapperType(m)

	case ipc.GamepadButton:
		button, ok := buttonNames[strings.ToLower(r.Button)]
		if !ok {
			return nil, fmt.Errorf("gamepad_button: unknown button %q", r.Button)
		}
		return nil, a.updatePad(true, func(s *protocol.GamepadState) { s.SetPressed(button, r.Pressed) })

	case ipc.GamepadDpad:
		dir, ok := dpadNames[strings.ToLower(r.Direction)]
		if !ok {
			return nil, fmt.Errorf("gamepad_dpad: unknown direction %q", r.Direction)
		}
		return nil, a.updatePad(false, func(s *protocol.GamepadState) { s.Dpad[dir] = r.Pressed })

	case ipc.GamepadThumb:
		x, y := clampAxis(r.X), clampAxis(r.Y)
		switch strings.ToLower(r.Stick) {
		case "left":
			return nil, a.updatePad(false, func(s *protocol.GamepadState) { s.ThumbLX, s.ThumbLY = x, y })
		case "right":
			return nil, a.updatePad(false, func(s *protocol.GamepadState) { s.ThumbRX, s.ThumbRY = x, y })
		default:
			return nil, fmt.Errorf("gamepad_thumb: unknown stick %q", r.Stick)
		}

	case ipc.Status:
		return a.channel.Status(), nil

	default:
		return nil, fmt.Errorf("unhandled request %T", req)
	}
	return nil, nil
}

// updatePad mutates the virtual controller and notifies subscribed peers.
// Only button edges are queued in the state cache; axes and the d-pad are
// picked up by live polling so they cannot evict pending edges.
func (a *requestApplier) updatePad(edge bool, fn func(*protocol.GamepadState)) error {
	if a.pad == nil {
		return errNoVirtualGamepad
	}
	if _, ok := a.pad.VirtualGamepad(); !ok {
		return errNoVirtualGamepad
	}
	state := a.pad.UpdateState(fn)
	if edge {
		a.channel.PushGamepadState(state)
	}
	a.channel.SendGamepadState()
	return nil
}

var buttonNames = map[string]int{
	"a":      protocol.ButtonA,
	"b":      protocol.ButtonB,
	"x":      protocol.ButtonX,
	"y":      protocol.ButtonY,
	"l1":     protocol.ButtonL1,
	"r1":     protocol.ButtonR1,
	"select": protocol.ButtonSelect,
	"start":  protocol.ButtonStart,
	"l3":     protocol.ButtonL3,
	"r3":     protocol.ButtonR3,
	"l2":     protocol.ButtonL2,
	"r2":     protocol.ButtonR2,
}

var dpadNames = map[string]int{
	"up":    protocol.DpadUp,
	"right": protocol.DpadRight,
	"down":  protocol.DpadDown,
	"left":  protocol.DpadLeft,
}

func clampAxis(v float32) float32 {
	switch {
	case v < -1:
		return -1
	case v > 1:
		return 1
	}
	return v
}
