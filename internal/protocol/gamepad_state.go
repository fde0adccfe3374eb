package protocol

import (
	"encoding/binary"
	"math"
)

// Gamepad button indices; bit i of GamepadState.Buttons is button i.
const (
	ButtonA = iota
	ButtonB
	ButtonX
	ButtonY
	ButtonL1
	ButtonR1
	ButtonSelect
	ButtonStart
	ButtonL3
	ButtonR3
	ButtonL2
	ButtonR2

	ButtonCount
)

// D-pad directions, clockwise from up.
const (
	DpadUp = iota
	DpadRight
	DpadDown
	DpadLeft
)

// GamepadStateSize is the size of the serialized state blob carried in
// GET_GAMEPAD_STATE replies.
const GamepadStateSize = 11

// GamepadStateBlob is a serialized GamepadState. It is comparable, which the
// state cache relies on.
type GamepadStateBlob [GamepadStateSize]byte

// GamepadState is one snapshot of a controller.
// Thumb axes are in [-1, 1]; values outside are clamped when serialized.
type GamepadState struct {
	Buttons uint16
	Dpad    [4]bool

	ThumbLX float32
	ThumbLY float32
	ThumbRX float32
	ThumbRY float32
}

// SetPressed sets or clears a button by index. Out of range indices are ignored.
func (s *GamepadState) SetPressed(button int, pressed bool) {
	if button < 0 || button >= ButtonCount {
		return
	}
	if pressed {
		s.Buttons |= 1 << button
	} else {
		s.Buttons &^= 1 << button
	}
}

// IsPressed reports whether the button at index is down.
func (s GamepadState) IsPressed(button int) bool {
	if button < 0 || button >= ButtonCount {
		return false
	}
	return s.Buttons&(1<<button) != 0
}

// PovHat folds the four d-pad booleans into a hat position: -1 when centered,
// otherwise 0..7 clockwise starting at up.
func (s GamepadState) PovHat() int8 {
	d := s.Dpad
	switch {
	case d[DpadUp] && d[DpadRight]:
		return 1
	case d[DpadRight] && d[DpadDown]:
		return 3
	case d[DpadDown] && d[DpadLeft]:
		return 5
	case d[DpadLeft] && d[DpadUp]:
		return 7
	case d[DpadUp]:
		return 0
	case d[DpadRight]:
		return 2
	case d[DpadDown]:
		return 4
	case d[DpadLeft]:
		return 6
	}
	return -1
}

// Blob serializes the state into its fixed wire form.
func (s GamepadState) Blob() GamepadStateBlob {
	var b GamepadStateBlob
	binary.LittleEndian.PutUint16(b[0:2], s.Buttons)
	b[2] = byte(s.PovHat())
	binary.LittleEndian.PutUint16(b[3:5], uint16(axisToWire(s.ThumbLX)))
	binary.LittleEndian.PutUint16(b[5:7], uint16(axisToWire(s.ThumbLY)))
	binary.LittleEndian.PutUint16(b[7:9], uint16(axisToWire(s.ThumbRX)))
	binary.LittleEndian.PutUint16(b[9:11], uint16(axisToWire(s.ThumbRY)))
	return b
}

// State decodes a blob back into a GamepadState. Axis values lose precision
// to the 16-bit wire resolution.
func (b GamepadStateBlob) State() GamepadState {
	s := GamepadState{
		Buttons: binary.LittleEndian.Uint16(b[0:2]),
		ThumbLX: axisFromWire(int16(binary.LittleEndian.Uint16(b[3:5]))),
		ThumbLY: axisFromWire(int16(binary.LittleEndian.Uint16(b[5:7]))),
		ThumbRX: axisFromWire(int16(binary.LittleEndian.Uint16(b[7:9]))),
		ThumbRY: axisFromWire(int16(binary.LittleEndian.Uint16(b[9:11]))),
	}
	switch int8(b[2]) {
	case 0:
		s.Dpad[DpadUp] = true
	case 1:
		s.Dpad[DpadUp], s.Dpad[DpadRight] = true, true
	case 2:
		s.Dpad[DpadRight] = true
	case 3:
		s.Dpad[DpadRight], s.Dpad[DpadDown] = true, true
	case 4:
		s.Dpad[DpadDown] = true
	case 5:
		s.Dpad[DpadDown], s.Dpad[DpadLeft] = true, true
	case 6:
		s.Dpad[DpadLeft] = true
	case 7:
		s.Dpad[DpadLeft], s.Dpad[DpadUp] = true, true
	}
	return s
}

func axisToWire(v float32) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(float64(v) * math.MaxInt16))
}

func axisFromWire(v int16) float32 {
	f := float32(v) / math.MaxInt16
	if f < -1 {
		f = -1
	}
	return f
}
