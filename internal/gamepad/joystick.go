// Package gamepad supplies the controllers the peer can bind to: physical
// Linux joystick devices (js*) and the profile's virtual gamepad.
package gamepad

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/0xcafed00d/joystick"

	"winbridge/internal/protocol"
)

// Opener opens joystick index i. joystick.Open in production.
type Opener func(i int) (joystick.Joystick, error)

// xpad axis layout as reported by the Linux joystick API.
const (
	axisLX = iota
	axisLY
	axisLT
	axisRX
	axisRY
	axisRT
	axisHatX
	axisHatY
)

// xpad button layout. Guide (8) has no peer equivalent.
var xpadButtons = [...]struct {
	bit    uint
	button int
}{
	{0, protocol.ButtonA},
	{1, protocol.ButtonB},
	{2, protocol.ButtonX},
	{3, protocol.ButtonY},
	{4, protocol.ButtonL1},
	{5, protocol.ButtonR1},
	{6, protocol.ButtonSelect},
	{7, protocol.ButtonStart},
	{9, protocol.ButtonL3},
	{10, protocol.ButtonR3},
}

const axisMax = 32767

// Device is an opened joystick. ID is assigned per open, so a replugged
// controller is a new device to the peer.
type Device struct {
	id       uint32
	index    int
	name     string
	deadzone float32

	js        joystick.Joystick
	connected atomic.Bool
	closeOnce sync.Once
}

func newDevice(id uint32, index int, js joystick.Joystick, deadzone float32) *Device {
	d := &Device{
		id:       id,
		index:    index,
		name:     js.Name(),
		deadzone: deadzone,
		js:       js,
	}
	d.connected.Store(true)
	return d
}

func (d *Device) ID() uint32      { return d.id }
func (d *Device) Name() string    { return d.name }
func (d *Device) Index() int      { return d.index }
func (d *Device) Connected() bool { return d.connected.Load() }

// State reads the current snapshot. A read error marks the device
// disconnected and yields a neutral state.
func (d *Device) State() protocol.GamepadState {
	if !d.Connected() {
		return protocol.GamepadState{}
	}
	st, err := d.js.Read()
	if err != nil {
		d.connected.Store(false)
		return protocol.GamepadState{}
	}
	return mapState(st, d.deadzone)
}

// Close releases the device and marks it disconnected.
func (d *Device) Close() {
	d.connected.Store(false)
	d.closeOnce.Do(d.js.Close)
}

// mapState converts a raw xpad report into a GamepadState.
func mapState(st joystick.State, deadzone float32) protocol.GamepadState {
	var s protocol.GamepadState

	for _, b := range xpadButtons {
		if st.Buttons&(1<<b.bit) != 0 {
			s.SetPressed(b.button, true)
		}
	}

	axis := func(i int) int {
		if i < len(st.AxisData) {
			return st.AxisData[i]
		}
		return 0
	}

	s.ThumbLX = normalizeAxis(axis(axisLX), deadzone)
	s.ThumbLY = normalizeAxis(axis(axisLY), deadzone)
	s.ThumbRX = normalizeAxis(axis(axisRX), deadzone)
	s.ThumbRY = normalizeAxis(axis(axisRY), deadzone)

	// Triggers rest at -32767; past the midpoint counts as pressed.
	if len(st.AxisData) > axisRT {
		s.SetPressed(protocol.ButtonL2, axis(axisLT) > 0)
		s.SetPressed(protocol.ButtonR2, axis(axisRT) > 0)
	}

	hx, hy := axis(axisHatX), axis(axisHatY)
	s.Dpad[protocol.DpadLeft] = hx < 0
	s.Dpad[protocol.DpadRight] = hx > 0
	s.Dpad[protocol.DpadUp] = hy < 0
	s.Dpad[protocol.DpadDown] = hy > 0

	return s
}

func normalizeAxis(v int, deadzone float32) float32 {
	f := float32(v) / axisMax
	if f > 1 {
		f = 1
	} else if f < -1 {
		f = -1
	}
	if float32(math.Abs(float64(f))) < deadzone {
		return 0
	}
	return f
}
