package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxPacketSize bounds every datagram in both directions.
const MaxPacketSize = 64

var (
	ErrShortPacket    = errors.New("protocol: packet too short")
	ErrPacketTooLarge = errors.New("protocol: packet exceeds max size")
	ErrUnknownOpcode  = errors.New("protocol: unknown opcode")
)

// ============================================================================
// Wire helpers
// ============================================================================

type writer struct {
	b []byte
}

func newWriter(op Opcode) *writer {
	b := make([]byte, 1, MaxPacketSize)
	b[0] = byte(op)
	return &writer{b: b}
}

func (w *writer) u8(v uint8)   { w.b = append(w.b, v) }
func (w *writer) u16(v uint16) { w.b = binary.LittleEndian.AppendUint16(w.b, v) }
func (w *writer) u32(v uint32) { w.b = binary.LittleEndian.AppendUint32(w.b, v) }
func (w *writer) u64(v uint64) { w.b = binary.LittleEndian.AppendUint64(w.b, v) }
func (w *writer) raw(p []byte) { w.b = append(w.b, p...) }

// str writes a 32-bit length prefix followed by the raw bytes.
func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	w.b = append(w.b, s...)
}

func (w *writer) flag(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) finish() ([]byte, error) {
	if len(w.b) > MaxPacketSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrPacketTooLarge, Opcode(w.b[0]), len(w.b))
	}
	return w.b, nil
}

// reader consumes a payload; the first short read latches err and every
// later read returns zero.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.b)-r.off < n {
		r.err = ErrShortPacket
		return nil
	}
	p := r.b[r.off : r.off+n]
	r.off += n
	return p
}

func (r *reader) remaining() int { return len(r.b) - r.off }

func (r *reader) u8() uint8 {
	p := r.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *reader) u16() uint16 {
	p := r.take(2)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(p)
}

func (r *reader) u32() uint32 {
	p := r.take(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (r *reader) u64() uint64 {
	p := r.take(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

func (r *reader) str() string {
	n := r.u32()
	if r.err != nil {
		return ""
	}
	if int(n) > r.remaining() {
		r.err = ErrShortPacket
		return ""
	}
	return string(r.take(int(n)))
}

// ============================================================================
// Host -> peer encoders
// ============================================================================

// EncodeExec builds EXEC: total length, filename length, args length, filename, args.
// The total length counts both strings plus the two inner length fields.
func EncodeExec(filename, args string) ([]byte, error) {
	w := newWriter(OpExec)
	w.u32(uint32(len(filename) + len(args) + 8))
	w.u32(uint32(len(filename)))
	w.u32(uint32(len(args)))
	w.b = append(w.b, filename...)
	w.b = append(w.b, args...)
	return w.finish()
}

func EncodeKillProcess(name string) ([]byte, error) {
	w := newWriter(OpKillProcess)
	w.str(name)
	return w.finish()
}

func EncodeListProcesses() []byte {
	w := newWriter(OpListProcesses)
	w.u32(0)
	return w.b
}

func EncodeSetProcessAffinity(pid, mask uint32) []byte {
	w := newWriter(OpSetProcessAffinity)
	w.u32(pid)
	w.u32(mask)
	return w.b
}

func EncodeMouseEvent(flags uint32, dx, dy, wheel int16) []byte {
	w := newWriter(OpMouseEvent)
	w.u32(flags)
	w.u16(uint16(dx))
	w.u16(uint16(dy))
	w.u16(uint16(wheel))
	return w.b
}

func EncodeKeyboardEvent(vkey uint8, flags uint32) []byte {
	w := newWriter(OpKeyboardEvent)
	w.u8(vkey)
	w.u32(flags)
	return w.b
}

func EncodeBringToFront(name string, reverse bool) ([]byte, error) {
	w := newWriter(OpBringToFront)
	w.str(name)
	w.flag(reverse)
	return w.finish()
}

// EncodeGamepadInfo builds the GET_GAMEPAD reply for a present gamepad.
// A zero id would read as "absent" on the peer; use EncodeGamepadAbsent for that.
func EncodeGamepadInfo(id uint32, mapper MapperType, name string) ([]byte, error) {
	w := newWriter(OpGetGamepad)
	w.u32(id)
	w.u8(uint8(mapper))
	w.str(name)
	return w.finish()
}

func EncodeGamepadAbsent() []byte {
	w := newWriter(OpGetGamepad)
	w.u32(0)
	return w.b
}

func EncodeGamepadState(id uint32, blob GamepadStateBlob) []byte {
	w := newWriter(OpGetGamepadState)
	w.flag(true)
	w.u32(id)
	w.raw(blob[:])
	return w.b
}

func EncodeGamepadStateAbsent() []byte {
	w := newWriter(OpGetGamepadState)
	w.flag(false)
	return w.b
}

// MaxGamepadNameLen is the longest gamepad name that fits a GET_GAMEPAD reply.
const MaxGamepadNameLen = MaxPacketSize - 1 - 4 - 1 - 4

// ============================================================================
// Peer -> host encoders (used by the peer simulator and tests)
// ============================================================================

func EncodeInit() []byte {
	return []byte{byte(OpInit)}
}

// EncodeProcessRecord builds GET_PROCESS. Names longer than 32 bytes are cut.
func EncodeProcessRecord(rec ProcessRecord) []byte {
	w := newWriter(OpGetProcess)
	w.u16(uint16(rec.Index))
	w.u16(uint16(rec.Total))
	w.u32(rec.Info.PID)
	w.u64(rec.Info.MemoryUsage)
	w.u32(rec.Info.AffinityMask)
	var name [processNameSize]byte
	copy(name[:], rec.Info.Name)
	w.raw(name[:])
	return w.b
}

func EncodeGamepadQuery(xinput, notify bool) []byte {
	w := newWriter(OpGetGamepad)
	w.flag(xinput)
	w.flag(notify)
	return w.b
}

func EncodeGamepadStateQuery(id uint32) []byte {
	w := newWriter(OpGetGamepadState)
	w.u32(id)
	return w.b
}

func EncodeReleaseGamepad() []byte {
	return []byte{byte(OpReleaseGamepad)}
}

func EncodeCursorPos(x, y int16) []byte {
	w := newWriter(OpCursorPosFeedback)
	w.u16(uint16(x))
	w.u16(uint16(y))
	return w.b
}
