package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func TestEncodeKeyboardEvent_Layout(t *testing.T) {
	got := EncodeKeyboardEvent(0x41, KeyUp)
	want := []byte{byte(OpKeyboardEvent), 0x41, 0x02, 0x00, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeKeyboardEvent = % x, want % x", got, want)
	}
}

func TestEncodeMouseEvent_SignedDeltasLittleEndian(t *testing.T) {
	got := EncodeMouseEvent(MouseMove|MouseWheel, -2, 300, -120)
	if len(got) != 11 {
		t.Fatalf("expected 11 bytes, got %d", len(got))
	}
	if Opcode(got[0]) != OpMouseEvent {
		t.Fatalf("opcode = %s, want MOUSE_EVENT", Opcode(got[0]))
	}
	if flags := binary.LittleEndian.Uint32(got[1:5]); flags != 0x0801 {
		t.Errorf("flags = %#x, want 0x801", flags)
	}
	if dx := int16(binary.LittleEndian.Uint16(got[5:7])); dx != -2 {
		t.Errorf("dx = %d, want -2", dx)
	}
	if dy := int16(binary.LittleEndian.Uint16(got[7:9])); dy != 300 {
		t.Errorf("dy = %d, want 300", dy)
	}
	if wheel := int16(binary.LittleEndian.Uint16(got[9:11])); wheel != -120 {
		t.Errorf("wheel = %d, want -120", wheel)
	}
}

func TestEncodeExec_LengthFields(t *testing.T) {
	got, err := EncodeExec("notepad.exe", "a.txt")
	if err != nil {
		t.Fatalf("EncodeExec: %v", err)
	}
	total := binary.LittleEndian.Uint32(got[1:5])
	fnLen := binary.LittleEndian.Uint32(got[5:9])
	argsLen := binary.LittleEndian.Uint32(got[9:13])
	if fnLen != 11 || argsLen != 5 {
		t.Fatalf("lengths = (%d, %d), want (11, 5)", fnLen, argsLen)
	}
	if total != 11+5+8 {
		t.Errorf("total = %d, want %d", total, 11+5+8)
	}
	if string(got[13:]) != "notepad.exea.txt" {
		t.Errorf("payload = %q", got[13:])
	}
}

func TestEncodeExec_TooLarge(t *testing.T) {
	_, err := EncodeExec(strings.Repeat("x", 60), "")
	if !errors.Is(err, ErrPacketTooLarge) {
		t.Fatalf("expected ErrPacketTooLarge, got %v", err)
	}
}

func TestEncodeBringToFront_ReverseFlag(t *testing.T) {
	got, err := EncodeBringToFront("game.exe", true)
	if err != nil {
		t.Fatalf("EncodeBringToFront: %v", err)
	}
	if n := binary.LittleEndian.Uint32(got[1:5]); n != 8 {
		t.Fatalf("name length = %d, want 8", n)
	}
	if got[len(got)-1] != 1 {
		t.Errorf("reverse flag = %d, want 1", got[len(got)-1])
	}
}

func TestEncodeGamepadAbsent_IsBareZeroID(t *testing.T) {
	want := []byte{byte(OpGetGamepad), 0, 0, 0, 0}
	if got := EncodeGamepadAbsent(); !bytes.Equal(got, want) {
		t.Fatalf("EncodeGamepadAbsent = % x, want % x", got, want)
	}
	want = []byte{byte(OpGetGamepadState), 0}
	if got := EncodeGamepadStateAbsent(); !bytes.Equal(got, want) {
		t.Fatalf("EncodeGamepadStateAbsent = % x, want % x", got, want)
	}
}

func TestEncodeGamepadInfo_MaxName(t *testing.T) {
	if _, err := EncodeGamepadInfo(7, MapperXInput, strings.Repeat("n", MaxGamepadNameLen)); err != nil {
		t.Fatalf("name of MaxGamepadNameLen should fit: %v", err)
	}
	if _, err := EncodeGamepadInfo(7, MapperXInput, strings.Repeat("n", MaxGamepadNameLen+1)); !errors.Is(err, ErrPacketTooLarge) {
		t.Fatalf("expected ErrPacketTooLarge, got %v", err)
	}
}

func TestDecodeRequest_GetProcess(t *testing.T) {
	raw := EncodeProcessRecord(ProcessRecord{
		Index: 2,
		Total: 5,
		Info: ProcessInfo{
			PID:          4242,
			Name:         "explorer.exe",
			MemoryUsage:  1 << 33,
			AffinityMask: 0x0f,
		},
	})
	if len(raw) != 53 {
		t.Fatalf("GET_PROCESS is %d bytes, want 53", len(raw))
	}

	msg, err := DecodeRequest(raw)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	rec, ok := msg.(ProcessRecord)
	if !ok {
		t.Fatalf("expected ProcessRecord, got %T", msg)
	}
	if rec.Index != 2 || rec.Total != 5 {
		t.Errorf("index/total = %d/%d, want 2/5", rec.Index, rec.Total)
	}
	if rec.Info.Name != "explorer.exe" {
		t.Errorf("name = %q, want explorer.exe (NUL padding trimmed)", rec.Info.Name)
	}
	if rec.Info.PID != 4242 || rec.Info.MemoryUsage != 1<<33 || rec.Info.AffinityMask != 0x0f {
		t.Errorf("unexpected record: %+v", rec.Info)
	}
	if rec.Last() {
		t.Errorf("index 2 of 5 must not be last")
	}
}

func TestDecodeRequest_ShortPacket(t *testing.T) {
	raw := EncodeGamepadStateQuery(9)[:3]
	_, err := DecodeRequest(raw)
	if !errors.Is(err, ErrShortPacket) {
		t.Fatalf("expected ErrShortPacket, got %v", err)
	}
	if _, err := DecodeRequest(nil); !errors.Is(err, ErrShortPacket) {
		t.Fatalf("empty datagram: expected ErrShortPacket, got %v", err)
	}
}

func TestDecodeRequest_UnknownOpcode(t *testing.T) {
	_, err := DecodeRequest([]byte{0xee, 1, 2})
	if !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("expected ErrUnknownOpcode, got %v", err)
	}
}

func TestDecodeRequest_GamepadQueryFlags(t *testing.T) {
	msg, err := DecodeRequest([]byte{byte(OpGetGamepad)})
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if q := msg.(GamepadQuery); q.XInput || q.Notify {
		t.Errorf("flagless query should decode as zero value, got %+v", q)
	}

	msg, err = DecodeRequest(EncodeGamepadQuery(true, true))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if q := msg.(GamepadQuery); !q.XInput || !q.Notify {
		t.Errorf("expected both flags set, got %+v", q)
	}
}

func TestDecodeCommand_Exec(t *testing.T) {
	raw, err := EncodeExec("wfm.exe", "")
	if err != nil {
		t.Fatalf("EncodeExec: %v", err)
	}
	msg, err := DecodeCommand(raw)
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	if m := msg.(Exec); m.Filename != "wfm.exe" || m.Args != "" {
		t.Errorf("unexpected exec: %+v", m)
	}
}

func TestDecodeCommand_GamepadReplies(t *testing.T) {
	raw, err := EncodeGamepadInfo(3, MapperStandard, "pad")
	if err != nil {
		t.Fatalf("EncodeGamepadInfo: %v", err)
	}
	msg, err := DecodeCommand(raw)
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	info := msg.(GamepadInfo)
	if info.ID != 3 || info.Mapper != MapperStandard || info.Name != "pad" {
		t.Errorf("unexpected info: %+v", info)
	}

	var st GamepadState
	st.SetPressed(ButtonStart, true)
	msg, err = DecodeCommand(EncodeGamepadState(3, st.Blob()))
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	reply := msg.(GamepadStateReply)
	if !reply.Present || reply.ID != 3 || !reply.State.State().IsPressed(ButtonStart) {
		t.Errorf("unexpected state reply: %+v", reply)
	}
}

func TestGamepadState_PovHat(t *testing.T) {
	cases := []struct {
		name string
		dpad [4]bool
		want int8
	}{
		{"centered", [4]bool{}, -1},
		{"up", [4]bool{true, false, false, false}, 0},
		{"up-right", [4]bool{true, true, false, false}, 1},
		{"right", [4]bool{false, true, false, false}, 2},
		{"down-right", [4]bool{false, true, true, false}, 3},
		{"down", [4]bool{false, false, true, false}, 4},
		{"down-left", [4]bool{false, false, true, true}, 5},
		{"left", [4]bool{false, false, false, true}, 6},
		{"up-left", [4]bool{true, false, false, true}, 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := GamepadState{Dpad: tc.dpad}
			if got := s.PovHat(); got != tc.want {
				t.Fatalf("PovHat() = %d, want %d", got, tc.want)
			}
			if back := s.Blob().State().PovHat(); back != tc.want {
				t.Fatalf("PovHat after blob = %d, want %d", back, tc.want)
			}
		})
	}
}

func TestGamepadStateBlob_Layout(t *testing.T) {
	s := GamepadState{ThumbLX: 1, ThumbLY: -1, ThumbRX: 2, ThumbRY: 0}
	s.SetPressed(ButtonA, true)
	s.SetPressed(ButtonR2, true)
	b := s.Blob()

	if buttons := binary.LittleEndian.Uint16(b[0:2]); buttons != 1|1<<ButtonR2 {
		t.Errorf("buttons = %#x", buttons)
	}
	if int8(b[2]) != -1 {
		t.Errorf("hat = %d, want -1", int8(b[2]))
	}
	if lx := int16(binary.LittleEndian.Uint16(b[3:5])); lx != 32767 {
		t.Errorf("lx = %d, want 32767", lx)
	}
	if ly := int16(binary.LittleEndian.Uint16(b[5:7])); ly != -32767 {
		t.Errorf("ly = %d, want -32767", ly)
	}
	if rx := int16(binary.LittleEndian.Uint16(b[7:9])); rx != 32767 {
		t.Errorf("rx = %d, want 32767 (clamped)", rx)
	}

	s.SetPressed(ButtonA, false)
	if s.IsPressed(ButtonA) {
		t.Errorf("ButtonA should be released")
	}
	s.SetPressed(99, true)
	if s.Buttons != 1<<ButtonR2 {
		t.Errorf("out of range button changed state: %#x", s.Buttons)
	}
}
