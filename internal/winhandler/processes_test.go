package winhandler

import (
	"testing"

	"winbridge/internal/protocol"
)

func TestProcessSession_CompletesOnLastIndex(t *testing.T) {
	var s ProcessSession
	for i := 0; i < 3; i++ {
		info := &protocol.ProcessInfo{PID: uint32(i + 1)}
		done := s.Add(i, 3, info)
		if want := i == 2; done != want {
			t.Fatalf("Add(%d, 3) = %v, want %v", i, done, want)
		}
	}
	procs := s.Processes()
	if len(procs) != 3 || procs[2].PID != 3 {
		t.Fatalf("processes = %+v", procs)
	}

	// Late records after completion are ignored.
	s.Add(0, 3, &protocol.ProcessInfo{PID: 99})
	if len(s.Processes()) != 3 {
		t.Fatalf("record accepted after completion")
	}
}

func TestProcessSession_EmptyResult(t *testing.T) {
	var s ProcessSession
	if !s.Add(0, 0, nil) {
		t.Fatalf("empty result must complete the session")
	}
	if !s.Done() || len(s.Processes()) != 0 {
		t.Fatalf("unexpected session state: done=%v procs=%d", s.Done(), len(s.Processes()))
	}
}
