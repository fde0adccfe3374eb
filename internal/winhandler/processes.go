package winhandler

import (
	"context"
	"sync"

	"winbridge/internal/protocol"
)

// ProcessInfoListener receives one GET_PROCESS record per call. A call with
// total 0 and a nil info means the enumeration produced nothing, including
// when the request could not be sent.
type ProcessInfoListener func(index, total int, info *protocol.ProcessInfo)

// SetProcessInfoListener replaces the process listener.
func (h *Handler) SetProcessInfoListener(listener ProcessInfoListener) {
	h.mu.Lock()
	h.onProcess = listener
	h.mu.Unlock()
}

// ProcessSession folds listener calls into one enumeration result. It is
// complete after the record with index total-1, or after an empty result.
// Not safe for concurrent use.
type ProcessSession struct {
	processes []protocol.ProcessInfo
	done      bool
}

// Add records one listener call and reports whether the session is complete.
func (s *ProcessSession) Add(index, total int, info *protocol.ProcessInfo) bool {
	if s.done {
		return true
	}
	if info == nil || total <= 0 {
		s.done = true
		return true
	}
	s.processes = append(s.processes, *info)
	if index >= total-1 {
		s.done = true
	}
	return s.done
}

func (s *ProcessSession) Done() bool { return s.done }

// Processes returns the records gathered so far, in arrival order.
func (s *ProcessSession) Processes() []protocol.ProcessInfo {
	return append([]protocol.ProcessInfo(nil), s.processes...)
}

// CollectProcesses runs one enumeration and waits for it to complete. It
// installs its own process listener, so concurrent callers take turns; the
// wait for a turn counts against ctx. Datagrams may be lost, so callers should
// bound ctx; on timeout the partial result is discarded.
func (h *Handler) CollectProcesses(ctx context.Context) ([]protocol.ProcessInfo, error) {
	select {
	case h.collecting <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-h.collecting }()

	var (
		mu      sync.Mutex
		session ProcessSession
		once    sync.Once
		done    = make(chan struct{})
	)

	h.ListProcesses(func(index, total int, info *protocol.ProcessInfo) {
		mu.Lock()
		complete := session.Add(index, total, info)
		mu.Unlock()
		if complete {
			once.Do(func() { close(done) })
		}
	})

	select {
	case <-done:
		mu.Lock()
		defer mu.Unlock()
		return session.Processes(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
