package winhandler

import (
	"net"
	"strings"
)

// ============================================================================
// Outbound operations
// ============================================================================

// Exec launches command on the peer. The command is trimmed and split at the
// first space into filename and arguments. A blank command is ignored.
func (h *Handler) Exec(command string) {
	command = strings.TrimSpace(command)
	if command == "" {
		return
	}
	filename, args, _ := strings.Cut(command, " ")
	h.enqueue(CmdExec{Filename: filename, Args: strings.TrimSpace(args)})
}

func (h *Handler) KillProcess(name string) {
	h.enqueue(CmdKillProcess{Name: name})
}

// ListProcesses asks the peer to enumerate its processes. When listener is
// non-nil it replaces the current process listener first. If the request
// cannot be sent, the listener is called once with (0, 0, nil).
func (h *Handler) ListProcesses(listener ProcessInfoListener) {
	h.mu.Lock()
	if listener != nil {
		h.onProcess = listener
	}
	h.enqueueLocked(CmdListProcesses{})
	h.mu.Unlock()
}

func (h *Handler) SetProcessAffinity(pid, mask uint32) {
	h.enqueue(CmdSetProcessAffinity{PID: pid, Mask: mask})
}

func (h *Handler) BringToFront(name string, reverse bool) {
	h.enqueue(CmdBringToFront{Name: name, Reverse: reverse})
}

// MouseEvent injects mouse input. Before the handshake it is dropped, since
// stale pointer motion is worse than none.
func (h *Handler) MouseEvent(flags uint32, dx, dy, wheel int16) {
	h.enqueueRealtime(CmdMouseEvent{Flags: flags, DX: dx, DY: dy, Wheel: wheel})
}

// KeyboardEvent injects a key transition. Dropped before the handshake.
func (h *Handler) KeyboardEvent(vkey uint8, flags uint32) {
	h.enqueueRealtime(CmdKeyboardEvent{VKey: vkey, Flags: flags})
}

// ============================================================================
// Queue
// ============================================================================

func (h *Handler) enqueue(cmd Command) {
	h.mu.Lock()
	h.enqueueLocked(cmd)
	h.mu.Unlock()
}

func (h *Handler) enqueueRealtime(cmd Command) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.ready {
		h.logger.Debug("dropping input before handshake", "command", cmd)
		return
	}
	h.enqueueLocked(cmd)
}

// enqueueLocked appends cmd and wakes the dispatcher. Caller holds h.mu.
func (h *Handler) enqueueLocked(cmd Command) {
	h.queue = append(h.queue, cmd)
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// signalLocked wakes the dispatcher without queueing anything.
func (h *Handler) signalLocked() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// ============================================================================
// Dispatcher
// ============================================================================

// runDispatcher is the only goroutine that sends queued commands, which keeps
// them in submission order. It sleeps until woken and sends nothing until the
// handshake has completed.
func (h *Handler) runDispatcher(done <-chan struct{}) {
	defer h.wg.Done()

	for {
		h.mu.Lock()
		for h.ready && len(h.queue) > 0 && !isClosed(done) {
			cmd := h.queue[0]
			h.queue[0] = nil
			h.queue = h.queue[1:]
			conn, peer := h.conn, h.peerIP
			h.mu.Unlock()

			h.send(conn, peer, cmd)

			h.mu.Lock()
		}
		h.mu.Unlock()

		select {
		case <-done:
			return
		case <-h.wake:
		}
	}
}

// send encodes and transmits one command. Failures are logged and swallowed;
// a failed LIST_PROCESSES reports an empty enumeration.
func (h *Handler) send(conn net.PacketConn, peer net.IP, cmd Command) {
	payload, port, err := encodeCommand(cmd)
	if err != nil {
		h.logger.Warn("dropping unencodable command", "command", cmd, "error", err)
		return
	}
	if port == 0 {
		port = h.cfg.PeerPort
	}

	if _, err := conn.WriteTo(payload, &net.UDPAddr{IP: peer, Port: port}); err != nil {
		h.logger.Warn("send failed", "command", cmd, "port", port, "error", err)
		if _, ok := cmd.(CmdListProcesses); ok {
			h.mu.Lock()
			listener := h.onProcess
			h.mu.Unlock()
			if listener != nil {
				listener(0, 0, nil)
			}
		}
		return
	}
	h.logger.Debug("sent", "command", cmd, "port", port, "bytes", len(payload))
}
