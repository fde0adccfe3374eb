package winhandler

import (
	"net"

	"winbridge/internal/protocol"
)

// runListener receives datagrams until the socket closes. A receive error
// while running stops the whole channel; it is not restarted.
func (h *Handler) runListener(conn net.PacketConn, done <-chan struct{}) {
	defer h.wg.Done()

	buf := make([]byte, protocol.MaxPacketSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if isClosed(done) {
				return
			}
			h.logger.Error("receive failed, stopping channel", "error", err)
			h.Stop()
			return
		}

		msg, err := protocol.DecodeRequest(buf[:n])
		if err != nil {
			h.logger.Debug("ignoring datagram", "from", addr, "bytes", n, "error", err)
			continue
		}

		for _, fn := range h.route(msg, sourcePort(addr)) {
			fn()
		}
	}
}

func sourcePort(addr net.Addr) int {
	if ua, ok := addr.(*net.UDPAddr); ok {
		return ua.Port
	}
	return 0
}

// deferred collects callbacks to run once the channel lock is released.
type deferred []func()

func (d *deferred) add(fn func()) { *d = append(*d, fn) }

// route applies msg to the channel state under the lock. Listener and
// observer callbacks are returned rather than run, so user code never
// executes while the lock is held.
func (h *Handler) route(msg protocol.Message, port int) deferred {
	h.mu.Lock()
	defer h.mu.Unlock()

	var post deferred

	switch m := msg.(type) {
	case protocol.Init:
		// A datagram read just before Stop may still be routed.
		if h.running && !h.ready {
			h.ready = true
			close(h.readyCh)
			h.logger.Info("peer handshake received", "queued", len(h.queue))
			h.emitLocked(&post, EventReady{})
		}
		h.signalLocked()

	case protocol.ProcessRecord:
		if listener := h.onProcess; listener != nil {
			info := m.Info
			post.add(func() { listener(m.Index, m.Total, &info) })
		}

	case protocol.GamepadQuery:
		h.handleGamepadQueryLocked(m, port, &post)

	case protocol.GamepadStateQuery:
		h.handleGamepadStateQueryLocked(m, port, &post)

	case protocol.ReleaseGamepad:
		h.releaseLocked("peer released", &post)

	case protocol.CursorPos:
		if listener := h.onCursor; listener != nil {
			post.add(func() { listener(m.X, m.Y) })
		}
		h.emitLocked(&post, EventCursorPos{X: m.X, Y: m.Y})

	default:
		h.logger.Debug("ignoring unexpected message", "opcode", msg.Opcode())
	}

	return post
}

func (h *Handler) emitLocked(post *deferred, ev Event) {
	if observer := h.cfg.Observer; observer != nil {
		post.add(func() { observer(ev) })
	}
}
