package winhandler

import (
	"winbridge/internal/protocol"
)

// Gamepad is a controller the peer can be bound to: a physical device or
// the profile's virtual gamepad. Implementations are called with the channel
// lock held and must not call back into the Handler.
type Gamepad interface {
	ID() uint32
	Name() string
	Connected() bool
	State() protocol.GamepadState
}

// GamepadProvider returns the currently attached controller, or nil.
type GamepadProvider interface {
	Gamepad() Gamepad
}

// ProfileProvider exposes the active profile's virtual gamepad. When one is
// enabled it takes precedence over physical devices.
type ProfileProvider interface {
	VirtualGamepad() (Gamepad, bool)
}

// gamepadStateCacheSize bounds the number of injected snapshots waiting to
// be served.
const gamepadStateCacheSize = 20

// stateCache is a FIFO of injected gamepad snapshots. When full, the oldest
// snapshot is evicted to make room.
type stateCache struct {
	items []protocol.GamepadStateBlob
	max   int
}

func newStateCache(max int) *stateCache {
	return &stateCache{items: make([]protocol.GamepadStateBlob, 0, max), max: max}
}

// push appends b, evicting the oldest entry when full. It reports whether an
// entry was evicted.
func (c *stateCache) push(b protocol.GamepadStateBlob) bool {
	evicted := false
	if len(c.items) == c.max {
		copy(c.items, c.items[1:])
		c.items = c.items[:len(c.items)-1]
		evicted = true
	}
	c.items = append(c.items, b)
	return evicted
}

// pop removes and returns the oldest entry.
func (c *stateCache) pop() (protocol.GamepadStateBlob, bool) {
	if len(c.items) == 0 {
		return protocol.GamepadStateBlob{}, false
	}
	b := c.items[0]
	copy(c.items, c.items[1:])
	c.items = c.items[:len(c.items)-1]
	return b, true
}

func (c *stateCache) len() int { return len(c.items) }

func (c *stateCache) clear() { c.items = c.items[:0] }

// ============================================================================
// Public gamepad operations
// ============================================================================

// PushGamepadState records a discrete snapshot (for example from on-screen
// controls). Queued snapshots are served ahead of live polling, one per
// GET_GAMEPAD_STATE query.
func (h *Handler) PushGamepadState(state protocol.GamepadState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cache.push(state.Blob()) {
		h.logger.Debug("gamepad state cache full, evicted oldest snapshot")
	}
}

// SendGamepadState pushes the current state of the bound gamepad to every
// peer that subscribed with the notify flag. Without subscribers or a bound
// gamepad it does nothing.
func (h *Handler) SendGamepadState() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.notifyPorts) == 0 {
		return
	}
	pad := h.activeGamepadLocked()
	if pad == nil {
		return
	}
	blob := pad.State().Blob()
	for _, port := range h.notifyPorts {
		h.enqueueLocked(CmdGamepadState{Port: port, Present: true, ID: pad.ID(), State: blob})
	}
}

// ReleaseGamepadBinding drops the current binding, subscribers and any
// queued snapshots.
func (h *Handler) ReleaseGamepadBinding() {
	var post deferred
	h.mu.Lock()
	h.releaseLocked("released by host", &post)
	h.mu.Unlock()
	for _, fn := range post {
		fn()
	}
}

// ============================================================================
// Query handling (lock held)
// ============================================================================

func (h *Handler) virtualGamepadLocked() (Gamepad, bool) {
	if h.cfg.Profile == nil {
		return nil, false
	}
	pad, ok := h.cfg.Profile.VirtualGamepad()
	if !ok || pad == nil {
		return nil, false
	}
	return pad, true
}

// activeGamepadLocked returns the virtual gamepad if enabled, else the bound
// device.
func (h *Handler) activeGamepadLocked() Gamepad {
	if pad, ok := h.virtualGamepadLocked(); ok {
		return pad
	}
	return h.binding
}

func (h *Handler) handleGamepadQueryLocked(q protocol.GamepadQuery, port int, post *deferred) {
	if h.binding != nil && !h.binding.Connected() {
		h.unbindLocked("device disconnected", post)
	}

	virtual, useVirtual := h.virtualGamepadLocked()
	if !useVirtual && h.binding == nil && h.cfg.Gamepads != nil {
		if pad := h.cfg.Gamepads.Gamepad(); pad != nil && pad.Connected() {
			h.binding = pad
			h.logger.Info("gamepad bound", "id", pad.ID(), "name", pad.Name())
			h.emitLocked(post, EventGamepadBound{ID: pad.ID(), Name: pad.Name()})
		}
	}

	pad := h.binding
	if useVirtual {
		pad = virtual
	}

	if pad != nil && q.Notify {
		h.subscribeLocked(port)
	} else {
		h.unsubscribeLocked(port)
	}

	reply := CmdGamepadInfo{Port: port}
	if pad != nil {
		reply.Present = true
		reply.ID = pad.ID()
		reply.Mapper = h.mapper
		reply.Name = truncateName(pad.Name(), protocol.MaxGamepadNameLen)
	}
	h.logger.Debug("gamepad query", "xinput", q.XInput, "notify", q.Notify, "reply", reply)
	h.enqueueLocked(reply)
}

func (h *Handler) handleGamepadStateQueryLocked(q protocol.GamepadStateQuery, port int, post *deferred) {
	if h.binding != nil && (h.binding.ID() != q.ID || !h.binding.Connected()) {
		h.unbindLocked("stale gamepad id", post)
	}

	reply := CmdGamepadState{Port: port, ID: q.ID}
	if blob, ok := h.cache.pop(); ok {
		reply.Present = true
		reply.State = blob
	} else if pad := h.activeGamepadLocked(); pad != nil {
		reply.Present = true
		reply.ID = pad.ID()
		reply.State = pad.State().Blob()
	}
	h.enqueueLocked(reply)
}

func (h *Handler) releaseLocked(reason string, post *deferred) {
	h.unbindLocked(reason, post)
	h.notifyPorts = h.notifyPorts[:0]
	h.cache.clear()
}

func (h *Handler) unbindLocked(reason string, post *deferred) {
	if h.binding == nil {
		return
	}
	id := h.binding.ID()
	h.binding = nil
	h.logger.Info("gamepad released", "id", id, "reason", reason)
	h.emitLocked(post, EventGamepadReleased{ID: id, Reason: reason})
}

func (h *Handler) subscribeLocked(port int) {
	for _, p := range h.notifyPorts {
		if p == port {
			return
		}
	}
	h.notifyPorts = append(h.notifyPorts, port)
}

func (h *Handler) unsubscribeLocked(port int) {
	for i, p := range h.notifyPorts {
		if p == port {
			h.notifyPorts = append(h.notifyPorts[:i], h.notifyPorts[i+1:]...)
			return
		}
	}
}

// truncateName cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateName(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xc0 == 0x80 {
		n--
	}
	return s[:n]
}
