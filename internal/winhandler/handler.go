// Package winhandler is the host side of the control channel to the
// emulated Windows peer. It originates fire-and-forget commands (exec, kill,
// affinity, input injection) and answers the peer's process and gamepad
// queries over loopback UDP.
//
// Concurrency model:
//   - One dispatcher goroutine drains the command queue once the peer's INIT
//     handshake has arrived, in submission order.
//   - One listener goroutine blocks on the socket and routes requests; replies
//     are queued behind earlier commands, never sent directly.
//   - Queue, handshake flag, gamepad binding and state cache share one mutex.
//     Encoding allocates per message, so the socket write itself happens
//     outside the lock.
package winhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"winbridge/internal/protocol"
)

// Default endpoints. The host listens on ServerPort; the peer listens on
// ClientPort.
const (
	DefaultServerPort = 7947
	DefaultClientPort = 7946
)

var (
	ErrAlreadyRunning = errors.New("winhandler: already running")
	ErrNotRunning     = errors.New("winhandler: not running")
	ErrStopped        = errors.New("winhandler: stopped")
)

// PacketListener opens the channel socket. Tests swap in an in-memory conn.
type PacketListener func(ctx context.Context, addr string) (net.PacketConn, error)

// Config wires a Handler to its endpoints and collaborators.
type Config struct {
	// ListenAddr is the local UDP address. Default "127.0.0.1:7947".
	ListenAddr string

	// PeerHost is resolved once per Start; resolution failure falls back
	// to 127.0.0.1. Default "localhost".
	PeerHost string

	// PeerPort is where commands are sent. Replies to peer queries go to the
	// query's source port instead. Default 7946.
	PeerPort int

	// Mapper is the initial mapper type reported in GET_GAMEPAD replies.
	Mapper protocol.MapperType

	// Gamepads supplies the live controller. Optional.
	Gamepads GamepadProvider

	// Profile supplies the virtual gamepad. Optional.
	Profile ProfileProvider

	// Observer receives lifecycle and gamepad events. It is called from the
	// worker goroutines outside the channel lock and must not block.
	Observer func(Event)

	// Listen overrides socket creation.
	Listen PacketListener
}

func (c Config) withDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = fmt.Sprintf("127.0.0.1:%d", DefaultServerPort)
	}
	if c.PeerHost == "" {
		c.PeerHost = "localhost"
	}
	if c.PeerPort == 0 {
		c.PeerPort = DefaultClientPort
	}
	if c.Mapper == 0 {
		c.Mapper = protocol.MapperStandard
	}
	if c.Listen == nil {
		c.Listen = listenUDP
	}
	return c
}

// Handler is one control channel. Create it with New, then Start it.
// After Stop it may be started again; queued commands do not survive Stop.
type Handler struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	ready   bool
	readyCh chan struct{}
	done    chan struct{}
	wake    chan struct{}
	queue   []Command

	conn   net.PacketConn
	peerIP net.IP

	mapper      protocol.MapperType
	binding     Gamepad
	cache       *stateCache
	notifyPorts []int

	onProcess ProcessInfoListener
	onCursor  func(x, y int16)

	// collecting holds one token while CollectProcesses owns onProcess.
	collecting chan struct{}

	wg sync.WaitGroup
}

// New constructs a Handler. Nothing is opened until Start.
func New(cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Handler{
		cfg:    cfg,
		logger: logger,
		wake:   make(chan struct{}, 1),
		mapper: cfg.Mapper,
		cache:  newStateCache(gamepadStateCacheSize),

		collecting: make(chan struct{}, 1),
	}
}

// Start resolves the peer address, opens the socket and starts the
// dispatcher and listener. Cancelling ctx stops the channel.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrAlreadyRunning
	}

	peerIP := resolveLoopback(h.cfg.PeerHost, h.logger)

	conn, err := h.cfg.Listen(ctx, h.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.cfg.ListenAddr, err)
	}

	done := make(chan struct{})
	h.conn = conn
	h.peerIP = peerIP
	h.running = true
	h.ready = false
	h.readyCh = make(chan struct{})
	h.done = done

	h.wg.Add(2)
	go h.runDispatcher(done)
	go h.runListener(conn, done)

	// Tie the channel lifetime to ctx.
	go func() {
		select {
		case <-ctx.Done():
			h.Stop()
		case <-done:
		}
	}()

	h.logger.Info("winhandler started",
		"listen_addr", conn.LocalAddr().String(),
		"peer_ip", peerIP.String(),
		"peer_port", h.cfg.PeerPort)
	return nil
}

// Stop closes the socket and releases both workers. It is safe to call more
// than once and from any goroutine, including from callbacks. It does not
// wait; use Wait for that.
func (h *Handler) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.ready = false
	h.queue = nil
	close(h.done)
	conn := h.conn
	observer := h.cfg.Observer
	h.mu.Unlock()

	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		h.logger.Warn("winhandler close failed", "error", err)
	}
	h.logger.Info("winhandler stopped")

	if observer != nil {
		observer(EventStopped{})
	}
}

// Wait blocks until the dispatcher and listener of the last Start have exited.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// WaitReady blocks until the peer's INIT has arrived, the channel stops, or
// ctx ends. Callers choose the timeout through ctx.
func (h *Handler) WaitReady(ctx context.Context) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrNotRunning
	}
	readyCh, done := h.readyCh, h.done
	h.mu.Unlock()

	select {
	case <-readyCh:
		return nil
	case <-done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether the handshake has completed.
func (h *Handler) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// MapperType returns the mapper type reported to the peer.
func (h *Handler) MapperType() protocol.MapperType {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mapper
}

// SetMapperType changes the mapper type used by subsequent GET_GAMEPAD replies.
func (h *Handler) SetMapperType(m protocol.MapperType) {
	h.mu.Lock()
	h.mapper = m
	h.mu.Unlock()
}

// SetCursorListener registers the CURSOR_POS_FEEDBACK callback.
func (h *Handler) SetCursorListener(fn func(x, y int16)) {
	h.mu.Lock()
	h.onCursor = fn
	h.mu.Unlock()
}

// Status is a point-in-time view of the channel.
type Status struct {
	Running      bool                `json:"running"`
	Ready        bool                `json:"ready"`
	Queued       int                 `json:"queued"`
	Mapper       protocol.MapperType `json:"mapper"`
	GamepadID    uint32              `json:"gamepad_id,omitempty"`
	GamepadName  string              `json:"gamepad_name,omitempty"`
	CachedStates int                 `json:"cached_states"`
	NotifyPorts  []int               `json:"notify_ports,omitempty"`
}

func (h *Handler) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Status{
		Running:      h.running,
		Ready:        h.ready,
		Queued:       len(h.queue),
		Mapper:       h.mapper,
		CachedStates: h.cache.len(),
		NotifyPorts:  append([]int(nil), h.notifyPorts...),
	}
	if h.binding != nil {
		st.GamepadID = h.binding.ID()
		st.GamepadName = h.binding.Name()
	}
	return st
}

// resolveLoopback resolves the peer host to an IPv4 address, falling back to
// the literal loopback address.
func resolveLoopback(host string, logger *slog.Logger) net.IP {
	addr, err := net.ResolveIPAddr("ip4", host)
	if err != nil || addr.IP == nil {
		logger.Debug("peer host resolution failed, using 127.0.0.1", "host", host, "error", err)
		return net.IPv4(127, 0, 0, 1)
	}
	return addr.IP
}

// isClosed reports whether ch has been closed.
func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
