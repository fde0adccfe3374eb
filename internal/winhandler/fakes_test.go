package winhandler

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"winbridge/internal/protocol"
)

// ============================================================================
// In-memory PacketConn
// ============================================================================

type datagram struct {
	data []byte
	addr *net.UDPAddr
}

type fakeConn struct {
	mu       sync.Mutex
	sent     []datagram
	failed   int
	writeErr error

	inbound   chan datagram
	readErr   chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan datagram, 64),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case d := <-f.inbound:
		return copy(p, d.data), d.addr, nil
	case err := <-f.readErr:
		return 0, nil, err
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		f.failed++
		return 0, f.writeErr
	}
	f.sent = append(f.sent, datagram{data: append([]byte(nil), p...), addr: addr.(*net.UDPAddr)})
	return len(p), nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: DefaultServerPort}
}

func (f *fakeConn) SetDeadline(time.Time) error      { return nil }
func (f *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) setWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

func (f *fakeConn) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeConn) failedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed
}

func (f *fakeConn) sentAt(i int) datagram {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[i]
}

// failRead makes the next ReadFrom return err while the socket stays open.
func (f *fakeConn) failRead(err error) {
	f.readErr <- err
}

// inject delivers a datagram as if the peer sent it from port.
func (f *fakeConn) inject(data []byte, port int) {
	f.inbound <- datagram{data: data, addr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}}
}

// ============================================================================
// Gamepad fakes
// ============================================================================

type fakeGamepad struct {
	mu        sync.Mutex
	id        uint32
	name      string
	connected bool
	state     protocol.GamepadState
}

func (g *fakeGamepad) ID() uint32   { return g.id }
func (g *fakeGamepad) Name() string { return g.name }

func (g *fakeGamepad) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

func (g *fakeGamepad) State() protocol.GamepadState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *fakeGamepad) disconnect() {
	g.mu.Lock()
	g.connected = false
	g.mu.Unlock()
}

type fakeProvider struct {
	mu  sync.Mutex
	pad Gamepad
}

func (p *fakeProvider) Gamepad() Gamepad {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pad
}

func (p *fakeProvider) set(pad Gamepad) {
	p.mu.Lock()
	p.pad = pad
	p.mu.Unlock()
}

type fakeProfile struct {
	mu      sync.Mutex
	virtual Gamepad
}

func (p *fakeProfile) VirtualGamepad() (Gamepad, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.virtual, p.virtual != nil
}

// ============================================================================
// Helpers
// ============================================================================

const peerPort = 50123

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startTestHandler starts a Handler on a fake conn and stops it at cleanup.
func startTestHandler(t *testing.T, cfg Config) (*Handler, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	cfg.PeerHost = "127.0.0.1"
	cfg.Listen = func(context.Context, string) (net.PacketConn, error) { return conn, nil }

	h := New(cfg, testLogger())
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		h.Stop()
		h.Wait()
	})
	return h, conn
}

// handshake injects INIT and waits for the channel to become ready.
func handshake(t *testing.T, h *Handler, conn *fakeConn) {
	t.Helper()
	conn.inject(protocol.EncodeInit(), DefaultClientPort)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
}

// nextSent waits for datagram i and decodes it as a host command.
func nextSent(t *testing.T, conn *fakeConn, i int) (protocol.Message, *net.UDPAddr) {
	t.Helper()
	waitUntil(t, time.Second, func() bool { return conn.sentCount() > i }, "datagram not sent")
	d := conn.sentAt(i)
	msg, err := protocol.DecodeCommand(d.data)
	if err != nil {
		t.Fatalf("DecodeCommand(% x): %v", d.data, err)
	}
	return msg, d.addr
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

// eventRecorder collects observer events from the worker goroutines.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) observe(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) count(match func(Event) bool) int {
	n := 0
	for _, ev := range r.snapshot() {
		if match(ev) {
			n++
		}
	}
	return n
}
