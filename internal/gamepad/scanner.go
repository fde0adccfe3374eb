package gamepad

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/0xcafed00d/joystick"
	"github.com/fsnotify/fsnotify"

	"winbridge/internal/winhandler"
)

// ScannerConfig controls device discovery.
type ScannerConfig struct {
	// Dir holds the js* device nodes. Default /dev/input.
	Dir string

	// MaxIndex is the number of js indices probed. Default 4.
	MaxIndex int

	// Deadzone zeroes thumb deflection below this magnitude.
	Deadzone float32

	// Open overrides joystick.Open.
	Open Opener
}

// Scanner tracks the first usable joystick and provides it to the channel.
type Scanner struct {
	cfg    ScannerConfig
	logger *slog.Logger

	mu      sync.Mutex
	current *Device
	nextID  uint32
}

func NewScanner(cfg ScannerConfig, logger *slog.Logger) *Scanner {
	if cfg.Dir == "" {
		cfg.Dir = "/dev/input"
	}
	if cfg.MaxIndex <= 0 {
		cfg.MaxIndex = 4
	}
	if cfg.Open == nil {
		cfg.Open = joystick.Open
	}
	return &Scanner{cfg: cfg, logger: logger}
}

// Gamepad returns the connected device, probing for one if none is open.
func (s *Scanner) Gamepad() winhandler.Gamepad {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || !s.current.Connected() {
		s.rescanLocked()
	}
	if s.current == nil {
		return nil
	}
	return s.current
}

// Current returns the open device or nil.
func (s *Scanner) Current() *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Rescan closes a disconnected device and opens the first available index.
func (s *Scanner) Rescan() {
	s.mu.Lock()
	s.rescanLocked()
	s.mu.Unlock()
}

func (s *Scanner) rescanLocked() {
	if s.current != nil {
		if s.current.Connected() {
			return
		}
		s.current.Close()
		s.current = nil
	}

	for i := 0; i < s.cfg.MaxIndex; i++ {
		js, err := s.cfg.Open(i)
		if err != nil {
			continue
		}
		s.nextID++
		s.current = newDevice(s.nextID, i, js, s.cfg.Deadzone)
		s.logger.Info("joystick opened", "index", i, "id", s.current.ID(), "name", s.current.Name())
		return
	}
}

// removed handles the disappearance of device node jsN.
func (s *Scanner) removed(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.Index() != index {
		return
	}
	s.logger.Info("joystick removed", "index", index, "id", s.current.ID())
	s.current.Close()
	s.current = nil
}

// Run watches Dir for js* hotplug until ctx ends.
func (s *Scanner) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.cfg.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.cfg.Dir, err)
	}
	s.Rescan()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			index, isJoystick := joystickIndex(ev.Name)
			if !isJoystick {
				continue
			}
			switch {
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				s.removed(index)
			case ev.Has(fsnotify.Create):
				s.logger.Debug("joystick node created", "path", ev.Name)
				s.Rescan()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("joystick watcher error", "error", err)
		}
	}
}

// Close releases the open device.
func (s *Scanner) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Close()
		s.current = nil
	}
}

// joystickIndex parses ".../jsN".
func joystickIndex(path string) (int, bool) {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "js") {
		return 0, false
	}
	n, err := strconv.Atoi(base[2:])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
