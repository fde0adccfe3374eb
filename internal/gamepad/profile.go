package gamepad

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"winbridge/internal/protocol"
	"winbridge/internal/winhandler"
)

// Profile is the container profile relevant to the channel.
type Profile struct {
	ID             uint32 `yaml:"id"`
	Name           string `yaml:"name"`
	VirtualGamepad bool   `yaml:"virtual_gamepad"`
}

func (p Profile) validate() error {
	if p.VirtualGamepad && p.ID == 0 {
		return errors.New("profile id must be non-zero when virtual_gamepad is enabled")
	}
	return nil
}

// ProfileStore holds the active profile and the virtual gamepad state that
// on-screen or IPC controls drive. An empty path means no profile.
type ProfileStore struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	profile Profile
	state   protocol.GamepadState
}

// OpenProfileStore loads the profile at path.
func OpenProfileStore(path string, logger *slog.Logger) (*ProfileStore, error) {
	s := &ProfileStore{path: path, logger: logger}
	if path == "" {
		return s, nil
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the profile file. On error the previous profile is kept.
func (s *ProfileStore) Reload() error {
	p, err := readProfile(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
	return nil
}

func readProfile(path string) (Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}

	var p Profile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("decode profile yaml: %w", err)
	}
	if err := p.validate(); err != nil {
		return Profile{}, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return p, nil
}

func (s *ProfileStore) Profile() Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// VirtualGamepad returns a snapshot of the virtual gamepad when the profile
// enables it.
func (s *ProfileStore) VirtualGamepad() (winhandler.Gamepad, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.profile.VirtualGamepad {
		return nil, false
	}
	return virtualPad{id: s.profile.ID, name: s.profile.Name, state: s.state}, true
}

// UpdateState applies fn to the virtual gamepad state and returns the result.
func (s *ProfileStore) UpdateState(fn func(*protocol.GamepadState)) protocol.GamepadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	return s.state
}

// Watch reloads the profile when its file changes, until ctx ends. The
// directory is watched so editors that replace the file are seen.
func (s *ProfileStore) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Warn("profile reload failed, keeping previous", "path", s.path, "error", err)
				continue
			}
			p := s.Profile()
			s.logger.Info("profile reloaded", "id", p.ID, "name", p.Name, "virtual_gamepad", p.VirtualGamepad)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("profile watcher error", "error", err)
		}
	}
}

type virtualPad struct {
	id    uint32
	name  string
	state protocol.GamepadState
}

func (v virtualPad) ID() uint32                   { return v.id }
func (v virtualPad) Name() string                 { return v.name }
func (v virtualPad) Connected() bool              { return true }
func (v virtualPad) State() protocol.GamepadState { return v.state }
