package main

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"winbridge/internal/gamepad"
	"winbridge/internal/protocol"
	"winbridge/internal/winhandler"
)

// Config is the top-level YAML configuration for the winbridge daemon.
//
// Defaults and validation live here so the rest of the code can assume a
// well-formed config. The file is the primary surface; flags override it.
type Config struct {
	Channel ChannelConfig `yaml:"channel"`
	Gamepad GamepadConfig `yaml:"gamepad"`
	Profile ProfileConfig `yaml:"profile"`
	IPC     IPCConfig     `yaml:"ipc"`
	StateWS StateWSConfig `yaml:"state_ws"`
	Logging LoggingConfig `yaml:"logging"`
}

// ChannelConfig describes the loopback datagram endpoints.
type ChannelConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	PeerHost   string `yaml:"peer_host"`
	PeerPort   int    `yaml:"peer_port"`
	Mapper     string `yaml:"mapper"` // "standard" or "xinput"
}

type GamepadConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Dir      string  `yaml:"dir"`
	MaxIndex int     `yaml:"max_index"`
	Deadzone float32 `yaml:"deadzone"`

	// PollHz is how often the live pad is sampled for notify pushes.
	PollHz int `yaml:"poll_hz"`
}

type ProfileConfig struct {
	// Path to the container profile YAML. Empty disables the virtual gamepad.
	Path string `yaml:"path"`
}

type IPCConfig struct {
	SocketPath    string `yaml:"socket_path"`
	ListTimeoutMS int    `yaml:"list_timeout_ms"`
}

// StateWSConfig configures the websocket state feed. Empty Addr disables it.
type StateWSConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func DefaultConfig() Config {
	return Config{
		Channel: ChannelConfig{
			ListenAddr: fmt.Sprintf("127.0.0.1:%d", winhandler.DefaultServerPort),
			PeerHost:   "localhost",
			PeerPort:   winhandler.DefaultClientPort,
			Mapper:     "standard",
		},
		Gamepad: GamepadConfig{
			Enabled:  true,
			Dir:      "/dev/input",
			MaxIndex: 4,
			Deadzone: 0.08,
			PollHz:   60,
		},
		IPC: IPCConfig{
			SocketPath:    "/tmp/winbridge.sock",
			ListTimeoutMS: 2000,
		},
		StateWS: StateWSConfig{
			Addr: "127.0.0.1:7948",
			Path: "/ws/state",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
// Unknown fields are rejected via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds flag values that were explicitly set. A nil pointer
// leaves the config value alone; a non-nil one is applied even if zero.
type FlagOverrides struct {
	ListenAddr *string
	PeerHost   *string
	PeerPort   *int
	Mapper     *string

	GamepadEnabled *bool
	GamepadDir     *string

	ProfilePath *string

	IPCSocketPath *string
	StateWSAddr   *string

	LogLevel *string
}

func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.ListenAddr != nil {
		cfg.Channel.ListenAddr = *o.ListenAddr
	}
	if o.PeerHost != nil {
		cfg.Channel.PeerHost = *o.PeerHost
	}
	if o.PeerPort != nil {
		cfg.Channel.PeerPort = *o.PeerPort
	}
	if o.Mapper != nil {
		cfg.Channel.Mapper = *o.Mapper
	}
	if o.GamepadEnabled != nil {
		cfg.Gamepad.Enabled = *o.GamepadEnabled
	}
	if o.GamepadDir != nil {
		cfg.Gamepad.Dir = *o.GamepadDir
	}
	if o.ProfilePath != nil {
		cfg.Profile.Path = *o.ProfilePath
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.StateWSAddr != nil {
		cfg.StateWS.Addr = *o.StateWSAddr
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants after defaults, file and overrides are applied.
func (c *Config) Validate() error {
	// Channel
	if _, _, err := net.SplitHostPort(c.Channel.ListenAddr); err != nil {
		return fmt.Errorf("channel.listen_addr: %w", err)
	}
	if c.Channel.PeerPort <= 0 || c.Channel.PeerPort > 65535 {
		return errors.New("channel.peer_port must be between 1 and 65535")
	}
	if _, err := protocol.ParseMapperType(c.Channel.Mapper); err != nil {
		return fmt.Errorf("channel.mapper: %w", err)
	}

	// Gamepad
	if c.Gamepad.Enabled {
		if c.Gamepad.Dir == "" {
			return errors.New("gamepad.dir must not be empty when gamepad.enabled is true")
		}
		if c.Gamepad.MaxIndex <= 0 {
			return errors.New("gamepad.max_index must be > 0")
		}
		if c.Gamepad.PollHz <= 0 || c.Gamepad.PollHz > 1000 {
			return errors.New("gamepad.poll_hz must be between 1 and 1000")
		}
	}
	if c.Gamepad.Deadzone < 0 || c.Gamepad.Deadzone >= 1 {
		return errors.New("gamepad.deadzone must be in [0, 1)")
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.IPC.ListTimeoutMS <= 0 {
		return errors.New("ipc.list_timeout_ms must be > 0")
	}

	// State feed
	if c.StateWS.Addr != "" && !strings.HasPrefix(c.StateWS.Path, "/") {
		return errors.New("state_ws.path must start with /")
	}

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// HandlerConfig converts the channel section. Collaborators are wired by the caller.
func (c *Config) HandlerConfig() winhandler.Config {
	mapper, _ := protocol.ParseMapperType(c.Channel.Mapper)
	return winhandler.Config{
		ListenAddr: c.Channel.ListenAddr,
		PeerHost:   c.Channel.PeerHost,
		PeerPort:   c.Channel.PeerPort,
		Mapper:     mapper,
	}
}

func (c *Config) ScannerConfig() gamepad.ScannerConfig {
	return gamepad.ScannerConfig{
		Dir:      c.Gamepad.Dir,
		MaxIndex: c.Gamepad.MaxIndex,
		Deadzone: c.Gamepad.Deadzone,
	}
}

func (c *Config) ListTimeout() time.Duration {
	return time.Duration(c.IPC.ListTimeoutMS) * time.Millisecond
}

func (c *Config) PollInterval() time.Duration {
	return time.Second / time.Duration(c.Gamepad.PollHz)
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
