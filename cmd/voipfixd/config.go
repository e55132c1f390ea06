package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the voipfixd daemon.
//
// The config file is the primary configuration surface; flags exist for small
// overrides and environments where a file is awkward. Keep defaults and
// validation centralized so the rest of the code can assume a well-formed
// config.
type Config struct {
	// Audio bridge (route port) connection
	Bridge BridgeConfig `yaml:"bridge"`

	// State polling cadence
	Poll PollConfig `yaml:"poll"`

	// Recovery timing windows
	Recovery RecoveryFileConfig `yaml:"recovery"`

	// Proximity sensor input
	Proximity ProximityConfig `yaml:"proximity"`

	// IPC socket (telephony/routing hook integration)
	IPC IPCConfig `yaml:"ipc"`

	// State websocket for external observers
	StateWS StateWSConfig `yaml:"state_ws"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type BridgeConfig struct {
	WsURL     string `yaml:"ws_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type PollConfig struct {
	IntervalMS int `yaml:"interval_ms"`
}

// RecoveryFileConfig is the user-facing recovery configuration as represented
// in YAML. It maps 1:1 to RecoveryConfig but uses millisecond integers.
type RecoveryFileConfig struct {
	SpeakerFixDebounceMS int `yaml:"speaker_fix_debounce_ms"`
	SetupWindowMS        int `yaml:"setup_window_ms"`
	KeySimWindowMS       int `yaml:"keysim_window_ms"`
}

type ProximityConfig struct {
	// Device is the evdev node of the proximity sensor. Empty disables the
	// proximity-driven media routing fix.
	Device string `yaml:"device,omitempty"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StateWSConfig struct {
	// Port is the local TCP port for the state websocket. Zero disables it.
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`

	// File enables rotated file logging alongside stderr when non-empty.
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go defaults and current CLI defaults.
func DefaultConfig() Config {
	return Config{
		Bridge: BridgeConfig{
			WsURL:     "ws://127.0.0.1:8773",
			TimeoutMS: defaultBridgeTimeoutMS,
		},
		Poll: PollConfig{
			IntervalMS: defaultPollIntervalMS,
		},
		Recovery: RecoveryFileConfig{
			SpeakerFixDebounceMS: defaultSpeakerFixDebounceMS,
			SetupWindowMS:        defaultSetupWindowMS,
			KeySimWindowMS:       defaultKeySimWindowMS,
		},
		Proximity: ProximityConfig{
			Device: "",
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/voipfixd.sock",
		},
		StateWS: StateWSConfig{
			Port: 3002,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  5,
			MaxBackups: 3,
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
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

// FlagOverrides carries optional flag values to merge on top of a loaded
// config. Each override is applied only when its pointer is non-nil.
type FlagOverrides struct {
	BridgeWsURL     *string
	BridgeTimeoutMS *int

	PollIntervalMS *int

	ProximityDevice *string

	IPCSocketPath *string
	StateWSPort   *int

	LogLevel *string
	LogFile  *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is
// ignored; if non-nil, the value is applied even if it is a zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.BridgeWsURL != nil {
		cfg.Bridge.WsURL = *o.BridgeWsURL
	}
	if o.BridgeTimeoutMS != nil {
		cfg.Bridge.TimeoutMS = *o.BridgeTimeoutMS
	}
	if o.PollIntervalMS != nil {
		cfg.Poll.IntervalMS = *o.PollIntervalMS
	}
	if o.ProximityDevice != nil {
		cfg.Proximity.Device = *o.ProximityDevice
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.StateWSPort != nil {
		cfg.StateWS.Port = *o.StateWSPort
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFile != nil {
		cfg.Logging.File = *o.LogFile
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	if c.Bridge.WsURL == "" {
		return errors.New("bridge.ws_url must not be empty")
	}
	if c.Bridge.TimeoutMS <= 0 {
		return errors.New("bridge.timeout_ms must be > 0")
	}

	if c.Poll.IntervalMS < 100 || c.Poll.IntervalMS > 10000 {
		return errors.New("poll.interval_ms must be between 100 and 10000")
	}

	if c.Recovery.SpeakerFixDebounceMS < 0 {
		return errors.New("recovery.speaker_fix_debounce_ms must be >= 0")
	}
	if c.Recovery.SetupWindowMS <= 0 {
		return errors.New("recovery.setup_window_ms must be > 0")
	}
	if c.Recovery.KeySimWindowMS < c.Recovery.SetupWindowMS {
		return errors.New("recovery.keysim_window_ms must be >= recovery.setup_window_ms")
	}

	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	if c.StateWS.Port < 0 || c.StateWS.Port > 65535 {
		return errors.New("state_ws.port must be between 0 and 65535")
	}

	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if c.Logging.File != "" {
		if c.Logging.MaxSizeMB <= 0 {
			return errors.New("logging.max_size_mb must be > 0 when logging.file is set")
		}
		if c.Logging.MaxBackups < 0 {
			return errors.New("logging.max_backups must be >= 0")
		}
	}

	return nil
}

// ToRecoveryConfig converts the file representation into the internal
// controller config.
func (c *Config) ToRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		SpeakerFixDebounce: time.Duration(c.Recovery.SpeakerFixDebounceMS) * time.Millisecond,
		SetupWindow:        time.Duration(c.Recovery.SetupWindowMS) * time.Millisecond,
		KeySimWindow:       time.Duration(c.Recovery.KeySimWindowMS) * time.Millisecond,
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
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
