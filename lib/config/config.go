// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when no flag is given.
const EnvironmentVariable = "RETROCHAT_CONFIG"

// Backend selects the transport family.
type Backend string

const (
	// BackendRelay exchanges frames through a public MQTT broker.
	BackendRelay Backend = "relay"
	// BackendSignaling uses WebRTC set up through a signaling server.
	BackendSignaling Backend = "signaling"
	// BackendMesh uses WebRTC set up through public WebTorrent trackers.
	BackendMesh Backend = "mesh"
)

// Config is the complete client configuration.
type Config struct {
	// Username is shown to the other peer. Empty means ask at startup.
	Username string `yaml:"username"`

	// Backend is relay, signaling or mesh.
	Backend Backend `yaml:"backend"`

	// ShareBaseURL is the page share links point at.
	ShareBaseURL string `yaml:"share_base_url"`

	Relay     RelayConfig     `yaml:"relay"`
	Signaling SignalingConfig `yaml:"signaling"`
	Mesh      MeshConfig      `yaml:"mesh"`
	ICE       ICEConfig       `yaml:"ice"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Wire      WireConfig      `yaml:"wire"`
	Log       LogConfig       `yaml:"log"`
}

// RelayConfig lists MQTT brokers in failover order.
type RelayConfig struct {
	// Brokers are ws:// or wss:// MQTT endpoints.
	Brokers []string `yaml:"brokers"`
}

// SignalingConfig lists signaling servers in failover order.
type SignalingConfig struct {
	// Servers are ws:// or wss:// base URLs, e.g. wss://0.peerjs.com/peerjs.
	Servers []string `yaml:"servers"`

	// Key is the API key query parameter the server expects.
	Key string `yaml:"key"`
}

// MeshConfig lists WebTorrent trackers in failover order.
type MeshConfig struct {
	Trackers []string `yaml:"trackers"`

	// AnnounceInterval is how often the client re-announces while it
	// has no peer.
	AnnounceInterval string `yaml:"announce_interval"`
}

// ICEConfig lists STUN/TURN servers for the WebRTC backends.
type ICEConfig struct {
	Servers []ICEServer `yaml:"servers"`
}

// ICEServer is one STUN or TURN entry.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// TimeoutsConfig holds connection timing as Go duration strings.
type TimeoutsConfig struct {
	// Connect bounds one attempt against one candidate.
	Connect string `yaml:"connect"`

	// ReconnectDelay is the pause before retrying after a dropped link.
	ReconnectDelay string `yaml:"reconnect_delay"`

	// MaxBackoff caps the pause between full passes over the candidates.
	MaxBackoff string `yaml:"max_backoff"`
}

// WireConfig selects the frame encoding.
type WireConfig struct {
	// Encoding is json (browser compatible) or cbor.
	Encoding string `yaml:"encoding"`
}

// LogConfig controls the client's log file.
type LogConfig struct {
	// File receives JSON log records. Empty disables file logging.
	File string `yaml:"file"`

	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
}

// Timing is TimeoutsConfig parsed.
type Timing struct {
	Connect          time.Duration
	ReconnectDelay   time.Duration
	MaxBackoff       time.Duration
	AnnounceInterval time.Duration
}

// Default returns a configuration that works against public services.
func Default() *Config {
	return &Config{
		Backend:      BackendRelay,
		ShareBaseURL: "https://retrochat95.example/",
		Relay: RelayConfig{
			Brokers: []string{
				"wss://broker.emqx.io:8084/mqtt",
				"wss://broker.hivemq.com:8884/mqtt",
				"wss://test.mosquitto.org:8081/mqtt",
			},
		},
		Signaling: SignalingConfig{
			Servers: []string{"wss://0.peerjs.com/peerjs"},
			Key:     "peerjs",
		},
		Mesh: MeshConfig{
			Trackers: []string{
				"wss://tracker.openwebtorrent.com",
				"wss://tracker.webtorrent.dev",
				"wss://tracker.btorrent.xyz",
			},
			AnnounceInterval: "30s",
		},
		ICE: ICEConfig{
			Servers: []ICEServer{
				{URLs: []string{"stun:stun.l.google.com:19302", "stun:global.stun.twilio.com:3478"}},
			},
		},
		Timeouts: TimeoutsConfig{
			Connect:        "6s",
			ReconnectDelay: "1s",
			MaxBackoff:     "30s",
		},
		Wire: WireConfig{Encoding: "json"},
		Log: LogConfig{
			File:  "${XDG_STATE_HOME:-${HOME}/.local/state}/retrochat/client.log",
			Level: "info",
		},
	}
}

// Load reads the file named by RETROCHAT_CONFIG. It fails if the
// variable is unset; callers that accept running on defaults check the
// variable themselves.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your retrochat.yaml or pass --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults and expands path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.ExpandVariables()
	return cfg, nil
}

// ExpandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) ExpandVariables() {
	c.Log.File = expandVars(c.Log.File)
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^{}]*))?\}`)

// expandVars replaces innermost ${...} references first so defaults may
// themselves reference variables.
func expandVars(s string) string {
	for {
		expanded := varPattern.ReplaceAllStringFunc(s, func(match string) string {
			parts := varPattern.FindStringSubmatch(match)
			if value := os.Getenv(parts[1]); value != "" {
				return value
			}
			return parts[2]
		})
		if expanded == s {
			if expanded == "" {
				return ""
			}
			return filepath.Clean(expanded)
		}
		s = expanded
	}
}

// Endpoints returns the candidate URLs for the selected backend.
func (c *Config) Endpoints() []string {
	switch c.Backend {
	case BackendRelay:
		return c.Relay.Brokers
	case BackendSignaling:
		return c.Signaling.Servers
	case BackendMesh:
		return c.Mesh.Trackers
	}
	return nil
}

// Timing parses the duration fields. Call Validate first for a full
// error report.
func (c *Config) Timing() (Timing, error) {
	var timing Timing
	var errs []error
	parse := func(name, value string, target *time.Duration) {
		duration, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		if duration <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, value))
			return
		}
		*target = duration
	}
	parse("timeouts.connect", c.Timeouts.Connect, &timing.Connect)
	parse("timeouts.reconnect_delay", c.Timeouts.ReconnectDelay, &timing.ReconnectDelay)
	parse("timeouts.max_backoff", c.Timeouts.MaxBackoff, &timing.MaxBackoff)
	parse("mesh.announce_interval", c.Mesh.AnnounceInterval, &timing.AnnounceInterval)
	return timing, errors.Join(errs...)
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Validate checks the whole configuration and reports every problem.
func (c *Config) Validate() error {
	var errs []error

	backends := []Backend{BackendRelay, BackendSignaling, BackendMesh}
	if !slices.Contains(backends, c.Backend) {
		errs = append(errs, fmt.Errorf("backend must be one of %v, got %q", backends, c.Backend))
	} else if len(c.Endpoints()) == 0 {
		errs = append(errs, fmt.Errorf("backend %s has no endpoints configured", c.Backend))
	}

	for _, endpoint := range c.Endpoints() {
		if !hasWebSocketScheme(endpoint) {
			errs = append(errs, fmt.Errorf("endpoint %q must use ws:// or wss://", endpoint))
		}
	}

	if c.Backend == BackendSignaling && c.Signaling.Key == "" {
		errs = append(errs, errors.New("signaling.key is required"))
	}

	for index, server := range c.ICE.Servers {
		if len(server.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ice.servers[%d] has no urls", index))
		}
	}

	if c.Wire.Encoding != "json" && c.Wire.Encoding != "cbor" {
		errs = append(errs, fmt.Errorf("wire.encoding must be json or cbor, got %q", c.Wire.Encoding))
	}

	if _, err := c.Timing(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func hasWebSocketScheme(endpoint string) bool {
	return strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://")
}
