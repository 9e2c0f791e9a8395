// Package config holds the hub and client configuration types.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/1ureka/rhythmhub/internal/protocol"
)

// Role represents the chosen role (hub or client).
type Role string

const (
	RoleHub    Role = "hub"
	RoleClient Role = "client"
)

// Config stores everything gathered from flags, files or interactive prompts.
type Config struct {
	Role   Role
	Hub    HubConfig
	Client ClientConfig
}

// ProtocolVersion is the handshake version this build speaks.
const ProtocolVersion = "0.7.1"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// ---------------------------------------------------------------------------
// Hub
// ---------------------------------------------------------------------------

// HubConfig configures a hub process.
type HubConfig struct {
	ListenAddr string `yaml:"listen"` // TCP game traffic
	HTTPAddr   string `yaml:"http"`   // signaling, metrics and REST; empty disables
	Version    string `yaml:"version"`
	MaxPlayers int    `yaml:"max_players"`

	TickInterval  time.Duration `yaml:"tick_interval"` // telemetry broadcast period
	IdleTimeout   time.Duration `yaml:"idle_timeout"`  // drop peers silent for this long; 0 disables
	SendQueue     int           `yaml:"send_queue"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	KeepAlive     time.Duration `yaml:"keepalive"`
	StatsInterval time.Duration `yaml:"stats_interval"`

	// A peer may send this many malformed frames per second (with the given
	// burst) before it is disconnected.
	MalformedPerSecond float64 `yaml:"malformed_per_second"`
	MalformedBurst     int     `yaml:"malformed_burst"`

	SongLibrary     string          `yaml:"song_library"`
	ResultsDuration time.Duration   `yaml:"results_duration"`
	Channels        []ChannelConfig `yaml:"channels"`
	ICEServers      []string        `yaml:"ice_servers"`

	// Debug turns invariant violations into panics instead of forced
	// disconnects.
	Debug bool `yaml:"debug"`
}

// ChannelConfig defines one radio channel.
type ChannelConfig struct {
	ID         int32  `yaml:"id"`
	Name       string `yaml:"name"`
	IconURL    string `yaml:"icon_url"`
	Difficulty string `yaml:"difficulty"`
	IP         string `yaml:"ip"`
	Port       int32  `yaml:"port"`
}

// DefaultHub returns the settings used when no file is given.
func DefaultHub() HubConfig {
	return HubConfig{
		ListenAddr:         ":3700",
		HTTPAddr:           ":3780",
		Version:            ProtocolVersion,
		MaxPlayers:         128,
		TickInterval:       50 * time.Millisecond,
		SendQueue:          256,
		WriteTimeout:       5 * time.Second,
		KeepAlive:          15 * time.Second,
		StatsInterval:      10 * time.Second,
		MalformedPerSecond: 2,
		MalformedBurst:     10,
		ResultsDuration:    15 * time.Second,
		ICEServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
	}
}

// LoadHub reads a YAML file over DefaultHub and validates the result.
func LoadHub(path string) (HubConfig, error) {
	cfg := DefaultHub()
	if err := loadYAML(path, &cfg); err != nil {
		return HubConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return HubConfig{}, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *HubConfig) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.Version == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if c.MaxPlayers <= 0 {
		errs = append(errs, fmt.Errorf("max_players must be positive, got %d", c.MaxPlayers))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval))
	}
	if c.SendQueue <= 0 {
		errs = append(errs, fmt.Errorf("send_queue must be positive, got %d", c.SendQueue))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("write_timeout must be positive, got %s", c.WriteTimeout))
	}
	if c.MalformedPerSecond < 0 || c.MalformedBurst < 0 {
		errs = append(errs, errors.New("malformed frame tolerance must not be negative"))
	}

	seen := make(map[int32]bool)
	for i, ch := range c.Channels {
		if seen[ch.ID] {
			errs = append(errs, fmt.Errorf("channels[%d]: duplicate id %d", i, ch.ID))
		}
		seen[ch.ID] = true
		if ch.Name == "" {
			errs = append(errs, fmt.Errorf("channels[%d]: name is required", i))
		}
		if _, err := ParseDifficulty(ch.Difficulty); err != nil {
			errs = append(errs, fmt.Errorf("channels[%d]: %w", i, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

var difficulties = map[string]protocol.Difficulty{
	"easy":       protocol.DifficultyEasy,
	"normal":     protocol.DifficultyNormal,
	"hard":       protocol.DifficultyHard,
	"expert":     protocol.DifficultyExpert,
	"expertplus": protocol.DifficultyExpertPlus,
}

// ParseDifficulty maps a name such as "ExpertPlus" to its wire value. An
// empty name is Expert.
func ParseDifficulty(name string) (protocol.Difficulty, error) {
	if name == "" {
		return protocol.DifficultyExpert, nil
	}
	d, ok := difficulties[strings.ToLower(strings.ReplaceAll(name, "+", "plus"))]
	if !ok {
		return 0, fmt.Errorf("unknown difficulty %q", name)
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Transport kinds a client can use to reach the hub.
const (
	TransportTCP    = "tcp"
	TransportWebRTC = "webrtc"
)

// ClientConfig configures a headless client.
type ClientConfig struct {
	HubAddr      string        `yaml:"hub"`        // host:port for tcp
	Transport    string        `yaml:"transport"`  // tcp or webrtc
	SignalURL    string        `yaml:"signal_url"` // ws:// URL for webrtc
	PlayerName   string        `yaml:"player_name"`
	PlayerID     uint64        `yaml:"player_id"`
	Version      string        `yaml:"version"`
	TickInterval time.Duration `yaml:"tick_interval"`
	Heartbeat    time.Duration `yaml:"heartbeat"` // keeps the hub's idle timer fed; 0 disables
	ICEServers   []string      `yaml:"ice_servers"`
}

// DefaultClient returns the settings used when no file is given.
func DefaultClient() ClientConfig {
	return ClientConfig{
		HubAddr:      "127.0.0.1:3700",
		Transport:    TransportTCP,
		SignalURL:    "ws://127.0.0.1:3780/ws",
		PlayerName:   "player",
		Version:      ProtocolVersion,
		TickInterval: 16 * time.Millisecond,
		Heartbeat:    5 * time.Second,
		ICEServers:   DefaultHub().ICEServers,
	}
}

// LoadClient reads a YAML file over DefaultClient and validates the result.
func LoadClient(path string) (ClientConfig, error) {
	cfg := DefaultClient()
	if err := loadYAML(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

// Validate checks the transport selection and identity.
func (c *ClientConfig) Validate() error {
	var errs []error
	switch c.Transport {
	case TransportTCP:
		if c.HubAddr == "" {
			errs = append(errs, errors.New("hub address is required for tcp"))
		}
	case TransportWebRTC:
		if !strings.HasPrefix(c.SignalURL, "ws://") && !strings.HasPrefix(c.SignalURL, "wss://") {
			errs = append(errs, fmt.Errorf("signal_url must be a ws:// or wss:// URL, got %q", c.SignalURL))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if c.PlayerName == "" {
		errs = append(errs, errors.New("player_name is required"))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat must not be negative, got %s", c.Heartbeat))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func loadYAML(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
