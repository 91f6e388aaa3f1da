package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderLAN   = "lan"
	ProviderLobby = "lobby"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	LAN     LANConfig     `yaml:"lan"`
	Lobby   LobbyConfig   `yaml:"lobby"`
	Travel  TravelConfig  `yaml:"travel"`
	History HistoryConfig `yaml:"history"`
	Privacy PrivacyConfig `yaml:"privacy"`
}

// ServerConfig configures lobbyd.
type ServerConfig struct {
	Port              int           `yaml:"port"`
	Host              string        `yaml:"host"`
	AuthToken         string        `yaml:"auth_token"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	MaxConnections    int           `yaml:"max_connections"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`
}

// SessionConfig configures the negotiator.
type SessionConfig struct {
	Name           string `yaml:"name"`
	Provider       string `yaml:"provider"`
	MaxConnections int    `yaml:"max_connections"`
	ListenMap      string `yaml:"listen_map"`
	GamePort       int    `yaml:"game_port"`
}

// LANConfig configures broadcast discovery for the LAN provider.
type LANConfig struct {
	Port          int           `yaml:"port"`
	BroadcastAddr string        `yaml:"broadcast_addr"`
	SearchWindow  time.Duration `yaml:"search_window"`
	Interface     string        `yaml:"interface"`
}

// LobbyConfig configures the online provider's connection to lobbyd.
type LobbyConfig struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	AdvertiseAddr  string        `yaml:"advertise_addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// TravelConfig holds the commands used to launch the game after a session is
// ready. Server arguments may contain {url}; client arguments may contain
// {address}.
type TravelConfig struct {
	ServerCommand []string `yaml:"server_command"`
	ClientCommand []string `yaml:"client_command"`
}

// PrivacyConfig controls what lobbyd lists publicly. Name patterns are
// case-insensitive globs matched against SERVER_NAME. Connect addresses are
// masked unless mask_addresses is set to false; a successful join still
// returns the address.
type PrivacyConfig struct {
	MaskAddresses bool     `yaml:"mask_addresses"`
	MaskOwnerIDs  bool     `yaml:"mask_owner_ids"`
	HideFull      bool     `yaml:"hide_full"`
	AllowedNames  []string `yaml:"allowed_names"`
	BlockedNames  []string `yaml:"blocked_names"`
}

type HistoryConfig struct {
	Dir string `yaml:"dir"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8080,
			Host:              "0.0.0.0",
			MaxConnections:    256,
			SnapshotInterval:  5 * time.Second,
			BroadcastThrottle: 100 * time.Millisecond,
		},
		Session: SessionConfig{
			Name:           "Co-op Adventure Session",
			Provider:       ProviderLAN,
			MaxConnections: 2,
			ListenMap:      "/Game/ThirdPerson/Maps/ThirdPersonMap",
			GamePort:       7777,
		},
		LAN: LANConfig{
			Port:          14001,
			BroadcastAddr: "255.255.255.255",
			SearchWindow:  2 * time.Second,
		},
		Lobby: LobbyConfig{
			URL:            "ws://127.0.0.1:8080/ws",
			RequestTimeout: 10 * time.Second,
		},
		Privacy: PrivacyConfig{
			MaskAddresses: true,
		},
	}
}

// Load reads the file at path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when the file does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Session.Provider) {
	case ProviderLAN, ProviderLobby:
	default:
		return fmt.Errorf("config: unknown session.provider %q", c.Session.Provider)
	}
	if strings.TrimSpace(c.Session.Name) == "" {
		return errors.New("config: session.name must not be empty")
	}
	if c.Session.MaxConnections <= 0 {
		return fmt.Errorf("config: session.max_connections must be positive, got %d", c.Session.MaxConnections)
	}
	if c.Session.GamePort <= 0 || c.Session.GamePort > 65535 {
		return fmt.Errorf("config: session.game_port out of range: %d", c.Session.GamePort)
	}
	if c.LAN.Port <= 0 || c.LAN.Port > 65535 {
		return fmt.Errorf("config: lan.port out of range: %d", c.LAN.Port)
	}
	if c.LAN.SearchWindow <= 0 {
		return errors.New("config: lan.search_window must be positive")
	}
	return nil
}

// ProviderKind returns the normalised provider name.
func (c *Config) ProviderKind() string {
	return strings.ToLower(c.Session.Provider)
}
