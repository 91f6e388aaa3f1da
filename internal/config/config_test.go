package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := defaultConfig().Validate(); err != nil {
		t.Fatalf("defaultConfig().Validate() = %v", err)
	}
}

func TestDefaultConfigMasksAddresses(t *testing.T) {
	if !Default().Privacy.MaskAddresses {
		t.Error("Default().Privacy.MaskAddresses = false, want true")
	}

	path := writeConfig(t, `
privacy:
  mask_addresses: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Privacy.MaskAddresses {
		t.Error("mask_addresses: false was not honoured")
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  auth_token: "s3cret"
  allowed_origins:
    - "http://localhost:3000"
session:
  name: "Friday Night"
  provider: lobby
  listen_map: "/Game/Maps/Lobby"
lan:
  search_window: 500ms
lobby:
  url: "ws://lobby.example:8080/ws"
  advertise_addr: "203.0.113.7"
travel:
  client_command: ["CoopAdventure", "{url}"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.AuthToken != "s3cret" {
		t.Errorf("Server.AuthToken = %q, want s3cret", cfg.Server.AuthToken)
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Session.Name != "Friday Night" {
		t.Errorf("Session.Name = %q", cfg.Session.Name)
	}
	if cfg.ProviderKind() != ProviderLobby {
		t.Errorf("ProviderKind() = %q, want %q", cfg.ProviderKind(), ProviderLobby)
	}
	if cfg.Session.ListenMap != "/Game/Maps/Lobby" {
		t.Errorf("Session.ListenMap = %q", cfg.Session.ListenMap)
	}
	if cfg.LAN.SearchWindow != 500*time.Millisecond {
		t.Errorf("LAN.SearchWindow = %v, want 500ms", cfg.LAN.SearchWindow)
	}
	if cfg.Lobby.AdvertiseAddr != "203.0.113.7" {
		t.Errorf("Lobby.AdvertiseAddr = %q", cfg.Lobby.AdvertiseAddr)
	}
	if len(cfg.Travel.ClientCommand) != 2 || cfg.Travel.ClientCommand[1] != "{url}" {
		t.Errorf("Travel.ClientCommand = %v", cfg.Travel.ClientCommand)
	}

	// Defaults should still be applied for unspecified fields.
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want default 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Session.MaxConnections != 2 {
		t.Errorf("Session.MaxConnections = %d, want default 2", cfg.Session.MaxConnections)
	}
	if cfg.Session.GamePort != 7777 {
		t.Errorf("Session.GamePort = %d, want default 7777", cfg.Session.GamePort)
	}
	if cfg.LAN.Port != 14001 {
		t.Errorf("LAN.Port = %d, want default 14001", cfg.LAN.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() on missing file should return error")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.ProviderKind() != ProviderLAN {
		t.Errorf("ProviderKind() = %q, want default %q", cfg.ProviderKind(), ProviderLAN)
	}
	if cfg.Session.Name != "Co-op Adventure Session" {
		t.Errorf("Session.Name = %q", cfg.Session.Name)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, ":::not valid yaml")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() with invalid YAML should return error")
	}
}

func TestLoadOrDefaultInvalidYAML(t *testing.T) {
	path := writeConfig(t, ":::not valid yaml")
	if _, err := LoadOrDefault(path); err == nil {
		t.Fatal("LoadOrDefault() with invalid YAML should return error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown provider", func(c *Config) { c.Session.Provider = "steam" }, "session.provider"},
		{"provider is case-insensitive", func(c *Config) { c.Session.Provider = "LAN" }, ""},
		{"empty session name", func(c *Config) { c.Session.Name = "  " }, "session.name"},
		{"zero connections", func(c *Config) { c.Session.MaxConnections = 0 }, "max_connections"},
		{"bad game port", func(c *Config) { c.Session.GamePort = 70000 }, "game_port"},
		{"bad lan port", func(c *Config) { c.LAN.Port = 0 }, "lan.port"},
		{"zero search window", func(c *Config) { c.LAN.SearchWindow = 0 }, "search_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadPrivacy(t *testing.T) {
	path := writeConfig(t, `
privacy:
  mask_addresses: true
  hide_full: true
  blocked_names: ["test*"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	p := cfg.Privacy
	if !p.MaskAddresses || !p.HideFull || p.MaskOwnerIDs {
		t.Errorf("Privacy = %+v", p)
	}
	if len(p.BlockedNames) != 1 || p.BlockedNames[0] != "test*" {
		t.Errorf("Privacy.BlockedNames = %v", p.BlockedNames)
	}
}
