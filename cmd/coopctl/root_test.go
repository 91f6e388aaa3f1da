package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coop-adventure/sessions/internal/config"
	"github.com/coop-adventure/sessions/internal/lobby"
	"github.com/coop-adventure/sessions/internal/session"
)

func TestResolveName(t *testing.T) {
	remembered := func() (string, bool) { return "Last", true }
	none := func() (string, bool) { return "", false }

	tests := []struct {
		name       string
		args       []string
		remembered func() (string, bool)
		want       string
		wantErr    bool
	}{
		{"argument wins", []string{"Alpha"}, remembered, "Alpha", false},
		{"argument trimmed", []string{"  Alpha "}, none, "Alpha", false},
		{"falls back to history", nil, remembered, "Last", false},
		{"blank argument falls back", []string{" "}, remembered, "Last", false},
		{"nothing available", nil, none, "", true},
		{"nil history", nil, nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveName(tt.args, tt.remembered)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseConsoleLine(t *testing.T) {
	tests := []struct {
		line string
		want consoleCommand
		ok   bool
	}{
		{"", consoleCommand{}, false},
		{"   ", consoleCommand{}, false},
		{"status", consoleCommand{verb: "status"}, true},
		{"CREATE  Night Raid ", consoleCommand{verb: "create", arg: "Night Raid"}, true},
	}
	for _, tt := range tests {
		got, ok := parseConsoleLine(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseConsoleLine(%q) = %+v, %v; want %+v, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := config.Default()
	applyOverrides(cfg, &rootOptions{provider: "LOBBY", lobbyURL: "ws://lobby/ws", token: "t"})
	if cfg.ProviderKind() != config.ProviderLobby {
		t.Errorf("provider = %q", cfg.ProviderKind())
	}
	if cfg.Lobby.URL != "ws://lobby/ws" || cfg.Lobby.Token != "t" {
		t.Errorf("lobby = %+v", cfg.Lobby)
	}

	before := *cfg
	applyOverrides(cfg, &rootOptions{})
	if cfg.Session != before.Session || cfg.Lobby != before.Lobby {
		t.Error("empty overrides changed the config")
	}
}

func TestLoadConfigRejectsUnknownProvider(t *testing.T) {
	opts := &rootOptions{
		configPath: filepath.Join(t.TempDir(), "missing.yaml"),
		provider:   "carrier-pigeon",
	}
	if _, err := loadConfig(opts); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestAwaitOutcome(t *testing.T) {
	ch := make(chan session.Outcome, 1)
	ch <- session.Outcome{OK: true}
	o, err := awaitOutcome(context.Background(), ch, time.Second)
	if err != nil || !o.OK {
		t.Fatalf("got %+v, %v", o, err)
	}

	if _, err := awaitOutcome(context.Background(), ch, 10*time.Millisecond); err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected timeout, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := awaitOutcome(ctx, ch, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestListingFromEntries(t *testing.T) {
	entries := []*lobby.Entry{
		{ID: "a", Settings: session.Settings{MaxConnections: 4, Attributes: map[string]string{session.AttrServerName: "Alpha"}}, Players: 1},
	}
	msg := listingFromEntries(entries)
	if msg.Err != nil || len(msg.Results) != 1 {
		t.Fatalf("msg = %+v", msg)
	}
	if r := msg.Results[0]; r.ServerName() != "Alpha" || r.OpenSlots != 3 {
		t.Errorf("result = %+v", r)
	}
}

func TestNewRootCmd(t *testing.T) {
	root := newRootCmd()
	if !root.SilenceUsage {
		t.Error("SilenceUsage = false, want usage suppressed on command errors")
	}
	for _, name := range []string{"host", "find", "browse"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("Find(%q) = %v, %v", name, cmd, err)
		}
	}
	for _, flag := range []string{"config", "provider", "lobby-url", "token", "verbose"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag --%s", flag)
		}
	}
}
