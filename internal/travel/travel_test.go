package travel

import (
	"errors"
	"reflect"
	"testing"
)

func TestListenURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", DefaultListenMap + "?listen"},
		{"  ", DefaultListenMap + "?listen"},
		{"/Game/Maps/Lobby", "/Game/Maps/Lobby?listen"},
		{"/Game/Maps/Lobby?listen", "/Game/Maps/Lobby?listen"},
		{"/Game/Maps/Lobby?game=coop", "/Game/Maps/Lobby?game=coop?listen"},
		{"/Game/Maps/Lobby?game=coop?listen", "/Game/Maps/Lobby?game=coop?listen"},
	}
	for _, tt := range tests {
		if got := ListenURL(tt.in); got != tt.want {
			t.Errorf("ListenURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCommandSubstitutesTarget(t *testing.T) {
	var gotName string
	var gotArgs []string
	c := Command{
		Server: []string{"CoopAdventure", "{url}", "-log"},
		Client: []string{"CoopAdventure", "{url}"},
		run: func(name string, args ...string) error {
			gotName = name
			gotArgs = args
			return nil
		},
	}

	if err := c.ServerTravel("/Game/Maps/Lobby?listen"); err != nil {
		t.Fatalf("ServerTravel: %v", err)
	}
	if gotName != "CoopAdventure" {
		t.Errorf("name = %q, want CoopAdventure", gotName)
	}
	if want := []string{"/Game/Maps/Lobby?listen", "-log"}; !reflect.DeepEqual(gotArgs, want) {
		t.Errorf("args = %v, want %v", gotArgs, want)
	}

	if err := c.ClientTravel("192.168.1.51:7777"); err != nil {
		t.Fatalf("ClientTravel: %v", err)
	}
	if want := []string{"192.168.1.51:7777"}; !reflect.DeepEqual(gotArgs, want) {
		t.Errorf("args = %v, want %v", gotArgs, want)
	}
}

func TestCommandClientAddressPlaceholder(t *testing.T) {
	var gotArgs []string
	c := Command{
		Server: []string{"CoopAdventure", "{url}", "{address}"},
		Client: []string{"CoopAdventure", "-connect={address}", "{url}"},
		run: func(_ string, args ...string) error {
			gotArgs = args
			return nil
		},
	}

	if err := c.ClientTravel("10.0.0.2:7777"); err != nil {
		t.Fatalf("ClientTravel: %v", err)
	}
	if want := []string{"-connect=10.0.0.2:7777", "10.0.0.2:7777"}; !reflect.DeepEqual(gotArgs, want) {
		t.Errorf("client args = %v, want %v", gotArgs, want)
	}

	// {address} has no meaning for the listen server and is left as is.
	if err := c.ServerTravel("/Game/Maps/Lobby?listen"); err != nil {
		t.Fatalf("ServerTravel: %v", err)
	}
	if want := []string{"/Game/Maps/Lobby?listen", "{address}"}; !reflect.DeepEqual(gotArgs, want) {
		t.Errorf("server args = %v, want %v", gotArgs, want)
	}
}

func TestCommandWithoutArgvOnlyLogs(t *testing.T) {
	called := false
	c := Command{run: func(string, ...string) error {
		called = true
		return nil
	}}
	if err := c.ServerTravel("/Game/Maps/Lobby?listen"); err != nil {
		t.Fatalf("ServerTravel: %v", err)
	}
	if err := c.ClientTravel("10.0.0.2:7777"); err != nil {
		t.Fatalf("ClientTravel: %v", err)
	}
	if called {
		t.Error("run called without a configured command")
	}
}

func TestCommandWrapsRunError(t *testing.T) {
	boom := errors.New("boom")
	c := Command{
		Client: []string{"game"},
		run:    func(string, ...string) error { return boom },
	}
	if err := c.ClientTravel("10.0.0.2:7777"); !errors.Is(err, boom) {
		t.Errorf("ClientTravel error = %v, want wrapped %v", err, boom)
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.ServerTravel("a?listen")
	r.ClientTravel("1.2.3.4:7777")
	if len(r.Servers) != 1 || r.Servers[0] != "a?listen" {
		t.Errorf("Servers = %v", r.Servers)
	}
	if len(r.Clients) != 1 || r.Clients[0] != "1.2.3.4:7777" {
		t.Errorf("Clients = %v", r.Clients)
	}
}
