package mock

import (
	"context"
	"testing"
	"time"

	"github.com/coop-adventure/sessions/internal/lobby"
	"github.com/coop-adventure/sessions/internal/session"
)

// drainEvents collects all events currently in ch without blocking.
func drainEvents(ch <-chan lobby.Event) []lobby.Event {
	var events []lobby.Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func observe(store *lobby.Store, size int) <-chan lobby.Event {
	ch := make(chan lobby.Event, size)
	store.Observe(func(ev lobby.Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	return ch
}

func TestMockGenerator_AdvertisesOnStart(t *testing.T) {
	store := lobby.NewStore()
	ch := observe(store, 32)
	gen := NewGenerator(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen.Start(ctx)

	newCount := 0
	for _, ev := range drainEvents(ch) {
		if ev.Type == lobby.EventNew {
			newCount++
			if ev.Entry.ServerName() == "" {
				t.Errorf("entry %s has no server name", ev.Entry.ID)
			}
		}
	}
	if newCount != len(gen.sessions) {
		t.Errorf("Start() advertised %d sessions, want %d", newCount, len(gen.sessions))
	}
}

func TestMockGenerator_SessionsAreFindable(t *testing.T) {
	store := lobby.NewStore()
	gen := NewGenerator(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen.Start(ctx)

	results := store.Find(session.Query{MaxResults: session.MaxResultsUnlimited, PresenceOnly: true})
	if len(results) != len(gen.sessions)-1 {
		t.Errorf("presence search found %d sessions, want %d", len(results), len(gen.sessions)-1)
	}
	lan := store.Find(session.Query{MaxResults: session.MaxResultsUnlimited, LANOnly: true})
	if len(lan) != 1 || lan[0].ServerName() != "LAN Party Basement" {
		t.Errorf("LAN search = %+v", lan)
	}
}

func TestMockGenerator_TicksJoinAndRestart(t *testing.T) {
	store := lobby.NewStore()
	ch := observe(store, 256)
	gen := NewGenerator(store)
	gen.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen.Start(ctx)
	drainEvents(ch)

	deadline := time.Now().Add(2 * time.Second)
	var updates, removals int
	for time.Now().Before(deadline) && (updates == 0 || removals == 0) {
		for _, ev := range drainEvents(ch) {
			switch ev.Type {
			case lobby.EventUpdate:
				updates++
			case lobby.EventRemoved:
				removals++
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if updates == 0 {
		t.Error("no players joined mock sessions")
	}
	if removals == 0 {
		t.Error("no full mock session was restarted")
	}
}

func TestMockGenerator_StopRemovesSessions(t *testing.T) {
	store := lobby.NewStore()
	gen := NewGenerator(store)

	ctx, cancel := context.WithCancel(context.Background())
	gen.Start(ctx)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.Len() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("mock sessions survived cancellation; Len = %d", store.Len())
}
