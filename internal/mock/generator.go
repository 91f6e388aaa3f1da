// Package mock seeds lobbyd with demo sessions whose player counts change
// over time, so clients have something to browse without real hosts.
package mock

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/coop-adventure/sessions/internal/lobby"
	"github.com/coop-adventure/sessions/internal/session"
)

const mockOwnerPrefix = "mock-host-"

type mockSession struct {
	serverName string
	ownerName  string
	address    string
	maxConns   int
	presence   bool
	lan        bool

	joinEvery    int // a player joins every joinEvery ticks
	restartAfter int // ticks a full session stays up before its host restarts it

	id       string
	fullFor  int
	restarts int
}

type MockGenerator struct {
	store    *lobby.Store
	interval time.Duration
	sessions []*mockSession
}

func NewGenerator(store *lobby.Store) *MockGenerator {
	return &MockGenerator{
		store:    store,
		interval: 500 * time.Millisecond,
	}
}

// Start registers the demo sessions and advances them until ctx is done.
func (g *MockGenerator) Start(ctx context.Context) {
	g.sessions = []*mockSession{
		{serverName: "Friday Night Raid", ownerName: "valkyrie", address: "192.0.2.10:7777",
			maxConns: 4, presence: true, joinEvery: 3, restartAfter: 6},
		{serverName: "Speedrun Practice", ownerName: "tick_tock", address: "192.0.2.11:7777",
			maxConns: 2, presence: true, joinEvery: 5, restartAfter: 4},
		{serverName: "Chill Co-op", ownerName: "mossy", address: "192.0.2.12:7777",
			maxConns: 8, presence: true, joinEvery: 2, restartAfter: 10},
		{serverName: "LAN Party Basement", ownerName: "dial-up", address: "192.168.1.40:7777",
			maxConns: 6, presence: true, lan: true, joinEvery: 4, restartAfter: 8},
		{serverName: "Dedicated EU-1", ownerName: "ops", address: "198.51.100.7:7777",
			maxConns: 16, presence: false, joinEvery: 1, restartAfter: 3},
	}

	for i, ms := range g.sessions {
		g.advertise(ms, i)
	}

	go g.run(ctx)
}

func (g *MockGenerator) advertise(ms *mockSession, idx int) {
	ms.id = fmt.Sprintf("mock-%d-%d", idx, ms.restarts)
	ms.fullFor = 0
	_, err := g.store.Add(&lobby.Entry{
		ID:        ms.id,
		Name:      session.DefaultSessionName,
		OwnerID:   fmt.Sprintf("%s%d", mockOwnerPrefix, idx),
		OwnerName: ms.ownerName,
		Address:   ms.address,
		Players:   1,
		Settings: session.Settings{
			MaxConnections:       ms.maxConns,
			LAN:                  ms.lan,
			Advertised:           true,
			JoinInProgress:       true,
			UsesPresence:         ms.presence,
			AllowJoinViaPresence: ms.presence,
			Attributes:           map[string]string{session.AttrServerName: ms.serverName},
		},
	})
	if err != nil {
		log.Printf("mock: advertising %q: %v", ms.serverName, err)
	}
}

func (g *MockGenerator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			g.stop()
			return
		case <-ticker.C:
			tick++
			for i, ms := range g.sessions {
				g.advance(ms, i, tick)
			}
		}
	}
}

func (g *MockGenerator) advance(ms *mockSession, idx, tick int) {
	entry, ok := g.store.Get(ms.id)
	if !ok {
		return
	}

	if entry.IsFull() {
		ms.fullFor++
		if ms.fullFor >= ms.restartAfter {
			if err := g.store.Remove(entry.OwnerID, ms.id); err != nil {
				log.Printf("mock: restarting %q: %v", ms.serverName, err)
				return
			}
			ms.restarts++
			g.advertise(ms, idx)
		}
		return
	}

	if tick%ms.joinEvery == 0 {
		g.store.Join(ms.id, fmt.Sprintf("%s%d-guest-%d", mockOwnerPrefix, idx, tick))
	}
}

func (g *MockGenerator) stop() {
	for i := range g.sessions {
		g.store.RemoveOwner(fmt.Sprintf("%s%d", mockOwnerPrefix, i))
	}
}
