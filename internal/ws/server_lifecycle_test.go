package ws

import (
	"testing"
	"time"

	"github.com/coop-adventure/sessions/internal/config"
	"github.com/coop-adventure/sessions/internal/session"
	"github.com/gorilla/websocket"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func presenceFind() FindRequest {
	return FindRequest{Query: session.Query{MaxResults: session.MaxResultsUnlimited, PresenceOnly: true}}
}

func TestServer_RejectsConnectionsBeyondLimit(t *testing.T) {
	l := newTestLobby(t, func(cfg *config.Config) { cfg.Server.MaxConnections = 2 })

	host := l.dial(t)
	created := request(t, host, MsgCreate, "1", CreateRequest{
		Name:     session.DefaultSessionName,
		Settings: hostSettings("Alpha"),
		GamePort: 7777,
	})
	if !created.OK {
		t.Fatalf("create: %+v", created)
	}
	guest := l.dial(t)
	if res := request(t, guest, MsgFind, "2", presenceFind()); len(res.Results) != 1 {
		t.Fatalf("find: %+v", res)
	}

	overflow := l.dial(t)
	overflow.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := overflow.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Fatalf("expected try-again-later close, got %v", err)
	}
	if got := l.broadcaster.ClientCount(); got != 2 {
		t.Fatalf("ClientCount = %d after rejection, want 2", got)
	}
	if l.store.Len() != 1 {
		t.Fatalf("rejected connection disturbed hosted sessions: Len = %d", l.store.Len())
	}

	// A guest leaving makes room; the host's session is still listed.
	guest.Close()
	waitFor(t, "guest to be removed", func() bool { return l.broadcaster.ClientCount() < 2 })

	late := l.dial(t)
	res := request(t, late, MsgFind, "3", presenceFind())
	if len(res.Results) != 1 || res.Results[0].ServerName() != "Alpha" {
		t.Fatalf("find after guest left: %+v", res)
	}
}

func TestServer_UnlimitedConnections(t *testing.T) {
	l := newTestLobby(t, func(cfg *config.Config) { cfg.Server.MaxConnections = 0 })

	for i := 0; i < 10; i++ {
		conn := l.dial(t)
		if res := request(t, conn, MsgFind, "find", presenceFind()); !res.OK {
			t.Fatalf("connection %d: find failed: %+v", i, res)
		}
	}
	if got := l.broadcaster.ClientCount(); got != 10 {
		t.Fatalf("ClientCount = %d, want 10", got)
	}
}

func TestServer_DeadTransportDropsHostAndSessions(t *testing.T) {
	l := newTestLobby(t, nil)

	host := l.dial(t)
	created := request(t, host, MsgCreate, "1", CreateRequest{
		Name:     session.DefaultSessionName,
		Settings: hostSettings("Alpha"),
		GamePort: 7777,
	})
	if !created.OK {
		t.Fatalf("create: %+v", created)
	}
	entry, ok := l.store.Get(created.SessionID)
	if !ok {
		t.Fatal("created session missing from store")
	}

	var hostClient *client
	l.broadcaster.mu.RLock()
	for c := range l.broadcaster.clients {
		if c.id == entry.OwnerID {
			hostClient = c
		}
	}
	l.broadcaster.mu.RUnlock()
	if hostClient == nil {
		t.Fatal("no lobby client owns the session")
	}

	// Break the transport under the server side; the next push cannot be
	// written.
	hostClient.conn.UnderlyingConn().Close()
	l.broadcaster.Send(hostClient, WSMessage{Type: MsgError, Payload: ErrorPayload{Message: "ping"}})

	waitFor(t, "host client removal", func() bool { return l.broadcaster.ClientCount() == 0 })
	waitFor(t, "hosted session cleanup", func() bool { return l.store.Len() == 0 })

	// Sending to a removed client is a no-op.
	l.broadcaster.Send(hostClient, WSMessage{Type: MsgError, Payload: ErrorPayload{Message: "late"}})
}
