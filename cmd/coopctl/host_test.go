package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/coop-adventure/sessions/internal/config"
	"github.com/coop-adventure/sessions/internal/history"
	"github.com/coop-adventure/sessions/internal/session"
	"github.com/coop-adventure/sessions/internal/travel"
)

// stubProvider completes creates on the event loop only once autoComplete is
// set. All fields are touched from the loop goroutine.
type stubProvider struct {
	loop         *session.EventLoop
	handlers     session.Handlers
	named        map[string]session.NamedSession
	autoComplete bool
}

func (p *stubProvider) CreateSession(_ int, name string, settings session.Settings) error {
	if p.autoComplete {
		p.loop.Post(func() {
			p.named[name] = session.NamedSession{Name: name, Settings: settings, Hosting: true}
			p.handlers.CreateComplete(name, true)
		})
	}
	return nil
}

func (p *stubProvider) DestroySession(name string) error {
	p.loop.Post(func() {
		delete(p.named, name)
		p.handlers.DestroyComplete(name, true)
	})
	return nil
}

func (p *stubProvider) FindSessions(int, *session.Search) error { return nil }

func (p *stubProvider) JoinSession(int, string, session.SearchResult) error { return nil }

func (p *stubProvider) ResolvedConnectString(string) (string, bool) { return "", false }

func (p *stubProvider) Kind() string { return "stub" }

func (p *stubProvider) Subscribe(h session.Handlers) func() {
	p.handlers = h
	return func() {}
}

func (p *stubProvider) NamedSession(name string) (session.NamedSession, bool) {
	s, ok := p.named[name]
	return s, ok
}

func newStubRuntime(t *testing.T) (*runtime, *stubProvider) {
	t.Helper()
	cfg := config.Default()
	ctx, cancel := context.WithCancel(context.Background())
	loop := session.NewEventLoop(0)
	go loop.Run(ctx)

	p := &stubProvider{loop: loop, named: make(map[string]session.NamedSession)}
	rt := &runtime{
		cfg:           cfg,
		loop:          loop,
		provider:      p,
		history:       history.NewStore(t.TempDir()),
		timeout:       100 * time.Millisecond,
		stopLoop:      cancel,
		closeProvider: func() error { return nil },
	}
	if err := loop.Call(context.Background(), func() {
		rt.negotiator = session.NewNegotiator(p, session.Options{
			SessionName:    cfg.Session.Name,
			ListenMap:      cfg.Session.ListenMap,
			MaxConnections: cfg.Session.MaxConnections,
			Traveler:       &travel.Recorder{},
		})
	}); err != nil {
		t.Fatalf("building negotiator: %v", err)
	}
	t.Cleanup(rt.close)
	return rt, p
}

func TestCreateAfterTimeoutIgnoresStaleOutcome(t *testing.T) {
	rt, p := newStubRuntime(t)
	ctx := context.Background()

	created := make(chan session.Outcome, 4)
	if err := rt.call(func() { rt.negotiator.OnServerCreated(offerOutcome(created)) }); err != nil {
		t.Fatal(err)
	}

	if err := rt.create(ctx, "Alpha", created); err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("first create = %v, want timeout", err)
	}
	if err := rt.create(ctx, "Beta", created); !errors.Is(err, errCreateInProgress) {
		t.Fatalf("create while creating = %v, want errCreateInProgress", err)
	}

	// The abandoned create fails late; its outcome sits unread in created.
	if err := rt.call(func() {
		p.handlers.CreateComplete(rt.negotiator.SessionName(), false)
		p.autoComplete = true
	}); err != nil {
		t.Fatal(err)
	}
	if len(created) != 1 {
		t.Fatalf("buffered outcomes = %d, want 1", len(created))
	}

	if err := rt.create(ctx, "Gamma", created); err != nil {
		t.Fatalf("create after late failure: %v", err)
	}
	h, err := rt.history.Load()
	if err != nil {
		t.Fatal(err)
	}
	if name, _ := h.LastHosted(); name != "Gamma" {
		t.Errorf("LastHosted = %q, want Gamma", name)
	}
}

func TestOfferOutcomeNeverBlocks(t *testing.T) {
	ch := make(chan session.Outcome, 1)
	offer := offerOutcome(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		offer(session.Outcome{OK: true})
		offer(session.Outcome{Err: errors.New("late")})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("offerOutcome blocked on a full channel")
	}

	if o := <-ch; !o.OK {
		t.Errorf("kept outcome = %+v, want the first one", o)
	}

	ch <- session.Outcome{}
	drainOutcomes(ch)
	if len(ch) != 0 {
		t.Errorf("len after drain = %d, want 0", len(ch))
	}
	drainOutcomes(ch)
}
