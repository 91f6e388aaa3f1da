// Package online implements the lobby-backed session provider (kind "LOBBY").
// Every operation is a request/result exchange with lobbyd over a single
// websocket connection.
package online

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coop-adventure/sessions/internal/lobby"
	"github.com/coop-adventure/sessions/internal/session"
	"github.com/coop-adventure/sessions/internal/ws"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Kind identifies this provider.
const Kind = "LOBBY"

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

var ErrClosed = errors.New("online: connection closed")

type Options struct {
	URL            string
	Token          string
	AdvertiseAddr  string
	GamePort       int
	OwnerName      string
	RequestTimeout time.Duration
}

var _ session.Provider = (*Provider)(nil)

type Provider struct {
	opts   Options
	poster session.Poster
	conn   *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers session.Handlers
	subID    uint64
	pending  map[string]chan ws.ResultPayload
	hosted   map[string]session.NamedSession
	joined   map[string]session.NamedSession
	connect  map[string]string
	watching bool
	listing  map[string]*lobby.Entry

	// listings holds the latest listing not yet handed to the watcher.
	listings chan []*lobby.Entry

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to lobbyd. Completions are delivered through poster.
func Dial(ctx context.Context, opts Options, poster session.Poster) (*Provider, error) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if poster == nil {
		poster = session.Immediate
	}

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, header)
	if err != nil {
		return nil, fmt.Errorf("online: dial %s: %w", opts.URL, err)
	}

	p := &Provider{
		opts:     opts,
		poster:   poster,
		conn:     conn,
		pending:  make(map[string]chan ws.ResultPayload),
		hosted:   make(map[string]session.NamedSession),
		joined:   make(map[string]session.NamedSession),
		connect:  make(map[string]string),
		listing:  make(map[string]*lobby.Entry),
		listings: make(chan []*lobby.Entry, 1),
		done:     make(chan struct{}),
	}
	p.wg.Add(2)
	go p.readLoop()
	go p.pingLoop()
	log.Printf("online: connected to %s", opts.URL)
	return p, nil
}

func (p *Provider) Kind() string { return Kind }

func (p *Provider) Subscribe(h session.Handlers) func() {
	p.mu.Lock()
	p.subID++
	id := p.subID
	p.handlers = h
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.subID == id {
			p.handlers = session.Handlers{}
		}
	}
}

func (p *Provider) complete(fn func(h session.Handlers)) {
	p.poster.Post(func() {
		p.mu.Lock()
		h := p.handlers
		p.mu.Unlock()
		fn(h)
	})
}

func (p *Provider) CreateSession(slot int, name string, settings session.Settings) error {
	if p.inSession(name) {
		p.completeCreate(name, false)
		return nil
	}

	p.async(func() {
		res, err := p.request(ws.MsgCreate, ws.CreateRequest{
			Name:          name,
			Settings:      settings,
			OwnerName:     p.opts.OwnerName,
			AdvertiseAddr: p.opts.AdvertiseAddr,
			GamePort:      p.opts.GamePort,
		})
		ok := err == nil && res.OK
		if ok {
			p.mu.Lock()
			p.hosted[name] = session.NamedSession{
				Name:      name,
				SessionID: res.SessionID,
				Settings:  settings.Clone(),
				Hosting:   true,
			}
			p.mu.Unlock()
		} else {
			log.Printf("online: create %q failed: %v", name, describe(res, err))
		}
		p.completeCreate(name, ok)
	})
	return nil
}

func (p *Provider) DestroySession(name string) error {
	p.mu.Lock()
	_, hosting := p.hosted[name]
	guest, joined := p.joined[name]
	if joined {
		delete(p.joined, name)
		delete(p.connect, name)
	}
	p.mu.Unlock()

	switch {
	case hosting:
		p.async(func() {
			res, err := p.request(ws.MsgDestroy, ws.DestroyRequest{Name: name})
			ok := err == nil && res.OK
			if ok {
				p.mu.Lock()
				delete(p.hosted, name)
				p.mu.Unlock()
			} else {
				log.Printf("online: destroy %q failed: %v", name, describe(res, err))
			}
			p.completeDestroy(name, ok)
		})
	case joined:
		// The local slot is gone either way; leave only frees the lobby's.
		p.async(func() {
			res, err := p.request(ws.MsgLeave, ws.LeaveRequest{Name: name, SessionID: guest.SessionID})
			if err != nil || !res.OK {
				log.Printf("online: leave %q failed: %v", name, describe(res, err))
			}
			p.completeDestroy(name, true)
		})
	default:
		p.completeDestroy(name, false)
	}
	return nil
}

func (p *Provider) FindSessions(slot int, search *session.Search) error {
	if search == nil {
		return errors.New("online: nil search")
	}
	p.async(func() {
		res, err := p.request(ws.MsgFind, ws.FindRequest{Query: search.Query})
		if err != nil || !res.OK {
			log.Printf("online: find failed: %v", describe(res, err))
			p.completeFind(search, false)
			return
		}
		search.Results = res.Results
		p.completeFind(search, true)
	})
	return nil
}

func (p *Provider) JoinSession(slot int, name string, result session.SearchResult) error {
	if p.inSession(name) {
		p.completeJoin(name, session.JoinAlreadyInSession)
		return nil
	}

	p.async(func() {
		res, err := p.request(ws.MsgJoin, ws.JoinRequest{Name: name, SessionID: result.SessionID})
		if err != nil || res.JoinResult == nil {
			log.Printf("online: join %q failed: %v", name, describe(res, err))
			p.completeJoin(name, session.JoinUnknownError)
			return
		}
		if *res.JoinResult == session.JoinSuccess {
			p.mu.Lock()
			p.joined[name] = session.NamedSession{
				Name:      name,
				SessionID: result.SessionID,
				Settings: session.Settings{
					MaxConnections: result.MaxSlots,
					LAN:            result.LAN,
					UsesPresence:   result.Presence,
					Attributes:     result.Clone().Attributes,
				},
			}
			if res.Address != "" {
				p.connect[name] = res.Address
			}
			p.mu.Unlock()
		}
		p.completeJoin(name, *res.JoinResult)
	})
	return nil
}

func (p *Provider) NamedSession(name string) (session.NamedSession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ns, ok := p.hosted[name]
	if !ok {
		ns, ok = p.joined[name]
	}
	if ok {
		ns.Settings = ns.Settings.Clone()
	}
	return ns, ok
}

func (p *Provider) ResolvedConnectString(name string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	addr, ok := p.connect[name]
	return addr, ok
}

// Watch streams the lobby listing to fn: once with the initial snapshot and
// again after every change. fn runs on its own goroutine; while it is busy
// only the latest listing is kept. Close does not wait for fn to return.
func (p *Provider) Watch(fn func([]*lobby.Entry)) error {
	if fn == nil {
		return errors.New("online: nil watch func")
	}
	p.mu.Lock()
	if p.watching {
		p.mu.Unlock()
		return errors.New("online: already watching")
	}
	p.watching = true
	p.mu.Unlock()

	go p.watchLoop(fn)

	res, err := p.request(ws.MsgSubscribe, nil)
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("online: subscribe: %s", res.Error)
	}
	return nil
}

func (p *Provider) watchLoop(fn func([]*lobby.Entry)) {
	for {
		select {
		case <-p.done:
			return
		case entries := <-p.listings:
			fn(entries)
		}
	}
}

// Done is closed when the connection to lobbyd is lost or closed.
func (p *Provider) Done() <-chan struct{} { return p.done }

// Close disconnects from lobbyd. The lobby drops every session this
// connection hosts.
func (p *Provider) Close() error {
	p.shutdown()
	err := p.conn.Close()
	p.wg.Wait()
	return err
}

func (p *Provider) shutdown() {
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *Provider) inSession(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.hosted[name]; ok {
		return true
	}
	_, ok := p.joined[name]
	return ok
}

func (p *Provider) async(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// request sends one envelope and waits for the result carrying its ID.
func (p *Provider) request(kind ws.MessageType, payload interface{}) (ws.ResultPayload, error) {
	id := uuid.NewString()
	ch := make(chan ws.ResultPayload, 1)

	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	p.writeMu.Lock()
	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := p.conn.WriteJSON(ws.WSMessage{Type: kind, ID: id, Payload: payload})
	p.writeMu.Unlock()
	if err != nil {
		return ws.ResultPayload{}, fmt.Errorf("online: sending %s: %w", kind, err)
	}

	timer := time.NewTimer(p.opts.RequestTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res, nil
	case <-timer.C:
		return ws.ResultPayload{}, fmt.Errorf("online: %s timed out after %s", kind, p.opts.RequestTimeout)
	case <-p.done:
		return ws.ResultPayload{}, ErrClosed
	}
}

func (p *Provider) readLoop() {
	defer p.wg.Done()
	defer p.shutdown()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
			default:
				log.Printf("online: connection lost: %v", err)
			}
			return
		}

		var env ws.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("online: malformed message: %v", err)
			continue
		}

		switch env.Type {
		case ws.MsgResult:
			var res ws.ResultPayload
			if err := json.Unmarshal(env.Payload, &res); err != nil {
				res = ws.ResultPayload{Error: err.Error()}
			}
			p.deliver(env.ID, res)
		case ws.MsgError:
			var e ws.ErrorPayload
			json.Unmarshal(env.Payload, &e)
			if env.ID == "" {
				log.Printf("online: lobby error: %s", e.Message)
				continue
			}
			p.deliver(env.ID, ws.ResultPayload{Error: e.Message})
		case ws.MsgSnapshot:
			var snap ws.SnapshotPayload
			if err := json.Unmarshal(env.Payload, &snap); err == nil {
				p.applyListing(snap.Sessions, nil, true)
			}
		case ws.MsgDelta:
			var delta ws.DeltaPayload
			if err := json.Unmarshal(env.Payload, &delta); err == nil {
				p.applyListing(delta.Updates, delta.Removed, false)
			}
		}
	}
}

func (p *Provider) deliver(id string, res ws.ResultPayload) {
	p.mu.Lock()
	ch, ok := p.pending[id]
	p.mu.Unlock()
	if ok {
		ch <- res
	}
}

func (p *Provider) applyListing(updates []*lobby.Entry, removed []string, reset bool) {
	p.mu.Lock()
	if reset {
		p.listing = make(map[string]*lobby.Entry, len(updates))
	}
	for _, e := range updates {
		p.listing[e.ID] = e
	}
	for _, id := range removed {
		delete(p.listing, id)
	}
	entries := make([]*lobby.Entry, 0, len(p.listing))
	for _, e := range p.listing {
		entries = append(entries, e.Clone())
	}
	watching := p.watching
	p.mu.Unlock()

	if !watching {
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })

	// The read loop is the only sender, so after dropping a stale listing
	// the send cannot block.
	select {
	case <-p.listings:
	default:
	}
	p.listings <- entries
}

func (p *Provider) pingLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				log.Printf("online: ping failed: %v", err)
				return
			}
		}
	}
}

func (p *Provider) completeCreate(name string, ok bool) {
	p.complete(func(h session.Handlers) {
		if h.CreateComplete != nil {
			h.CreateComplete(name, ok)
		}
	})
}

func (p *Provider) completeDestroy(name string, ok bool) {
	p.complete(func(h session.Handlers) {
		if h.DestroyComplete != nil {
			h.DestroyComplete(name, ok)
		}
	})
}

func (p *Provider) completeFind(search *session.Search, ok bool) {
	p.complete(func(h session.Handlers) {
		if h.FindComplete != nil {
			h.FindComplete(search, ok)
		}
	})
}

func (p *Provider) completeJoin(name string, result session.JoinResult) {
	p.complete(func(h session.Handlers) {
		if h.JoinComplete != nil {
			h.JoinComplete(name, result)
		}
	})
}

func describe(res ws.ResultPayload, err error) error {
	if err != nil {
		return err
	}
	if res.Error != "" {
		return errors.New(res.Error)
	}
	return errors.New("rejected")
}
