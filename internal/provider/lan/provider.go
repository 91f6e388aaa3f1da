// Package lan implements the LAN session provider (kind "NULL"). Hosted
// sessions are announced by a UDP beacon responder; finders broadcast a query
// and collect replies for a fixed window.
package lan

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/coop-adventure/sessions/internal/session"
	"github.com/google/uuid"
)

type Options struct {
	// ListenHost is the address the beacon responder binds; empty binds all
	// interfaces.
	ListenHost    string
	Port          int
	BroadcastAddr string
	SearchWindow  time.Duration
	GamePort      int

	// Interface restricts address discovery to one NIC.
	Interface string
	// AdvertiseAddr overrides address discovery.
	AdvertiseAddr string
	OwnerName     string
}

type hostedSession struct {
	named session.NamedSession
	// guests holds the nonce of every join that took a slot.
	guests map[string]bool
}

// players counts the host plus admitted guests.
func (h *hostedSession) players() int {
	return 1 + len(h.guests)
}

// joinTicket lets a guest give its slot back to the host that granted it.
type joinTicket struct {
	nonce     string
	sessionID string
	endpoint  *net.UDPAddr
}

var _ session.Provider = (*Provider)(nil)

type Provider struct {
	opts   Options
	poster session.Poster

	mu        sync.Mutex
	handlers  session.Handlers
	subID     uint64
	hosted    map[string]*hostedSession
	joined    map[string]session.NamedSession
	tickets   map[string]joinTicket
	connect   map[string]string
	endpoints map[string]*net.UDPAddr // session ID -> beacon that announced it
	advertise string
	responder *responder

	wg sync.WaitGroup
}

// New returns a LAN provider whose completions are delivered through poster.
func New(opts Options, poster session.Poster) *Provider {
	if opts.BroadcastAddr == "" {
		opts.BroadcastAddr = "255.255.255.255"
	}
	if opts.SearchWindow <= 0 {
		opts.SearchWindow = 2 * time.Second
	}
	if opts.OwnerName == "" {
		opts.OwnerName = defaultOwnerName()
	}
	if poster == nil {
		poster = session.Immediate
	}
	return &Provider{
		opts:      opts,
		poster:    poster,
		hosted:    make(map[string]*hostedSession),
		joined:    make(map[string]session.NamedSession),
		tickets:   make(map[string]joinTicket),
		connect:   make(map[string]string),
		endpoints: make(map[string]*net.UDPAddr),
	}
}

func (p *Provider) Kind() string { return session.ProviderKindLAN }

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

// complete posts fn to the owner. Handlers are read when fn runs so a
// released subscription never sees late completions.
func (p *Provider) complete(fn func(h session.Handlers)) {
	p.poster.Post(func() {
		p.mu.Lock()
		h := p.handlers
		p.mu.Unlock()
		fn(h)
	})
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

func (p *Provider) CreateSession(slot int, name string, settings session.Settings) error {
	p.mu.Lock()
	if p.inSessionLocked(name) {
		p.mu.Unlock()
		p.completeCreate(name, false)
		return nil
	}

	if p.responder == nil {
		addr := net.JoinHostPort(p.opts.ListenHost, strconv.Itoa(p.opts.Port))
		r, err := listenResponder(addr, p.handlePacket)
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("lan: starting beacon on %s: %w", addr, err)
		}
		p.responder = r
		p.advertise = advertiseHost(p.opts.AdvertiseAddr, p.opts.Interface)
		log.Printf("lan: beacon listening on udp port %d (advertise=%q)", r.port(), p.advertise)
	}

	p.hosted[name] = &hostedSession{
		named: session.NamedSession{
			Name:      name,
			SessionID: uuid.NewString(),
			Settings:  settings.Clone(),
			Hosting:   true,
		},
		guests: make(map[string]bool),
	}
	p.mu.Unlock()

	p.completeCreate(name, true)
	return nil
}

func (p *Provider) DestroySession(name string) error {
	p.mu.Lock()
	if _, ok := p.hosted[name]; ok {
		delete(p.hosted, name)
		delete(p.connect, name)
		var r *responder
		if len(p.hosted) == 0 {
			r, p.responder = p.responder, nil
		}
		p.mu.Unlock()

		if r != nil {
			r.close()
		}
		p.completeDestroy(name, true)
		return nil
	}
	if _, ok := p.joined[name]; ok {
		ticket := p.tickets[name]
		delete(p.joined, name)
		delete(p.tickets, name)
		delete(p.connect, name)
		p.mu.Unlock()
		p.sendLeave(ticket)
		p.completeDestroy(name, true)
		return nil
	}
	p.mu.Unlock()

	p.completeDestroy(name, false)
	return nil
}

func (p *Provider) FindSessions(slot int, search *session.Search) error {
	if search == nil {
		return errors.New("lan: nil search")
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		results, err := p.broadcastQuery(search.Query)
		if err != nil {
			log.Printf("lan: find failed: %v", err)
			p.completeFind(search, false)
			return
		}
		search.Results = results
		p.completeFind(search, true)
	}()
	return nil
}

func (p *Provider) JoinSession(slot int, name string, result session.SearchResult) error {
	p.mu.Lock()
	if p.inSessionLocked(name) {
		p.mu.Unlock()
		p.completeJoin(name, session.JoinAlreadyInSession)
		return nil
	}
	endpoint := p.endpoints[result.SessionID]
	p.mu.Unlock()

	if endpoint == nil {
		p.completeJoin(name, session.JoinSessionDoesNotExist)
		return nil
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		res, addr, nonce := p.requestJoin(endpoint, result.SessionID)
		if res == session.JoinSuccess {
			if addr == "" {
				addr = result.Address
			}
			if addr == "" {
				addr = net.JoinHostPort(endpoint.IP.String(), strconv.Itoa(p.opts.GamePort))
			}
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
			p.tickets[name] = joinTicket{nonce: nonce, sessionID: result.SessionID, endpoint: endpoint}
			p.connect[name] = addr
			p.mu.Unlock()
		}
		p.completeJoin(name, res)
	}()
	return nil
}

func (p *Provider) NamedSession(name string) (session.NamedSession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.hosted[name]; ok {
		ns := h.named
		ns.Settings = ns.Settings.Clone()
		return ns, true
	}
	if ns, ok := p.joined[name]; ok {
		ns.Settings = ns.Settings.Clone()
		return ns, true
	}
	return session.NamedSession{}, false
}

func (p *Provider) ResolvedConnectString(name string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	addr, ok := p.connect[name]
	return addr, ok && addr != ""
}

// BeaconPort reports the UDP port the responder is bound to, or 0 when no
// session is hosted.
func (p *Provider) BeaconPort() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.responder == nil {
		return 0
	}
	return p.responder.port()
}

// Close gives back joined slots, stops the beacon and waits for in-flight
// searches and joins.
func (p *Provider) Close() error {
	p.mu.Lock()
	r := p.responder
	p.responder = nil
	tickets := make([]joinTicket, 0, len(p.tickets))
	for name, t := range p.tickets {
		tickets = append(tickets, t)
		delete(p.tickets, name)
	}
	p.mu.Unlock()
	for _, t := range tickets {
		p.sendLeave(t)
	}
	if r != nil {
		r.close()
	}
	p.wg.Wait()
	return nil
}

func (p *Provider) inSessionLocked(name string) bool {
	if _, ok := p.hosted[name]; ok {
		return true
	}
	_, ok := p.joined[name]
	return ok
}

func (p *Provider) hostAddressLocked() string {
	if p.advertise == "" || p.opts.GamePort <= 0 {
		return ""
	}
	return net.JoinHostPort(p.advertise, strconv.Itoa(p.opts.GamePort))
}

// handlePacket runs on the responder goroutine.
func (p *Provider) handlePacket(req packet) []packet {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.Type {
	case packetQuery:
		names := make([]string, 0, len(p.hosted))
		for name, h := range p.hosted {
			if h.named.Settings.Advertised {
				names = append(names, name)
			}
		}
		sort.Strings(names)

		replies := make([]packet, 0, len(names))
		for _, name := range names {
			r := p.searchResultLocked(p.hosted[name])
			replies = append(replies, packet{Type: packetBeacon, Nonce: req.Nonce, Session: &r})
		}
		return replies

	case packetJoin:
		result := session.JoinSessionDoesNotExist
		for _, h := range p.hosted {
			if h.named.SessionID != req.SessionID {
				continue
			}
			switch {
			case h.guests[req.Nonce]:
				// Retransmitted join; the slot is already held.
				result = session.JoinSuccess
			case h.players() >= h.named.Settings.MaxConnections:
				result = session.JoinSessionIsFull
			default:
				h.guests[req.Nonce] = true
				result = session.JoinSuccess
			}
			break
		}
		reply := packet{Type: packetJoinReply, Nonce: req.Nonce, SessionID: req.SessionID, Result: &result}
		if result == session.JoinSuccess {
			reply.Address = p.hostAddressLocked()
		}
		return []packet{reply}

	case packetLeave:
		for _, h := range p.hosted {
			if h.named.SessionID == req.SessionID && h.guests[req.Nonce] {
				delete(h.guests, req.Nonce)
				log.Printf("lan: guest left %s", req.SessionID)
			}
		}
	}
	return nil
}

func (p *Provider) searchResultLocked(h *hostedSession) session.SearchResult {
	s := h.named.Settings
	open := s.MaxConnections - h.players()
	if open < 0 {
		open = 0
	}
	return session.SearchResult{
		SessionID:  h.named.SessionID,
		OwnerName:  p.opts.OwnerName,
		OpenSlots:  open,
		MaxSlots:   s.MaxConnections,
		LAN:        s.LAN,
		Presence:   s.UsesPresence,
		Address:    p.hostAddressLocked(),
		Attributes: s.Clone().Attributes,
	}
}

// broadcastQuery broadcasts one query and gathers distinct beacons, in arrival order,
// until the search window closes or the result cap is reached.
func (p *Provider) broadcastQuery(q session.Query) ([]session.SearchResult, error) {
	target, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(p.opts.BroadcastAddr, strconv.Itoa(p.opts.Port)))
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	nonce := uuid.NewString()
	data, err := encodePacket(packet{Type: packetQuery, Nonce: nonce})
	if err != nil {
		return nil, err
	}
	sent := time.Now()
	if _, err := conn.WriteToUDP(data, target); err != nil {
		return nil, fmt.Errorf("sending query to %s: %w", target, err)
	}
	if err := conn.SetReadDeadline(sent.Add(p.opts.SearchWindow)); err != nil {
		return nil, err
	}

	limit := q.MaxResults
	if limit <= 0 {
		limit = session.MaxResultsUnlimited
	}
	seen := make(map[string]bool)
	results := make([]session.SearchResult, 0)
	buf := make([]byte, maxPacketSize)
	for len(results) < limit {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				break
			}
			return nil, err
		}
		reply, ok := decodePacket(buf[:n])
		if !ok || reply.Type != packetBeacon || reply.Nonce != nonce || reply.Session == nil {
			continue
		}
		r := reply.Session.Clone()
		if r.SessionID == "" || seen[r.SessionID] {
			continue
		}
		seen[r.SessionID] = true

		if r.Address == "" && p.opts.GamePort > 0 {
			r.Address = net.JoinHostPort(from.IP.String(), strconv.Itoa(p.opts.GamePort))
		}
		r.PingMS = int(time.Since(sent) / time.Millisecond)

		p.mu.Lock()
		p.endpoints[r.SessionID] = from
		p.mu.Unlock()

		if q.Accepts(r) {
			results = append(results, r)
		}
	}
	return results, nil
}

// requestJoin asks the beacon at endpoint for a slot and returns the result
// with the host's connect address and the nonce that now holds the slot.
func (p *Provider) requestJoin(endpoint *net.UDPAddr, sessionID string) (session.JoinResult, string, string) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		log.Printf("lan: join socket: %v", err)
		return session.JoinUnknownError, "", ""
	}
	defer conn.Close()

	nonce := uuid.NewString()
	data, err := encodePacket(packet{Type: packetJoin, Nonce: nonce, SessionID: sessionID})
	if err != nil {
		return session.JoinUnknownError, "", ""
	}
	if _, err := conn.WriteToUDP(data, endpoint); err != nil {
		log.Printf("lan: join request to %s: %v", endpoint, err)
		return session.JoinUnknownError, "", ""
	}
	conn.SetReadDeadline(time.Now().Add(p.opts.SearchWindow))

	buf := make([]byte, maxPacketSize)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			log.Printf("lan: no join reply from %s: %v", endpoint, err)
			return session.JoinUnknownError, "", ""
		}
		reply, ok := decodePacket(buf[:n])
		if !ok || reply.Type != packetJoinReply || reply.Nonce != nonce || reply.Result == nil {
			continue
		}
		return *reply.Result, reply.Address, nonce
	}
}

// sendLeave tells the host to free the slot t holds. Delivery is best effort;
// the host keeps the slot if the datagram is lost.
func (p *Provider) sendLeave(t joinTicket) {
	if t.endpoint == nil || t.nonce == "" {
		return
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		log.Printf("lan: leave socket: %v", err)
		return
	}
	defer conn.Close()

	data, err := encodePacket(packet{Type: packetLeave, Nonce: t.nonce, SessionID: t.sessionID})
	if err != nil {
		return
	}
	if _, err := conn.WriteToUDP(data, t.endpoint); err != nil {
		log.Printf("lan: leave to %s: %v", t.endpoint, err)
	}
}
