package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coop-adventure/sessions/internal/config"
	"github.com/coop-adventure/sessions/internal/lobby"
	"github.com/coop-adventure/sessions/internal/observability"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

var ErrTooManyConnections = errors.New("ws: too many connections")

type client struct {
	id   string
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte

	mu         sync.Mutex
	closed     bool
	subscribed bool
}

func newClient(id string, conn *websocket.Conn, b *Broadcaster) *client {
	c := &client{
		id:   id,
		conn: conn,
		b:    b,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// enqueue hands data to the write pump without blocking. It reports false if
// the client is closed or its buffer is full.
func (c *client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) isSubscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

// Broadcaster owns every lobby connection. Replies go to one client; registry
// changes are batched into deltas for subscribed clients, with a periodic full
// snapshot.
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	store          *lobby.Store
	privacy        *lobby.PrivacyFilter
	throttle       time.Duration
	maxConns       int
	seq            atomic.Uint64
	snapshotTicker *time.Ticker
	stopCh         chan struct{}
	stopOnce       sync.Once
	pendingUpdates []*lobby.Entry
	pendingRemoved []string
	flushTimer     *time.Timer
	flushMu        sync.Mutex
}

// NewBroadcaster starts the snapshot loop and subscribes to store changes.
// maxConns <= 0 means unlimited.
func NewBroadcaster(store *lobby.Store, throttle, snapshotInterval time.Duration, maxConns int) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		store:    store,
		privacy:  &lobby.PrivacyFilter{},
		throttle: throttle,
		maxConns: maxConns,
		stopCh:   make(chan struct{}),
	}

	store.Observe(b.onStoreEvent)

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

// SetPrivacyFilter replaces the filter applied to broadcast and listed
// entries. A nil filter disables filtering.
func (b *Broadcaster) SetPrivacyFilter(f *lobby.PrivacyFilter) {
	if f == nil {
		f = &lobby.PrivacyFilter{}
	}
	b.mu.Lock()
	b.privacy = f
	b.mu.Unlock()
}

// PrivacyFilterFromConfig builds the filter lobbyd applies to listings.
func PrivacyFilterFromConfig(p config.PrivacyConfig) *lobby.PrivacyFilter {
	return &lobby.PrivacyFilter{
		MaskAddresses: p.MaskAddresses,
		MaskOwnerIDs:  p.MaskOwnerIDs,
		HideFull:      p.HideFull,
		AllowedNames:  p.AllowedNames,
		BlockedNames:  p.BlockedNames,
	}
}

// FilterSessions applies the privacy filter.
func (b *Broadcaster) FilterSessions(entries []*lobby.Entry) []*lobby.Entry {
	b.mu.RLock()
	f := b.privacy
	b.mu.RUnlock()
	if f.IsNoop() {
		return entries
	}
	return f.FilterSlice(entries)
}

func (b *Broadcaster) AddClient(id string, conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	c := newClient(id, conn, b)
	b.clients[c] = true
	b.mu.Unlock()

	observability.LobbyClientsConnected.Inc()
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	_, ok := b.clients[c]
	if ok {
		delete(b.clients, c)
	}
	b.mu.Unlock()

	if ok {
		c.close()
		observability.LobbyClientsConnected.Dec()
	}
}

// Subscribe starts pushing registry changes to c, beginning with a snapshot.
func (b *Broadcaster) Subscribe(c *client) {
	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()

	b.Send(c, WSMessage{
		Type:    MsgSnapshot,
		Seq:     b.seq.Add(1),
		Payload: SnapshotPayload{Sessions: b.FilterSessions(b.store.GetAll())},
	})
}

// Send delivers msg to a single client. A client that cannot keep up is
// disconnected.
func (b *Broadcaster) Send(c *client, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("ws marshal error: %v", err)
		return
	}
	if !c.enqueue(data) {
		log.Printf("ws client %s too slow, disconnecting", c.id)
		b.RemoveClient(c)
	}
}

func (b *Broadcaster) QueueUpdate(entries ...*lobby.Entry) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingUpdates = append(b.pendingUpdates, entries...)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) QueueRemoval(ids ...string) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingRemoved = append(b.pendingRemoved, ids...)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) onStoreEvent(ev lobby.Event) {
	observability.LobbySessionsActive.Set(float64(b.store.Len()))
	switch ev.Type {
	case lobby.EventRemoved:
		b.QueueRemoval(ev.Entry.ID)
	default:
		b.QueueUpdate(ev.Entry)
	}
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	updates := b.pendingUpdates
	removed := b.pendingRemoved
	b.pendingUpdates = nil
	b.pendingRemoved = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if len(updates) == 0 && len(removed) == 0 {
		return
	}

	b.broadcast(MsgDelta, DeltaPayload{
		Updates: b.FilterSessions(latestPerID(updates, removed)),
		Removed: removed,
	})
}

// latestPerID keeps the last update for each entry and drops entries that
// were removed in the same batch.
func latestPerID(updates []*lobby.Entry, removed []string) []*lobby.Entry {
	gone := make(map[string]bool, len(removed))
	for _, id := range removed {
		gone[id] = true
	}
	last := make(map[string]int, len(updates))
	for i, e := range updates {
		last[e.ID] = i
	}
	out := make([]*lobby.Entry, 0, len(last))
	for i, e := range updates {
		if last[e.ID] == i && !gone[e.ID] {
			out = append(out, e)
		}
	}
	return out
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.stopCh:
			return
		case <-b.snapshotTicker.C:
			b.broadcast(MsgSnapshot, SnapshotPayload{
				Sessions: b.FilterSessions(b.store.GetAll()),
			})
		}
	}
}

func (b *Broadcaster) broadcast(kind MessageType, payload interface{}) {
	data, err := json.Marshal(WSMessage{Type: kind, Seq: b.seq.Add(1), Payload: payload})
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if !c.isSubscribed() {
			continue
		}
		if !c.enqueue(data) {
			// Client can't keep up, disconnect it
			log.Printf("ws client %s too slow, disconnecting", c.id)
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop halts the snapshot loop and any pending flush.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.snapshotTicker.Stop()
		b.flushMu.Lock()
		if b.flushTimer != nil {
			b.flushTimer.Stop()
			b.flushTimer = nil
		}
		b.flushMu.Unlock()
	})
}
