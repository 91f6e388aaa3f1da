package lobby

import (
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/coop-adventure/sessions/internal/session"
)

var (
	ErrDuplicateSession = errors.New("lobby: owner already hosts a session with that name")
	ErrNotFound         = errors.New("lobby: session not found")
	ErrNotOwner         = errors.New("lobby: session belongs to another connection")
	ErrNotGuest         = errors.New("lobby: connection has not joined the session")
)

type Store struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	nextSeq   int
	observers []func(Event)
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Observe registers fn to be called after every mutation. Observers run
// outside the store lock.
func (s *Store) Observe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// GetAll returns copies of every entry in creation order.
func (s *Store) GetAll() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked(func(*Entry) bool { return true })
}

// Add registers a new session. The entry's ID must already be set.
func (s *Store) Add(entry *Entry) (*Entry, error) {
	s.mu.Lock()
	for _, e := range s.entries {
		if e.OwnerID == entry.OwnerID && e.Name == entry.Name {
			s.mu.Unlock()
			return nil, ErrDuplicateSession
		}
	}
	stored := entry.Clone()
	stored.Seq = s.nextSeq
	s.nextSeq++
	stored.CreatedAt = s.now()
	stored.UpdatedAt = stored.CreatedAt
	stored.updatePhase()
	s.entries[stored.ID] = stored
	out := stored.Clone()
	s.mu.Unlock()

	s.notify(Event{Type: EventNew, Entry: out.Clone(), ActiveCount: s.ActiveCount()})
	return out, nil
}

// Remove deletes the session if owner hosts it.
func (s *Store) Remove(owner, id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if e.OwnerID != owner {
		s.mu.Unlock()
		return ErrNotOwner
	}
	delete(s.entries, id)
	e.Phase = Closed
	s.mu.Unlock()

	s.notify(Event{Type: EventRemoved, Entry: e, ActiveCount: s.ActiveCount()})
	return nil
}

// RemoveByName deletes the session owner hosts under the given slot name.
func (s *Store) RemoveByName(owner, name string) (string, error) {
	s.mu.RLock()
	var id string
	for _, e := range s.entries {
		if e.OwnerID == owner && e.Name == name {
			id = e.ID
			break
		}
	}
	s.mu.RUnlock()
	if id == "" {
		return "", ErrNotFound
	}
	return id, s.Remove(owner, id)
}

// RemoveOwner deletes every session hosted by owner and returns their IDs.
func (s *Store) RemoveOwner(owner string) []string {
	s.mu.Lock()
	var removed []*Entry
	for id, e := range s.entries {
		if e.OwnerID == owner {
			delete(s.entries, id)
			e.Phase = Closed
			removed = append(removed, e)
		}
	}
	s.mu.Unlock()

	ids := make([]string, 0, len(removed))
	for _, e := range removed {
		ids = append(ids, e.ID)
		s.notify(Event{Type: EventRemoved, Entry: e, ActiveCount: s.ActiveCount()})
	}
	sort.Strings(ids)
	return ids
}

// Join reserves a slot in the session for guest. The slot is held until
// Leave or ReleaseGuest. An empty guest takes a slot that is never released.
func (s *Store) Join(id, guest string) (*Entry, session.JoinResult) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return nil, session.JoinSessionDoesNotExist
	}
	if guest != "" && (guest == e.OwnerID || slices.Contains(e.Guests, guest)) {
		s.mu.Unlock()
		return nil, session.JoinAlreadyInSession
	}
	if e.IsFull() {
		s.mu.Unlock()
		return nil, session.JoinSessionIsFull
	}
	if e.Address == "" {
		s.mu.Unlock()
		return nil, session.JoinCouldNotRetrieveAddress
	}
	e.Players++
	if guest != "" {
		e.Guests = append(e.Guests, guest)
	}
	e.UpdatedAt = s.now()
	e.updatePhase()
	out := e.Clone()
	s.mu.Unlock()

	s.notify(Event{Type: EventUpdate, Entry: out.Clone(), ActiveCount: s.ActiveCount()})
	return out, session.JoinSuccess
}

// Leave frees the slot guest holds in the session.
func (s *Store) Leave(id, guest string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if !e.dropGuest(guest) {
		s.mu.Unlock()
		return ErrNotGuest
	}
	e.UpdatedAt = s.now()
	out := e.Clone()
	s.mu.Unlock()

	s.notify(Event{Type: EventUpdate, Entry: out, ActiveCount: s.ActiveCount()})
	return nil
}

// ReleaseGuest frees every slot guest holds and returns the affected session
// IDs.
func (s *Store) ReleaseGuest(guest string) []string {
	if guest == "" {
		return nil
	}
	s.mu.Lock()
	var updated []*Entry
	now := s.now()
	for _, e := range s.entries {
		if e.dropGuest(guest) {
			e.UpdatedAt = now
			updated = append(updated, e.Clone())
		}
	}
	s.mu.Unlock()

	ids := make([]string, 0, len(updated))
	for _, e := range updated {
		ids = append(ids, e.ID)
		s.notify(Event{Type: EventUpdate, Entry: e, ActiveCount: s.ActiveCount()})
	}
	sort.Strings(ids)
	return ids
}

// Find returns advertised sessions that pass the query's filters, in creation
// order, capped at the query's MaxResults.
func (s *Store) Find(q session.Query) []session.SearchResult {
	s.mu.RLock()
	entries := s.sortedLocked(func(e *Entry) bool { return e.Settings.Advertised })
	s.mu.RUnlock()

	limit := q.MaxResults
	if limit <= 0 {
		limit = session.MaxResultsUnlimited
	}
	results := make([]session.SearchResult, 0, len(entries))
	for _, e := range entries {
		r := e.SearchResult()
		if !q.Accepts(r) {
			continue
		}
		results = append(results, r)
		if len(results) == limit {
			break
		}
	}
	return results
}

// ActiveCount counts sessions that can still be joined.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, e := range s.entries {
		if e.Phase == Open {
			count++
		}
	}
	return count
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) sortedLocked(keep func(*Entry) bool) []*Entry {
	result := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if keep(e) {
			result = append(result, e.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result
}

func (s *Store) notify(ev Event) {
	s.mu.RLock()
	observers := make([]func(Event), len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()
	for _, fn := range observers {
		fn(ev)
	}
}
