package session

import (
	"fmt"
	"log"
	"strings"

	"github.com/coop-adventure/sessions/internal/observability"
	"github.com/coop-adventure/sessions/internal/travel"
)

// Options configures a Negotiator. Zero values fall back to the defaults in
// this package and in package travel.
type Options struct {
	SessionName    string
	ListenMap      string
	MaxConnections int
	Traveler       travel.Traveler
}

// Negotiator sequences create/find/join/destroy against a Provider and turns
// provider completions into OnServerCreated and OnServerJoinResult broadcasts.
type Negotiator struct {
	provider    Provider
	traveler    travel.Traveler
	sessionName string
	listenMap   string
	maxConns    int
	unsubscribe func()

	state State

	// Pending recreate: set when a create collides with an existing named
	// session, consumed once when the destroy completes.
	pendingCreate string
	hasPending    bool
	recreating    bool

	search     *Search
	target     string
	generation uint64

	created []func(Outcome)
	joined  []func(Outcome)
}

// NewNegotiator subscribes to provider completions. Call Close to release the
// subscription.
func NewNegotiator(provider Provider, opts Options) *Negotiator {
	n := &Negotiator{
		provider:    provider,
		traveler:    opts.Traveler,
		sessionName: opts.SessionName,
		listenMap:   opts.ListenMap,
		maxConns:    opts.MaxConnections,
	}
	if n.sessionName == "" {
		n.sessionName = DefaultSessionName
	}
	if n.listenMap == "" {
		n.listenMap = travel.DefaultListenMap
	}
	if n.maxConns <= 0 {
		n.maxConns = DefaultMaxConnections
	}
	if n.traveler == nil {
		n.traveler = travel.Log{}
	}

	n.unsubscribe = provider.Subscribe(Handlers{
		CreateComplete:  n.onCreateSessionComplete,
		DestroyComplete: n.onDestroySessionComplete,
		FindComplete:    n.onFindSessionsComplete,
		JoinComplete:    n.onJoinSessionComplete,
	})
	log.Printf("session: negotiator initialize (provider=%s, lan=%v)", provider.Kind(), n.lanMode())
	return n
}

// Close releases the provider subscription. It does not destroy the session.
func (n *Negotiator) Close() {
	if n.unsubscribe != nil {
		n.unsubscribe()
		n.unsubscribe = nil
		log.Printf("session: negotiator deinitialize")
	}
}

// OnServerCreated registers a listener for create outcomes.
func (n *Negotiator) OnServerCreated(fn func(Outcome)) {
	n.created = append(n.created, fn)
}

// OnServerJoinResult registers a listener for find/join outcomes.
func (n *Negotiator) OnServerJoinResult(fn func(Outcome)) {
	n.joined = append(n.joined, fn)
}

// State reports where the negotiator is in the session lifecycle.
func (n *Negotiator) State() State { return n.state }

// SessionName is the fixed slot name sessions are created and joined under.
func (n *Negotiator) SessionName() string { return n.sessionName }

// CreateServer hosts a session advertised under name. If a session already
// occupies the slot it is destroyed first and the create is re-issued when the
// destroy completes; the outcome is delivered after that recreate.
func (n *Negotiator) CreateServer(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		err := fmt.Errorf("%w: empty server name", ErrInvalidArgument)
		log.Printf("session: create rejected: %v", err)
		n.finishCreate(Outcome{Err: err})
		return err
	}

	if _, exists := n.provider.NamedSession(n.sessionName); exists {
		if n.recreating {
			// The destroy that preceded this recreate did not free the slot.
			n.state = StateActive
			n.finishCreate(Outcome{Err: fmt.Errorf("%w: session %q still exists", ErrProviderOperationFailed, n.sessionName)})
			return nil
		}
		log.Printf("session: %q already exists, destroying before creating %q", n.sessionName, name)
		n.pendingCreate = name
		n.hasPending = true
		n.state = StateDestroying
		if err := n.provider.DestroySession(n.sessionName); err != nil {
			log.Printf("session: destroy %q: %v", n.sessionName, err)
			n.pendingCreate = ""
			n.hasPending = false
			n.state = StateActive
			n.finishCreate(Outcome{Err: fmt.Errorf("%w: destroy: %v", ErrProviderOperationFailed, err)})
		}
		return nil
	}

	n.state = StateCreating
	if err := n.provider.CreateSession(LocalSlot, n.sessionName, n.settingsFor(name)); err != nil {
		log.Printf("session: create %q: %v", n.sessionName, err)
		n.onCreateSessionComplete(n.sessionName, false)
	}
	return nil
}

// DestroyServer tears down the named session.
func (n *Negotiator) DestroyServer() error {
	if _, exists := n.provider.NamedSession(n.sessionName); !exists {
		return ErrNoSession
	}
	n.state = StateDestroying
	if err := n.provider.DestroySession(n.sessionName); err != nil {
		log.Printf("session: destroy %q: %v", n.sessionName, err)
		n.onDestroySessionComplete(n.sessionName, false)
	}
	return nil
}

// FindServer searches for a session advertised under name and joins the first
// match. A new search supersedes any search still in flight.
func (n *Negotiator) FindServer(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		err := fmt.Errorf("%w: empty server name", ErrInvalidArgument)
		log.Printf("session: find rejected: %v", err)
		n.finishJoin(Outcome{Err: err})
		return err
	}

	n.generation++
	n.search = &Search{
		Generation: n.generation,
		Query: Query{
			TargetName:   name,
			MaxResults:   MaxResultsUnlimited,
			PresenceOnly: true,
			LANOnly:      n.lanMode(),
		},
	}
	n.target = name
	n.state = StateSearching

	if err := n.provider.FindSessions(LocalSlot, n.search); err != nil {
		log.Printf("session: find %q: %v", name, err)
		n.onFindSessionsComplete(n.search, false)
	}
	return nil
}

func (n *Negotiator) onCreateSessionComplete(name string, ok bool) {
	if name != n.sessionName {
		log.Printf("session: ignoring create completion for %q", name)
		return
	}
	if !ok {
		n.state = StateIdle
		n.finishCreate(Outcome{Err: fmt.Errorf("%w: create %q", ErrProviderOperationFailed, name)})
		return
	}

	n.state = StateActive
	n.finishCreate(Outcome{OK: true})

	url := travel.ListenURL(n.listenMap)
	if err := n.traveler.ServerTravel(url); err != nil {
		log.Printf("session: server travel to %s: %v", url, err)
	}
}

func (n *Negotiator) onDestroySessionComplete(name string, ok bool) {
	if name != n.sessionName {
		log.Printf("session: ignoring destroy completion for %q", name)
		return
	}
	log.Printf("session: destroy %q complete (ok=%v)", name, ok)
	observability.RecordOperation("destroy", ok)

	n.state = StateIdle
	if !ok {
		if _, exists := n.provider.NamedSession(n.sessionName); exists {
			n.state = StateActive
		}
	}

	if !n.hasPending {
		return
	}
	pending := n.pendingCreate
	n.pendingCreate = ""
	n.hasPending = false

	n.recreating = true
	defer func() { n.recreating = false }()
	n.CreateServer(pending)
}

func (n *Negotiator) onFindSessionsComplete(search *Search, ok bool) {
	if search == nil || n.search == nil || search.Generation != n.search.Generation {
		log.Printf("session: dropping results of superseded search")
		return
	}

	if !ok || n.target == "" {
		n.state = StateIdle
		n.finishJoin(Outcome{Err: fmt.Errorf("%w: find", ErrProviderOperationFailed)})
		return
	}

	for _, result := range search.Results {
		if result.ServerName() != n.target {
			continue
		}
		log.Printf("session: found %q (%s), joining", n.target, result.SessionID)
		n.state = StateJoinPending
		if err := n.provider.JoinSession(LocalSlot, n.sessionName, result); err != nil {
			log.Printf("session: join %q: %v", n.sessionName, err)
			n.onJoinSessionComplete(n.sessionName, JoinUnknownError)
		}
		return
	}

	target := n.target
	n.target = ""
	n.state = StateIdle
	n.finishJoin(Outcome{Err: fmt.Errorf("%w: %q", ErrNoMatchFound, target)})
}

func (n *Negotiator) onJoinSessionComplete(name string, result JoinResult) {
	if name != n.sessionName {
		log.Printf("session: ignoring join completion for %q", name)
		return
	}
	if result != JoinSuccess {
		n.state = StateIdle
		n.finishJoin(Outcome{Err: fmt.Errorf("%w: join %s", ErrProviderOperationFailed, result)})
		return
	}

	address, ok := n.provider.ResolvedConnectString(name)
	if !ok || address == "" {
		log.Printf("session: joined %q but connect string is unavailable", name)
		n.state = StateIdle
		n.finishJoin(Outcome{Err: fmt.Errorf("%w: %q", ErrAddressResolutionFailed, name)})
		return
	}

	n.state = StateJoined
	n.finishJoin(Outcome{OK: true})

	if err := n.traveler.ClientTravel(address); err != nil {
		log.Printf("session: client travel to %s: %v", address, err)
	}
}

func (n *Negotiator) settingsFor(name string) Settings {
	return Settings{
		MaxConnections:       n.maxConns,
		LAN:                  n.lanMode(),
		Advertised:           true,
		Dedicated:            false,
		JoinInProgress:       true,
		UsesPresence:         true,
		AllowJoinViaPresence: true,
		Attributes:           map[string]string{AttrServerName: name},
	}
}

func (n *Negotiator) lanMode() bool {
	return strings.EqualFold(n.provider.Kind(), ProviderKindLAN)
}

func (n *Negotiator) finishCreate(o Outcome) {
	observability.RecordOperation("create", o.OK)
	if o.Err != nil {
		log.Printf("session: create failed: %v", o.Err)
	}
	for _, fn := range n.created {
		fn(o)
	}
}

func (n *Negotiator) finishJoin(o Outcome) {
	observability.RecordOperation("join", o.OK)
	if o.Err != nil {
		log.Printf("session: join failed: %v", o.Err)
	}
	for _, fn := range n.joined {
		fn(o)
	}
}
