package session

// Handlers are the completion callbacks a Provider invokes. Each asynchronous
// Provider call results in exactly one invocation of the matching handler,
// unless the call itself returned an error.
//
// Providers that complete work on their own goroutines must hand the
// invocation to the owning EventLoop (see Poster) instead of calling the
// handler directly.
type Handlers struct {
	CreateComplete  func(name string, ok bool)
	DestroyComplete func(name string, ok bool)
	FindComplete    func(search *Search, ok bool)
	JoinComplete    func(name string, result JoinResult)
}

// Provider is the platform capability sessions are negotiated against.
type Provider interface {
	CreateSession(slot int, name string, settings Settings) error
	DestroySession(name string) error
	FindSessions(slot int, search *Search) error
	JoinSession(slot int, name string, result SearchResult) error

	NamedSession(name string) (NamedSession, bool)
	ResolvedConnectString(name string) (string, bool)

	// Kind names the active provider. ProviderKindLAN selects LAN mode.
	Kind() string

	// Subscribe registers the completion handlers and returns a function that
	// releases them. Only one subscription is active at a time.
	Subscribe(h Handlers) (unsubscribe func())
}

// Poster schedules fn on the goroutine that owns the Negotiator.
type Poster interface {
	Post(fn func())
}

// PosterFunc adapts a function to the Poster interface.
type PosterFunc func(fn func())

func (f PosterFunc) Post(fn func()) { f(fn) }

// Immediate runs posted functions on the calling goroutine. It is only
// correct for providers that complete synchronously on the owner's goroutine.
var Immediate Poster = PosterFunc(func(fn func()) { fn() })
