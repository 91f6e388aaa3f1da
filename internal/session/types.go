package session

import (
	"encoding/json"
	"strings"
)

const (
	// AttrServerName is the advertised attribute used for discovery.
	AttrServerName = "SERVER_NAME"

	// DefaultServerName is reported for results that do not carry AttrServerName.
	DefaultServerName = "No-name"

	// DefaultSessionName is the fixed slot every create/join goes through.
	DefaultSessionName = "Co-op Adventure Session"

	// ProviderKindLAN is the provider kind that implies LAN mode.
	ProviderKindLAN = "NULL"

	// MaxResultsUnlimited is the search cap used when no limit is wanted.
	MaxResultsUnlimited = 9999

	// DefaultMaxConnections is the public connection count for hosted sessions.
	DefaultMaxConnections = 2

	// LocalSlot identifies the first local player.
	LocalSlot = 0
)

// Settings describes a session as it is advertised by the host.
type Settings struct {
	MaxConnections       int               `json:"max_connections"`
	LAN                  bool              `json:"lan"`
	Advertised           bool              `json:"advertised"`
	Dedicated            bool              `json:"dedicated"`
	JoinInProgress       bool              `json:"join_in_progress"`
	UsesPresence         bool              `json:"uses_presence"`
	AllowJoinViaPresence bool              `json:"allow_join_via_presence"`
	Attributes           map[string]string `json:"attributes,omitempty"`
}

// ServerName returns the SERVER_NAME attribute.
func (s Settings) ServerName() string {
	return attr(s.Attributes, AttrServerName)
}

// Clone returns a copy whose attribute map can be mutated independently.
func (s Settings) Clone() Settings {
	s.Attributes = cloneAttrs(s.Attributes)
	return s
}

// Query is the filter half of a search.
type Query struct {
	TargetName   string `json:"target_name"`
	MaxResults   int    `json:"max_results"`
	PresenceOnly bool   `json:"presence_only"`
	LANOnly      bool   `json:"lan_only"`
}

// Accepts reports whether a result passes the query's provider-side filters.
// Name matching is left to the Negotiator.
func (q Query) Accepts(r SearchResult) bool {
	if q.PresenceOnly && !r.Presence {
		return false
	}
	if q.LANOnly && !r.LAN {
		return false
	}
	return true
}

// SearchResult is one discovered session summary.
type SearchResult struct {
	SessionID  string            `json:"session_id"`
	OwnerName  string            `json:"owner_name,omitempty"`
	OpenSlots  int               `json:"open_slots"`
	MaxSlots   int               `json:"max_slots"`
	PingMS     int               `json:"ping_ms"`
	LAN        bool              `json:"lan"`
	Presence   bool              `json:"presence"`
	Address    string            `json:"address,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ServerName returns the SERVER_NAME attribute, or DefaultServerName when the
// result does not advertise one.
func (r SearchResult) ServerName() string {
	if name := attr(r.Attributes, AttrServerName); name != "" {
		return name
	}
	return DefaultServerName
}

// Clone returns a copy whose attribute map can be mutated independently.
func (r SearchResult) Clone() SearchResult {
	r.Attributes = cloneAttrs(r.Attributes)
	return r
}

// Search is a single find request. Providers fill Results before invoking the
// FindComplete handler. Generation is assigned by the Negotiator and lets it
// drop completions of superseded searches.
type Search struct {
	Generation uint64
	Query      Query
	Results    []SearchResult
}

// NamedSession is the provider's record of a session the local player hosts
// or has joined.
type NamedSession struct {
	Name      string
	SessionID string
	Settings  Settings
	Hosting   bool
}

// JoinResult is the provider's verdict on a join request.
type JoinResult int

const (
	JoinSuccess JoinResult = iota
	JoinSessionIsFull
	JoinSessionDoesNotExist
	JoinCouldNotRetrieveAddress
	JoinAlreadyInSession
	JoinUnknownError
)

var joinResultNames = map[JoinResult]string{
	JoinSuccess:                 "Success",
	JoinSessionIsFull:           "SessionIsFull",
	JoinSessionDoesNotExist:     "SessionDoesNotExist",
	JoinCouldNotRetrieveAddress: "CouldNotRetrieveAddress",
	JoinAlreadyInSession:        "AlreadyInSession",
	JoinUnknownError:            "UnknownError",
}

var joinResultFromName = map[string]JoinResult{
	"Success":                 JoinSuccess,
	"SessionIsFull":           JoinSessionIsFull,
	"SessionDoesNotExist":     JoinSessionDoesNotExist,
	"CouldNotRetrieveAddress": JoinCouldNotRetrieveAddress,
	"AlreadyInSession":        JoinAlreadyInSession,
	"UnknownError":            JoinUnknownError,
}

func (r JoinResult) String() string {
	if s, ok := joinResultNames[r]; ok {
		return s
	}
	return "UnknownError"
}

// ParseJoinResult maps a wire name back to a JoinResult. Unknown names map to
// JoinUnknownError.
func ParseJoinResult(s string) JoinResult {
	if r, ok := joinResultFromName[s]; ok {
		return r
	}
	return JoinUnknownError
}

func (r JoinResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *JoinResult) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = ParseJoinResult(s)
	return nil
}

// State is the negotiator's position in the session lifecycle.
type State int

const (
	StateIdle State = iota
	StateCreating
	StateActive
	StateDestroying
	StateSearching
	StateJoinPending
	StateJoined
)

var stateNames = map[State]string{
	StateIdle:        "idle",
	StateCreating:    "creating",
	StateActive:      "active",
	StateDestroying:  "destroying",
	StateSearching:   "searching",
	StateJoinPending: "join_pending",
	StateJoined:      "joined",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Outcome is delivered to OnServerCreated and OnServerJoinResult listeners.
// Err is nil when OK is true.
type Outcome struct {
	OK  bool
	Err error
}

func attr(attrs map[string]string, key string) string {
	if attrs == nil {
		return ""
	}
	return strings.TrimSpace(attrs[key])
}

func cloneAttrs(attrs map[string]string) map[string]string {
	if attrs == nil {
		return nil
	}
	cp := make(map[string]string, len(attrs))
	for k, v := range attrs {
		cp[k] = v
	}
	return cp
}
