// Package lobby holds the registry of sessions advertised through lobbyd.
package lobby

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/coop-adventure/sessions/internal/session"
)

type Phase int

const (
	Open Phase = iota
	Full
	Closed
)

var phaseNames = map[Phase]string{
	Open:   "open",
	Full:   "full",
	Closed: "closed",
}

var phaseFromName = map[string]Phase{
	"open":   Open,
	"full":   Full,
	"closed": Closed,
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := phaseFromName[s]; ok {
		*p = v
	}
	return nil
}

// Entry is one advertised session.
type Entry struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`               // fixed session slot name
	OwnerID   string           `json:"ownerId"`            // lobby connection that hosts it
	OwnerName string           `json:"ownerName,omitempty"`
	Address   string           `json:"address,omitempty"`  // host:port clients travel to
	Settings  session.Settings `json:"settings"`
	Players   int              `json:"players"`
	Guests    []string         `json:"-"` // connections holding a joined slot
	Phase     Phase            `json:"phase"`
	Seq       int              `json:"seq"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// Clone returns a deep copy of the Entry.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Settings = e.Settings.Clone()
	c.Guests = append([]string(nil), e.Guests...)
	return &c
}

// ServerName is the advertised display name.
func (e *Entry) ServerName() string {
	return e.Settings.ServerName()
}

// OpenSlots counts remaining public connections. The host occupies one.
func (e *Entry) OpenSlots() int {
	open := e.Settings.MaxConnections - e.Players
	if open < 0 {
		return 0
	}
	return open
}

func (e *Entry) IsFull() bool {
	return e.OpenSlots() == 0
}

// dropGuest releases guest's slot. It reports whether guest held one.
func (e *Entry) dropGuest(guest string) bool {
	i := slices.Index(e.Guests, guest)
	if i < 0 {
		return false
	}
	e.Guests = slices.Delete(e.Guests, i, i+1)
	if e.Players > 1 {
		e.Players--
	}
	e.updatePhase()
	return true
}

func (e *Entry) updatePhase() {
	if e.Phase == Closed {
		return
	}
	if e.IsFull() {
		e.Phase = Full
	} else {
		e.Phase = Open
	}
}

// SearchResult converts the entry into what a finder sees. It carries no
// connect address; Store.Join hands that out. Pushed listings and
// /api/sessions include Entry.Address unless the privacy filter masks it.
func (e *Entry) SearchResult() session.SearchResult {
	return session.SearchResult{
		SessionID:  e.ID,
		OwnerName:  e.OwnerName,
		OpenSlots:  e.OpenSlots(),
		MaxSlots:   e.Settings.MaxConnections,
		LAN:        e.Settings.LAN,
		Presence:   e.Settings.UsesPresence,
		Attributes: e.Settings.Clone().Attributes,
	}
}
