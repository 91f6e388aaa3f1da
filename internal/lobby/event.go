package lobby

// EventType classifies registry changes.
type EventType int

const (
	EventNew     EventType = iota // session advertised
	EventUpdate                   // player joined
	EventRemoved                  // session destroyed or host disconnected
)

// Event carries an entry snapshot to observers.
type Event struct {
	Type        EventType
	Entry       *Entry // snapshot (safe to retain)
	ActiveCount int    // joinable sessions at event time
}
