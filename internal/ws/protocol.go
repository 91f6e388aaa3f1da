package ws

import (
	"encoding/json"

	"github.com/coop-adventure/sessions/internal/lobby"
	"github.com/coop-adventure/sessions/internal/session"
)

type MessageType string

const (
	// Client -> server requests.
	MsgCreate    MessageType = "create"
	MsgDestroy   MessageType = "destroy"
	MsgFind      MessageType = "find"
	MsgJoin      MessageType = "join"
	MsgLeave     MessageType = "leave"
	MsgSubscribe MessageType = "subscribe"

	// Server -> client.
	MsgResult   MessageType = "result"
	MsgSnapshot MessageType = "snapshot"
	MsgDelta    MessageType = "delta"
	MsgError    MessageType = "error"
)

// WSMessage is the envelope written to the wire. Requests carry a client
// chosen ID that is echoed in the matching result.
type WSMessage struct {
	Type    MessageType `json:"type"`
	ID      string      `json:"id,omitempty"`
	Seq     uint64      `json:"seq,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// Envelope is WSMessage as read from the wire, with the payload left raw.
type Envelope struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type CreateRequest struct {
	Name          string           `json:"name"`
	Settings      session.Settings `json:"settings"`
	OwnerName     string           `json:"ownerName,omitempty"`
	AdvertiseAddr string           `json:"advertiseAddr,omitempty"`
	GamePort      int              `json:"gamePort"`
}

type DestroyRequest struct {
	Name string `json:"name"`
}

type FindRequest struct {
	Query session.Query `json:"query"`
}

type JoinRequest struct {
	Name      string `json:"name"`
	SessionID string `json:"sessionId"`
}

// LeaveRequest gives back the slot a join reserved.
type LeaveRequest struct {
	Name      string `json:"name"`
	SessionID string `json:"sessionId"`
}

// ResultPayload answers every request type; only the fields relevant to the
// request are set.
type ResultPayload struct {
	OK         bool                   `json:"ok"`
	Error      string                 `json:"error,omitempty"`
	SessionID  string                 `json:"sessionId,omitempty"`
	Results    []session.SearchResult `json:"results,omitempty"`
	JoinResult *session.JoinResult    `json:"joinResult,omitempty"`
	Address    string                 `json:"address,omitempty"`
}

type SnapshotPayload struct {
	Sessions []*lobby.Entry `json:"sessions"`
}

type DeltaPayload struct {
	Updates []*lobby.Entry `json:"updates"`
	Removed []string       `json:"removed,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
