// Package wire implements the JSON envelope vocabulary spoken over the
// relay's single bidirectional connection. It knows nothing about
// nameplates, mailboxes, or sides — only about the shapes of the
// messages that carry them.
package wire

import (
	"encoding/json"
)

// Type identifies the kind of an envelope, inbound or outbound.
type Type string

const (
	TypeWelcome    Type = "welcome"
	TypeAck        Type = "ack"
	TypeError      Type = "error"
	TypeBind       Type = "bind"
	TypeList       Type = "list"
	TypeNameplates Type = "nameplates"
	TypeAllocate   Type = "allocate"
	TypeAllocated  Type = "allocated"
	TypeClaim      Type = "claim"
	TypeClaimed    Type = "claimed"
	TypeRelease    Type = "release"
	TypeReleased   Type = "released"
	TypeOpen       Type = "open"
	TypeAdd        Type = "add"
	TypeMessage    Type = "message"
	TypeClose      Type = "close"
	TypeClosed     Type = "closed"
	TypePing       Type = "ping"
	TypePong       Type = "pong"
)

// Inbound is the union of every field any client-to-server envelope may
// carry. Handlers read only the fields relevant to the envelope's Type.
type Inbound struct {
	Type          Type     `json:"type"`
	ID            string   `json:"id,omitempty"`
	AppID         string   `json:"appid,omitempty"`
	Side          string   `json:"side,omitempty"`
	ClientVersion []string `json:"client_version,omitempty"`
	Nameplate     string   `json:"nameplate,omitempty"`
	Mailbox       string   `json:"mailbox,omitempty"`
	Mood          string   `json:"mood,omitempty"`
	Phase         string   `json:"phase,omitempty"`
	Body          string   `json:"body,omitempty"`
	Ping          int64    `json:"ping,omitempty"`

	// raw carries the original field set so handlers can distinguish
	// "field absent" from "field present with zero value" (e.g. an
	// explicit nameplate="" on release versus no nameplate key at all).
	raw map[string]json.RawMessage
}

// Has reports whether the named field was present in the original
// JSON object, regardless of its value.
func (in *Inbound) Has(field string) bool {
	_, ok := in.raw[field]
	return ok
}

// Parse decodes a single JSON text frame into an Inbound envelope.
// It enforces only the wire-level contract: the object must decode and
// must carry a string "type" field. Everything else is the connection
// handler's job.
func Parse(data []byte) (*Inbound, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ErrMissingType
	}

	typeRaw, ok := raw["type"]
	if !ok {
		return nil, ErrMissingType
	}
	var typeStr string
	if err := json.Unmarshal(typeRaw, &typeStr); err != nil || typeStr == "" {
		return nil, ErrMissingType
	}

	in := &Inbound{raw: raw}
	if err := json.Unmarshal(data, in); err != nil {
		return nil, ErrMissingType
	}
	in.Type = Type(typeStr)

	return in, nil
}

// Outbound envelope shapes. ServerTX carries the server's send-time in
// seconds and is populated by the connection handler immediately before
// writing, on every type except Welcome.

type Welcome struct {
	Type    Type                   `json:"type"`
	Welcome map[string]interface{} `json:"welcome"`
}

func NewWelcome(welcome map[string]interface{}) Welcome {
	return Welcome{Type: TypeWelcome, Welcome: welcome}
}

type Ack struct {
	Type     Type   `json:"type"`
	ID       string `json:"id"`
	ServerTX int64  `json:"server_tx"`
}

type ErrorEnvelope struct {
	Type     Type            `json:"type"`
	Error    string          `json:"error"`
	Orig     json.RawMessage `json:"orig"`
	ServerTX int64           `json:"server_tx"`
}

type NameplateEntry struct {
	ID string `json:"id"`
}

type Nameplates struct {
	Type       Type             `json:"type"`
	Nameplates []NameplateEntry `json:"nameplates"`
	ServerTX   int64            `json:"server_tx"`
}

type Allocated struct {
	Type      Type   `json:"type"`
	Nameplate string `json:"nameplate"`
	ServerTX  int64  `json:"server_tx"`
}

type Claimed struct {
	Type     Type   `json:"type"`
	Mailbox  string `json:"mailbox"`
	ServerTX int64  `json:"server_tx"`
}

type Released struct {
	Type     Type  `json:"type"`
	ServerTX int64 `json:"server_tx"`
}

type MessageEnvelope struct {
	Type     Type   `json:"type"`
	Side     string `json:"side"`
	Phase    string `json:"phase"`
	Body     string `json:"body"`
	ServerRX int64  `json:"server_rx"`
	MsgID    string `json:"id,omitempty"`
	ServerTX int64  `json:"server_tx"`
}

type Closed struct {
	Type     Type  `json:"type"`
	ServerTX int64 `json:"server_tx"`
}

type Pong struct {
	Type     Type  `json:"type"`
	Pong     int64 `json:"pong"`
	ServerTX int64 `json:"server_tx"`
}
