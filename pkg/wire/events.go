package wire

import "encoding/json"

// Command names (client → server).
const (
	CmdCreateRoom  = "create-room"
	CmdJoinRoom    = "join-room"
	CmdMakeMove    = "make-move"
	CmdResign      = "resign"
	CmdRequestSync = "request-sync"
	CmdReconnect   = "reconnect"
)

// Event names (server → client).
const (
	EvtRoomCreated          = "room-created"
	EvtGameStart            = "game-start"
	EvtMoveConfirmed        = "move-confirmed"
	EvtMoveRejected         = "move-rejected"
	EvtGameOver             = "game-over"
	EvtStateSync            = "state-sync"
	EvtError                = "error"
	EvtOpponentDisconnected = "opponent-disconnected"
	EvtOpponentReconnected  = "opponent-reconnected"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into a typed envelope.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Payload: raw}, nil
}
