package checkersdto

import "encoding/json"

// Message types exchanged over the websocket.
const (
	TypeHello           = "hello"
	TypeCreateRoom      = "create-room"
	TypeCreatedRoom     = "created-room"
	TypeJoinRoom        = "join-room"
	TypeJoinRoomFailure = "join-room-failure"
	TypeStartGame       = "start-game"
	TypeMove            = "move"
	TypeUpdateGame      = "update-game"
	TypeGameOver        = "game-over"
	TypeError           = "error"
)

// Envelope frames every message: {"type": "...", "data": {...}}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data under type t.
func NewEnvelope(t string, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Type: t}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Data: raw}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Data, v)
}

type Hello struct {
	PlayerID string `json:"playerId"`
}

type CreateRoom struct {
	Time int `json:"time"` // minutes
}

type CreatedRoom struct {
	Code string `json:"code"`
}

type JoinRoom struct {
	Code string `json:"code"`
}

type JoinRoomFailure struct {
	Error string `json:"error"`
}

type StartGame struct {
	Code      string `json:"code"`
	Time      int    `json:"time"` // seconds per player
	PlayWhite bool   `json:"playWhite"`
}

// Square is [col, row].
type Square [2]int

type Move struct {
	From Square `json:"from"`
	To   Square `json:"to"`
}

// Turn values on the wire.
const (
	TurnWhite = 0
	TurnRed   = 1
)

type UpdateGame struct {
	Board     [8][8]int `json:"board"`
	Turn      int       `json:"turn"`
	WhiteTime int64     `json:"whiteTime"` // ms remaining
	RedTime   int64     `json:"redTime"`
	Chain     *Square   `json:"chain,omitempty"`
	Ended     bool      `json:"ended,omitempty"`
}

type GameOver struct {
	Winner      string `json:"winner"`
	WinnerColor string `json:"winnerColor"`
	Reason      string `json:"reason"`
	Message     string `json:"message,omitempty"`
}

type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
