package lobby

import "time"

// RoomState represents the lifecycle of a room.
type RoomState string

const (
	StateLobby  RoomState = "LOBBY"
	StateActive RoomState = "ACTIVE"
)

// Room is stored as JSON in Redis under lobby:room:<code>.
type Room struct {
	Code          string    `json:"code"`
	State         RoomState `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	CreatorID     string    `json:"creator_id"`
	JoinerID      string    `json:"joiner_id,omitempty"`
	BudgetMinutes int       `json:"budget_minutes"`
}

// Full reports whether both seats are taken.
func (r *Room) Full() bool { return r != nil && r.JoinerID != "" }

// Has reports whether player sits in the room.
func (r *Room) Has(player string) bool {
	return r != nil && player != "" && (r.CreatorID == player || r.JoinerID == player)
}

// Errors
var (
	ErrInvalidArgs     = errf("invalid arguments")
	ErrRoomNotFound    = errf("room not found or expired")
	ErrRoomFull        = errf("room already has two players")
	ErrSelfJoin        = errf("cannot join your own room")
	ErrCreatorHasLobby = errf("player already waits in a room")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
