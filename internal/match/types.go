package match

import (
	"errors"
	"time"

	"github.com/park285/checkers-match/internal/checkers"
)

// Status represents the session lifecycle.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusEnded  Status = "ENDED"
)

// EndReason records why a session ended.
type EndReason string

const (
	ReasonNone            EndReason = ""
	ReasonPiecesExhausted EndReason = "pieces_exhausted"
	ReasonTimeout         EndReason = "timeout"
	ReasonDisconnected    EndReason = "disconnected"
)

// Snapshot is the observable state of a session at one instant.
type Snapshot struct {
	Code          string                            `json:"code"`
	Seq           uint64                            `json:"seq"`
	Status        Status                            `json:"status"`
	WhiteID       string                            `json:"white_id"`
	RedID         string                            `json:"red_id"`
	Board         [checkers.Size][checkers.Size]int `json:"board"`
	Turn          checkers.Color                    `json:"turn"`
	WhiteClock    time.Duration                     `json:"white_clock"`
	RedClock      time.Duration                     `json:"red_clock"`
	TurnStartedAt time.Time                         `json:"turn_started_at"`
	WhitePieces   int                               `json:"white_pieces"`
	RedPieces     int                               `json:"red_pieces"`
	Chain         *checkers.Coord                   `json:"chain,omitempty"`
	Winner        string                            `json:"winner,omitempty"`
	WinnerColor   *checkers.Color                   `json:"winner_color,omitempty"`
	Reason        EndReason                         `json:"reason,omitempty"`
	StartedAt     time.Time                         `json:"started_at"`
	UpdatedAt     time.Time                         `json:"updated_at"`
}

// Ended reports whether the snapshot was taken after the session ended.
func (s Snapshot) Ended() bool { return s.Status == StatusEnded }

// PlayerOf returns the identity holding color c.
func (s Snapshot) PlayerOf(c checkers.Color) string {
	if c == checkers.White {
		return s.WhiteID
	}
	return s.RedID
}

// Observer receives session events. Calls happen outside the session lock,
// so implementations may read the session back. Calls for one session are
// delivered one at a time, in the order the snapshots were taken.
type Observer interface {
	// MatchUpdated follows every move request that reached the rules,
	// accepted or not, so clients can re-render.
	MatchUpdated(Snapshot)
	// MatchEnded is delivered exactly once per session.
	MatchEnded(Snapshot)
}

type nopObserver struct{}

func (nopObserver) MatchUpdated(Snapshot) {}
func (nopObserver) MatchEnded(Snapshot)   {}

var (
	ErrInvalidArgs   = errors.New("invalid arguments")
	ErrSamePlayer    = errors.New("a player cannot face themselves")
	ErrMatchExists   = errors.New("match code already in use")
	ErrPlayerBusy    = errors.New("player already has an active match")
	ErrMatchMissing  = errors.New("match not found")
	ErrStoreClosed   = errors.New("snapshot store not initialized")
	ErrStaleSnapshot = errors.New("snapshot older than the stored one")
)
