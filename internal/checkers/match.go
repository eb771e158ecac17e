package checkers

// MoveStatus tags a MoveResult.
type MoveStatus int

const (
	Rejected MoveStatus = iota
	Accepted
)

// RejectReason says why a move was declined. It is informational only.
type RejectReason string

const (
	RejectNone        RejectReason = ""
	RejectNotOwnPiece RejectReason = "not_own_piece"
	RejectOccupied    RejectReason = "destination_occupied"
	RejectIllegal     RejectReason = "illegal_destination"
	RejectChainPiece  RejectReason = "must_continue_chain"
)

// MoveResult is the outcome of Match.ApplyMove.
type MoveResult struct {
	Status MoveStatus
	// TurnEnds is meaningful only when Status is Accepted.
	TurnEnds bool
	Captured bool
	Promoted bool
	Reason   RejectReason
}

func (r MoveResult) Accepted() bool { return r.Status == Accepted }

func rejected(reason RejectReason) MoveResult {
	return MoveResult{Status: Rejected, Reason: reason}
}

// Match owns a board and the live piece counts, and executes committed moves.
// It knows nothing about players or clocks.
type Match struct {
	board *Board
	white int
	red   int

	// chain is the square of a piece that captured and must keep capturing
	// before its turn can end.
	chain *Coord
}

// NewMatch starts from the standard position.
func NewMatch() *Match { return NewMatchFromBoard(NewBoard()) }

// NewMatchFromBoard adopts b; the piece counters are taken from the board.
func NewMatchFromBoard(b *Board) *Match {
	return &Match{board: b, white: b.Count(White), red: b.Count(Red)}
}

// Board returns a copy of the current position.
func (m *Match) Board() *Board { return m.board.Clone() }

// Remaining returns the tracked live-piece count for c.
func (m *Match) Remaining(c Color) int {
	if c == White {
		return m.white
	}
	return m.red
}

// ChainSquare returns the square of the piece that must continue capturing,
// if a chain is in progress.
func (m *Match) ChainSquare() (Coord, bool) {
	if m.chain == nil {
		return Coord{}, false
	}
	return *m.chain, true
}

// LegalTargets is the rule engine's LegalTargets against this match's board,
// additionally restricted to the chain piece while a chain is open.
func (m *Match) LegalTargets(color Color, from Coord) []Coord {
	if m.chain != nil && *m.chain != from {
		return nil
	}
	return LegalTargets(m.board, color, from)
}

// ApplyMove validates and executes a move for color.
//
// A capture removes the jumped piece and decrements the opponent's counter.
// Landing a man on its farthest row promotes it and always ends the turn.
// Otherwise a capture ends the turn only when the same piece has no further
// capture; a plain step always ends it.
func (m *Match) ApplyMove(color Color, from, to Coord) MoveResult {
	if !IsOccupiedBy(m.board, color, from) {
		return rejected(RejectNotOwnPiece)
	}
	if !IsEmpty(m.board, to) {
		return rejected(RejectOccupied)
	}
	if m.chain != nil && *m.chain != from {
		return rejected(RejectChainPiece)
	}
	if !containsCoord(LegalTargets(m.board, color, from), to) {
		return rejected(RejectIllegal)
	}

	capture := abs(to.Row-from.Row) == 2
	piece := m.board.Cell(from)
	m.board.Set(to, piece)
	m.board.Set(from, Empty)
	if capture {
		m.board.Set(from.Mid(to), Empty)
		m.decrement(color.Opponent())
	}

	res := MoveResult{Status: Accepted, Captured: capture}
	if !piece.IsKing() && to.Row == color.PromotionRow() {
		m.board.Set(to, piece.Promote())
		res.Promoted = true
	}

	switch {
	case res.Promoted, !capture:
		res.TurnEnds = true
	default:
		res.TurnEnds = len(CaptureTargets(m.board, to)) == 0
	}

	if res.TurnEnds {
		m.chain = nil
	} else {
		next := to
		m.chain = &next
	}
	return res
}

func (m *Match) decrement(c Color) {
	if c == White {
		m.white--
	} else {
		m.red--
	}
}

// FindWinner reports the side whose opponent has no pieces left.
func (m *Match) FindWinner() (Color, bool) {
	switch {
	case m.red == 0:
		return White, true
	case m.white == 0:
		return Red, true
	}
	return White, false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
