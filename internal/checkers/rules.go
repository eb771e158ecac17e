package checkers

// The rule queries below are pure functions of the board they are given.
// None of them mutate it, and every board read is bounds-checked through
// Board.Cell, so off-board coordinates are never an error.

// IsOccupiedBy reports whether c is on the board and holds a piece of color.
func IsOccupiedBy(b *Board, color Color, c Coord) bool {
	return c.OnBoard() && b.Cell(c).Belongs(color)
}

// IsEmpty reports whether c is on the board and holds no piece.
func IsEmpty(b *Board, c Coord) bool {
	return c.OnBoard() && b.Cell(c).IsEmpty()
}

// IsKing reports whether the piece at c is a king. Empty and off-board
// squares report false.
func IsKing(b *Board, c Coord) bool {
	return b.Cell(c).IsKing()
}

// directions lists the (dc, dr) diagonals a piece may travel: the two forward
// ones for a man, all four for a king.
func directions(v Cell) [][2]int {
	owner, ok := v.Color()
	if !ok {
		return nil
	}
	fwd := owner.Forward()
	dirs := [][2]int{{-1, fwd}, {1, fwd}}
	if v.IsKing() {
		dirs = append(dirs, [2]int{-1, -fwd}, [2]int{1, -fwd})
	}
	return dirs
}

// CaptureTargets returns the landing squares reachable from c by jumping one
// adjacent enemy piece. An empty square yields nil.
func CaptureTargets(b *Board, c Coord) []Coord {
	v := b.Cell(c)
	owner, ok := v.Color()
	if !ok {
		return nil
	}
	var out []Coord
	for _, d := range directions(v) {
		over := c.offset(d[0], d[1])
		land := c.offset(2*d[0], 2*d[1])
		if IsOccupiedBy(b, owner.Opponent(), over) && IsEmpty(b, land) {
			out = append(out, land)
		}
	}
	return out
}

// HasAnyCapture reports whether any piece of color can capture. It scans the
// whole board on every call; the result must not be cached across moves.
func HasAnyCapture(b *Board, color Color) bool {
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			c := At(col, row)
			if IsOccupiedBy(b, color, c) && len(CaptureTargets(b, c)) > 0 {
				return true
			}
		}
	}
	return false
}

// MoveTargets returns the empty squares one diagonal step away in the
// directions the piece at c may travel.
func MoveTargets(b *Board, c Coord) []Coord {
	v := b.Cell(c)
	var out []Coord
	for _, d := range directions(v) {
		to := c.offset(d[0], d[1])
		if IsEmpty(b, to) {
			out = append(out, to)
		}
	}
	return out
}

// LegalTargets applies the forced-capture rule: while color has any capture
// anywhere, only captures are legal, and a piece without one has no move.
func LegalTargets(b *Board, color Color, c Coord) []Coord {
	if !IsOccupiedBy(b, color, c) {
		return nil
	}
	if HasAnyCapture(b, color) {
		return CaptureTargets(b, c)
	}
	return MoveTargets(b, c)
}

func containsCoord(list []Coord, c Coord) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}
