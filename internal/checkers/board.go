package checkers

import (
	"errors"
	"fmt"
	"strings"
)

// Size is the edge length of the board.
const Size = 8

// Color identifies a side.
type Color int

const (
	White Color = iota
	Red
)

func (c Color) String() string {
	if c == White {
		return "white"
	}
	return "red"
}

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Red
	}
	return White
}

// Forward is the row delta of a man's forward step: White climbs, Red descends.
func (c Color) Forward() int {
	if c == White {
		return 1
	}
	return -1
}

// PromotionRow is the farthest row for the color.
func (c Color) PromotionRow() int {
	if c == White {
		return Size - 1
	}
	return 0
}

func (c Color) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Color) UnmarshalText(b []byte) error {
	col, err := ParseColor(string(b))
	if err != nil {
		return err
	}
	*c = col
	return nil
}

// ParseColor accepts "white"/"w" and "red"/"r".
func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, nil
	case "red", "r":
		return Red, nil
	}
	return White, fmt.Errorf("unknown color %q", s)
}

// Cell is the content of one square. The zero value is Empty.
//
// The numeric values double as the wire encoding. A color's king directly
// follows its man; callers should use the predicates rather than arithmetic.
type Cell uint8

const (
	Empty Cell = iota
	WhiteMan
	WhiteKing
	RedMan
	RedKing
)

func (v Cell) String() string {
	switch v {
	case Empty:
		return "empty"
	case WhiteMan:
		return "white_man"
	case WhiteKing:
		return "white_king"
	case RedMan:
		return "red_man"
	case RedKing:
		return "red_king"
	}
	return fmt.Sprintf("cell(%d)", uint8(v))
}

func (v Cell) valid() bool { return v <= RedKing }

// IsEmpty reports whether the square holds no piece.
func (v Cell) IsEmpty() bool { return v == Empty }

// Color returns the owner of the piece; ok is false for an empty square.
func (v Cell) Color() (c Color, ok bool) {
	switch v {
	case WhiteMan, WhiteKing:
		return White, true
	case RedMan, RedKing:
		return Red, true
	}
	return White, false
}

// Belongs reports whether the square holds a piece of color c, either rank.
func (v Cell) Belongs(c Color) bool {
	owner, ok := v.Color()
	return ok && owner == c
}

// IsKing is false for empty squares.
func (v Cell) IsKing() bool { return v == WhiteKing || v == RedKing }

// Promote returns the king of the same color; kings and empty squares are unchanged.
func (v Cell) Promote() Cell {
	if v == WhiteMan || v == RedMan {
		return v + 1
	}
	return v
}

// ManOf returns the unpromoted piece for a color.
func ManOf(c Color) Cell {
	if c == White {
		return WhiteMan
	}
	return RedMan
}

// Coord addresses a square by column and row, both in [0,7].
type Coord struct {
	Col int `json:"col"`
	Row int `json:"row"`
}

// At is shorthand for Coord{Col: col, Row: row}.
func At(col, row int) Coord { return Coord{Col: col, Row: row} }

// OnBoard reports whether both components are within the board.
func (c Coord) OnBoard() bool {
	return c.Col >= 0 && c.Col < Size && c.Row >= 0 && c.Row < Size
}

// Dark reports whether the square is one of the playable dark squares.
func (c Coord) Dark() bool { return (c.Col+c.Row)%2 == 1 }

func (c Coord) offset(dc, dr int) Coord { return Coord{Col: c.Col + dc, Row: c.Row + dr} }

// Mid is the square arithmetically halfway between c and o.
func (c Coord) Mid(o Coord) Coord {
	return Coord{Col: (c.Col + o.Col) / 2, Row: (c.Row + o.Row) / 2}
}

func (c Coord) String() string { return fmt.Sprintf("(%d,%d)", c.Col, c.Row) }

// Board is an 8x8 grid indexed [row][col]. Row 0 is White's home edge.
type Board [Size][Size]Cell

var ErrInvalidGrid = errors.New("invalid board grid")

// NewBoard returns the start position: White men on rows 0-2 and Red men on
// rows 5-7, dark squares only.
func NewBoard() *Board {
	b := &Board{}
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			c := At(col, row)
			if !c.Dark() {
				continue
			}
			switch {
			case row <= 2:
				b[row][col] = WhiteMan
			case row >= Size-3:
				b[row][col] = RedMan
			}
		}
	}
	return b
}

// Cell returns the content of c; off-board coordinates read as Empty.
func (b *Board) Cell(c Coord) Cell {
	if !c.OnBoard() {
		return Empty
	}
	return b[c.Row][c.Col]
}

// Set writes v at c. Off-board writes are ignored.
func (b *Board) Set(c Coord, v Cell) {
	if !c.OnBoard() {
		return
	}
	b[c.Row][c.Col] = v
}

// Count returns the number of pieces of color c on the board.
func (b *Board) Count(c Color) int {
	n := 0
	for row := range b {
		for _, v := range b[row] {
			if v.Belongs(c) {
				n++
			}
		}
	}
	return n
}

// Clone returns an independent copy.
func (b *Board) Clone() *Board {
	cp := *b
	return &cp
}

// Grid returns the row-major wire encoding of the board.
func (b *Board) Grid() [Size][Size]int {
	var g [Size][Size]int
	for row := range b {
		for col, v := range b[row] {
			g[row][col] = int(v)
		}
	}
	return g
}

// BoardFromGrid rebuilds a board from its wire encoding.
func BoardFromGrid(g [Size][Size]int) (*Board, error) {
	b := &Board{}
	for row := range g {
		for col, n := range g[row] {
			v := Cell(n)
			if n < 0 || !v.valid() {
				return nil, fmt.Errorf("%w: value %d at %s", ErrInvalidGrid, n, At(col, row))
			}
			b[row][col] = v
		}
	}
	return b, nil
}

func (b *Board) String() string {
	var sb strings.Builder
	for row := Size - 1; row >= 0; row-- {
		for col := 0; col < Size; col++ {
			switch b[row][col] {
			case WhiteMan:
				sb.WriteByte('w')
			case WhiteKing:
				sb.WriteByte('W')
			case RedMan:
				sb.WriteByte('r')
			case RedKing:
				sb.WriteByte('R')
			default:
				sb.WriteByte('.')
			}
		}
		if row > 0 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
