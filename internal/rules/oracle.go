package rules

import "errors"

// Color identifies a chess side on the wire ("w"/"b").
type Color string

const (
	White Color = "w"
	Black Color = "b"
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// PieceType uses the single-letter encoding shared with clients.
type PieceType string

const (
	Pawn   PieceType = "p"
	Knight PieceType = "n"
	Bishop PieceType = "b"
	Rook   PieceType = "r"
	Queen  PieceType = "q"
	King   PieceType = "k"
)

// Position is an opaque, replayable handle on a game state: the full UCI
// move list from the standard start position, plus the resulting FEN for
// presentation. The move list is authoritative; the FEN is derived.
type Position struct {
	FEN      string   `json:"fen"`
	MovesUCI []string `json:"moves_uci"`
}

// Move is a candidate move as submitted by a client.
type Move struct {
	From      string
	To        string
	Promotion PieceType
}

// Applied is the oracle's accepted-move result.
type Applied struct {
	Position  Position
	SAN       string
	Piece     PieceType
	Color     Color
	Captured  PieceType
	Promotion PieceType
}

// ErrIllegalMove is the discriminated rejection; the oracle never panics
// across this boundary.
var ErrIllegalMove = errors.New("illegal move")

// Oracle owns all move-legality and terminal-condition logic.
type Oracle interface {
	Start() Position
	Apply(pos Position, mv Move) (*Applied, error)
	SideToMove(pos Position) Color
	IsCheck(pos Position) bool
	IsCheckmate(pos Position) bool
	IsStalemate(pos Position) bool
	IsDraw(pos Position) bool
}
