package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Engine adapts the chess library to the Oracle interface.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

var _ Oracle = (*Engine)(nil)

func (e *Engine) Start() Position {
	return Position{FEN: nchess.NewGame().FEN()}
}

// replay rebuilds a game by applying the stored UCI moves to the start
// position. The FEN on Position is presentational only; applying it here
// could double-apply moves.
func replay(pos Position) *nchess.Game {
	game := nchess.NewGame()
	for _, mv := range pos.MovesUCI {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil
		}
	}
	return game
}

func (e *Engine) Apply(pos Position, req Move) (*Applied, error) {
	game := replay(pos)
	if game == nil {
		return nil, fmt.Errorf("corrupt position (%d moves)", len(pos.MovesUCI))
	}

	uci := strings.ToLower(strings.TrimSpace(req.From) + strings.TrimSpace(req.To) + strings.TrimSpace(string(req.Promotion)))
	before := game.Position()
	mv, err := nchess.UCINotation{}.Decode(before, uci)
	if err != nil {
		return nil, ErrIllegalMove
	}

	moved := before.Board().Piece(mv.S1())
	target := before.Board().Piece(mv.S2())
	mover := colorFrom(before.Turn())

	if err := game.Move(mv, nil); err != nil {
		return nil, ErrIllegalMove
	}
	san := nchess.AlgebraicNotation{}.Encode(before, mv)

	moves := make([]string, 0, len(pos.MovesUCI)+1)
	moves = append(moves, pos.MovesUCI...)
	moves = append(moves, uci)

	ap := &Applied{
		Position: Position{FEN: game.FEN(), MovesUCI: moves},
		SAN:      san,
		Piece:    pieceLabel(moved.Type()),
		Color:    mover,
	}
	if target != nchess.NoPiece {
		ap.Captured = pieceLabel(target.Type())
	} else if mv.HasTag(nchess.EnPassant) {
		ap.Captured = Pawn
	}
	if p := mv.Promo(); p != nchess.NoPieceType {
		ap.Promotion = pieceLabel(p)
	}
	return ap, nil
}

func (e *Engine) SideToMove(pos Position) Color {
	game := replay(pos)
	if game == nil {
		return White
	}
	return colorFrom(game.Position().Turn())
}

// IsCheck derives check from the SAN suffix of the last applied move,
// which is exact for any position reached by a move; the start position
// is never in check.
func (e *Engine) IsCheck(pos Position) bool {
	n := len(pos.MovesUCI)
	if n == 0 {
		return false
	}
	game := replay(Position{MovesUCI: pos.MovesUCI[:n-1]})
	if game == nil {
		return false
	}
	before := game.Position()
	mv, err := nchess.UCINotation{}.Decode(before, pos.MovesUCI[n-1])
	if err != nil {
		return false
	}
	san := nchess.AlgebraicNotation{}.Encode(before, mv)
	return strings.ContainsAny(san, "+#")
}

func (e *Engine) IsCheckmate(pos Position) bool {
	game := replay(pos)
	return game != nil && game.Method() == nchess.Checkmate
}

func (e *Engine) IsStalemate(pos Position) bool {
	game := replay(pos)
	return game != nil && game.Method() == nchess.Stalemate
}

func (e *Engine) IsDraw(pos Position) bool {
	game := replay(pos)
	return game != nil && game.Outcome() == nchess.Draw
}

func colorFrom(c nchess.Color) Color {
	if c == nchess.White {
		return White
	}
	return Black
}

func pieceLabel(t nchess.PieceType) PieceType {
	switch t {
	case nchess.Pawn:
		return Pawn
	case nchess.Knight:
		return Knight
	case nchess.Bishop:
		return Bishop
	case nchess.Rook:
		return Rook
	case nchess.Queen:
		return Queen
	case nchess.King:
		return King
	default:
		return ""
	}
}
