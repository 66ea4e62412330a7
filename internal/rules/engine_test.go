package rules

import (
	"errors"
	"strings"
	"testing"
)

func apply(t *testing.T, e *Engine, pos Position, from, to string, promo PieceType) (*Applied, Position) {
	t.Helper()
	ap, err := e.Apply(pos, Move{From: from, To: to, Promotion: promo})
	if err != nil {
		t.Fatalf("Apply %s%s: %v", from, to, err)
	}
	return ap, ap.Position
}

func playLine(t *testing.T, e *Engine, uci ...string) Position {
	t.Helper()
	pos := e.Start()
	for _, mv := range uci {
		var promo PieceType
		if len(mv) == 5 {
			promo = PieceType(mv[4:])
		}
		_, pos = apply(t, e, pos, mv[:2], mv[2:4], promo)
	}
	return pos
}

func TestStartPosition(t *testing.T) {
	e := NewEngine()
	pos := e.Start()
	if !strings.HasPrefix(pos.FEN, "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w") {
		t.Fatalf("unexpected start FEN: %s", pos.FEN)
	}
	if got := e.SideToMove(pos); got != White {
		t.Fatalf("SideToMove = %s, want w", got)
	}
	if e.IsCheck(pos) {
		t.Fatalf("start position reported in check")
	}
}

func TestApplyPawnPush(t *testing.T) {
	e := NewEngine()
	ap, pos := apply(t, e, e.Start(), "e2", "e4", "")
	if ap.SAN != "e4" {
		t.Fatalf("SAN = %q, want e4", ap.SAN)
	}
	if ap.Piece != Pawn || ap.Color != White {
		t.Fatalf("piece/color = %s/%s", ap.Piece, ap.Color)
	}
	if ap.Captured != "" {
		t.Fatalf("unexpected capture: %s", ap.Captured)
	}
	if len(pos.MovesUCI) != 1 || pos.MovesUCI[0] != "e2e4" {
		t.Fatalf("move list = %v", pos.MovesUCI)
	}
	if got := e.SideToMove(pos); got != Black {
		t.Fatalf("SideToMove after e4 = %s, want b", got)
	}
}

func TestApplyIllegal(t *testing.T) {
	e := NewEngine()
	if _, err := e.Apply(e.Start(), Move{From: "e2", To: "e5"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("err = %v, want ErrIllegalMove", err)
	}
	if _, err := e.Apply(e.Start(), Move{From: "e7", To: "e5"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("moving the opponent's pawn: err = %v, want ErrIllegalMove", err)
	}
}

func TestApplyCapture(t *testing.T) {
	e := NewEngine()
	pos := playLine(t, e, "e2e4", "d7d5")
	ap, _ := apply(t, e, pos, "e4", "d5", "")
	if ap.SAN != "exd5" {
		t.Fatalf("SAN = %q, want exd5", ap.SAN)
	}
	if ap.Captured != Pawn {
		t.Fatalf("captured = %q, want p", ap.Captured)
	}
}

func TestApplyCheck(t *testing.T) {
	e := NewEngine()
	pos := playLine(t, e, "e2e4", "f7f6")
	ap, after := apply(t, e, pos, "d1", "h5", "")
	if ap.SAN != "Qh5+" {
		t.Fatalf("SAN = %q, want Qh5+", ap.SAN)
	}
	if !e.IsCheck(after) {
		t.Fatalf("IsCheck false after %s", ap.SAN)
	}
}

func TestApplyPromotion(t *testing.T) {
	e := NewEngine()
	pos := playLine(t, e, "a2a4", "b7b5", "a4b5", "a7a6", "b5a6", "c7c6", "a6a7", "c6c5")
	ap, _ := apply(t, e, pos, "a7", "b8", Queen)
	if ap.SAN != "axb8=Q" {
		t.Fatalf("SAN = %q, want axb8=Q", ap.SAN)
	}
	if ap.Promotion != Queen {
		t.Fatalf("promotion = %q, want q", ap.Promotion)
	}
	if ap.Captured != Knight {
		t.Fatalf("captured = %q, want n", ap.Captured)
	}
}

func TestCheckmate(t *testing.T) {
	e := NewEngine()
	pos := playLine(t, e, "f2f3", "e7e5", "g2g4")
	ap, after := apply(t, e, pos, "d8", "h4", "")
	if ap.SAN != "Qh4#" {
		t.Fatalf("SAN = %q, want Qh4#", ap.SAN)
	}
	if !e.IsCheckmate(after) {
		t.Fatalf("IsCheckmate false after fool's mate")
	}
	if e.IsStalemate(after) {
		t.Fatalf("IsStalemate true on a checkmate")
	}
}

func TestNoDrawMidgame(t *testing.T) {
	e := NewEngine()
	pos := playLine(t, e, "e2e4", "e7e5")
	if e.IsDraw(pos) {
		t.Fatalf("IsDraw true on an open midgame position")
	}
	if e.IsCheckmate(pos) || e.IsStalemate(pos) {
		t.Fatalf("terminal flags set on an open position")
	}
}

func TestStalemate(t *testing.T) {
	e := NewEngine()
	after := playLine(t, e,
		"e2e3", "a7a5", "d1h5", "a8a6", "h5a5", "h7h5", "a5c7", "a6h6",
		"h2h4", "f7f6", "c7d7", "e8f7", "d7b7", "d8d3", "b7b8", "d3h7",
		"b8c8", "f7g6", "c8e6",
	)
	if !e.IsStalemate(after) {
		t.Fatalf("IsStalemate false on a stalemate position")
	}
	if e.IsCheckmate(after) {
		t.Fatalf("IsCheckmate true on a stalemate")
	}
}
