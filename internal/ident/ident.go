package ident

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"

	"chessduel/internal/rules"
)

// Generator supplies the opaque identifiers and random choices the session
// manager depends on. Injected so tests can run deterministically.
type Generator interface {
	// RoomCode returns a short human-shareable token.
	RoomCode() (string, error)
	// MatchID returns an opaque unique token.
	MatchID() string
	// FirstColor picks the room creator's color uniformly at random.
	FirstColor() rules.Color
}

type RandomGenerator struct{}

func NewGenerator() *RandomGenerator { return &RandomGenerator{} }

var _ Generator = (*RandomGenerator)(nil)

const codeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func (g *RandomGenerator) RoomCode() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = codeLetters[int(b[i])%len(codeLetters)]
	}
	return string(b), nil
}

func (g *RandomGenerator) MatchID() string {
	return uuid.NewString()
}

func (g *RandomGenerator) FirstColor() rules.Color {
	if n, err := rand.Int(rand.Reader, big.NewInt(2)); err == nil && n.Int64() == 0 {
		return rules.Black
	}
	return rules.White
}
