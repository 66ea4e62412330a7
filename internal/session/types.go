package session

import (
	"errors"
	"sync"
	"time"

	"chessduel/internal/rules"
)

// Phase is the room lifecycle; it only ever moves forward.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhasePlaying  Phase = "playing"
	PhaseFinished Phase = "finished"
)

// Status is the match outcome state shared with clients.
type Status string

const (
	StatusPlaying   Status = "playing"
	StatusCheckmate Status = "checkmate"
	StatusStalemate Status = "stalemate"
	StatusDraw      Status = "draw"
	StatusResigned  Status = "resigned"
	StatusAbandoned Status = "abandoned"
)

var (
	ErrServerFull      = errors.New("server at capacity")
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomFull        = errors.New("room is full")
	ErrAlreadyStarted  = errors.New("game already in progress")
	ErrMatchNotFound   = errors.New("match not found")
	ErrMatchFinished   = errors.New("match already finished")
	ErrNotParticipant  = errors.New("not a participant in this match")
	ErrNotYourTurn     = errors.New("not your turn")
	ErrStaleConnection = errors.New("stale connection")
)

// Player is one seat occupant. ConnID is rebindable on reconnect; Color is
// fixed for the room's lifetime once assigned.
type Player struct {
	ConnID    string
	Name      string
	Color     rules.Color
	Connected bool
}

// MoveRecord is one applied half-move in the append-only history.
type MoveRecord struct {
	From      string
	To        string
	Piece     rules.PieceType
	Color     rules.Color
	Captured  rules.PieceType
	Promotion rules.PieceType
	SAN       string
	FEN       string
}

// Match holds the authoritative game state for a room.
type Match struct {
	ID        string
	Position  rules.Position
	Turn      rules.Color
	History   []MoveRecord
	Seats     map[rules.Color]string // color → current connection id
	Status    Status
	Winner    rules.Color // empty when no winner
	StartedAt time.Time
	UpdatedAt time.Time
}

// Room serializes all mutations on one room behind its own mutex, so
// commands against different rooms proceed concurrently.
type Room struct {
	mu      sync.Mutex
	id      string
	players []*Player
	phase   Phase
	match   *Match
	timers  map[string]*time.Timer // connID → pending abandonment task
	gone    bool
}

type PlayerInfo struct {
	ID    string
	Name  string
	Color rules.Color
}

// Snapshot is the externally visible state derived from stored match
// fields plus oracle queries.
type Snapshot struct {
	MatchID string
	FEN     string
	Turn    rules.Color
	History []MoveRecord
	Status  Status
	InCheck bool
	Winner  rules.Color
}

// Bundle is the full resynchronization payload, identical in shape for
// join, reconnect, and sync so clients never need partial-history replay.
type Bundle struct {
	RoomID    string
	State     Snapshot
	Players   []PlayerInfo
	YourColor rules.Color
}

// GameOver describes a terminal transition.
type GameOver struct {
	Status Status
	Winner rules.Color
}

// MoveResult is the accepted-move outcome.
type MoveResult struct {
	Record   MoveRecord
	State    Snapshot
	GameOver *GameOver
}

// DisconnectNotice tells the router who to inform about a dropped seat.
type DisconnectNotice struct {
	RoomID         string
	MatchID        string
	PlayerName     string
	OpponentConnID string // empty when the opponent is not connected
	GraceSeconds   int
}

// ReconnectNotice tells the router who to inform about a restored seat.
type ReconnectNotice struct {
	PlayerName     string
	OpponentConnID string
}

// AbandonNotice is delivered via the abandonment callback when a grace
// timer expires.
type AbandonNotice struct {
	RoomID       string
	MatchID      string
	Winner       rules.Color
	WinnerConnID string // empty when the remaining seat is also offline
	LoserName    string
}
