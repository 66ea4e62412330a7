package wire

// MoveRecord is one applied half-move as clients see it.
type MoveRecord struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Piece     string `json:"piece"`
	Color     string `json:"color"`
	Captured  string `json:"captured,omitempty"`
	Promotion string `json:"promotion,omitempty"`
	SAN       string `json:"san"`
	FEN       string `json:"fen"`
}

// GameState is the authoritative snapshot broadcast by the server.
type GameState struct {
	GameID      string       `json:"gameId"`
	FEN         string       `json:"fen"`
	Turn        string       `json:"turn"`
	MoveHistory []MoveRecord `json:"moveHistory"`
	Status      string       `json:"status"`
	IsCheck     bool         `json:"isCheck"`
	Winner      string       `json:"winner,omitempty"`
}

type PlayerInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Client → server payloads.

type CreateRoom struct {
	PlayerName string `json:"playerName"`
}

type JoinRoom struct {
	RoomID     string `json:"roomId"`
	PlayerName string `json:"playerName"`
}

type MakeMove struct {
	GameID    string `json:"gameId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

type Resign struct {
	GameID string `json:"gameId"`
}

type RequestSync struct {
	GameID string `json:"gameId"`
}

// Reconnect carries the connection id the client held before the transport
// dropped; the server learns the new id from the transport itself.
type Reconnect struct {
	ConnectionID string `json:"connectionId"`
}

// Server → client payloads.

type RoomCreated struct {
	RoomID      string `json:"roomId"`
	PlayerColor string `json:"playerColor"`
}

type GameStart struct {
	GameState GameState    `json:"gameState"`
	Players   []PlayerInfo `json:"players"`
	YourColor string       `json:"yourColor"`
}

type MoveConfirmed struct {
	Move      MoveRecord `json:"move"`
	GameState GameState  `json:"gameState"`
}

type MoveRejected struct {
	Reason string `json:"reason"`
}

type GameOver struct {
	Status string `json:"status"`
	Winner string `json:"winner,omitempty"`
	Reason string `json:"reason"`
}

type StateSync struct {
	GameState GameState    `json:"gameState"`
	Players   []PlayerInfo `json:"players"`
	YourColor string       `json:"yourColor"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

type OpponentDisconnected struct {
	PlayerName     string `json:"playerName"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type OpponentReconnected struct {
	PlayerName string `json:"playerName"`
}
