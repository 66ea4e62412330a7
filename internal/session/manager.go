package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"chessduel/internal/ident"
	"chessduel/internal/obslog"
	"chessduel/internal/rules"
)

// Manager is the single in-process authority over rooms, matches,
// connection bindings, and grace timers. All state is mutated only through
// its methods.
type Manager struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	byMatch map[string]*Room
	conns   map[string]string // connID → roomID, one room at a time

	oracle   rules.Oracle
	ids      ident.Generator
	grace    time.Duration
	maxRooms int

	onAbandon func(AbandonNotice)
}

func NewManager(oracle rules.Oracle, ids ident.Generator, grace time.Duration, maxRooms int) *Manager {
	return &Manager{
		rooms:    make(map[string]*Room),
		byMatch:  make(map[string]*Room),
		conns:    make(map[string]string),
		oracle:   oracle,
		ids:      ids,
		grace:    grace,
		maxRooms: maxRooms,
	}
}

// OnAbandon registers the callback invoked when a grace timer expires.
// Must be set before the manager starts receiving traffic.
func (m *Manager) OnAbandon(fn func(AbandonNotice)) { m.onAbandon = fn }

// CreateRoom opens a waiting room with the creator seated on a randomly
// chosen color.
func (m *Manager) CreateRoom(connID, name string) (string, rules.Color, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxRooms > 0 && len(m.rooms) >= m.maxRooms {
		return "", "", ErrServerFull
	}

	var roomID string
	for i := 0; i < 5; i++ {
		code, err := m.ids.RoomCode()
		if err != nil {
			return "", "", err
		}
		if _, taken := m.rooms[code]; !taken {
			roomID = code
			break
		}
	}
	if roomID == "" {
		return "", "", fmt.Errorf("failed to allocate room code")
	}

	color := m.ids.FirstColor()
	room := &Room{
		id:      roomID,
		players: []*Player{{ConnID: connID, Name: name, Color: color, Connected: true}},
		phase:   PhaseWaiting,
		timers:  make(map[string]*time.Timer),
	}
	m.rooms[roomID] = room
	m.conns[connID] = roomID

	obslog.L().Info("room_create",
		zap.String("room_id", roomID),
		zap.String("conn_id", connID),
		zap.String("color", string(color)),
	)
	return roomID, color, nil
}

// JoinRoom seats the second player on the complementary color, starts the
// match, and returns the joiner's resynchronization bundle.
func (m *Manager) JoinRoom(roomID, connID, name string) (*Bundle, error) {
	room := m.room(roomID)
	if room == nil {
		return nil, ErrRoomNotFound
	}

	room.mu.Lock()
	if room.gone {
		room.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	if room.phase != PhaseWaiting {
		room.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	if len(room.players) >= 2 {
		room.mu.Unlock()
		return nil, ErrRoomFull
	}

	first := room.players[0]
	color := first.Color.Other()
	joiner := &Player{ConnID: connID, Name: name, Color: color, Connected: true}
	room.players = append(room.players, joiner)
	room.phase = PhasePlaying

	now := time.Now()
	match := &Match{
		ID:       m.ids.MatchID(),
		Position: m.oracle.Start(),
		Turn:     rules.White,
		Seats: map[rules.Color]string{
			first.Color: first.ConnID,
			color:       connID,
		},
		Status:    StatusPlaying,
		StartedAt: now,
		UpdatedAt: now,
	}
	room.match = match
	bundle := m.bundleLocked(room, connID)
	room.mu.Unlock()

	m.mu.Lock()
	m.conns[connID] = roomID
	m.byMatch[match.ID] = room
	m.mu.Unlock()

	obslog.L().Info("match_start",
		zap.String("room_id", roomID),
		zap.String("match_id", match.ID),
		zap.String("white_conn", match.Seats[rules.White]),
		zap.String("black_conn", match.Seats[rules.Black]),
	)
	return bundle, nil
}

// MakeMove validates match → seat → turn before any move is applied, then
// applies the move and evaluates terminal conditions in fixed priority:
// checkmate > stalemate > generic draw.
func (m *Manager) MakeMove(matchID, connID string, mv rules.Move) (*MoveResult, error) {
	room := m.roomByMatch(matchID)
	if room == nil {
		return nil, ErrMatchNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.gone || room.match == nil || room.match.ID != matchID {
		return nil, ErrMatchNotFound
	}
	match := room.match
	if match.Status != StatusPlaying {
		return nil, ErrMatchFinished
	}
	color, ok := seatOf(match, connID)
	if !ok {
		return nil, ErrNotParticipant
	}
	if color != m.oracle.SideToMove(match.Position) {
		return nil, ErrNotYourTurn
	}

	ap, err := m.oracle.Apply(match.Position, mv)
	if err != nil {
		if errors.Is(err, rules.ErrIllegalMove) {
			return nil, rules.ErrIllegalMove
		}
		return nil, fmt.Errorf("oracle apply: %w", err)
	}

	rec := MoveRecord{
		From:      mv.From,
		To:        mv.To,
		Piece:     ap.Piece,
		Color:     ap.Color,
		Captured:  ap.Captured,
		Promotion: ap.Promotion,
		SAN:       ap.SAN,
		FEN:       ap.Position.FEN,
	}
	match.Position = ap.Position
	match.Turn = color.Other()
	match.History = append(match.History, rec)
	match.UpdatedAt = time.Now()

	var over *GameOver
	switch {
	case m.oracle.IsCheckmate(match.Position):
		match.Status = StatusCheckmate
		match.Winner = color
		over = &GameOver{Status: StatusCheckmate, Winner: color}
	case m.oracle.IsStalemate(match.Position):
		match.Status = StatusStalemate
		over = &GameOver{Status: StatusStalemate}
	case m.oracle.IsDraw(match.Position):
		match.Status = StatusDraw
		over = &GameOver{Status: StatusDraw}
	}
	if over != nil {
		room.phase = PhaseFinished
	}

	obslog.L().Info("match_move",
		zap.String("match_id", matchID),
		zap.String("conn_id", connID),
		zap.String("san", rec.SAN),
		zap.String("status", string(match.Status)),
	)
	return &MoveResult{Record: rec, State: m.snapshotLocked(room), GameOver: over}, nil
}

// Resign ends the match in favor of the other seat.
func (m *Manager) Resign(matchID, connID string) (*GameOver, error) {
	room := m.roomByMatch(matchID)
	if room == nil {
		return nil, ErrMatchNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.gone || room.match == nil || room.match.ID != matchID {
		return nil, ErrMatchNotFound
	}
	match := room.match
	if match.Status != StatusPlaying {
		return nil, ErrMatchFinished
	}
	color, ok := seatOf(match, connID)
	if !ok {
		return nil, ErrNotParticipant
	}

	winner := color.Other()
	match.Status = StatusResigned
	match.Winner = winner
	match.UpdatedAt = time.Now()
	room.phase = PhaseFinished

	obslog.L().Info("match_resign",
		zap.String("match_id", matchID),
		zap.String("conn_id", connID),
		zap.String("winner", string(winner)),
	)
	return &GameOver{Status: StatusResigned, Winner: winner}, nil
}

// Sync returns the caller's resynchronization bundle for an existing match.
func (m *Manager) Sync(matchID, connID string) (*Bundle, error) {
	room := m.roomByMatch(matchID)
	if room == nil {
		return nil, ErrMatchNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.gone || room.match == nil || room.match.ID != matchID {
		return nil, ErrMatchNotFound
	}
	if _, ok := seatOf(room.match, connID); !ok {
		return nil, ErrNotParticipant
	}
	return m.bundleLocked(room, connID), nil
}

// HandleDisconnect reacts to a transport drop. A drop while the room is
// still waiting destroys the room; a drop mid-match arms the grace timer;
// a drop after the match finished releases the connection and, once the
// last participant leaves, the room.
func (m *Manager) HandleDisconnect(connID string) *DisconnectNotice {
	m.mu.Lock()
	roomID, ok := m.conns[connID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	room := m.room(roomID)
	if room == nil {
		return nil
	}

	room.mu.Lock()
	if room.gone {
		room.mu.Unlock()
		return nil
	}
	player := playerByConn(room, connID)
	if player == nil {
		room.mu.Unlock()
		return nil
	}
	player.Connected = false

	switch room.phase {
	case PhaseWaiting:
		room.mu.Unlock()
		m.cleanupRoom(room)
		return nil
	case PhaseFinished:
		anyConnected := false
		for _, p := range room.players {
			if p.Connected {
				anyConnected = true
			}
		}
		room.mu.Unlock()
		if !anyConnected {
			m.cleanupRoom(room)
		} else {
			m.mu.Lock()
			delete(m.conns, connID)
			m.mu.Unlock()
		}
		return nil
	}

	timer := time.AfterFunc(m.grace, func() { m.abandon(roomID, connID) })
	room.timers[connID] = timer

	notice := &DisconnectNotice{
		RoomID:       roomID,
		PlayerName:   player.Name,
		GraceSeconds: int(m.grace / time.Second),
	}
	if room.match != nil {
		notice.MatchID = room.match.ID
	}
	if opp := otherPlayer(room, connID); opp != nil && opp.Connected {
		notice.OpponentConnID = opp.ConnID
	}
	room.mu.Unlock()

	obslog.L().Info("seat_disconnect",
		zap.String("room_id", roomID),
		zap.String("conn_id", connID),
		zap.Duration("grace", m.grace),
	)
	return notice
}

// abandon is the grace-timer task. It re-checks under the room lock that
// the seat is still disconnected and the timer still registered, so a
// reconnect that won the race turns it into a no-op.
func (m *Manager) abandon(roomID, connID string) {
	room := m.room(roomID)
	if room == nil {
		return
	}

	room.mu.Lock()
	if room.gone || room.phase != PhasePlaying || room.match == nil {
		room.mu.Unlock()
		return
	}
	if _, armed := room.timers[connID]; !armed {
		room.mu.Unlock()
		return
	}
	delete(room.timers, connID)
	player := playerByConn(room, connID)
	if player == nil || player.Connected {
		room.mu.Unlock()
		return
	}

	winner := player.Color.Other()
	room.match.Status = StatusAbandoned
	room.match.Winner = winner
	room.match.UpdatedAt = time.Now()
	room.phase = PhaseFinished

	notice := AbandonNotice{
		RoomID:    roomID,
		MatchID:   room.match.ID,
		Winner:    winner,
		LoserName: player.Name,
	}
	if opp := otherPlayer(room, connID); opp != nil && opp.Connected {
		notice.WinnerConnID = opp.ConnID
	}
	room.mu.Unlock()

	obslog.L().Info("match_abandon",
		zap.String("room_id", roomID),
		zap.String("match_id", notice.MatchID),
		zap.String("winner", string(winner)),
	)
	if m.onAbandon != nil {
		m.onAbandon(notice)
	}
	// with both seats offline no further disconnect event will arrive, so
	// the room is torn down here, after the callback has read its state
	if notice.WinnerConnID == "" {
		m.cleanupRoom(room)
	}
}

// HandleReconnect atomically cancels the pending abandonment, rebinds the
// seat to the new connection in both Player and Match, re-indexes the
// connection, and returns the full resynchronization bundle. A reconnect
// against a finished or abandoned match is rejected.
func (m *Manager) HandleReconnect(oldConnID, newConnID string) (*Bundle, *ReconnectNotice, error) {
	m.mu.Lock()
	roomID, ok := m.conns[oldConnID]
	m.mu.Unlock()
	if !ok {
		return nil, nil, ErrStaleConnection
	}
	room := m.room(roomID)
	if room == nil {
		return nil, nil, ErrStaleConnection
	}

	room.mu.Lock()
	if room.gone || room.match == nil || room.phase != PhasePlaying || room.match.Status != StatusPlaying {
		room.mu.Unlock()
		return nil, nil, ErrStaleConnection
	}
	player := playerByConn(room, oldConnID)
	if player == nil {
		room.mu.Unlock()
		return nil, nil, ErrStaleConnection
	}

	// The abandonment task takes this same lock and would have moved the
	// room to finished before us, which was checked above; stopping the
	// timer here is therefore race-free.
	if t, armed := room.timers[oldConnID]; armed {
		t.Stop()
		delete(room.timers, oldConnID)
	}

	player.ConnID = newConnID
	player.Connected = true
	room.match.Seats[player.Color] = newConnID

	bundle := m.bundleLocked(room, newConnID)
	notice := &ReconnectNotice{PlayerName: player.Name}
	if opp := otherPlayer(room, newConnID); opp != nil && opp.Connected {
		notice.OpponentConnID = opp.ConnID
	}
	room.mu.Unlock()

	m.mu.Lock()
	delete(m.conns, oldConnID)
	m.conns[newConnID] = roomID
	m.mu.Unlock()

	obslog.L().Info("seat_reconnect",
		zap.String("room_id", roomID),
		zap.String("old_conn", oldConnID),
		zap.String("new_conn", newConnID),
	)
	return bundle, notice, nil
}

// SnapshotByMatch returns the current externally visible state of a match,
// including one that just finished, for observers such as the recorder.
func (m *Manager) SnapshotByMatch(matchID string) (Snapshot, bool) {
	room := m.roomByMatch(matchID)
	if room == nil {
		return Snapshot{}, false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.match == nil || room.match.ID != matchID {
		return Snapshot{}, false
	}
	return m.snapshotLocked(room), true
}

// RoomForConnection reports which room a live connection is bound to.
func (m *Manager) RoomForConnection(connID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roomID, ok := m.conns[connID]
	return roomID, ok
}

// Players returns the roster for a room.
func (m *Manager) Players(roomID string) []PlayerInfo {
	room := m.room(roomID)
	if room == nil {
		return nil
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return playerInfos(room)
}

// ColorFor returns the seat color a connection holds in a room.
func (m *Manager) ColorFor(roomID, connID string) (rules.Color, bool) {
	room := m.room(roomID)
	if room == nil {
		return "", false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if p := playerByConn(room, connID); p != nil {
		return p.Color, true
	}
	return "", false
}

// cleanupRoom tears the room down: cancels outstanding grace timers and
// removes every index entry for its players.
func (m *Manager) cleanupRoom(room *Room) {
	room.mu.Lock()
	if room.gone {
		room.mu.Unlock()
		return
	}
	room.gone = true
	for id, t := range room.timers {
		t.Stop()
		delete(room.timers, id)
	}
	roomID := room.id
	matchID := ""
	if room.match != nil {
		matchID = room.match.ID
	}
	conns := make([]string, 0, len(room.players))
	for _, p := range room.players {
		conns = append(conns, p.ConnID)
	}
	room.mu.Unlock()

	m.mu.Lock()
	delete(m.rooms, roomID)
	if matchID != "" {
		delete(m.byMatch, matchID)
	}
	for _, c := range conns {
		if m.conns[c] == roomID {
			delete(m.conns, c)
		}
	}
	m.mu.Unlock()

	obslog.L().Info("room_cleanup", zap.String("room_id", roomID))
}

func (m *Manager) room(roomID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[roomID]
}

func (m *Manager) roomByMatch(matchID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byMatch[matchID]
}

// snapshotLocked derives the externally visible state purely from stored
// match fields and oracle queries. Caller holds room.mu.
func (m *Manager) snapshotLocked(room *Room) Snapshot {
	match := room.match
	hist := make([]MoveRecord, len(match.History))
	copy(hist, match.History)
	return Snapshot{
		MatchID: match.ID,
		FEN:     match.Position.FEN,
		Turn:    match.Turn,
		History: hist,
		Status:  match.Status,
		InCheck: m.oracle.IsCheck(match.Position),
		Winner:  match.Winner,
	}
}

func (m *Manager) bundleLocked(room *Room, connID string) *Bundle {
	b := &Bundle{
		RoomID:  room.id,
		State:   m.snapshotLocked(room),
		Players: playerInfos(room),
	}
	if p := playerByConn(room, connID); p != nil {
		b.YourColor = p.Color
	}
	return b
}

func seatOf(match *Match, connID string) (rules.Color, bool) {
	for color, id := range match.Seats {
		if id == connID {
			return color, true
		}
	}
	return "", false
}

func playerByConn(room *Room, connID string) *Player {
	for _, p := range room.players {
		if p.ConnID == connID {
			return p
		}
	}
	return nil
}

func otherPlayer(room *Room, connID string) *Player {
	for _, p := range room.players {
		if p.ConnID != connID {
			return p
		}
	}
	return nil
}

func playerInfos(room *Room) []PlayerInfo {
	infos := make([]PlayerInfo, 0, len(room.players))
	for _, p := range room.players {
		infos = append(infos, PlayerInfo{ID: p.ConnID, Name: p.Name, Color: p.Color})
	}
	return infos
}
