package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"chessduel/internal/rules"
)

// fakeOracle accepts every move and lets a test script terminal states by
// move count.
type fakeOracle struct {
	applies    int
	sideCalls  int
	rejectNext bool
	mateAt     int // move count at which IsCheckmate turns true
	staleAt    int
	drawAt     int
}

func (o *fakeOracle) Start() rules.Position {
	return rules.Position{FEN: "fen-0"}
}

func (o *fakeOracle) Apply(pos rules.Position, mv rules.Move) (*rules.Applied, error) {
	o.applies++
	if o.rejectNext {
		o.rejectNext = false
		return nil, rules.ErrIllegalMove
	}
	color := rules.White
	if len(pos.MovesUCI)%2 == 1 {
		color = rules.Black
	}
	moves := append(append([]string{}, pos.MovesUCI...), mv.From+mv.To)
	return &rules.Applied{
		Position: rules.Position{FEN: fmt.Sprintf("fen-%d", len(moves)), MovesUCI: moves},
		SAN:      mv.From + mv.To,
		Piece:    rules.Pawn,
		Color:    color,
	}, nil
}

func (o *fakeOracle) SideToMove(pos rules.Position) rules.Color {
	o.sideCalls++
	if len(pos.MovesUCI)%2 == 0 {
		return rules.White
	}
	return rules.Black
}

func (o *fakeOracle) IsCheck(pos rules.Position) bool { return false }
func (o *fakeOracle) IsCheckmate(pos rules.Position) bool {
	return o.mateAt > 0 && len(pos.MovesUCI) == o.mateAt
}
func (o *fakeOracle) IsStalemate(pos rules.Position) bool {
	return o.staleAt > 0 && len(pos.MovesUCI) == o.staleAt
}
func (o *fakeOracle) IsDraw(pos rules.Position) bool {
	return o.drawAt > 0 && len(pos.MovesUCI) == o.drawAt
}

// stubIdent hands out deterministic codes and always seats the creator on
// white.
type stubIdent struct {
	codes   int
	matches int
}

func (s *stubIdent) RoomCode() (string, error) {
	s.codes++
	return fmt.Sprintf("ROOM%02d", s.codes), nil
}

func (s *stubIdent) MatchID() string {
	s.matches++
	return fmt.Sprintf("match-%d", s.matches)
}

func (s *stubIdent) FirstColor() rules.Color { return rules.White }

func newTestManager(oracle rules.Oracle, grace time.Duration) *Manager {
	if oracle == nil {
		oracle = &fakeOracle{}
	}
	return NewManager(oracle, &stubIdent{}, grace, 10)
}

// startMatch creates a room for alice (white) and joins bob (black).
func startMatch(t *testing.T, m *Manager) (roomID, matchID string) {
	t.Helper()
	roomID, color, err := m.CreateRoom("conn-alice", "alice")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if color != rules.White {
		t.Fatalf("creator color = %s, want w", color)
	}
	bundle, err := m.JoinRoom(roomID, "conn-bob", "bob")
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	return roomID, bundle.State.MatchID
}

func TestCreateRoom(t *testing.T) {
	m := newTestManager(nil, time.Minute)
	roomID, color, err := m.CreateRoom("conn-1", "alice")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if roomID == "" || color == "" {
		t.Fatalf("empty room id or color: %q %q", roomID, color)
	}
	got, ok := m.RoomForConnection("conn-1")
	if !ok || got != roomID {
		t.Fatalf("RoomForConnection = %q %v", got, ok)
	}
	if players := m.Players(roomID); len(players) != 1 || players[0].Name != "alice" {
		t.Fatalf("roster = %+v", players)
	}
}

func TestCreateRoomServerFull(t *testing.T) {
	m := NewManager(&fakeOracle{}, &stubIdent{}, time.Minute, 1)
	if _, _, err := m.CreateRoom("conn-1", "alice"); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, _, err := m.CreateRoom("conn-2", "bob"); !errors.Is(err, ErrServerFull) {
		t.Fatalf("err = %v, want ErrServerFull", err)
	}
}

func TestJoinRoomStartsMatch(t *testing.T) {
	m := newTestManager(nil, time.Minute)
	roomID, color, err := m.CreateRoom("conn-alice", "alice")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	bundle, err := m.JoinRoom(roomID, "conn-bob", "bob")
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if bundle.RoomID != roomID {
		t.Fatalf("bundle room = %q, want %q", bundle.RoomID, roomID)
	}
	if bundle.YourColor != color.Other() {
		t.Fatalf("joiner color = %s, want %s", bundle.YourColor, color.Other())
	}
	if bundle.State.Turn != rules.White || bundle.State.Status != StatusPlaying {
		t.Fatalf("state = %+v", bundle.State)
	}
	if len(bundle.Players) != 2 {
		t.Fatalf("roster = %+v", bundle.Players)
	}
}

func TestJoinRoomFailures(t *testing.T) {
	m := newTestManager(nil, time.Minute)
	if _, err := m.JoinRoom("NOPE", "conn-x", "x"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
	roomID, _ := startMatch(t, m)
	if _, err := m.JoinRoom(roomID, "conn-late", "late"); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("err = %v, want ErrAlreadyStarted", err)
	}
}

func TestMakeMoveTurnOrder(t *testing.T) {
	oracle := &fakeOracle{}
	m := newTestManager(oracle, time.Minute)
	_, matchID := startMatch(t, m)

	// black may not open; the gate asks the oracle whose move it is but
	// never applies anything
	if _, err := m.MakeMove(matchID, "conn-bob", rules.Move{From: "e7", To: "e5"}); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("err = %v, want ErrNotYourTurn", err)
	}
	if oracle.applies != 0 {
		t.Fatalf("move applied %d times despite turn gate", oracle.applies)
	}
	if oracle.sideCalls == 0 {
		t.Fatalf("turn gate never asked the oracle for the side to move")
	}

	res, err := m.MakeMove(matchID, "conn-alice", rules.Move{From: "e2", To: "e4"})
	if err != nil {
		t.Fatalf("MakeMove: %v", err)
	}
	if res.State.Turn != rules.Black || len(res.State.History) != 1 {
		t.Fatalf("state after move = %+v", res.State)
	}
	if res.GameOver != nil {
		t.Fatalf("unexpected game over: %+v", res.GameOver)
	}

	if _, err := m.MakeMove(matchID, "conn-alice", rules.Move{From: "d2", To: "d4"}); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("double move: err = %v, want ErrNotYourTurn", err)
	}
}

func TestMakeMoveValidation(t *testing.T) {
	oracle := &fakeOracle{}
	m := newTestManager(oracle, time.Minute)
	_, matchID := startMatch(t, m)

	if _, err := m.MakeMove("missing", "conn-alice", rules.Move{}); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("err = %v, want ErrMatchNotFound", err)
	}
	if _, err := m.MakeMove(matchID, "conn-stranger", rules.Move{}); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}

	oracle.rejectNext = true
	if _, err := m.MakeMove(matchID, "conn-alice", rules.Move{From: "e2", To: "e9"}); !errors.Is(err, rules.ErrIllegalMove) {
		t.Fatalf("err = %v, want ErrIllegalMove", err)
	}
	// a rejected move leaves the turn with the mover
	if _, err := m.MakeMove(matchID, "conn-alice", rules.Move{From: "e2", To: "e4"}); err != nil {
		t.Fatalf("retry after rejection: %v", err)
	}
}

func TestMakeMoveCheckmate(t *testing.T) {
	oracle := &fakeOracle{mateAt: 1}
	m := newTestManager(oracle, time.Minute)
	_, matchID := startMatch(t, m)

	res, err := m.MakeMove(matchID, "conn-alice", rules.Move{From: "e2", To: "e4"})
	if err != nil {
		t.Fatalf("MakeMove: %v", err)
	}
	if res.GameOver == nil || res.GameOver.Status != StatusCheckmate || res.GameOver.Winner != rules.White {
		t.Fatalf("game over = %+v", res.GameOver)
	}
	if res.State.Status != StatusCheckmate || res.State.Winner != rules.White {
		t.Fatalf("state = %+v", res.State)
	}
	if _, err := m.MakeMove(matchID, "conn-bob", rules.Move{From: "e7", To: "e5"}); !errors.Is(err, ErrMatchFinished) {
		t.Fatalf("move after mate: err = %v, want ErrMatchFinished", err)
	}
}

func TestMakeMoveStalemate(t *testing.T) {
	oracle := &fakeOracle{staleAt: 1}
	m := newTestManager(oracle, time.Minute)
	_, matchID := startMatch(t, m)

	res, err := m.MakeMove(matchID, "conn-alice", rules.Move{From: "c8", To: "e6"})
	if err != nil {
		t.Fatalf("MakeMove: %v", err)
	}
	if res.GameOver == nil || res.GameOver.Status != StatusStalemate || res.GameOver.Winner != "" {
		t.Fatalf("game over = %+v", res.GameOver)
	}
}

func TestMakeMoveDraw(t *testing.T) {
	oracle := &fakeOracle{drawAt: 2}
	m := newTestManager(oracle, time.Minute)
	_, matchID := startMatch(t, m)

	if _, err := m.MakeMove(matchID, "conn-alice", rules.Move{From: "e2", To: "e4"}); err != nil {
		t.Fatalf("MakeMove: %v", err)
	}
	res, err := m.MakeMove(matchID, "conn-bob", rules.Move{From: "e7", To: "e5"})
	if err != nil {
		t.Fatalf("MakeMove: %v", err)
	}
	if res.GameOver == nil || res.GameOver.Status != StatusDraw || res.GameOver.Winner != "" {
		t.Fatalf("game over = %+v", res.GameOver)
	}
}

func TestResign(t *testing.T) {
	m := newTestManager(nil, time.Minute)
	_, matchID := startMatch(t, m)

	over, err := m.Resign(matchID, "conn-bob")
	if err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if over.Status != StatusResigned || over.Winner != rules.White {
		t.Fatalf("over = %+v", over)
	}
	if _, err := m.Resign(matchID, "conn-alice"); !errors.Is(err, ErrMatchFinished) {
		t.Fatalf("double resign: err = %v, want ErrMatchFinished", err)
	}
}

func TestSync(t *testing.T) {
	m := newTestManager(nil, time.Minute)
	_, matchID := startMatch(t, m)

	if _, err := m.MakeMove(matchID, "conn-alice", rules.Move{From: "e2", To: "e4"}); err != nil {
		t.Fatalf("MakeMove: %v", err)
	}
	bundle, err := m.Sync(matchID, "conn-bob")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if bundle.YourColor != rules.Black || len(bundle.State.History) != 1 {
		t.Fatalf("bundle = %+v", bundle)
	}
	if _, err := m.Sync(matchID, "conn-stranger"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
}

func TestWaitingDisconnectDestroysRoom(t *testing.T) {
	m := newTestManager(nil, time.Minute)
	roomID, _, err := m.CreateRoom("conn-alice", "alice")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if notice := m.HandleDisconnect("conn-alice"); notice != nil {
		t.Fatalf("unexpected notice for waiting room: %+v", notice)
	}
	if _, err := m.JoinRoom(roomID, "conn-bob", "bob"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
	if _, ok := m.RoomForConnection("conn-alice"); ok {
		t.Fatalf("connection still indexed after cleanup")
	}
}

func TestDisconnectNotice(t *testing.T) {
	m := newTestManager(nil, time.Minute)
	roomID, matchID := startMatch(t, m)

	notice := m.HandleDisconnect("conn-alice")
	if notice == nil {
		t.Fatalf("no notice for mid-match disconnect")
	}
	if notice.RoomID != roomID || notice.MatchID != matchID {
		t.Fatalf("notice = %+v", notice)
	}
	if notice.OpponentConnID != "conn-bob" || notice.PlayerName != "alice" {
		t.Fatalf("notice = %+v", notice)
	}
	if notice.GraceSeconds != 60 {
		t.Fatalf("grace seconds = %d, want 60", notice.GraceSeconds)
	}
}

func TestGraceExpiryAbandons(t *testing.T) {
	m := newTestManager(nil, 20*time.Millisecond)
	abandoned := make(chan AbandonNotice, 2)
	m.OnAbandon(func(n AbandonNotice) { abandoned <- n })
	_, matchID := startMatch(t, m)

	m.HandleDisconnect("conn-alice")

	select {
	case n := <-abandoned:
		if n.MatchID != matchID || n.Winner != rules.Black || n.LoserName != "alice" {
			t.Fatalf("notice = %+v", n)
		}
		if n.WinnerConnID != "conn-bob" {
			t.Fatalf("winner conn = %q, want conn-bob", n.WinnerConnID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("grace timer never fired")
	}

	snap, ok := m.SnapshotByMatch(matchID)
	if !ok || snap.Status != StatusAbandoned || snap.Winner != rules.Black {
		t.Fatalf("snapshot = %+v ok=%v", snap, ok)
	}
	if _, err := m.MakeMove(matchID, "conn-bob", rules.Move{}); !errors.Is(err, ErrMatchFinished) {
		t.Fatalf("move after abandon: err = %v, want ErrMatchFinished", err)
	}

	select {
	case n := <-abandoned:
		t.Fatalf("abandon fired twice: %+v", n)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAbandonBothSeatsOffline(t *testing.T) {
	m := newTestManager(nil, 20*time.Millisecond)
	abandoned := make(chan AbandonNotice, 2)
	m.OnAbandon(func(n AbandonNotice) { abandoned <- n })
	roomID, matchID := startMatch(t, m)

	m.HandleDisconnect("conn-alice")
	m.HandleDisconnect("conn-bob")

	select {
	case n := <-abandoned:
		if n.WinnerConnID != "" {
			t.Fatalf("winner conn = %q, want empty with both seats offline", n.WinnerConnID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("grace timer never fired")
	}

	// nobody is left to disconnect, so the manager must tear the room
	// down itself
	for _, conn := range []string{"conn-alice", "conn-bob"} {
		if _, ok := m.RoomForConnection(conn); ok {
			t.Fatalf("connection %s still indexed after abandonment", conn)
		}
	}
	if _, ok := m.SnapshotByMatch(matchID); ok {
		t.Fatalf("match %s still indexed after abandonment", matchID)
	}
	if _, err := m.JoinRoom(roomID, "conn-new", "carol"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}

	select {
	case n := <-abandoned:
		t.Fatalf("abandon fired twice: %+v", n)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectWithinGrace(t *testing.T) {
	m := newTestManager(nil, 200*time.Millisecond)
	abandoned := make(chan AbandonNotice, 1)
	m.OnAbandon(func(n AbandonNotice) { abandoned <- n })
	_, matchID := startMatch(t, m)

	if _, err := m.MakeMove(matchID, "conn-alice", rules.Move{From: "e2", To: "e4"}); err != nil {
		t.Fatalf("MakeMove: %v", err)
	}
	m.HandleDisconnect("conn-bob")

	bundle, notice, err := m.HandleReconnect("conn-bob", "conn-bob-2")
	if err != nil {
		t.Fatalf("HandleReconnect: %v", err)
	}
	if bundle.State.MatchID != matchID || bundle.YourColor != rules.Black {
		t.Fatalf("bundle = %+v", bundle)
	}
	if len(bundle.State.History) != 1 {
		t.Fatalf("history lost on reconnect: %+v", bundle.State.History)
	}
	if notice.PlayerName != "bob" || notice.OpponentConnID != "conn-alice" {
		t.Fatalf("notice = %+v", notice)
	}

	// the seat now answers to the new connection
	if _, err := m.MakeMove(matchID, "conn-bob-2", rules.Move{From: "e7", To: "e5"}); err != nil {
		t.Fatalf("move on new connection: %v", err)
	}
	if _, err := m.MakeMove(matchID, "conn-bob", rules.Move{From: "d7", To: "d5"}); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("old connection still seated: err = %v", err)
	}

	select {
	case n := <-abandoned:
		t.Fatalf("abandon fired despite reconnect: %+v", n)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestReconnectAfterGraceIsStale(t *testing.T) {
	m := newTestManager(nil, 10*time.Millisecond)
	abandoned := make(chan AbandonNotice, 1)
	m.OnAbandon(func(n AbandonNotice) { abandoned <- n })
	startMatch(t, m)

	m.HandleDisconnect("conn-alice")
	select {
	case <-abandoned:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("grace timer never fired")
	}

	if _, _, err := m.HandleReconnect("conn-alice", "conn-alice-2"); !errors.Is(err, ErrStaleConnection) {
		t.Fatalf("err = %v, want ErrStaleConnection", err)
	}
}

func TestReconnectFinishedMatchIsStale(t *testing.T) {
	m := newTestManager(nil, time.Minute)
	_, matchID := startMatch(t, m)
	if _, err := m.Resign(matchID, "conn-alice"); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if _, _, err := m.HandleReconnect("conn-alice", "conn-alice-2"); !errors.Is(err, ErrStaleConnection) {
		t.Fatalf("err = %v, want ErrStaleConnection", err)
	}
}

func TestReconnectUnknownConnection(t *testing.T) {
	m := newTestManager(nil, time.Minute)
	if _, _, err := m.HandleReconnect("ghost", "new"); !errors.Is(err, ErrStaleConnection) {
		t.Fatalf("err = %v, want ErrStaleConnection", err)
	}
}
