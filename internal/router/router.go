package router

import (
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"chessduel/internal/msgcat"
	"chessduel/internal/obslog"
	"chessduel/internal/rules"
	"chessduel/internal/session"
	"chessduel/pkg/wire"
)

// Emitter delivers one event to one connection. The gateway implements it;
// tests substitute a capture fake.
type Emitter interface {
	Emit(connID, event string, payload any)
}

// Recorder observes match lifecycle for persistence. All methods must be
// non-blocking.
type Recorder interface {
	GameStarted(roomID string, players []session.PlayerInfo, snap session.Snapshot)
	MoveApplied(snap session.Snapshot)
	GameEnded(snap session.Snapshot)
}

// Router translates inbound envelopes into manager calls and fans results
// back out as events. Delivery discipline: command failures go only to the
// originator; game-start, move-confirmed, and game-over go to every seated
// player; everything else is a unicast.
type Router struct {
	mgr *session.Manager
	out Emitter
	rec Recorder
	cat *msgcat.Catalog
}

func New(mgr *session.Manager, out Emitter, rec Recorder, cat *msgcat.Catalog) *Router {
	r := &Router{mgr: mgr, out: out, rec: rec, cat: cat}
	mgr.OnAbandon(r.onAbandon)
	return r
}

// SetEmitter binds the outbound side after construction; the gateway and
// router reference each other, so one of the two is wired late.
func (r *Router) SetEmitter(out Emitter) { r.out = out }

// Dispatch handles one inbound envelope from connID.
func (r *Router) Dispatch(connID string, env wire.Envelope) {
	switch env.Type {
	case wire.CmdCreateRoom:
		var p wire.CreateRoom
		if !r.decode(connID, env.Payload, &p) {
			return
		}
		r.createRoom(connID, p)
	case wire.CmdJoinRoom:
		var p wire.JoinRoom
		if !r.decode(connID, env.Payload, &p) {
			return
		}
		r.joinRoom(connID, p)
	case wire.CmdMakeMove:
		var p wire.MakeMove
		if !r.decode(connID, env.Payload, &p) {
			return
		}
		r.makeMove(connID, p)
	case wire.CmdResign:
		var p wire.Resign
		if !r.decode(connID, env.Payload, &p) {
			return
		}
		r.resign(connID, p)
	case wire.CmdRequestSync:
		var p wire.RequestSync
		if !r.decode(connID, env.Payload, &p) {
			return
		}
		r.requestSync(connID, p)
	case wire.CmdReconnect:
		var p wire.Reconnect
		if !r.decode(connID, env.Payload, &p) {
			return
		}
		r.reconnect(connID, p)
	default:
		r.emitError(connID, "error.bad_command", "Unrecognized command")
	}
}

func (r *Router) decode(connID string, raw json.RawMessage, dst any) bool {
	if len(raw) == 0 {
		r.emitError(connID, "error.bad_payload", "Malformed payload")
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		r.emitError(connID, "error.bad_payload", "Malformed payload")
		return false
	}
	return true
}

func (r *Router) createRoom(connID string, p wire.CreateRoom) {
	roomID, color, err := r.mgr.CreateRoom(connID, playerName(p.PlayerName))
	if err != nil {
		r.emitFailure(connID, err)
		return
	}
	r.out.Emit(connID, wire.EvtRoomCreated, wire.RoomCreated{
		RoomID:      roomID,
		PlayerColor: string(color),
	})
}

func (r *Router) joinRoom(connID string, p wire.JoinRoom) {
	bundle, err := r.mgr.JoinRoom(strings.ToUpper(strings.TrimSpace(p.RoomID)), connID, playerName(p.PlayerName))
	if err != nil {
		r.emitFailure(connID, err)
		return
	}

	// each seat gets its own color in the payload
	players := toPlayers(bundle.Players)
	state := toGameState(bundle.State)
	for _, pl := range bundle.Players {
		r.out.Emit(pl.ID, wire.EvtGameStart, wire.GameStart{
			GameState: state,
			Players:   players,
			YourColor: string(pl.Color),
		})
	}
	r.rec.GameStarted(bundle.RoomID, bundle.Players, bundle.State)
}

func (r *Router) makeMove(connID string, p wire.MakeMove) {
	mv := rules.Move{
		From:      strings.ToLower(strings.TrimSpace(p.From)),
		To:        strings.ToLower(strings.TrimSpace(p.To)),
		Promotion: rules.PieceType(strings.ToLower(strings.TrimSpace(p.Promotion))),
	}
	res, err := r.mgr.MakeMove(p.GameID, connID, mv)
	if err != nil {
		r.out.Emit(connID, wire.EvtMoveRejected, wire.MoveRejected{Reason: r.rejectReason(err)})
		return
	}

	confirmed := wire.MoveConfirmed{
		Move:      toMoveRecord(res.Record),
		GameState: toGameState(res.State),
	}
	for _, pl := range r.roomPlayers(connID) {
		r.out.Emit(pl.ID, wire.EvtMoveConfirmed, confirmed)
	}

	if res.GameOver == nil {
		r.rec.MoveApplied(res.State)
		return
	}
	over := wire.GameOver{
		Status: string(res.GameOver.Status),
		Winner: string(res.GameOver.Winner),
		Reason: r.overReason(res.GameOver.Status, ""),
	}
	for _, pl := range r.roomPlayers(connID) {
		r.out.Emit(pl.ID, wire.EvtGameOver, over)
	}
	r.rec.GameEnded(res.State)
}

func (r *Router) resign(connID string, p wire.Resign) {
	players := r.roomPlayers(connID)
	over, err := r.mgr.Resign(p.GameID, connID)
	if err != nil {
		r.emitFailure(connID, err)
		return
	}
	payload := wire.GameOver{
		Status: string(over.Status),
		Winner: string(over.Winner),
		Reason: r.overReason(over.Status, ""),
	}
	for _, pl := range players {
		r.out.Emit(pl.ID, wire.EvtGameOver, payload)
	}
	if snap, ok := r.mgr.SnapshotByMatch(p.GameID); ok {
		r.rec.GameEnded(snap)
	}
}

func (r *Router) requestSync(connID string, p wire.RequestSync) {
	bundle, err := r.mgr.Sync(p.GameID, connID)
	if err != nil {
		r.emitFailure(connID, err)
		return
	}
	r.out.Emit(connID, wire.EvtStateSync, wire.StateSync{
		GameState: toGameState(bundle.State),
		Players:   toPlayers(bundle.Players),
		YourColor: string(bundle.YourColor),
	})
}

func (r *Router) reconnect(connID string, p wire.Reconnect) {
	bundle, notice, err := r.mgr.HandleReconnect(strings.TrimSpace(p.ConnectionID), connID)
	if err != nil {
		r.emitFailure(connID, err)
		return
	}
	r.out.Emit(connID, wire.EvtStateSync, wire.StateSync{
		GameState: toGameState(bundle.State),
		Players:   toPlayers(bundle.Players),
		YourColor: string(bundle.YourColor),
	})
	if notice.OpponentConnID != "" {
		r.out.Emit(notice.OpponentConnID, wire.EvtOpponentReconnected, wire.OpponentReconnected{
			PlayerName: notice.PlayerName,
		})
	}
}

// HandleDisconnect is called by the gateway when a transport drops.
func (r *Router) HandleDisconnect(connID string) {
	notice := r.mgr.HandleDisconnect(connID)
	if notice == nil || notice.OpponentConnID == "" {
		return
	}
	r.out.Emit(notice.OpponentConnID, wire.EvtOpponentDisconnected, wire.OpponentDisconnected{
		PlayerName:     notice.PlayerName,
		TimeoutSeconds: notice.GraceSeconds,
	})
}

func (r *Router) onAbandon(n session.AbandonNotice) {
	if n.WinnerConnID != "" {
		reason, err := r.cat.Render("over.abandoned", map[string]string{"Name": n.LoserName})
		if err != nil {
			reason = n.LoserName + " abandoned the game"
		}
		r.out.Emit(n.WinnerConnID, wire.EvtGameOver, wire.GameOver{
			Status: string(session.StatusAbandoned),
			Winner: string(n.Winner),
			Reason: reason,
		})
	}
	if snap, ok := r.mgr.SnapshotByMatch(n.MatchID); ok {
		r.rec.GameEnded(snap)
	}
}

// roomPlayers resolves the caller's room roster for a multicast.
func (r *Router) roomPlayers(connID string) []session.PlayerInfo {
	roomID, ok := r.mgr.RoomForConnection(connID)
	if !ok {
		return nil
	}
	return r.mgr.Players(roomID)
}

func (r *Router) rejectReason(err error) string {
	switch {
	case errors.Is(err, session.ErrMatchNotFound):
		return r.cat.Text("reject.match_not_found", "Game not found")
	case errors.Is(err, session.ErrMatchFinished):
		return r.cat.Text("reject.match_finished", "Game already finished")
	case errors.Is(err, session.ErrNotParticipant):
		return r.cat.Text("reject.not_participant", "You are not a player in this game")
	case errors.Is(err, session.ErrNotYourTurn):
		return r.cat.Text("reject.not_your_turn", "Not your turn")
	case errors.Is(err, rules.ErrIllegalMove):
		return r.cat.Text("reject.illegal_move", "Illegal move")
	default:
		obslog.L().Error("move failed", zap.Error(err))
		return r.cat.Text("reject.illegal_move", "Illegal move")
	}
}

func (r *Router) emitFailure(connID string, err error) {
	switch {
	case errors.Is(err, session.ErrRoomNotFound):
		r.emitError(connID, "error.room_not_found", "Room not found")
	case errors.Is(err, session.ErrRoomFull):
		r.emitError(connID, "error.room_full", "Room is full")
	case errors.Is(err, session.ErrAlreadyStarted):
		r.emitError(connID, "error.room_started", "Game already in progress")
	case errors.Is(err, session.ErrServerFull):
		r.emitError(connID, "error.server_full", "Server is at capacity, try again later")
	case errors.Is(err, session.ErrStaleConnection):
		r.emitError(connID, "error.stale_connection", "Session expired")
	case errors.Is(err, session.ErrMatchNotFound):
		r.emitError(connID, "reject.match_not_found", "Game not found")
	case errors.Is(err, session.ErrMatchFinished):
		r.emitError(connID, "reject.match_finished", "Game already finished")
	case errors.Is(err, session.ErrNotParticipant):
		r.emitError(connID, "reject.not_participant", "You are not a player in this game")
	default:
		obslog.L().Error("command failed", zap.String("conn_id", connID), zap.Error(err))
		r.emitError(connID, "", "Internal server error")
	}
}

func (r *Router) emitError(connID, key, fallback string) {
	msg := fallback
	if key != "" {
		msg = r.cat.Text(key, fallback)
	}
	r.out.Emit(connID, wire.EvtError, wire.ErrorMessage{Message: msg})
}

func (r *Router) overReason(status session.Status, fallback string) string {
	key := ""
	switch status {
	case session.StatusCheckmate:
		key = "over.checkmate"
	case session.StatusStalemate:
		key = "over.stalemate"
	case session.StatusDraw:
		key = "over.draw"
	case session.StatusResigned:
		key = "over.resigned"
	}
	if key == "" {
		return fallback
	}
	return r.cat.Text(key, fallback)
}

func playerName(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "Guest"
	}
	if len(name) > 32 {
		name = name[:32]
	}
	return name
}

func toGameState(s session.Snapshot) wire.GameState {
	hist := make([]wire.MoveRecord, 0, len(s.History))
	for _, m := range s.History {
		hist = append(hist, toMoveRecord(m))
	}
	return wire.GameState{
		GameID:      s.MatchID,
		FEN:         s.FEN,
		Turn:        string(s.Turn),
		MoveHistory: hist,
		Status:      string(s.Status),
		IsCheck:     s.InCheck,
		Winner:      string(s.Winner),
	}
}

func toMoveRecord(m session.MoveRecord) wire.MoveRecord {
	return wire.MoveRecord{
		From:      m.From,
		To:        m.To,
		Piece:     string(m.Piece),
		Color:     string(m.Color),
		Captured:  string(m.Captured),
		Promotion: string(m.Promotion),
		SAN:       m.SAN,
		FEN:       m.FEN,
	}
}

func toPlayers(ps []session.PlayerInfo) []wire.PlayerInfo {
	out := make([]wire.PlayerInfo, 0, len(ps))
	for _, p := range ps {
		out = append(out, wire.PlayerInfo{ID: p.ID, Name: p.Name, Color: string(p.Color)})
	}
	return out
}
