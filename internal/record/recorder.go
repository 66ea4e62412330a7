package record

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chessduel/internal/obslog"
	"chessduel/internal/rules"
	"chessduel/internal/session"
)

const writeTimeout = 5 * time.Second

// Recorder mirrors live games to Redis and archives finished ones to
// Postgres. Every write runs on its own goroutine with a bounded context
// so persistence never delays a player-facing response. Either backend
// may be nil; a fully nil Recorder is a no-op.
type Recorder struct {
	mirror  *Mirror
	archive *Archive

	mu   sync.Mutex
	live map[string]*GameRecord // matchID → working copy
}

func NewRecorder(mirror *Mirror, archive *Archive) *Recorder {
	return &Recorder{
		mirror:  mirror,
		archive: archive,
		live:    make(map[string]*GameRecord),
	}
}

func (r *Recorder) GameStarted(roomID string, players []session.PlayerInfo, snap session.Snapshot) {
	if r == nil {
		return
	}
	rec := &GameRecord{
		MatchID:   snap.MatchID,
		RoomID:    roomID,
		FEN:       snap.FEN,
		Status:    string(snap.Status),
		StartedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	for _, p := range players {
		switch p.Color {
		case rules.White:
			rec.WhiteName = p.Name
		case rules.Black:
			rec.BlackName = p.Name
		}
	}
	r.mu.Lock()
	r.live[snap.MatchID] = rec
	r.mu.Unlock()
	r.saveMirror(rec)
}

func (r *Recorder) MoveApplied(snap session.Snapshot) {
	if r == nil {
		return
	}
	rec := r.refresh(snap)
	if rec == nil {
		return
	}
	r.saveMirror(rec)
}

func (r *Recorder) GameEnded(snap session.Snapshot) {
	if r == nil {
		return
	}
	rec := r.refresh(snap)
	if rec == nil {
		return
	}
	r.mu.Lock()
	delete(r.live, snap.MatchID)
	r.mu.Unlock()
	r.saveMirror(rec)
	r.saveArchive(rec)
}

// refresh folds the latest snapshot into the cached record and returns a
// copy safe to hand to a writer goroutine.
func (r *Recorder) refresh(snap session.Snapshot) *GameRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.live[snap.MatchID]
	if !ok {
		return nil
	}
	rec.FEN = snap.FEN
	rec.Status = string(snap.Status)
	rec.Winner = string(snap.Winner)
	rec.MovesUCI = rec.MovesUCI[:0]
	rec.MovesSAN = rec.MovesSAN[:0]
	for _, m := range snap.History {
		uci := m.From + m.To
		if m.Promotion != "" {
			uci += string(m.Promotion)
		}
		rec.MovesUCI = append(rec.MovesUCI, uci)
		rec.MovesSAN = append(rec.MovesSAN, m.SAN)
	}
	rec.UpdatedAt = time.Now().UTC()
	cp := *rec
	cp.MovesUCI = append([]string(nil), rec.MovesUCI...)
	cp.MovesSAN = append([]string(nil), rec.MovesSAN...)
	return &cp
}

func (r *Recorder) saveMirror(rec *GameRecord) {
	if r.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.mirror.Save(ctx, rec); err != nil {
			obslog.L().Warn("mirror save failed",
				zap.String("match_id", rec.MatchID), zap.Error(err))
		}
	}()
}

func (r *Recorder) saveArchive(rec *GameRecord) {
	if r.archive == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.archive.SaveResult(ctx, rec); err != nil {
			obslog.L().Error("archive save failed",
				zap.String("match_id", rec.MatchID), zap.Error(err))
		}
	}()
}
