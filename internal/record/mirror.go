package record

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const ttlGame = 24 * time.Hour

// GameRecord is the persisted shape of one match.
type GameRecord struct {
	MatchID   string    `json:"match_id"`
	RoomID    string    `json:"room_id"`
	FEN       string    `json:"fen"`
	MovesUCI  []string  `json:"moves_uci"`
	MovesSAN  []string  `json:"moves_san"`
	Status    string    `json:"status"`
	Winner    string    `json:"winner,omitempty"`
	WhiteName string    `json:"white_name"`
	BlackName string    `json:"black_name"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Mirror keeps the live game record in Redis so an operator can inspect
// in-flight matches; it is best-effort and never gates the core.
type Mirror struct {
	rdb *redis.Client
}

func NewMirror(redisURL string) (*Mirror, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for mirror")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Mirror{rdb: rdb}, nil
}

func (m *Mirror) Close() error {
	if m == nil || m.rdb == nil {
		return nil
	}
	return m.rdb.Close()
}

func (m *Mirror) Save(ctx context.Context, rec *GameRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, gameKey(rec.MatchID), raw, ttlGame).Err()
}

func (m *Mirror) Load(ctx context.Context, matchID string) (*GameRecord, error) {
	raw, err := m.rdb.Get(ctx, gameKey(matchID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec GameRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (m *Mirror) Delete(ctx context.Context, matchID string) error {
	return m.rdb.Del(ctx, gameKey(matchID)).Err()
}

func gameKey(id string) string { return "duel:game:" + strings.TrimSpace(id) }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
