package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"chessduel/internal/obslog"
	"chessduel/pkg/wire"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	pingTimeout  = 3 * time.Second
)

// Dispatcher is the inbound side of the router.
type Dispatcher interface {
	Dispatch(connID string, env wire.Envelope)
	HandleDisconnect(connID string)
}

type peer struct {
	id   string
	conn *websocket.Conn
	ctx  context.Context

	// wsjson.Write is not concurrency-safe across goroutines
	writeMu sync.Mutex
}

// Server accepts websocket clients, assigns each a connection id, and
// bridges frames to the router. It implements the router's Emitter.
type Server struct {
	dispatch Dispatcher

	mu    sync.Mutex
	peers map[string]*peer

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewServer(dispatch Dispatcher) *Server {
	return &Server{
		dispatch: dispatch,
		peers:    make(map[string]*peer),
		stopCh:   make(chan struct{}),
	}
}

// ServeHTTP upgrades the request and runs the connection until it drops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws accept failed", zap.Error(err))
		return
	}

	p := &peer{id: uuid.NewString(), conn: conn, ctx: r.Context()}
	s.mu.Lock()
	s.peers[p.id] = p
	s.mu.Unlock()
	obslog.L().Info("ws_open", zap.String("conn_id", p.id))

	s.wg.Add(1)
	go s.pingLoop(p)

	s.readLoop(p)

	s.mu.Lock()
	delete(s.peers, p.id)
	s.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	s.dispatch.HandleDisconnect(p.id)
	obslog.L().Info("ws_close", zap.String("conn_id", p.id))
}

func (s *Server) readLoop(p *peer) {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		var env wire.Envelope
		if err := wsjson.Read(p.ctx, p.conn, &env); err != nil {
			return
		}
		s.dispatch.Dispatch(p.id, env)
	}
}

func (s *Server) pingLoop(p *peer) {
	defer s.wg.Done()
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-s.stopCh:
			return
		case <-p.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(p.ctx, pingTimeout)
			err := p.conn.Ping(ctx)
			cancel()
			if err != nil {
				failures++
				if failures >= 2 {
					_ = p.conn.Close(websocket.StatusGoingAway, "ping failure")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// Emit sends one event to one connection. Unknown ids are dropped; the
// manager handles departed peers through the disconnect path.
func (s *Server) Emit(connID, event string, payload any) {
	s.mu.Lock()
	p, ok := s.peers[connID]
	s.mu.Unlock()
	if !ok {
		return
	}

	env, err := wire.NewEnvelope(event, payload)
	if err != nil {
		obslog.L().Error("emit marshal failed",
			zap.String("event", event), zap.Error(err))
		return
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, p.conn, env); err != nil {
		obslog.L().Warn("emit failed",
			zap.String("conn_id", connID),
			zap.String("event", event),
			zap.Error(err))
	}
}

// Close stops ping loops and closes every live connection.
func (s *Server) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		_ = p.conn.Close(websocket.StatusGoingAway, "server shutdown")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
