package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/response"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/utilities"
)

// clients only send control frames; anything larger is a protocol abuse
const maxMessageSize = 4096

// maxConcurrentUsers bounds the fan-out goroutines of one DeliverMany call.
const maxConcurrentUsers = 64

// Verifier resolves a handshake token to a user id.
type Verifier interface {
	Verify(token string) (int64, error)
}

// Options tunes connection handling.
type Options struct {
	AllowedOrigins []string
	PingInterval   time.Duration
	PongWait       time.Duration
	SendTimeout    time.Duration
	SendBuffer     int
}

// OptionsFromConfig maps the service configuration onto gateway options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		AllowedOrigins: cfg.AllowedOrigins,
		PingInterval:   cfg.Realtime.PingInterval,
		PongWait:       cfg.Realtime.PongWait,
		SendTimeout:    cfg.Realtime.SendTimeout,
		SendBuffer:     cfg.Realtime.SendBuffer,
	}
}

// Frame is the envelope of every outbound message.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Gateway accepts websocket connections authenticated by bearer token and
// delivers events to every live session of a user.
type Gateway struct {
	registry *Registry
	verifier Verifier
	opts     Options
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader
	origins  map[string]struct{}
	anyOrig  bool

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
	pumps    sync.WaitGroup
}

func NewGateway(verifier Verifier, opts Options, logger *zap.SugaredLogger) *Gateway {
	g := &Gateway{
		registry: NewRegistry(),
		verifier: verifier,
		opts:     opts,
		logger:   logger,
		origins:  make(map[string]struct{}, len(opts.AllowedOrigins)),
		sessions: make(map[string]*session),
	}
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			g.anyOrig = true
		}
		g.origins[o] = struct{}{}
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      g.checkOrigin,
	}
	return g
}

// Registry returns the session registry owned by g.
func (g *Gateway) Registry() *Registry { return g.registry }

// checkOrigin accepts requests without an Origin header (non-browser
// clients) and browser requests from the allow-list.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || g.anyOrig {
		return true
	}
	_, ok := g.origins[origin]
	return ok
}

// ServeHTTP performs the handshake. The token is verified before the
// upgrade, so a rejected client never gets a session.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	state := StateConnecting
	g.mu.RLock()
	closed := g.closed
	g.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	userID, err := g.verifier.Verify(auth.HandshakeToken(r))
	if err != nil {
		g.logger.Debugw("realtime handshake rejected", "state", state.String(), "remote", r.RemoteAddr, "err", err)
		if !errors.Is(err, apperr.ErrUnauthenticated) {
			err = auth.ErrInvalidToken
		}
		response.WriteError(w, g.logger, err)
		return
	}
	state = StateAuthenticated
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		g.logger.Debugw("realtime upgrade failed", "state", state.String(), "user_id", userID, "err", err)
		return
	}
	g.attach(conn, userID)
}

// attach registers an authenticated connection and starts its pumps.
func (g *Gateway) attach(conn Conn, userID int64) *session {
	s := newSession(utilities.NewConnectionID(), userID, conn, g.opts.SendBuffer)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		_ = conn.Close()
		s.setState(StateClosed)
		return s
	}
	g.sessions[s.id] = s
	g.pumps.Add(2)
	g.mu.Unlock()

	g.registry.Register(userID, s.id)
	s.setState(StateOpen)
	g.logger.Infow("realtime session opened", "conn_id", s.id, "user_id", userID, "sessions", g.registry.Count())

	go func() {
		defer g.pumps.Done()
		g.readPump(s)
	}()
	go func() {
		defer g.pumps.Done()
		g.writePump(s)
	}()
	return s
}

// drop unregisters and closes a session. Safe to call more than once.
func (g *Gateway) drop(s *session) {
	s.closeOnce.Do(func() {
		g.registry.Unregister(s.id)
		g.mu.Lock()
		delete(g.sessions, s.id)
		g.mu.Unlock()
		close(s.done)
		s.setState(StateClosed)
		_ = s.conn.Close()
		g.logger.Infow("realtime session closed", "conn_id", s.id, "user_id", s.userID)
	})
}

func (g *Gateway) readPump(s *session) {
	defer g.drop(s)
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debugw("realtime read failed", "conn_id", s.id, "err", err)
			}
			return
		}
		// inbound messages carry no meaning but count as activity
		_ = s.conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	}
}

func (g *Gateway) writePump(s *session) {
	ticker := time.NewTicker(g.opts.PingInterval)
	defer func() {
		ticker.Stop()
		g.drop(s)
	}()
	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(g.opts.SendTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				g.logger.Warnw("realtime write failed", "conn_id", s.id, "user_id", s.userID, "err", err)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(g.opts.SendTimeout)); err != nil {
				g.logger.Debugw("realtime ping failed", "conn_id", s.id, "err", err)
				return
			}
		case <-s.done:
			return
		}
	}
}

// Deliver sends event to every live session of userID. Sessions are served
// concurrently with a per-send timeout; failures are logged, never
// returned. Users without sessions are skipped silently.
func (g *Gateway) Deliver(ctx context.Context, userID int64, event string, payload any) {
	frame, err := json.Marshal(Frame{Event: event, Data: payload})
	if err != nil {
		g.logger.Errorw("realtime encode failed", "event", event, "err", err)
		return
	}
	g.deliverFrame(ctx, userID, frame)
}

// DeliverMany sends event to each distinct user in userIDs, users in
// parallel.
func (g *Gateway) DeliverMany(ctx context.Context, userIDs []int64, event string, payload any) {
	frame, err := json.Marshal(Frame{Event: event, Data: payload})
	if err != nil {
		g.logger.Errorw("realtime encode failed", "event", event, "err", err)
		return
	}
	var eg errgroup.Group
	eg.SetLimit(maxConcurrentUsers)
	seen := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		eg.Go(func() error {
			g.deliverFrame(ctx, id, frame)
			return nil
		})
	}
	_ = eg.Wait()
}

func (g *Gateway) deliverFrame(ctx context.Context, userID int64, frame []byte) {
	ids := g.registry.SessionsFor(userID)
	if len(ids) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, id := range ids {
		g.mu.RLock()
		s, ok := g.sessions[id]
		g.mu.RUnlock()
		if !ok {
			// disconnected after the lookup
			continue
		}
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, g.opts.SendTimeout)
			defer cancel()
			if err := s.enqueue(sendCtx, frame); err != nil {
				if errors.Is(err, errSessionClosed) {
					return
				}
				g.logger.Warnw("realtime delivery failed", "conn_id", s.id, "user_id", userID, "err", err)
			}
		}(s)
	}
	wg.Wait()
}

// Shutdown closes every session with a going-away frame and waits for the
// connection goroutines, or for ctx.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	live := make([]*session, 0, len(g.sessions))
	for _, s := range g.sessions {
		live = append(live, s)
	}
	g.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, s := range live {
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		g.drop(s)
	}

	done := make(chan struct{})
	go func() {
		g.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
