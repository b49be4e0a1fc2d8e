// Package lobbyserver runs lobbies back to back on a single listener and hands
// every confirmed session to a SessionHandler in its own goroutine. Outcomes are
// recorded in a history store and in prometheus metrics when those are set.
// Lobbies that end with nobody connecting are counted in metrics only.
package lobbyserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-duel/config"
	"github.com/cyberinferno/go-duel/framedconn"
	"github.com/cyberinferno/go-duel/history"
	"github.com/cyberinferno/go-duel/idgenerator"
	"github.com/cyberinferno/go-duel/lobby"
	"github.com/cyberinferno/go-duel/logger"
	"github.com/cyberinferno/go-duel/metrics"
	"github.com/cyberinferno/go-duel/safemap"
)

const (
	historyTimeout     = 2 * time.Second
	retryDelay         = 100 * time.Millisecond
)

// SessionHandler runs the application protocol on a confirmed session. The
// server closes the session once the handler returns and logs the returned
// error. ctx is cancelled when the server stops.
type SessionHandler func(ctx context.Context, session *lobby.Session) error

// Server runs lobbies until stopped. Fields must be set before Start.
type Server struct {
	Logger      logger.Logger
	Name        string
	Config      *config.Config
	Listener    net.Listener // Bound by Start when nil
	Handler     SessionHandler
	History     history.Store      // Optional
	Metrics     *metrics.Metrics   // Optional
	OnEvent     lobby.EventHandler // Optional
	Sessions    *safemap.SafeMap[uint32, *lobby.Session]
	IdGenerator *idgenerator.IdGenerator // Seeded from History by Start when nil
	Running     atomic.Bool

	handlers sync.WaitGroup
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a server using Relay as its session handler.
//
// Parameters:
//   - name: Name used in log entries
//   - cfg: Validated configuration
//   - log: Logger for server and lobby events
//
// Returns:
//   - A server ready to Start
func New(name string, cfg *config.Config, log logger.Logger) *Server {
	return &Server{
		Logger:   log,
		Name:     name,
		Config:   cfg,
		Handler:  Relay,
		Sessions: safemap.NewSafeMap[uint32, *lobby.Session](),
	}
}

// Start binds the listener, unless one was provided, and begins running
// lobbies in a goroutine. Without an IdGenerator, lobby IDs continue after the
// highest ID found in History.
//
// Parameters:
//   - ctx: Parent context; cancelling it stops the lobby loop
//
// Returns:
//   - An error if the server is already running, if the history store cannot
//     be read or if binding fails
func (s *Server) Start(ctx context.Context) error {
	if s.Running.Load() {
		s.Logger.Error("server already running")
		return fmt.Errorf("server %s already running", s.Name)
	}

	if s.IdGenerator == nil {
		last, err := s.lastStoredID(ctx)
		if err != nil {
			s.Logger.Error("failed to read lobby history", logger.Field{Key: "error", Value: err.Error()})
			return fmt.Errorf("server %s failed to start: %w", s.Name, err)
		}
		s.IdGenerator = idgenerator.NewIdGenerator(last)
	}

	if s.Sessions == nil {
		s.Sessions = safemap.NewSafeMap[uint32, *lobby.Session]()
	}

	if s.Listener == nil {
		ln, err := lobby.Listen(s.Config)
		if err != nil {
			s.Logger.Error("server failed to start", logger.Field{Key: "error", Value: err.Error()})
			return fmt.Errorf("server %s failed to start: %w", s.Name, err)
		}
		s.Listener = ln
	}

	if s.Handler == nil {
		s.Handler = Relay
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.Running.Store(true)

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name),
		logger.Field{Key: "addr", Value: s.Listener.Addr().String()},
		logger.Field{Key: "last_lobby", Value: s.IdGenerator.Last()},
	)
	go s.lobbyLoop(runCtx)

	return nil
}

// Stop cancels the lobby in progress, closes the listener and every active
// session, and waits for session handlers to return. Safe to call when the
// server is not running.
func (s *Server) Stop() {
	if !s.Running.CompareAndSwap(true, false) {
		s.Logger.Info(fmt.Sprintf("%s server not running", s.Name))
		return
	}

	s.cancel()
	<-s.done
	_ = s.Listener.Close()

	for _, session := range s.Sessions.Values() {
		_ = session.Close()
	}
	s.handlers.Wait()

	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.Listener == nil {
		return nil
	}

	return s.Listener.Addr()
}

// Session returns the active session with the given lobby ID.
func (s *Server) Session(id uint32) (*lobby.Session, bool) {
	return s.Sessions.Load(id)
}

// ActiveSessions returns the number of sessions whose handler is still running.
func (s *Server) ActiveSessions() int {
	return s.Sessions.Len()
}

func (s *Server) lastStoredID(ctx context.Context) (uint32, error) {
	if s.History == nil {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()

	return s.History.LastID(ctx)
}

// lobbyLoop runs one lobby after another until the server stops. Lobby
// failures are recorded and the next lobby starts immediately.
func (s *Server) lobbyLoop(ctx context.Context) {
	defer close(s.done)

	var observer framedconn.FrameObserver
	if s.Metrics != nil {
		observer = s.Metrics
	}

	for s.Running.Load() && ctx.Err() == nil {
		id := s.IdGenerator.Id()
		started := time.Now()

		session, err := lobby.RunServerLobby(ctx, s.Listener, s.Config, lobby.Options{
			Logger:   s.Logger,
			OnEvent:  s.OnEvent,
			Observer: observer,
			LobbyID:  id,
		})
		s.record(id, started, session, err)

		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}

			if lobby.Outcome(err) == "error" {
				select {
				case <-ctx.Done():
					return
				case <-time.After(retryDelay):
				}
			}

			continue
		}

		s.Sessions.Store(id, session)
		if s.Metrics != nil {
			s.Metrics.SessionStarted()
		}

		s.handlers.Add(1)
		go s.handle(ctx, session)
	}
}

func (s *Server) handle(ctx context.Context, session *lobby.Session) {
	defer s.handlers.Done()
	defer func() {
		_ = session.Close()
		s.Sessions.Delete(session.ID)
		if s.Metrics != nil {
			s.Metrics.SessionEnded()
		}
	}()

	if err := s.Handler(ctx, session); err != nil {
		s.Logger.Warn("session ended with error",
			logger.Field{Key: "lobby", Value: session.ID},
			logger.Field{Key: "error", Value: err.Error()},
		)
		return
	}

	s.Logger.Info("session ended", logger.Field{Key: "lobby", Value: session.ID})
}

func (s *Server) record(id uint32, started time.Time, session *lobby.Session, err error) {
	finished := time.Now()
	outcome := lobby.Outcome(err)

	if s.Metrics != nil {
		s.Metrics.LobbyFinished(outcome, finished.Sub(started))
	}

	if s.History == nil || errors.Is(err, lobby.ErrNoPlayerFound) {
		return
	}

	rec := history.Record{
		ID:         id,
		Outcome:    outcome,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if session != nil {
		rec.Confirmation = fmt.Sprint(session.Confirmation)
		for _, p := range session.Players {
			rec.Players = append(rec.Players, p.RemoteAddr())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	if err := s.History.Save(ctx, rec); err != nil {
		s.Logger.Warn("failed to save lobby record",
			logger.Field{Key: "lobby", Value: id},
			logger.Field{Key: "error", Value: err.Error()},
		)
	}
}
