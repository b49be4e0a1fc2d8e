package lobby

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/cyberinferno/go-duel/config"
	"github.com/cyberinferno/go-duel/framedconn"
	"github.com/cyberinferno/go-duel/logger"
)

// DeadlineListener is a listener whose Accept can be bounded by a deadline,
// such as *net.TCPListener.
type DeadlineListener interface {
	net.Listener
	SetDeadline(t time.Time) error
}

// Listen binds the configured server address.
//
// Parameters:
//   - cfg: Configuration providing the server host and port
//
// Returns:
//   - The listener, or an error if the address cannot be bound
func Listen(cfg *config.Config) (net.Listener, error) {
	ln, err := net.Listen("tcp", cfg.ServerAddr())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.ServerAddr(), err)
	}

	return ln, nil
}

// ServeLobby binds the configured address, runs one lobby and closes the
// listener before returning.
//
// Parameters:
//   - ctx: Cancels the lobby
//   - cfg: Validated configuration
//   - opts: Logger, event handler and frame observer
//
// Returns:
//   - The confirmed session, or nil and the reason the lobby failed
func ServeLobby(ctx context.Context, cfg *config.Config, opts Options) (*Session, error) {
	ln, err := Listen(cfg)
	if err != nil {
		return nil, err
	}
	defer ln.Close()

	return RunServerLobby(ctx, ln, cfg, opts)
}

// RunServerLobby runs one lobby on a listener owned by the caller. It accepts
// exactly two players within cfg.LobbyTimeout, tells the first one to wait,
// sends the ready signal to both and checks that both echo the same
// confirmation. On any failure every accepted player connection is closed; the
// listener stays open and its deadline is cleared.
//
// Parameters:
//   - ctx: Cancels the lobby; the function then returns ctx.Err()
//   - ln: A listener supporting accept deadlines
//   - cfg: Validated configuration
//   - opts: Logger, event handler, frame observer and lobby ID
//
// Returns:
//   - The confirmed session
//   - ErrNoPlayerFound, ErrNoMatchFound, ErrNoConfirmation, ErrProtocolMismatch,
//     a transport error or ctx.Err() on failure
func RunServerLobby(ctx context.Context, ln net.Listener, cfg *config.Config, opts Options) (*Session, error) {
	dl, ok := ln.(DeadlineListener)
	if !ok {
		return nil, fmt.Errorf("listener %T does not support accept deadlines", ln)
	}

	connOpts, err := framedconn.OptionsFromConfig(cfg, opts.Observer)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := opts.logger().With(logger.Field{Key: "lobby", Value: opts.LobbyID})
	l := &serverLobby{
		id:       opts.LobbyID,
		cfg:      cfg,
		connOpts: connOpts,
		log:      log,
		events:   &emitter{log: log, onEvent: opts.OnEvent},
	}

	started := time.Now()
	if err := dl.SetDeadline(started.Add(cfg.LobbyTimeout())); err != nil {
		return nil, fmt.Errorf("set lobby deadline: %w", err)
	}
	defer func() {
		_ = dl.SetDeadline(time.Time{})
	}()

	cancelled := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(cancelled)
		_ = dl.SetDeadline(time.Unix(1, 0))
		l.cancel()
	})

	session, err := l.run(ctx, ln, started)
	if !stop() {
		<-cancelled
		if session != nil {
			_ = session.Close()
		}

		return nil, ctx.Err()
	}

	return session, err
}

type serverLobby struct {
	id       uint32
	cfg      *config.Config
	connOpts framedconn.Options
	log      logger.Logger
	events   *emitter

	mu        sync.Mutex
	cancelled bool
	players   []*framedconn.Connection
}

func (l *serverLobby) run(ctx context.Context, ln net.Listener, started time.Time) (*Session, error) {
	l.events.emit(Event{State: AwaitingPlayer1})

	for n := 1; n <= 2; n++ {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && isTimeout(err) {
				return nil, l.deadlineReached()
			}

			return nil, l.fail(ctx, Event{Err: fmt.Errorf("accept player %d: %w", n, err)})
		}

		c := framedconn.New(nc, l.connOpts)
		if !l.addPlayer(c) {
			_ = c.Close()
			return nil, l.fail(ctx, Event{Err: ctx.Err()})
		}

		if n == 1 {
			if err := c.Send(MsgWaiting); err != nil {
				return nil, l.fail(ctx, Event{Player: 1, Remote: c.RemoteAddr(), Err: fmt.Errorf("send waiting: %w", err)})
			}

			l.events.emit(Event{State: AwaitingPlayer2, Player: 1, Remote: c.RemoteAddr(), Message: MsgWaiting})
		}
	}

	players := [2]*framedconn.Connection{l.players[0], l.players[1]}
	for i, p := range players {
		if err := p.Send(MsgReady); err != nil {
			return nil, l.fail(ctx, Event{Player: i + 1, Remote: p.RemoteAddr(), Err: fmt.Errorf("send ready: %w", err)})
		}
	}
	l.events.emit(Event{State: BothConnected, Player: 2, Remote: players[1].RemoteAddr(), Message: MsgReady})

	var confirmations [2]any
	for i, p := range players {
		ok, err := p.Receive(l.cfg.ConfirmTimeout(), &confirmations[i])
		if err != nil {
			return nil, l.fail(ctx, Event{Player: i + 1, Remote: p.RemoteAddr(), Err: fmt.Errorf("receive confirmation: %w", err)})
		}
		if !ok {
			return nil, l.fail(ctx, Event{Player: i + 1, Remote: p.RemoteAddr(), Err: fmt.Errorf("player %d: %w", i+1, ErrNoConfirmation)})
		}
	}

	if !reflect.DeepEqual(confirmations[0], confirmations[1]) {
		l.log.Error("protocol error: confirmations differ",
			logger.Field{Key: "player1", Value: confirmations[0]},
			logger.Field{Key: "player2", Value: confirmations[1]},
		)

		return nil, l.fail(ctx, Event{Err: fmt.Errorf("%w: player 1 sent %v, player 2 sent %v",
			ErrProtocolMismatch, confirmations[0], confirmations[1])})
	}

	session := &Session{
		ID:           l.id,
		Players:      players,
		Confirmation: confirmations[0],
		StartedAt:    started,
		ConfirmedAt:  time.Now(),
	}
	l.events.emit(Event{State: Confirmed, Message: confirmations[0]})

	return session, nil
}

// deadlineReached handles the lobby deadline expiring with fewer than two players.
func (l *serverLobby) deadlineReached() error {
	if len(l.players) == 0 {
		l.events.emit(Event{State: Failed, Err: ErrNoPlayerFound})
		return ErrNoPlayerFound
	}

	p := l.players[0]
	if err := p.Send(MsgNoMatch); err != nil {
		l.log.Warn("failed to notify player", logger.Field{Key: "error", Value: err.Error()})
	} else {
		var ack any
		ok, err := p.Receive(l.cfg.ReceiveTimeout(), &ack)
		switch {
		case err != nil:
			l.log.Debug("no acknowledgment from player", logger.Field{Key: "error", Value: err.Error()})
		case ok:
			l.log.Debug("player acknowledged", logger.Field{Key: "message", Value: ack})
		}
	}

	l.closePlayers()
	l.events.emit(Event{State: Failed, Player: 1, Remote: p.RemoteAddr(), Message: MsgNoMatch, Err: ErrNoMatchFound})

	return ErrNoMatchFound
}

func (l *serverLobby) fail(ctx context.Context, ev Event) error {
	l.closePlayers()
	if err := ctx.Err(); err != nil {
		ev.Err = err
	}

	ev.State = Failed
	l.events.emit(ev)

	return ev.Err
}

func (l *serverLobby) addPlayer(c *framedconn.Connection) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancelled {
		return false
	}

	l.players = append(l.players, c)
	return true
}

func (l *serverLobby) cancel() {
	l.mu.Lock()
	l.cancelled = true
	l.mu.Unlock()

	l.closePlayers()
}

func (l *serverLobby) closePlayers() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range l.players {
		_ = p.Close()
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
