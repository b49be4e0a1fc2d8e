// Package lobby runs the two-party rendezvous handshake. The server side
// (RunServerLobby, ServeLobby) accepts exactly two players under one shared
// deadline and releases them once both have echoed the ready signal; the client
// side (RunClientHandshake) connects, waits for that signal and echoes it.
//
// Both procedures are synchronous. A failed handshake returns a nil session or
// connection and a non-nil error; every socket opened along the way is closed
// before returning.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyberinferno/go-duel/framedconn"
	"github.com/cyberinferno/go-duel/logger"
)

// Status messages exchanged during the handshake.
const (
	MsgWaiting = "Please wait for the second player to connect"
	MsgReady   = "Ready to play !"
	MsgNoMatch = "No match found"
)

var (
	// ErrServerUnreachable is returned by the client when the server cannot be dialed.
	ErrServerUnreachable = errors.New("server unreachable")
	// ErrNoPlayerFound is returned by the server when nobody connected in time.
	ErrNoPlayerFound = errors.New("no player found")
	// ErrNoMatchFound is returned by the server when only one player connected
	// in time, and by that player's client.
	ErrNoMatchFound = errors.New("no match found")
	// ErrNoConfirmation is returned by the server when a player did not echo
	// the ready signal.
	ErrNoConfirmation = errors.New("no confirmation from player")
	// ErrProtocolMismatch is returned by the server when the two confirmations
	// differ. This lobby instance is unrecoverable.
	ErrProtocolMismatch = errors.New("protocol mismatch")
	// ErrHandshakeTimeout is returned by the client when no status message arrived.
	ErrHandshakeTimeout = errors.New("handshake timed out")
	// ErrHandshakeFailed is returned by the client when the final status was not ready.
	ErrHandshakeFailed = errors.New("handshake failed")
)

// State is a step of the server lobby or client handshake state machine.
type State int

const (
	Connecting      State = iota // Client dialing the server
	WaitingForPeer               // Client connected, told to wait for the other player
	AwaitingPlayer1              // Server waiting for the first accept
	AwaitingPlayer2              // Server has player 1, waiting for the second accept
	BothConnected                // Server sent ready to both, collecting confirmations
	Confirmed                    // Handshake complete; the session is usable
	Failed                       // Handshake aborted; sockets closed
	TimedOut                     // Client received no status at all; sockets closed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case WaitingForPeer:
		return "WaitingForPeer"
	case AwaitingPlayer1:
		return "AwaitingPlayer1"
	case AwaitingPlayer2:
		return "AwaitingPlayer2"
	case BothConnected:
		return "BothConnected"
	case Confirmed:
		return "Confirmed"
	case Failed:
		return "Failed"
	case TimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s == Confirmed || s == Failed || s == TimedOut
}

// Event is a status notification emitted on every state change and player
// connection. Rendering events for a user is left to the EventHandler.
type Event struct {
	State     State     // State after the event
	Player    int       // 1 or 2; 0 when the event concerns the whole lobby
	Remote    string    // Peer address, when known
	Message   any       // Status message sent or received, if any
	Err       error     // Non-nil on Failed and TimedOut
	Timestamp time.Time // When the event happened
}

// EventHandler receives events synchronously on the goroutine running the
// handshake; it must not block for long.
type EventHandler func(event Event)

// Options carries the collaborators of a handshake. The zero value is usable.
type Options struct {
	// Logger receives one entry per event; a no-op logger when nil.
	Logger logger.Logger
	// OnEvent receives status notifications; may be nil.
	OnEvent EventHandler
	// Observer is attached to every connection the handshake creates; may be nil.
	Observer framedconn.FrameObserver
	// LobbyID tags the session and log entries.
	LobbyID uint32
}

func (o Options) logger() logger.Logger {
	if o.Logger == nil {
		return logger.NewNopLogger()
	}

	return o.Logger
}

// Session is a confirmed two-player lobby. It owns both player connections.
type Session struct {
	ID           uint32
	Players      [2]*framedconn.Connection
	Confirmation any
	StartedAt    time.Time
	ConfirmedAt  time.Time
}

// Player returns the connection of player n (1 or 2).
func (s *Session) Player(n int) *framedconn.Connection {
	if n < 1 || n > 2 {
		return nil
	}

	return s.Players[n-1]
}

// Close closes both player connections.
func (s *Session) Close() error {
	var errs []error
	for i, p := range s.Players {
		if p == nil {
			continue
		}

		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close player %d: %w", i+1, err))
		}
	}

	return errors.Join(errs...)
}

type emitter struct {
	log     logger.Logger
	onEvent EventHandler
}

func (e *emitter) emit(ev Event) {
	ev.Timestamp = time.Now()

	fields := []logger.Field{{Key: "state", Value: ev.State.String()}}
	if ev.Player != 0 {
		fields = append(fields, logger.Field{Key: "player", Value: ev.Player})
	}
	if ev.Remote != "" {
		fields = append(fields, logger.Field{Key: "remote", Value: ev.Remote})
	}
	if ev.Message != nil {
		fields = append(fields, logger.Field{Key: "message", Value: ev.Message})
	}

	switch {
	case ev.Err != nil:
		fields = append(fields, logger.Field{Key: "error", Value: ev.Err.Error()})
		e.log.Warn("handshake failed", fields...)
	case ev.State == Confirmed:
		e.log.Info("handshake confirmed", fields...)
	default:
		e.log.Info("handshake progress", fields...)
	}

	if e.onEvent != nil {
		e.onEvent(ev)
	}
}

// Outcome names the result of a lobby for metrics labels and history records.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "confirmed"
	case errors.Is(err, ErrNoPlayerFound):
		return "no_player"
	case errors.Is(err, ErrNoMatchFound):
		return "no_match"
	case errors.Is(err, ErrNoConfirmation):
		return "no_confirmation"
	case errors.Is(err, ErrProtocolMismatch):
		return "mismatch"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
