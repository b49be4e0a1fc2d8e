package lobby

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cyberinferno/go-duel/config"
	"github.com/cyberinferno/go-duel/framedconn"
	"github.com/cyberinferno/go-duel/logger"
)

// RunClientHandshake connects to the lobby server and waits for the ready
// signal. A first status is awaited for cfg.ReceiveTimeout; anything other than
// ready (including nothing) starts a second wait of cfg.LobbyTimeout plus one
// second. Whatever arrived last is echoed back to the server before the outcome
// is decided.
//
// Parameters:
//   - ctx: Cancels the dial and any pending receive
//   - cfg: Validated configuration; ClientPort, when non-zero, is the local port
//   - opts: Logger, event handler and frame observer
//
// Returns:
//   - The connection to the server, ready for application traffic
//   - nil and ErrServerUnreachable, ErrNoMatchFound, ErrHandshakeTimeout,
//     ErrHandshakeFailed, a transport error or ctx.Err() on failure; the
//     connection is closed in every failure case
func RunClientHandshake(ctx context.Context, cfg *config.Config, opts Options) (*framedconn.Connection, error) {
	connOpts, err := framedconn.OptionsFromConfig(cfg, opts.Observer)
	if err != nil {
		return nil, err
	}

	addr := cfg.ServerAddr()
	log := opts.logger().With(logger.Field{Key: "server", Value: addr})
	events := &emitter{log: log, onEvent: opts.OnEvent}
	events.emit(Event{State: Connecting, Remote: addr})

	dialer := net.Dialer{Timeout: cfg.DialTimeout()}
	if cfg.Network.ClientPort > 0 {
		dialer.LocalAddr = &net.TCPAddr{Port: cfg.Network.ClientPort}
	}

	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
		} else {
			err = fmt.Errorf("%w: %s: %w", ErrServerUnreachable, addr, err)
		}

		events.emit(Event{State: Failed, Remote: addr, Err: err})
		return nil, err
	}

	c := framedconn.New(nc, connOpts)
	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})
	defer stop()

	status, err := awaitReady(c, cfg, events, addr)
	if err == nil && !stop() {
		err = ctx.Err()
	}

	if err != nil {
		_ = c.Close()
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
		}

		state := Failed
		if errors.Is(err, ErrHandshakeTimeout) {
			state = TimedOut
		}
		events.emit(Event{State: state, Remote: addr, Message: status, Err: err})

		return nil, err
	}

	events.emit(Event{State: Confirmed, Remote: addr, Message: status})

	return c, nil
}

func awaitReady(c *framedconn.Connection, cfg *config.Config, events *emitter, addr string) (any, error) {
	status, got, err := receiveStatus(c, cfg.ReceiveTimeout())
	if err == nil && !isReady(status) {
		events.emit(Event{State: WaitingForPeer, Remote: addr, Message: status})
		status, got, err = receiveStatus(c, cfg.LobbyTimeout()+time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("receive status: %w", err)
	}

	// The server expects an echo even when the lobby failed.
	echoErr := c.Send(status)

	switch {
	case !got:
		return nil, ErrHandshakeTimeout
	case status == MsgNoMatch:
		return status, ErrNoMatchFound
	case !isReady(status):
		return status, fmt.Errorf("%w: unexpected status %v", ErrHandshakeFailed, status)
	case echoErr != nil:
		return status, fmt.Errorf("echo ready: %w", echoErr)
	}

	return status, nil
}

func receiveStatus(c *framedconn.Connection, timeout time.Duration) (any, bool, error) {
	var status any
	ok, err := c.Receive(timeout, &status)
	return status, ok, err
}

func isReady(status any) bool {
	s, ok := status.(string)
	return ok && s == MsgReady
}
