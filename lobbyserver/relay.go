package lobbyserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyberinferno/go-duel/framedconn"
	"github.com/cyberinferno/go-duel/lobby"
	"golang.org/x/sync/errgroup"
)

// Relay forwards every frame from one player to the other until either player
// disconnects or ctx is cancelled. Payloads are copied without decoding. It
// returns nil when a player hangs up or ctx is cancelled, and the error of the
// first malformed or undeliverable frame otherwise.
func Relay(ctx context.Context, session *lobby.Session) error {
	g, gctx := errgroup.WithContext(ctx)

	// Closing the session unblocks both receive loops.
	stop := context.AfterFunc(gctx, func() {
		_ = session.Close()
	})
	defer stop()

	p1, p2 := session.Player(1), session.Player(2)
	g.Go(func() error { return forward(p1, p2) })
	g.Go(func() error { return forward(p2, p1) })

	if err := g.Wait(); err != nil && !errors.Is(err, errSideClosed) {
		return err
	}

	return nil
}

// forward copies frames from src to dst until either side is closed.
func forward(src, dst *framedconn.Connection) error {
	for {
		payload, ok, err := src.ReceiveBytes(0)
		if err != nil {
			if errors.Is(err, framedconn.ErrConnectionClosed) {
				return errSideClosed
			}

			return fmt.Errorf("relay from %s: %w", src.RemoteAddr(), err)
		}
		if !ok {
			continue
		}

		if err := dst.SendBytes(payload); err != nil {
			if errors.Is(err, framedconn.ErrConnectionClosed) {
				return errSideClosed
			}

			return fmt.Errorf("relay to %s: %w", dst.RemoteAddr(), err)
		}
	}
}

// errSideClosed stops the errgroup when one side hangs up.
var errSideClosed = errors.New("player disconnected")
