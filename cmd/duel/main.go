package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "duel"
	app.Usage = "Pair two endpoints through a lobby server and exchange framed messages"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "the TOML configuration `FILE`",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Aliases: []string{"l"},
			Usage:   "the log level: debug, info, warn or error",
		},
		&cli.StringFlag{
			Name:  "host",
			Usage: "the lobby server host, overrides network.server-host",
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "the lobby server port, overrides network.server-port",
		},
		&cli.StringFlag{
			Name:  "serializer",
			Usage: "the payload serializer: msgpack or text",
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:   "server",
			Usage:  "Run a single lobby and report its outcome",
			Action: serverCmd,
		},
		{
			Name:   "serve",
			Usage:  "Run lobbies back to back and relay confirmed sessions",
			Action: serveCmd,
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "admin-port",
					Usage: "the admin HTTP port, overrides admin.port; 0 disables it",
				},
			},
		},
		{
			Name:   "client",
			Usage:  "Join a lobby as a player",
			Action: clientCmd,
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "local-port",
					Usage: "bind the client socket to this local port, overrides network.client-port",
				},
				&cli.StringFlag{
					Name:    "message",
					Aliases: []string{"m"},
					Usage:   "send this message once the lobby is confirmed and print the reply",
				},
			},
		},
	}

	return app
}
