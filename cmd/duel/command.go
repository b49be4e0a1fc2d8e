package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cyberinferno/go-duel/admin"
	"github.com/cyberinferno/go-duel/config"
	"github.com/cyberinferno/go-duel/history"
	"github.com/cyberinferno/go-duel/lobby"
	"github.com/cyberinferno/go-duel/lobbyserver"
	"github.com/cyberinferno/go-duel/logger"
	"github.com/cyberinferno/go-duel/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// loadConfig reads the configuration file, if any, and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("host") {
		cfg.Network.ServerHost = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Network.ServerPort = c.Int("port")
	}
	if c.IsSet("serializer") {
		cfg.Protocol.Serializer = c.String("serializer")
	}
	if c.IsSet("local-port") {
		cfg.Network.ClientPort = c.Int("local-port")
	}
	if c.IsSet("admin-port") {
		cfg.Admin.Port = c.Int("admin-port")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newLogger(cfg *config.Config, service string) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	if cfg.Log.File != "" {
		return logger.NewFileLogger(cfg.Log.File, service, level)
	}

	if cfg.Log.Console {
		return logger.NewConsoleLogger(os.Stderr, service, level, false), nil
	}

	return logger.NewJSONLogger(os.Stderr, service, level), nil
}

// setup loads the configuration and builds the logger for a command.
func setup(c *cli.Context, service string) (*config.Config, logger.Logger, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}

	log, err := newLogger(cfg, service)
	if err != nil {
		return nil, nil, err
	}

	return cfg, log, nil
}

func serverCmd(c *cli.Context) error {
	cfg, log, err := setup(c, "duel-server")
	if err != nil {
		return err
	}
	defer log.Close()

	log.Info("waiting for players",
		logger.Field{Key: "addr", Value: cfg.ServerAddr()},
		logger.Field{Key: "timeout", Value: cfg.LobbyTimeout().String()},
	)

	session, err := lobby.ServeLobby(c.Context, cfg, lobby.Options{Logger: log, LobbyID: 1})
	if err != nil {
		return fmt.Errorf("lobby failed: %w", err)
	}
	defer session.Close()

	fmt.Fprintf(c.App.Writer, "lobby confirmed: %s vs %s\n",
		session.Player(1).RemoteAddr(), session.Player(2).RemoteAddr())

	return nil
}

func serveCmd(c *cli.Context) error {
	cfg, log, err := setup(c, "duel-serve")
	if err != nil {
		return err
	}
	defer log.Close()

	store, closeStore, err := openHistory(c.Context, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := lobbyserver.New("lobby", cfg, log)
	srv.History = store
	srv.Metrics = metrics.New(reg, metrics.DefaultNamespace)
	if err := srv.Start(c.Context); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(c.Context)

	var adminSrv *admin.Server
	if cfg.Admin.Port > 0 {
		addr := net.JoinHostPort("", strconv.Itoa(cfg.Admin.Port))
		adminSrv = admin.NewServer(addr, admin.NewRouter(store, reg, log), log)
		g.Go(adminSrv.ListenAndServe)
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		srv.Stop()

		if adminSrv == nil {
			return nil
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return adminSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// openHistory picks the redis store when an address is configured and the
// in-process store otherwise.
func openHistory(ctx context.Context, cfg *config.Config) (history.Store, func(), error) {
	if cfg.History.RedisAddr == "" {
		return history.NewMemoryStore(cfg.HistoryTTL(), time.Minute), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.History.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("history redis %s: %w", cfg.History.RedisAddr, err)
	}

	return history.NewRedisStore(client, cfg.HistoryTTL()), func() { _ = client.Close() }, nil
}

func clientCmd(c *cli.Context) error {
	cfg, log, err := setup(c, "duel-client")
	if err != nil {
		return err
	}
	defer log.Close()

	conn, err := lobby.RunClientHandshake(c.Context, cfg, lobby.Options{Logger: log})
	if err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}
	defer conn.Close()

	fmt.Fprintf(c.App.Writer, "%s (local %s)\n", lobby.MsgReady, conn.LocalAddr())

	msg := c.String("message")
	if msg == "" {
		return nil
	}

	if err := conn.Send(msg); err != nil {
		return err
	}

	var reply any
	ok, err := conn.Receive(cfg.LobbyTimeout(), &reply)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("no reply from the other player")
	}

	fmt.Fprintf(c.App.Writer, "reply: %v\n", reply)

	return nil
}
