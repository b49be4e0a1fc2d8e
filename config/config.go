// Package config holds the settings shared by the lobby server and its
// clients: addresses, frame limits, timeouts and logging. Values are read from
// a TOML file; zero values are replaced with defaults before validation.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cyberinferno/go-duel/frame"
	"github.com/cyberinferno/go-duel/logger"
	"github.com/cyberinferno/go-duel/serializer"
	"github.com/pelletier/go-toml"
)

const (
	DefaultServerHost = "127.0.0.1"
	DefaultServerPort = 5050

	DefaultLobbyTimeout   = 60 * time.Second
	DefaultReceiveTimeout = time.Second
	DefaultConfirmTimeout = 5 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultDialTimeout    = 5 * time.Second

	DefaultHistoryTTL = time.Hour
)

// Config is the full configuration. Timeouts are stored in milliseconds and
// the history TTL in seconds so the TOML file stays plain integers; use the
// accessor methods to get time.Duration values.
type Config struct {
	Network struct {
		ServerHost string `toml:"server-host"`
		ServerPort int    `toml:"server-port"`
		ClientPort int    `toml:"client-port"`
	} `toml:"network"`
	Protocol struct {
		HeaderSize int    `toml:"header-size"`
		MaxMsgSize int    `toml:"max-msg-size"`
		Serializer string `toml:"serializer"`
	} `toml:"protocol"`
	Timeouts struct {
		Lobby   int `toml:"lobby"`
		Receive int `toml:"receive"`
		Confirm int `toml:"confirm"`
		Write   int `toml:"write"`
		Dial    int `toml:"dial"`
	} `toml:"timeouts"`
	Log struct {
		Level   string `toml:"level"`
		Console bool   `toml:"console"`
		File    string `toml:"file"`
	} `toml:"log"`
	History struct {
		TTL       int    `toml:"ttl"`
		RedisAddr string `toml:"redis-addr"`
	} `toml:"history"`
	Admin struct {
		Port int `toml:"port"`
	} `toml:"admin"`
}

// Default returns a Config with every field set to its default value.
func Default() *Config {
	c := &Config{}
	c.Log.Console = true
	c.applyDefaults()
	return c
}

// Load reads a TOML file, applies defaults and validates the result.
//
// Parameters:
//   - file: Path to the TOML file
//
// Returns:
//   - The configuration, or an error if the file cannot be read, parsed or validated
func Load(file string) (*Config, error) {
	f, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	return Parse(f)
}

// Parse decodes TOML data, applies defaults and validates the result.
//
// Parameters:
//   - data: TOML document
//
// Returns:
//   - The configuration, or an error if data cannot be parsed or validated
func Parse(data []byte) (*Config, error) {
	var c Config
	c.Log.Console = true
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Network.ServerHost == "" {
		c.Network.ServerHost = DefaultServerHost
	}
	if c.Network.ServerPort == 0 {
		c.Network.ServerPort = DefaultServerPort
	}
	if c.Protocol.HeaderSize == 0 {
		c.Protocol.HeaderSize = frame.DefaultHeaderSize
	}
	if c.Protocol.MaxMsgSize == 0 {
		c.Protocol.MaxMsgSize = frame.DefaultMaxSize
	}
	if c.Protocol.Serializer == "" {
		c.Protocol.Serializer = serializer.MsgpackName
	}
	if c.Timeouts.Lobby == 0 {
		c.Timeouts.Lobby = int(DefaultLobbyTimeout.Milliseconds())
	}
	if c.Timeouts.Receive == 0 {
		c.Timeouts.Receive = int(DefaultReceiveTimeout.Milliseconds())
	}
	if c.Timeouts.Confirm == 0 {
		c.Timeouts.Confirm = int(DefaultConfirmTimeout.Milliseconds())
	}
	if c.Timeouts.Write == 0 {
		c.Timeouts.Write = int(DefaultWriteTimeout.Milliseconds())
	}
	if c.Timeouts.Dial == 0 {
		c.Timeouts.Dial = int(DefaultDialTimeout.Milliseconds())
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.History.TTL == 0 {
		c.History.TTL = int(DefaultHistoryTTL.Seconds())
	}
}

// Validate checks ranges and cross-field constraints.
//
// Returns:
//   - nil if the configuration is usable, otherwise the first problem found
func (c *Config) Validate() error {
	if c.Network.ServerPort < 1 || c.Network.ServerPort > 65535 {
		return fmt.Errorf("network.server-port %d out of range 1..65535", c.Network.ServerPort)
	}
	if c.Network.ClientPort < 0 || c.Network.ClientPort > 65535 {
		return fmt.Errorf("network.client-port %d out of range 0..65535", c.Network.ClientPort)
	}
	if c.Admin.Port < 0 || c.Admin.Port > 65535 {
		return fmt.Errorf("admin.port %d out of range 0..65535", c.Admin.Port)
	}
	if _, err := frame.NewCodec(c.Protocol.HeaderSize, c.Protocol.MaxMsgSize); err != nil {
		return fmt.Errorf("protocol: %w", err)
	}
	if _, err := serializer.Lookup(c.Protocol.Serializer); err != nil {
		return fmt.Errorf("protocol.serializer: %w", err)
	}

	timeouts := map[string]int{
		"lobby":   c.Timeouts.Lobby,
		"receive": c.Timeouts.Receive,
		"confirm": c.Timeouts.Confirm,
		"write":   c.Timeouts.Write,
		"dial":    c.Timeouts.Dial,
	}
	for name, ms := range timeouts {
		if ms <= 0 {
			return fmt.Errorf("timeouts.%s must be positive, got %d", name, ms)
		}
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.History.TTL <= 0 {
		return fmt.Errorf("history.ttl must be positive, got %d", c.History.TTL)
	}

	return nil
}

// ServerAddr returns the host:port the lobby server listens on and clients dial.
func (c *Config) ServerAddr() string {
	return net.JoinHostPort(c.Network.ServerHost, strconv.Itoa(c.Network.ServerPort))
}

// Codec builds the frame codec for the configured header width and size limit.
func (c *Config) Codec() (*frame.Codec, error) {
	return frame.NewCodec(c.Protocol.HeaderSize, c.Protocol.MaxMsgSize)
}

// Serializer returns the configured payload serializer.
func (c *Config) Serializer() (serializer.Serializer, error) {
	return serializer.Lookup(c.Protocol.Serializer)
}

// LobbyTimeout is the overall deadline for both players to connect.
func (c *Config) LobbyTimeout() time.Duration {
	return ms(c.Timeouts.Lobby)
}

// ReceiveTimeout is the default wait for a single message.
func (c *Config) ReceiveTimeout() time.Duration {
	return ms(c.Timeouts.Receive)
}

// ConfirmTimeout bounds the wait for each player's confirmation.
func (c *Config) ConfirmTimeout() time.Duration {
	return ms(c.Timeouts.Confirm)
}

// WriteTimeout bounds a single frame write.
func (c *Config) WriteTimeout() time.Duration {
	return ms(c.Timeouts.Write)
}

// DialTimeout bounds the client's connection attempt.
func (c *Config) DialTimeout() time.Duration {
	return ms(c.Timeouts.Dial)
}

// HistoryTTL is how long finished lobby records are kept.
func (c *Config) HistoryTTL() time.Duration {
	return time.Duration(c.History.TTL) * time.Second
}

// SetLobbyTimeout stores d with millisecond precision.
func (c *Config) SetLobbyTimeout(d time.Duration) {
	c.Timeouts.Lobby = int(d.Milliseconds())
}

// SetReceiveTimeout stores d with millisecond precision.
func (c *Config) SetReceiveTimeout(d time.Duration) {
	c.Timeouts.Receive = int(d.Milliseconds())
}

// SetConfirmTimeout stores d with millisecond precision.
func (c *Config) SetConfirmTimeout(d time.Duration) {
	c.Timeouts.Confirm = int(d.Milliseconds())
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
