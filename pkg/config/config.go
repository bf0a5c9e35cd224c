package config

import (
	"fmt"

	logging "github.com/ipfs/go-log/v2"

	"github.com/VetheonGames/FileZap/DHTNode/pkg/network"
	"github.com/VetheonGames/FileZap/DHTNode/pkg/relay"
	"github.com/VetheonGames/FileZap/DHTNode/pkg/session"
)

// Config is the full configuration of a dhtnode process
type Config struct {
	API struct {
		Addr string
	}
	// Memory runs the node on an in-process network instead of libp2p
	Memory   bool
	LogLevel string
	Network  *network.Config
	Session  session.Config
	Relay    relay.Config
}

// DefaultConfig returns the default process configuration
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel: "info",
		Network:  network.DefaultConfig(),
		Session:  session.DefaultConfig(),
		Relay:    relay.DefaultConfig(),
	}
	cfg.API.Addr = ":8080"
	return cfg
}

// Validate checks the configuration before anything is started
func (c *Config) Validate() error {
	if c.API.Addr == "" {
		return fmt.Errorf("API address is required")
	}
	if _, err := logging.LevelFromString(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	if c.Session.JoinTimeout <= 0 || c.Session.LeaveTimeout <= 0 || c.Session.PingTimeout <= 0 {
		return fmt.Errorf("session timeouts must be positive")
	}
	if c.Relay.TTL < 0 {
		return fmt.Errorf("relay TTL must not be negative")
	}
	if c.Relay.DefaultPort < 0 || c.Relay.DefaultPort > 65535 {
		return fmt.Errorf("invalid default relay port %d", c.Relay.DefaultPort)
	}
	if c.Memory {
		return nil
	}
	return c.Network.Validate()
}

// ApplyLogLevel sets the level of every dhtnode logger
func (c *Config) ApplyLogLevel() error {
	return logging.SetLogLevelRegex("dhtnode/.*", c.LogLevel)
}

// Factory returns the participant factory selected by the configuration
func (c *Config) Factory() (network.Factory, error) {
	if c.Memory {
		return network.NewMemoryNetwork().Factory(), nil
	}
	return network.NewFactory(c.Network)
}
