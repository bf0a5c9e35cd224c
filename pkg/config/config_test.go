package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "empty api addr", mutate: func(c *Config) { c.API.Addr = "" }},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }},
		{name: "zero join timeout", mutate: func(c *Config) { c.Session.JoinTimeout = 0 }},
		{name: "negative ttl", mutate: func(c *Config) { c.Relay.TTL = -1 }},
		{name: "bad relay port", mutate: func(c *Config) { c.Relay.DefaultPort = 70000 }},
		{name: "bad listen addr", mutate: func(c *Config) { c.Network.Transport.ListenAddrs = []string{"nope"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMemoryModeSkipsNetworkValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Memory = true
	cfg.Network.Transport.ListenAddrs = nil
	require.NoError(t, cfg.Validate())

	factory, err := cfg.Factory()
	require.NoError(t, err)
	p, err := factory(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID())
}

func TestApplyLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "debug"
	assert.NoError(t, cfg.ApplyLogLevel())
}
