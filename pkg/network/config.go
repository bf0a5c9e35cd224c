package network

import (
	"fmt"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// Config represents the configuration of a libp2p participant
type Config struct {
	Transport TransportConfig
	DHT       DHTConfig
}

// TransportConfig defines how the libp2p host listens and traverses NATs
type TransportConfig struct {
	ListenAddrs      []string
	EnableRelay      bool
	EnableHolePunch  bool
	EnableNATPortMap bool
}

// DHTConfig defines the Kademlia DHT settings
type DHTConfig struct {
	// Namespace prefixes every key this node writes ("/<namespace>/<key>").
	Namespace      string
	ProtocolPrefix string
	BootstrapPeers []string
	ServerMode     bool
}

// DefaultConfig returns the default participant configuration
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			ListenAddrs: []string{
				"/ip4/0.0.0.0/tcp/4001",
				"/ip4/0.0.0.0/udp/4001/quic-v1",
			},
			EnableNATPortMap: true,
		},
		DHT: DHTConfig{
			Namespace:      "dhtnode",
			ProtocolPrefix: "/dhtnode",
			ServerMode:     true,
		},
	}
}

// Validate checks the configuration for obvious mistakes
func (c *Config) Validate() error {
	if len(c.Transport.ListenAddrs) == 0 {
		return fmt.Errorf("at least one listen address is required")
	}
	for _, addr := range c.Transport.ListenAddrs {
		if _, err := ma.NewMultiaddr(addr); err != nil {
			return fmt.Errorf("invalid listen address %q: %w", addr, err)
		}
	}
	if c.DHT.Namespace == "" || strings.Contains(c.DHT.Namespace, "/") {
		return fmt.Errorf("invalid DHT namespace %q", c.DHT.Namespace)
	}
	if !strings.HasPrefix(c.DHT.ProtocolPrefix, "/") {
		return fmt.Errorf("DHT protocol prefix must start with '/': %q", c.DHT.ProtocolPrefix)
	}
	if _, err := c.DHT.bootstrapAddrInfos(); err != nil {
		return err
	}
	return nil
}

// bootstrapAddrInfos parses the configured bootstrap multiaddrs, merging
// addresses that belong to the same peer.
func (c DHTConfig) bootstrapAddrInfos() ([]peer.AddrInfo, error) {
	addrs := make([]ma.Multiaddr, 0, len(c.BootstrapPeers))
	for _, s := range c.BootstrapPeers {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid bootstrap peer %q: %w", s, err)
		}
		addrs = append(addrs, addr)
	}
	infos, err := peer.AddrInfosFromP2pAddrs(addrs...)
	if err != nil {
		return nil, fmt.Errorf("invalid bootstrap peers: %w", err)
	}
	return infos, nil
}
