package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"

	"github.com/VetheonGames/FileZap/DHTNode/pkg/kv"
	"github.com/VetheonGames/FileZap/DHTNode/pkg/relay"
	"github.com/VetheonGames/FileZap/DHTNode/pkg/server"
	"github.com/VetheonGames/FileZap/DHTNode/pkg/session"
)

var log = logging.Logger("dhtnode/cmd")

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API; the DHT node itself is started through the API",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&cfg.API.Addr, "api-addr", cfg.API.Addr, "HTTP service address")
	f.BoolVar(&cfg.Memory, "memory", cfg.Memory, "use an in-process network instead of libp2p (development)")

	f.StringSliceVar(&cfg.Network.Transport.ListenAddrs, "listen", cfg.Network.Transport.ListenAddrs, "libp2p listen multiaddrs")
	f.BoolVar(&cfg.Network.Transport.EnableRelay, "enable-relay", cfg.Network.Transport.EnableRelay, "enable circuit relay transport")
	f.BoolVar(&cfg.Network.Transport.EnableHolePunch, "enable-holepunch", cfg.Network.Transport.EnableHolePunch, "enable hole punching")
	f.BoolVar(&cfg.Network.Transport.EnableNATPortMap, "nat-portmap", cfg.Network.Transport.EnableNATPortMap, "try to open ports with UPnP/NAT-PMP")
	f.StringSliceVar(&cfg.Network.DHT.BootstrapPeers, "bootstrap", cfg.Network.DHT.BootstrapPeers, "bootstrap peer multiaddrs (with /p2p/ component)")
	f.StringVar(&cfg.Network.DHT.Namespace, "namespace", cfg.Network.DHT.Namespace, "DHT key namespace")
	f.StringVar(&cfg.Network.DHT.ProtocolPrefix, "protocol-prefix", cfg.Network.DHT.ProtocolPrefix, "DHT protocol prefix")
	f.BoolVar(&cfg.Network.DHT.ServerMode, "dht-server", cfg.Network.DHT.ServerMode, "answer DHT queries from other peers")

	f.DurationVar(&cfg.Session.JoinTimeout, "join-timeout", cfg.Session.JoinTimeout, "timeout for joining the network")
	f.DurationVar(&cfg.Session.LeaveTimeout, "leave-timeout", cfg.Session.LeaveTimeout, "timeout for leaving the network")
	f.DurationVar(&cfg.Session.PingTimeout, "ping-timeout", cfg.Session.PingTimeout, "per-peer ping timeout in status reports")

	f.DurationVar(&cfg.Relay.TTL, "relay-ttl", cfg.Relay.TTL, "hide relay advertisements older than this (0 keeps all)")
	f.StringVar(&cfg.Relay.DefaultIP, "relay-default-ip", cfg.Relay.DefaultIP, "IP used when an advertisement omits one")
	f.IntVar(&cfg.Relay.DefaultPort, "relay-default-port", cfg.Relay.DefaultPort, "port used when an advertisement omits one")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.ApplyLogLevel(); err != nil {
		return err
	}

	factory, err := cfg.Factory()
	if err != nil {
		return err
	}

	// One session per process, shared by every handler
	s := session.New(factory, cfg.Session)
	store := kv.NewStore(s)
	srv := server.NewServer(s, store, relay.NewDirectory(store, cfg.Relay))

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(cfg.API.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("Received shutdown signal, initiating graceful shutdown...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
