package network

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	kb "github.com/libp2p/go-libp2p-kbucket"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"
	mh "github.com/multiformats/go-multihash"
	"go.uber.org/multierr"
)

var log = logging.Logger("dhtnode/network")

const (
	// ProvideTimeout bounds the background announcement of the service record
	ProvideTimeout = 60 * time.Second
)

// Node is a Participant backed by a libp2p host and a Kademlia DHT
type Node struct {
	cfg        *Config
	host       host.Host
	dht        *dht.IpfsDHT
	serviceKey cid.Cid
	seq        sequencer
	ctx        context.Context
	cancel     context.CancelFunc

	mu     sync.Mutex
	joined bool
	closed bool
}

var _ Participant = (*Node)(nil)

// NewFactory returns a Factory producing libp2p nodes. All nodes created by the
// factory share one identity so the peer ID survives a stop/start cycle.
func NewFactory(cfg *Config) (Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid network config: %w", err)
	}

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate node key: %w", err)
	}

	return func(ctx context.Context) (Participant, error) {
		return NewNode(ctx, cfg, priv)
	}, nil
}

// NewNode creates a libp2p host with its DHT. The host listens on the
// configured addresses but does not contact any peer until Join.
func NewNode(ctx context.Context, cfg *Config, priv crypto.PrivKey) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(cfg.Transport.ListenAddrs...),
	}
	if cfg.Transport.EnableRelay {
		opts = append(opts, libp2p.EnableRelay())
	} else {
		opts = append(opts, libp2p.DisableRelay())
	}
	if cfg.Transport.EnableHolePunch {
		opts = append(opts, libp2p.EnableHolePunching())
	}
	if cfg.Transport.EnableNATPortMap {
		opts = append(opts, libp2p.NATPortMap())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	// The node outlives the request that created it
	nodeCtx, cancel := context.WithCancel(context.Background())

	mode := dht.ModeClient
	if cfg.DHT.ServerMode {
		mode = dht.ModeServer
	}
	kdht, err := dht.New(nodeCtx, h,
		dht.Mode(mode),
		dht.ProtocolPrefix(protocol.ID(cfg.DHT.ProtocolPrefix)),
		dht.NamespacedValidator(cfg.DHT.Namespace, entryValidator{}),
	)
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("failed to create DHT: %w", err)
	}

	serviceKey, err := cid.NewPrefixV1(cid.Raw, mh.SHA2_256).Sum([]byte(cfg.DHT.Namespace + "/session-node"))
	if err != nil {
		cancel()
		kdht.Close()
		h.Close()
		return nil, fmt.Errorf("failed to derive service key: %w", err)
	}

	log.Debugw("participant created", "peer", h.ID(), "addrs", h.Addrs())

	return &Node{
		cfg:        cfg,
		host:       h,
		dht:        kdht,
		serviceKey: serviceKey,
		ctx:        nodeCtx,
		cancel:     cancel,
	}, nil
}

// ID returns the node's peer ID
func (n *Node) ID() string {
	return n.host.ID().String()
}

// Addrs returns the full /p2p/ multiaddrs the node is reachable on
func (n *Node) Addrs() []string {
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: n.host.ID(), Addrs: n.host.Addrs()})
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

// Join connects to the bootstrap peers and bootstraps the DHT. With no
// bootstrap peers configured the node runs as the first member of a new network.
func (n *Node) Join(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if n.joined {
		return nil
	}

	infos, err := n.cfg.DHT.bootstrapAddrInfos()
	if err != nil {
		return err
	}

	var connected []peer.ID
	var errs error
	for _, pi := range infos {
		if err := n.host.Connect(ctx, pi); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to connect to %s: %w", pi.ID, err))
			continue
		}
		connected = append(connected, pi.ID)
	}
	if len(infos) > 0 && len(connected) == 0 {
		return fmt.Errorf("no bootstrap peer reachable: %w", errs)
	}
	if errs != nil {
		log.Warnf("some bootstrap peers unreachable: %v", errs)
	}

	if err := n.dht.Bootstrap(ctx); err != nil {
		n.disconnect(connected)
		return fmt.Errorf("failed to bootstrap DHT: %w", err)
	}
	if err := ctx.Err(); err != nil {
		n.disconnect(connected)
		return err
	}

	if len(connected) > 0 {
		go n.provide()
	}

	n.joined = true
	log.Infow("joined network", "peer", n.host.ID(), "bootstrap", len(connected))
	return nil
}

// disconnect closes the connections opened by a join that did not complete
func (n *Node) disconnect(peers []peer.ID) {
	for _, p := range peers {
		if err := n.host.Network().ClosePeer(p); err != nil {
			log.Debugf("failed to close connection to %s: %v", p, err)
		}
	}
}

// provide announces this node as a session node under the service key
func (n *Node) provide() {
	ctx, cancel := context.WithTimeout(n.ctx, ProvideTimeout)
	defer cancel()

	if err := n.dht.Provide(ctx, n.serviceKey, true); err != nil && n.ctx.Err() == nil {
		log.Warnf("failed to announce service record: %v", err)
	}
}

// Leave shuts down the DHT and the host. The node cannot be joined again.
func (n *Node) Leave(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.joined = false
	n.mu.Unlock()

	n.cancel()

	done := make(chan error, 1)
	go func() {
		var errs error
		if err := n.dht.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close DHT: %w", err))
		}
		if err := n.host.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close host: %w", err))
		}
		done <- errs
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("leave interrupted: %w", ctx.Err())
	}
}

// Peers returns the IDs of currently connected peers
func (n *Node) Peers() []string {
	conns := n.host.Network().Peers()
	out := make([]string, 0, len(conns))
	for _, p := range conns {
		out = append(out, p.String())
	}
	return out
}

// Ping measures one round trip to a connected peer
func (n *Node) Ping(ctx context.Context, peerID string) (time.Duration, error) {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return 0, fmt.Errorf("invalid peer ID: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	select {
	case res, ok := <-ping.Ping(ctx, n.host, pid):
		if !ok {
			return 0, ctx.Err()
		}
		if res.Error != nil {
			return 0, res.Error
		}
		return res.RTT, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Put stores value under key in the DHT. On a network of one the record is
// only kept locally, which is not an error.
func (n *Node) Put(ctx context.Context, key string, value []byte) error {
	if n.isClosed() {
		return ErrClosed
	}

	rec, err := encodeEntry(n.seq.next(), value)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	err = n.dht.PutValue(ctx, n.dhtKey(key), rec)
	if errors.Is(err, kb.ErrLookupFailure) {
		log.Debugf("no peers in routing table, %q stored locally", key)
		return nil
	}
	return err
}

// Get fetches the most recent value stored under key
func (n *Node) Get(ctx context.Context, key string) ([]byte, error) {
	if n.isClosed() {
		return nil, ErrClosed
	}

	data, err := n.dht.GetValue(ctx, n.dhtKey(key))
	if err != nil {
		if errors.Is(err, routing.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	e, err := decodeEntry(data)
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

func (n *Node) dhtKey(key string) string {
	return "/" + n.cfg.DHT.Namespace + "/" + key
}

func (n *Node) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}
