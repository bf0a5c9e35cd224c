package network

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(bootstrap ...string) *Config {
	cfg := DefaultConfig()
	cfg.Transport.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	cfg.Transport.EnableNATPortMap = false
	cfg.DHT.BootstrapPeers = bootstrap
	return cfg
}

func newTestNode(t *testing.T, cfg *Config) *Node {
	factory, err := NewFactory(cfg)
	require.NoError(t, err)

	p, err := factory(context.Background())
	require.NoError(t, err)

	node := p.(*Node)
	t.Cleanup(func() { node.Leave(context.Background()) })
	return node
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Transport.ListenAddrs = nil
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Transport.ListenAddrs = []string{"not-a-multiaddr"}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.DHT.Namespace = "a/b"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.DHT.BootstrapPeers = []string{"/ip4/127.0.0.1/tcp/4001"}
	assert.Error(t, cfg.Validate(), "bootstrap peers need a /p2p/ component")
}

func TestNodeSingleMember(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	node := newTestNode(t, testConfig())
	assert.NotEmpty(t, node.ID())
	require.NotEmpty(t, node.Addrs())
	assert.Contains(t, node.Addrs()[0], "/p2p/"+node.ID())

	require.NoError(t, node.Join(ctx))
	assert.Empty(t, node.Peers())

	_, err := node.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, node.Put(ctx, "greeting", []byte(`"hello"`)))
	require.NoError(t, node.Put(ctx, "greeting", []byte(`"hello again"`)))

	got, err := node.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, []byte(`"hello again"`), got)

	require.NoError(t, node.Leave(ctx))
	assert.ErrorIs(t, node.Join(ctx), ErrClosed)
	_, err = node.Get(ctx, "greeting")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNodeBootstrapAndReplicate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	first := newTestNode(t, testConfig())
	require.NoError(t, first.Join(ctx))

	second := newTestNode(t, testConfig(first.Addrs()...))
	require.NoError(t, second.Join(ctx))

	// Wait for both routing tables to pick the other node up
	require.Eventually(t, func() bool {
		return first.dht.RoutingTable().Size() > 0 && second.dht.RoutingTable().Size() > 0
	}, 10*time.Second, 100*time.Millisecond)

	assert.Contains(t, first.Peers(), second.ID())

	rtt, err := first.Ping(ctx, second.ID())
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))

	require.NoError(t, first.Put(ctx, "relay-node:wallet", []byte(`{"ip":"10.0.0.1"}`)))
	require.Eventually(t, func() bool {
		got, err := second.Get(ctx, "relay-node:wallet")
		return err == nil && string(got) == `{"ip":"10.0.0.1"}`
	}, 10*time.Second, 200*time.Millisecond)
}

func TestNodeJoinUnreachableBootstrap(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// A peer ID nobody listens for
	ghost := newTestNode(t, testConfig())
	addr := ghost.Addrs()[0]
	require.NoError(t, ghost.Leave(ctx))

	node := newTestNode(t, testConfig(addr))
	joinCtx, joinCancel := context.WithTimeout(ctx, 5*time.Second)
	defer joinCancel()
	assert.Error(t, node.Join(joinCtx))
}

func TestNodeDisconnectAfterFailedJoin(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	first := newTestNode(t, testConfig())
	require.NoError(t, first.Join(ctx))

	second := newTestNode(t, testConfig())
	infos, err := testConfig(first.Addrs()...).DHT.bootstrapAddrInfos()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.NoError(t, second.host.Connect(ctx, infos[0]))
	require.Contains(t, second.Peers(), first.ID())

	// What Join does when bootstrapping fails after the peers were dialed
	second.disconnect([]peer.ID{infos[0].ID})
	assert.NotContains(t, second.Peers(), first.ID())
	assert.False(t, second.joined)
}
