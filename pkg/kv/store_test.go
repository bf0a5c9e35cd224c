package kv

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VetheonGames/FileZap/DHTNode/pkg/network"
	"github.com/VetheonGames/FileZap/DHTNode/pkg/session"
)

func newActiveStore(t *testing.T) (*Store, *session.Session, *network.MemoryNetwork) {
	t.Helper()
	net := network.NewMemoryNetwork()
	s := session.New(net.Factory(), session.DefaultConfig())
	_, err := s.Start(context.Background(), "WalletA")
	require.NoError(t, err)
	return NewStore(s), s, net
}

type sample struct {
	Name  string            `json:"name"`
	Count int               `json:"count"`
	Tags  []string          `json:"tags"`
	Meta  map[string]string `json:"meta"`
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newActiveStore(t)

	in := sample{
		Name:  "relay",
		Count: 3,
		Tags:  []string{"wg", "eu"},
		Meta:  map[string]string{"region": "eu-west"},
	}
	require.NoError(t, store.Put(ctx, "sample", in))

	var out sample
	require.NoError(t, store.Get(ctx, "sample", &out))
	assert.Equal(t, in, out)

	raw, err := store.GetRaw(ctx, "sample")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"relay","count":3,"tags":["wg","eu"],"meta":{"region":"eu-west"}}`, string(raw))
}

func TestPutOverwrites(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newActiveStore(t)

	require.NoError(t, store.Put(ctx, "k", "first"))
	require.NoError(t, store.Put(ctx, "k", "second"))

	var out string
	require.NoError(t, store.Get(ctx, "k", &out))
	assert.Equal(t, "second", out)
}

func TestGetNotFound(t *testing.T) {
	store, _, _ := newActiveStore(t)

	var out sample
	err := store.Get(context.Background(), "never-written", &out)
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Equal(t, sample{}, out)
}

func TestNodeNotActive(t *testing.T) {
	ctx := context.Background()
	store, s, _ := newActiveStore(t)
	_, err := s.Stop(ctx, "WalletA")
	require.NoError(t, err)

	assert.ErrorIs(t, store.Put(ctx, "k", 1), session.ErrNodeNotActive)
	assert.ErrorIs(t, store.Put(ctx, "k", math.Inf(1)), session.ErrNodeNotActive, "an inactive node is reported before encoding")
	_, err = store.GetRaw(ctx, "k")
	assert.ErrorIs(t, err, session.ErrNodeNotActive)
}

func TestEncodingErrors(t *testing.T) {
	ctx := context.Background()
	store, s, _ := newActiveStore(t)

	err := store.Put(ctx, "k", math.Inf(1))
	assert.ErrorIs(t, err, session.ErrEncoding)

	err = store.Put(ctx, "ch", make(chan int))
	assert.ErrorIs(t, err, session.ErrEncoding)

	// Bytes written below the store that are not JSON
	require.NoError(t, s.WithParticipant(func(p network.Participant) error {
		return p.Put(ctx, "raw", []byte("not json"))
	}))
	_, err = store.GetRaw(ctx, "raw")
	assert.ErrorIs(t, err, session.ErrEncoding)

	// Valid JSON of the wrong shape
	require.NoError(t, store.Put(ctx, "number", 42))
	var out sample
	err = store.Get(ctx, "number", &out)
	assert.ErrorIs(t, err, session.ErrEncoding)
}

func TestEmptyKey(t *testing.T) {
	store, _, _ := newActiveStore(t)
	assert.ErrorIs(t, store.Put(context.Background(), "", 1), session.ErrInvalidArgument)
	_, err := store.GetRaw(context.Background(), "")
	assert.ErrorIs(t, err, session.ErrInvalidArgument)
}

func TestCancelledContext(t *testing.T) {
	store, _, _ := newActiveStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	err := store.Put(ctx, "k", 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "Internal", session.Kind(err))
}
