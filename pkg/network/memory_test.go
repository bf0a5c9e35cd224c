package network

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryParticipantLifecycle(t *testing.T) {
	ctx := context.Background()
	net := NewMemoryNetwork()

	a := net.NewParticipant()
	b := net.NewParticipant()
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Same(t, b, net.Last())
	assert.Equal(t, 2, net.Created())

	require.NoError(t, a.Join(ctx))
	require.NoError(t, b.Join(ctx))
	assert.Equal(t, []string{b.ID()}, a.Peers())
	assert.True(t, a.Joined())

	require.NoError(t, b.Leave(ctx))
	assert.Empty(t, a.Peers())
	assert.ErrorIs(t, b.Join(ctx), ErrClosed)
	assert.ErrorIs(t, b.Put(ctx, "k", []byte("v")), ErrClosed)
	assert.Equal(t, 2, b.JoinCalls())
	assert.Equal(t, 1, b.LeaveCalls())
}

func TestMemoryParticipantValues(t *testing.T) {
	ctx := context.Background()
	net := NewMemoryNetwork()

	a := net.NewParticipant()
	b := net.NewParticipant()

	_, err := a.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, a.Put(ctx, "k", []byte("v1")))
	require.NoError(t, a.Put(ctx, "k", []byte("v2")))

	// Values are shared across the network and survive the writer leaving
	require.NoError(t, a.Leave(ctx))
	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestMemoryParticipantHooks(t *testing.T) {
	ctx := context.Background()
	net := NewMemoryNetwork()
	p := net.NewParticipant()

	boom := errors.New("boom")
	p.JoinHook = func(context.Context) error { return boom }
	assert.ErrorIs(t, p.Join(ctx), boom)
	assert.False(t, p.Joined())

	p.JoinHook = nil
	require.NoError(t, p.Join(ctx))

	p.LeaveHook = func(context.Context) error { return boom }
	assert.ErrorIs(t, p.Leave(ctx), boom)
	assert.False(t, p.Joined(), "a failed leave still tears the participant down")
}

func TestMemoryParticipantPing(t *testing.T) {
	ctx := context.Background()
	net := NewMemoryNetwork()

	a := net.NewParticipant()
	b := net.NewParticipant()
	c := net.NewParticipant()
	for _, p := range []*MemoryParticipant{a, b, c} {
		require.NoError(t, p.Join(ctx))
	}

	net.SetLatency(b.ID(), 5*time.Millisecond)
	rtt, err := a.Ping(ctx, b.ID())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, rtt)

	net.SetUnreachable(c.ID(), true)
	_, err = a.Ping(ctx, c.ID())
	assert.Error(t, err)

	net.SetLatency(b.ID(), time.Second)
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = a.Ping(short, b.ID())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryParticipantPutHook(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryNetwork().NewParticipant()

	full := errors.New("store full")
	p.PutHook = func(key string) error {
		if key == "blocked" {
			return full
		}
		return nil
	}
	assert.ErrorIs(t, p.Put(ctx, "blocked", []byte("v")), full)
	require.NoError(t, p.Put(ctx, "open", []byte("v")))

	_, err := p.Get(ctx, "blocked")
	assert.ErrorIs(t, err, ErrNotFound)
}
