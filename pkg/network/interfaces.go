package network

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Participant.Get when no value is stored under a key.
var ErrNotFound = errors.New("value not found")

// ErrClosed is returned by operations on a participant that has already left the network.
var ErrClosed = errors.New("participant closed")

// Participant is one member of the overlay network. A participant is created
// bound but unannounced, becomes reachable through Join and is unusable after Leave.
type Participant interface {
	// Identity
	ID() string
	Addrs() []string

	// Lifecycle
	Join(ctx context.Context) error
	Leave(ctx context.Context) error

	// Peers
	Peers() []string
	Ping(ctx context.Context, peerID string) (time.Duration, error)

	// Values
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Factory creates a fresh participant. It is called every time a session needs
// a new participant, e.g. when starting again after a stop.
type Factory func(ctx context.Context) (Participant, error)
