package network

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryNetwork is an in-process overlay. Participants created from the same
// MemoryNetwork see each other as peers and share one value store, so values
// outlive any single participant the way they do on a real DHT.
type MemoryNetwork struct {
	mu      sync.RWMutex
	values  map[string][]byte
	members map[string]*MemoryParticipant
	latency map[string]time.Duration
	unreach map[string]bool
	created []*MemoryParticipant
	nextID  int
}

// NewMemoryNetwork creates an empty in-process network
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		values:  make(map[string][]byte),
		members: make(map[string]*MemoryParticipant),
		latency: make(map[string]time.Duration),
		unreach: make(map[string]bool),
	}
}

// Factory returns a Factory creating participants on this network
func (m *MemoryNetwork) Factory() Factory {
	return func(ctx context.Context) (Participant, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return m.NewParticipant(), nil
	}
}

// NewParticipant creates an unjoined participant with a fresh ID
func (m *MemoryNetwork) NewParticipant() *MemoryParticipant {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	p := &MemoryParticipant{
		net: m,
		id:  fmt.Sprintf("mem-peer-%d", m.nextID),
	}
	m.created = append(m.created, p)
	return p
}

// Last returns the most recently created participant, or nil
func (m *MemoryNetwork) Last() *MemoryParticipant {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.created) == 0 {
		return nil
	}
	return m.created[len(m.created)-1]
}

// Created reports how many participants the network has handed out
func (m *MemoryNetwork) Created() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.created)
}

// SetLatency fixes the round trip reported when pinging peerID
func (m *MemoryNetwork) SetLatency(peerID string, rtt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency[peerID] = rtt
}

// SetUnreachable makes pings to peerID fail
func (m *MemoryNetwork) SetUnreachable(peerID string, unreachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreach[peerID] = unreachable
}

// MemoryParticipant is a Participant living in a MemoryNetwork. Failures can
// be injected through the exported hooks.
type MemoryParticipant struct {
	net *MemoryNetwork
	id  string

	// JoinHook and LeaveHook run before the state change; a non-nil error aborts it.
	JoinHook  func(ctx context.Context) error
	LeaveHook func(ctx context.Context) error
	// PutHook runs before a value is stored; a non-nil error fails the put.
	PutHook func(key string) error

	mu         sync.Mutex
	joined     bool
	closed     bool
	joinCalls  int
	leaveCalls int
}

var _ Participant = (*MemoryParticipant)(nil)

func (p *MemoryParticipant) ID() string {
	return p.id
}

func (p *MemoryParticipant) Addrs() []string {
	return []string{"/memory/" + p.id}
}

func (p *MemoryParticipant) Join(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.joinCalls++
	if p.closed {
		return ErrClosed
	}
	if p.JoinHook != nil {
		if err := p.JoinHook(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.net.mu.Lock()
	p.net.members[p.id] = p
	p.net.mu.Unlock()

	p.joined = true
	return nil
}

func (p *MemoryParticipant) Leave(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.leaveCalls++
	if p.closed {
		return nil
	}

	var hookErr error
	if p.LeaveHook != nil {
		hookErr = p.LeaveHook(ctx)
	}

	// A failed leave still tears the participant down, like a host whose close errored
	p.net.mu.Lock()
	delete(p.net.members, p.id)
	p.net.mu.Unlock()

	p.joined = false
	p.closed = true
	return hookErr
}

func (p *MemoryParticipant) Peers() []string {
	p.net.mu.RLock()
	defer p.net.mu.RUnlock()

	out := make([]string, 0, len(p.net.members))
	for id := range p.net.members {
		if id != p.id {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (p *MemoryParticipant) Ping(ctx context.Context, peerID string) (time.Duration, error) {
	p.net.mu.RLock()
	_, member := p.net.members[peerID]
	unreachable := p.net.unreach[peerID]
	rtt := p.net.latency[peerID]
	p.net.mu.RUnlock()

	if !member || unreachable {
		return 0, fmt.Errorf("peer %s unreachable", peerID)
	}
	if rtt == 0 {
		return time.Millisecond, nil
	}

	t := time.NewTimer(rtt)
	defer t.Stop()
	select {
	case <-t.C:
		return rtt, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (p *MemoryParticipant) Put(ctx context.Context, key string, value []byte) error {
	if err := p.usable(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	hook := p.PutHook
	p.mu.Unlock()
	if hook != nil {
		if err := hook(key); err != nil {
			return err
		}
	}

	buf := make([]byte, len(value))
	copy(buf, value)

	p.net.mu.Lock()
	p.net.values[key] = buf
	p.net.mu.Unlock()
	return nil
}

func (p *MemoryParticipant) Get(ctx context.Context, key string) ([]byte, error) {
	if err := p.usable(ctx); err != nil {
		return nil, err
	}

	p.net.mu.RLock()
	defer p.net.mu.RUnlock()

	v, ok := p.net.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// JoinCalls reports how many times Join was invoked
func (p *MemoryParticipant) JoinCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.joinCalls
}

// LeaveCalls reports how many times Leave was invoked
func (p *MemoryParticipant) LeaveCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leaveCalls
}

// Joined reports whether the participant is currently part of the network
func (p *MemoryParticipant) Joined() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.joined
}

func (p *MemoryParticipant) usable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return nil
}
