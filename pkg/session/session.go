package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"

	"github.com/VetheonGames/FileZap/DHTNode/pkg/network"
)

var log = logging.Logger("dhtnode/session")

// Config bounds the blocking network operations of a session
type Config struct {
	JoinTimeout        time.Duration
	LeaveTimeout       time.Duration
	PingTimeout        time.Duration
	MaxConcurrentPings int
}

// DefaultConfig returns the default session timeouts
func DefaultConfig() Config {
	return Config{
		JoinTimeout:        30 * time.Second,
		LeaveTimeout:       10 * time.Second,
		PingTimeout:        2 * time.Second,
		MaxConcurrentPings: 16,
	}
}

// Session owns the process's single network participant and the wallet that
// controls it. State, owner and participant only change together under mu.
type Session struct {
	factory network.Factory
	cfg     Config

	mu          sync.RWMutex
	state       State
	owner       string
	participant network.Participant
}

// New creates an uninitialized session. Participants are created with factory.
func New(factory network.Factory, cfg Config) *Session {
	if cfg.MaxConcurrentPings <= 0 {
		cfg.MaxConcurrentPings = DefaultConfig().MaxConcurrentPings
	}
	return &Session{
		factory: factory,
		cfg:     cfg,
		state:   StateUninitialized,
	}
}

// Initialize creates the participant without joining the network and returns
// its ID. Calling it again returns the existing ID.
func (s *Session) Initialize(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.ensureParticipant(ctx)
	observeTransition("init", err)
	return id, err
}

// ensureParticipant must be called with mu held
func (s *Session) ensureParticipant(ctx context.Context) (string, error) {
	if s.participant != nil {
		return s.participant.ID(), nil
	}

	p, err := s.factory(ctx)
	if err != nil {
		log.Errorf("failed to create participant: %v", err)
		return "", fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
	}

	s.participant = p
	s.state = StateInitialized
	log.Infow("participant initialized", "id", p.ID())
	return p.ID(), nil
}

// Start joins the network on behalf of wallet. A second Start by the owner is
// a no-op; a Start by any other wallet while active fails with ErrOwnershipConflict.
func (s *Session) Start(ctx context.Context, wallet string) (res StartResult, err error) {
	defer func() { observeTransition("start", err) }()

	if wallet == "" {
		return StartResult{}, fmt.Errorf("%w: wallet address is required", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateActive {
		if s.owner == wallet {
			return StartResult{
				SessionID:      s.participant.ID(),
				Addresses:      s.participant.Addrs(),
				AlreadyRunning: true,
			}, nil
		}
		log.Warnw("start rejected, node owned by another wallet", "owner", s.owner, "requester", wallet)
		return StartResult{}, ErrOwnershipConflict
	}

	if _, err := s.ensureParticipant(ctx); err != nil {
		return StartResult{}, err
	}

	joinCtx, cancel := context.WithTimeout(ctx, s.cfg.JoinTimeout)
	defer cancel()

	if err := s.participant.Join(joinCtx); err != nil {
		log.Errorw("failed to join network", "id", s.participant.ID(), "err", err)
		s.state = StateInitialized
		return StartResult{}, fmt.Errorf("%w: %w", ErrNetworkJoinFailed, err)
	}

	s.state = StateActive
	s.owner = wallet
	sessionActive.Set(1)
	log.Infow("node started", "id", s.participant.ID(), "owner", wallet)

	return StartResult{
		SessionID: s.participant.ID(),
		Addresses: s.participant.Addrs(),
	}, nil
}

// Stop leaves the network if wallet owns the session. Stopping an inactive
// session succeeds without doing anything.
func (s *Session) Stop(ctx context.Context, wallet string) (res StopResult, err error) {
	defer func() { observeTransition("stop", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return StopResult{WasActive: false}, nil
	}
	if wallet != s.owner {
		log.Warnw("stop rejected, node owned by another wallet", "owner", s.owner, "requester", wallet)
		return StopResult{}, ErrOwnershipConflict
	}

	if err := s.release(ctx); err != nil {
		return StopResult{WasActive: true}, fmt.Errorf("%w: %w", ErrNetworkLeaveFailed, err)
	}
	log.Infow("node stopped", "owner", wallet)
	return StopResult{WasActive: true}, nil
}

// Close leaves the network regardless of owner. Used on process shutdown.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.participant == nil {
		return nil
	}
	if err := s.release(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrNetworkLeaveFailed, err)
	}
	return nil
}

// release must be called with mu held. The participant is dropped and the
// session is Stopped even when leaving fails, so it is never half active.
func (s *Session) release(ctx context.Context) error {
	p := s.participant
	s.participant = nil
	s.owner = ""
	s.state = StateStopped
	sessionActive.Set(0)

	leaveCtx, cancel := context.WithTimeout(ctx, s.cfg.LeaveTimeout)
	defer cancel()

	if err := p.Leave(leaveCtx); err != nil {
		log.Errorw("failed to leave network cleanly", "id", p.ID(), "err", err)
		return err
	}
	return nil
}

// Status reports the session as seen by requester. An empty requester sees
// any active session without its owner; any other wallet only sees a session
// it owns.
func (s *Session) Status(ctx context.Context, requester string) Status {
	s.mu.RLock()
	state, owner, p := s.state, s.owner, s.participant
	s.mu.RUnlock()

	if state != StateActive {
		return Status{IsActive: false, State: state.String()}
	}
	if requester != "" && requester != owner {
		return Status{IsActive: false}
	}

	peers := s.pingPeers(ctx, p)
	st := Status{
		IsActive:  true,
		State:     state.String(),
		SessionID: p.ID(),
		Addresses: p.Addrs(),
		Peers:     peers,
		PeerCount: len(peers),
	}
	if requester != "" {
		st.OwnerWallet = owner
	}
	return st
}

// pingPeers pings every connected peer concurrently. A failed or slow ping
// only marks that peer with LatencyUnknown.
func (s *Session) pingPeers(ctx context.Context, p network.Participant) []PeerStatus {
	ids := p.Peers()
	out := make([]PeerStatus, len(ids))

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrentPings)
	for i, id := range ids {
		i, id := i, id
		out[i] = PeerStatus{ID: id, LatencyMs: LatencyUnknown}
		g.Go(func() error {
			pingCtx, cancel := context.WithTimeout(ctx, s.cfg.PingTimeout)
			defer cancel()

			rtt, err := p.Ping(pingCtx, id)
			if err != nil {
				log.Debugf("ping %s failed: %v", id, err)
				return nil
			}
			peerPingSeconds.Observe(rtt.Seconds())
			out[i].LatencyMs = rtt.Milliseconds()
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// WithParticipant runs fn against the participant of an active session. The
// session cannot be stopped while fn runs.
func (s *Session) WithParticipant(fn func(p network.Participant) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateActive {
		return ErrNodeNotActive
	}
	return fn(s.participant)
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsActive reports whether a wallet currently owns a running node
func (s *Session) IsActive() bool {
	return s.State() == StateActive
}
