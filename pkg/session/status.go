package session

// State is the lifecycle state of a Session
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// LatencyUnknown is reported for a peer whose ping failed or timed out
const LatencyUnknown int64 = -1

// PeerStatus describes one connected peer
type PeerStatus struct {
	ID        string `json:"id"`
	LatencyMs int64  `json:"latencyMs"`
}

// Status is the view of the session returned to a requester
type Status struct {
	IsActive    bool         `json:"isActive"`
	State       string       `json:"state,omitempty"`
	SessionID   string       `json:"sessionId,omitempty"`
	OwnerWallet string       `json:"ownerWallet,omitempty"`
	Addresses   []string     `json:"addresses,omitempty"`
	Peers       []PeerStatus `json:"peers,omitempty"`
	PeerCount   int          `json:"peerCount"`
}

// StartResult is returned by Start
type StartResult struct {
	SessionID      string   `json:"sessionId"`
	Addresses      []string `json:"addresses"`
	AlreadyRunning bool     `json:"alreadyRunning"`
}

// StopResult is returned by Stop
type StopResult struct {
	WasActive bool `json:"wasActive"`
}
