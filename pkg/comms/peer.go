package comms

import (
	"sync"
	"time"
)

// PeerState is the liveness of a Peer.
type PeerState int32

const (
	StateConnecting PeerState = iota
	StateConnected
	StateDisconnected
)

func (s PeerState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Peer represents a remote mesh node, keyed by its IP address
type Peer struct {
	IP    string      // identity key
	Conn  *FramedConn // nil while connecting
	Since time.Time   // when the peer became connected

	// Outbound is set when this node dialed the connection
	Outbound bool

	mu    sync.Mutex
	state PeerState
}

// State returns the current liveness state
func (p *Peer) State() PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsConnected returns true if the peer currently has a live connection
func (p *Peer) IsConnected() bool {
	return p.State() == StateConnected
}

// markConnected moves a connecting peer to connected.
func (p *Peer) markConnected(conn *FramedConn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateConnecting {
		return false
	}
	p.Conn = conn
	p.Since = time.Now()
	p.state = StateConnected
	return true
}

// markDisconnected moves the peer to the terminal state. It reports false if
// the peer was already disconnected.
func (p *Peer) markDisconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDisconnected {
		return false
	}
	p.state = StateDisconnected
	return true
}
