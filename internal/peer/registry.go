package peer

import (
	"net"
	"strings"
	"sync"
	"time"
)

// State is a peer connection's lifecycle state.
type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Entry is one remote node tracked by the Registry.
type Entry struct {
	NodeID          string
	NodeName        string
	Address         net.Addr
	Agents          []RemoteAgentInfo
	State           State
	ConnectedAt     time.Time
	ProtocolVersion uint32
}

// FoundAgent is one remote agent match returned by FindAgents, tagged
// with the peer node it was discovered on.
type FoundAgent struct {
	RemoteAgentInfo
	PeerNodeID string
}

// Registry tracks every known remote peer and the agents it advertises.
// Safe for concurrent use; the kernel holds exactly one per PeerNode.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*Entry)}
}

// AddPeer registers or replaces a connected peer entry.
func (r *Registry) AddPeer(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := entry
	r.peers[entry.NodeID] = &e
}

// GetPeer returns a copy of the tracked entry for nodeID, if any.
func (r *Registry) GetPeer(nodeID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.peers[nodeID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// MarkDisconnected flips a peer's state without removing its history.
func (r *Registry) MarkDisconnected(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.peers[nodeID]; ok {
		e.State = StateDisconnected
	}
}

// ConnectedPeers returns every entry currently in StateConnected.
func (r *Registry) ConnectedPeers() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.peers {
		if e.State == StateConnected {
			out = append(out, *e)
		}
	}
	return out
}

// ConnectedCount returns the number of peers currently connected.
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.peers {
		if e.State == StateConnected {
			n++
		}
	}
	return n
}

// AddAgent appends (or replaces, by ID) one agent to a tracked peer's
// roster — used when a WireNotification{AgentSpawned} arrives.
func (r *Registry) AddAgent(peerNodeID string, agent RemoteAgentInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[peerNodeID]
	if !ok {
		return
	}
	for i, a := range e.Agents {
		if a.ID == agent.ID {
			e.Agents[i] = agent
			return
		}
	}
	e.Agents = append(e.Agents, agent)
}

// RemoveAgent drops one agent from a tracked peer's roster — used when a
// WireNotification{AgentTerminated} arrives.
func (r *Registry) RemoveAgent(peerNodeID, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[peerNodeID]
	if !ok {
		return
	}
	for i, a := range e.Agents {
		if a.ID == agentID {
			e.Agents = append(e.Agents[:i], e.Agents[i+1:]...)
			return
		}
	}
}

// FindAgents searches every connected peer's roster for agents whose name
// contains query, case-insensitively.
func (r *Registry) FindAgents(query string) []FoundAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q := strings.ToLower(query)
	var out []FoundAgent
	for _, e := range r.peers {
		if e.State != StateConnected {
			continue
		}
		for _, a := range e.Agents {
			if strings.Contains(strings.ToLower(a.Name), q) {
				out = append(out, FoundAgent{RemoteAgentInfo: a, PeerNodeID: e.NodeID})
			}
		}
	}
	return out
}
