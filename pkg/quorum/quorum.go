package quorum

import (
    "fmt"
    "sync"

    "github.com/google/uuid"

    "github.com/mrwill84/go-paxos/pkg/transport"
)

// State is the liveness/role state of a node as seen by this process.
type State int

const (
    StateUnknown State = iota
    StateLeader
    StateFollower
    StateDead
)

func (s State) String() string {
    switch s {
    case StateLeader:
        return "leader"
    case StateFollower:
        return "follower"
    case StateDead:
        return "dead"
    default:
        return "unknown"
    }
}

// ParseState converts the wire representation back into a State.
func ParseState(s string) (State, error) {
    switch s {
    case "unknown":
        return StateUnknown, nil
    case "leader":
        return StateLeader, nil
    case "follower":
        return StateFollower, nil
    case "dead":
        return StateDead, nil
    }
    return StateUnknown, fmt.Errorf("quorum: invalid state %q", s)
}

// Peer is the record kept for one configured endpoint: its identity as
// learned via handshake, its liveness state, and the cached outbound
// connection used for protocol fan-out.
type Peer struct {
    Endpoint string
    ID       uuid.UUID
    State    State
    Conn     *transport.Conn
}

// HasIdentity reports whether the handshake has populated the peer's identity.
func (p *Peer) HasIdentity() bool { return p.ID != uuid.Nil }

// Alive reports whether the peer may participate in a round.
func (p *Peer) Alive() bool { return p.State != StateDead }

// Quorum is the authoritative in-memory registry of the fixed set of servers.
// It holds one record per configured endpoint (excluding self; the local node
// has its own record) and is never resized after construction.
//
// The registry is safe for concurrent use: the protocol engines mutate it
// through the setter methods while status surfaces read snapshots.
type Quorum struct {
    mu    sync.RWMutex
    self  Peer
    peers []*Peer
    index map[string]*Peer
}

// New builds a quorum for the given local endpoint and peer endpoints. The
// local identity is generated once here and never changes. Endpoints equal to
// self and duplicates are dropped so that exactly one record exists per
// configured endpoint.
func New(selfEndpoint string, peerEndpoints []string) *Quorum {
    q := &Quorum{
        self:  Peer{Endpoint: selfEndpoint, ID: uuid.New(), State: StateUnknown},
        index: make(map[string]*Peer),
    }
    for _, ep := range peerEndpoints {
        if ep == "" || ep == selfEndpoint {
            continue
        }
        if _, ok := q.index[ep]; ok {
            continue
        }
        p := &Peer{Endpoint: ep, State: StateUnknown}
        q.peers = append(q.peers, p)
        q.index[ep] = p
    }
    return q
}

// Self returns a copy of the local node record.
func (q *Quorum) Self() Peer {
    q.mu.RLock()
    defer q.mu.RUnlock()
    return q.self
}

// Peers returns the peer records in insertion order. The returned pointers
// are the live records; mutate them only via the setter methods.
func (q *Quorum) Peers() []*Peer {
    q.mu.RLock()
    defer q.mu.RUnlock()
    return append([]*Peer(nil), q.peers...)
}

// Lookup returns the record for the given endpoint, or nil when the endpoint
// is not part of the quorum.
func (q *Quorum) Lookup(endpoint string) *Peer {
    q.mu.RLock()
    defer q.mu.RUnlock()
    return q.index[endpoint]
}

// AdjustSelfState transitions the local node's state.
func (q *Quorum) AdjustSelfState(s State) {
    q.mu.Lock()
    q.self.State = s
    q.mu.Unlock()
}

// WeAreTheLeader reports whether this node currently considers itself leader.
func (q *Quorum) WeAreTheLeader() bool {
    q.mu.RLock()
    defer q.mu.RUnlock()
    return q.self.State == StateLeader
}

// SetPeerState transitions a peer's liveness state. Unknown endpoints are
// ignored.
func (q *Quorum) SetPeerState(endpoint string, s State) {
    q.mu.Lock()
    if p, ok := q.index[endpoint]; ok {
        p.State = s
    }
    q.mu.Unlock()
}

// SetPeerIdentity stores the identity a peer reported during handshake.
func (q *Quorum) SetPeerIdentity(endpoint string, id uuid.UUID) {
    q.mu.Lock()
    if p, ok := q.index[endpoint]; ok {
        p.ID = id
    }
    q.mu.Unlock()
}

// SetPeerConn caches the outbound connection for a peer, returning the
// previous one (nil when none was cached).
func (q *Quorum) SetPeerConn(endpoint string, conn *transport.Conn) *transport.Conn {
    q.mu.Lock()
    defer q.mu.Unlock()
    p, ok := q.index[endpoint]
    if !ok {
        return nil
    }
    prev := p.Conn
    p.Conn = conn
    return prev
}

// AliveCount returns the number of peers not marked dead.
func (q *Quorum) AliveCount() int {
    q.mu.RLock()
    defer q.mu.RUnlock()
    n := 0
    for _, p := range q.peers {
        if p.Alive() {
            n++
        }
    }
    return n
}

// Size returns the number of configured peers (excluding self).
func (q *Quorum) Size() int {
    q.mu.RLock()
    defer q.mu.RUnlock()
    return len(q.peers)
}

// PeerView is a copyable snapshot of a peer record for status surfaces.
type PeerView struct {
    Endpoint  string `json:"endpoint"`
    ID        string `json:"id,omitempty"`
    State     string `json:"state"`
    Connected bool   `json:"connected"`
}

// Snapshot returns value copies of self and all peers for introspection.
func (q *Quorum) Snapshot() (self PeerView, peers []PeerView) {
    q.mu.RLock()
    defer q.mu.RUnlock()
    self = PeerView{Endpoint: q.self.Endpoint, ID: q.self.ID.String(), State: q.self.State.String()}
    for _, p := range q.peers {
        v := PeerView{Endpoint: p.Endpoint, State: p.State.String(), Connected: p.Conn != nil}
        if p.HasIdentity() {
            v.ID = p.ID.String()
        }
        peers = append(peers, v)
    }
    return self, peers
}
