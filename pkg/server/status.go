package server

import (
    "github.com/mrwill84/go-paxos/pkg/quorum"
)

// Status is a JSON-serializable snapshot of the node suitable for the
// management endpoint and tooling.
type Status struct {
    // Healthy indicates whether a leader is known in this node's view.
    Healthy bool `json:"healthy"`
    // LeaderEndpoint is the endpoint of the current leader, if known.
    LeaderEndpoint string `json:"leaderEndpoint,omitempty"`
    // ProposalID is the current value of the local proposal counter.
    ProposalID uint64 `json:"proposalId"`
    // Self describes the local node record.
    Self quorum.PeerView `json:"self"`
    // Peers lists the quorum view in configuration order.
    Peers []quorum.PeerView `json:"peers,omitempty"`
}
