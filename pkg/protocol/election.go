package protocol

import (
    "bytes"
    "log"

    "github.com/google/uuid"

    "github.com/mrwill84/go-paxos/pkg/command"
    "github.com/mrwill84/go-paxos/pkg/internal/logutil"
    obsmetrics "github.com/mrwill84/go-paxos/pkg/observability/metrics"
    "github.com/mrwill84/go-paxos/pkg/quorum"
)

// election selects a single leader deterministically from the live set: the
// node with the lexicographically smallest identity wins. Every node runs the
// same computation over its own view; identities are fixed, so the views
// converge once the health checks agree on the live set.
type election struct {
    d   dispatcher
    log *log.Logger
}

// elect runs one election over the current view. If a live peer already
// claims leadership, that view is adopted instead of computing a new winner.
// Callers hold the protocol mutex.
func (e *election) elect() {
    obsmetrics.LeaderElections.Inc()
    q := e.d.quorum()

    for _, pr := range q.Peers() {
        if pr.State == quorum.StateLeader {
            if !q.WeAreTheLeader() {
                q.AdjustSelfState(quorum.StateFollower)
            }
            return
        }
    }

    self := q.Self()
    best := self.ID
    var winner *quorum.Peer
    for _, pr := range q.Peers() {
        if pr.State != quorum.StateUnknown && pr.State != quorum.StateFollower {
            continue
        }
        if !pr.HasIdentity() {
            continue
        }
        if bytes.Compare(pr.ID[:], best[:]) < 0 {
            best = pr.ID
            winner = pr
        }
    }
    // Settle the whole live view: every alive non-winner is a follower.
    for _, pr := range q.Peers() {
        if pr.State == quorum.StateUnknown || pr.State == quorum.StateFollower {
            q.SetPeerState(pr.Endpoint, quorum.StateFollower)
        }
    }
    if winner == nil {
        logutil.Infof(e.log, "election: we are the leader (%s)", self.ID)
        q.AdjustSelfState(quorum.StateLeader)
        e.broadcastClaim()
        return
    }
    logutil.Infof(e.log, "election: leader is %s (%s)", winner.Endpoint, winner.ID)
    q.SetPeerState(winner.Endpoint, quorum.StateLeader)
    q.AdjustSelfState(quorum.StateFollower)
}

// converge reconciles competing leadership views after a health check pass.
// Between two claimants the smaller identity wins; a surviving leader
// re-announces itself so follower views settle on it. Callers hold the
// protocol mutex.
func (e *election) converge() {
    q := e.d.quorum()
    if !q.WeAreTheLeader() {
        return
    }
    self := q.Self()
    for _, pr := range q.Peers() {
        if pr.State != quorum.StateLeader || !pr.HasIdentity() {
            continue
        }
        if bytes.Compare(pr.ID[:], self.ID[:]) < 0 {
            logutil.Infof(e.log, "election: yielding leadership to %s (%s)", pr.Endpoint, pr.ID)
            q.AdjustSelfState(quorum.StateFollower)
            return
        }
        // The claimant is outranked; it steps down once it observes us.
        q.SetPeerState(pr.Endpoint, quorum.StateFollower)
    }
    e.broadcastClaim()
}

// broadcastClaim announces our leadership to every connected live peer so
// their views converge without waiting for the next health check. Callers
// hold the protocol mutex.
func (e *election) broadcastClaim() {
    q := e.d.quorum()
    self := q.Self()
    claim := command.Command{
        Type:         command.TypeLeaderClaim,
        HostID:       self.ID.String(),
        HostEndpoint: self.Endpoint,
    }
    for _, pr := range q.Peers() {
        if !pr.Alive() || pr.Conn == nil {
            continue
        }
        if err := e.d.writeCommand(claim, pr.Conn); err != nil {
            logutil.Warnf(e.log, "election: claim to %s: %v", pr.Endpoint, err)
        }
    }
}

// receiveClaim handles a peer's leadership announcement. The claim is
// ignored when our own identity is smaller than the sender's; other peers'
// identities are not compared. The health check converges such transient
// disagreements. Callers hold the protocol mutex.
func (e *election) receiveClaim(cmd command.Command) {
    q := e.d.quorum()
    pr := q.Lookup(cmd.HostEndpoint)
    if pr == nil {
        logutil.Warnf(e.log, "election: claim from unknown endpoint %s", cmd.HostEndpoint)
        return
    }
    id, err := uuid.Parse(cmd.HostID)
    if err != nil {
        return
    }
    q.SetPeerIdentity(cmd.HostEndpoint, id)

    self := q.Self()
    if bytes.Compare(self.ID[:], id[:]) < 0 && self.State != quorum.StateDead {
        // We outrank the claimant; keep our view.
        return
    }
    for _, other := range q.Peers() {
        if other.State == quorum.StateLeader && other.Endpoint != cmd.HostEndpoint {
            q.SetPeerState(other.Endpoint, quorum.StateFollower)
        }
    }
    q.SetPeerState(cmd.HostEndpoint, quorum.StateLeader)
    if q.WeAreTheLeader() {
        logutil.Infof(e.log, "election: stepping down, %s claims leadership", cmd.HostEndpoint)
    }
    q.AdjustSelfState(quorum.StateFollower)
}
