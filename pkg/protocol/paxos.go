package protocol

import (
    "bytes"
    "log"
    "time"

    "github.com/mrwill84/go-paxos/pkg/command"
    "github.com/mrwill84/go-paxos/pkg/internal/logutil"
    obsmetrics "github.com/mrwill84/go-paxos/pkg/observability/metrics"
    "github.com/mrwill84/go-paxos/pkg/quorum"
    "github.com/mrwill84/go-paxos/pkg/transport"
)

type ackState int

const (
    ackPending ackState = iota
    ackPromised
    ackRejected
)

type roundPhase int

const (
    phasePreparing roundPhase = iota
    phaseAccepting
    phaseDone
)

// round is the per-request state owned by the leader's replication engine:
// created when a client request begins, destroyed when the client reply is
// sent. Continuations carry the proposal id and peer endpoint as plain
// values; the engine resolves them back to this record.
type round struct {
    id        uint64
    phase     roundPhase
    acks      map[string]ackState
    responses map[string][]byte
    client    *transport.Conn
    payload   []byte
    timer     *time.Timer
}

func (r *round) promisedCount() int {
    n := 0
    for _, a := range r.acks {
        if a == ackPromised {
            n++
        }
    }
    return n
}

// paxos runs the two-phase prepare/accept state machine: the leader path
// fans a round out to every live peer and collects promises and responses;
// the follower path reacts to inbound prepare/accept commands. All methods
// run under the protocol mutex.
type paxos struct {
    d   dispatcher
    log *log.Logger

    // proposalID is the monotonically non-decreasing counter shared by both
    // roles: incremented before each new round on the leader, raised to any
    // higher value observed in an inbound prepare on a follower.
    proposalID uint64
    // acceptedID is the highest proposal id whose accept this node applied.
    acceptedID uint64

    rounds map[uint64]*round
}

// --- leader path ---

// start begins a round for a client request. The dispatcher has already
// refused requests on non-leaders; reaching this point without leadership is
// a programming error.
func (x *paxos) start(client *transport.Conn, payload []byte) {
    q := x.d.quorum()
    if !q.WeAreTheLeader() {
        panic("paxos: round started on non-leader")
    }

    x.proposalID++
    n := x.proposalID
    obsmetrics.ProposalID.Set(float64(n))
    obsmetrics.RoundsStarted.Inc()

    r := &round{
        id:        n,
        phase:     phasePreparing,
        acks:      make(map[string]ackState),
        responses: make(map[string][]byte),
        client:    client,
        payload:   payload,
    }
    x.rounds[n] = r

    for _, pr := range q.Peers() {
        if !pr.Alive() || pr.Conn == nil {
            // Dead peers are skipped entirely; the round runs on the rest.
            continue
        }
        r.acks[pr.Endpoint] = ackPending
        if err := x.d.writeCommand(command.Command{Type: command.TypePrepare, ProposalID: n}, pr.Conn); err != nil {
            logutil.Warnf(x.log, "paxos: prepare to %s: %v", pr.Endpoint, err)
            x.d.markPeerDead(pr.Endpoint)
            delete(r.acks, pr.Endpoint)
        }
    }

    if len(r.acks) == 0 {
        // No live peers: apply locally and reply immediately.
        x.enterAccept(r)
        return
    }
    cfg := x.d.config()
    r.timer = time.AfterFunc(cfg.RoundTimeout, func() { x.roundExpired(n) })
}

// receivePromise records one promise and enters the accept phase once every
// contacted peer has promised. The engine requires unanimity among the
// contacted set, not a majority.
func (x *paxos) receivePromise(endpoint string, cmd command.Command) {
    r := x.rounds[cmd.ProposalID]
    if r == nil || r.phase != phasePreparing {
        return
    }
    if _, ok := r.acks[endpoint]; !ok {
        return
    }
    r.acks[endpoint] = ackPromised
    for _, a := range r.acks {
        if a != ackPromised {
            return
        }
    }
    logutil.Debugf(x.log, "paxos: round %d: all peers promised", r.id)
    x.enterAccept(r)
}

// receiveFail terminates the round: during prepare it means a peer holds a
// higher proposal (another node is proposing); during accept it means a
// follower refused a stale accept.
func (x *paxos) receiveFail(endpoint string, cmd command.Command) {
    r := x.rounds[cmd.ProposalID]
    if r == nil || r.phase == phaseDone {
        return
    }
    if _, ok := r.acks[endpoint]; !ok {
        return
    }
    if r.phase == phasePreparing {
        r.acks[endpoint] = ackRejected
    }
    logutil.Warnf(x.log, "paxos: round %d rejected by %s", r.id, endpoint)
    x.finish(r, command.ErrorIncorrectProposal)
}

// enterAccept sends accept to every promised peer and synthesizes the
// leader's own accept: the local node is not part of the registered peer set,
// so its workload is processed by an explicit self-step.
func (x *paxos) enterAccept(r *round) {
    r.phase = phaseAccepting
    q := x.d.quorum()
    for endpoint, a := range r.acks {
        if a != ackPromised {
            continue
        }
        pr := q.Lookup(endpoint)
        if pr == nil || pr.Conn == nil {
            // Lost between promise and accept; the round deadline sweeps it.
            continue
        }
        cmd := command.Command{Type: command.TypeAccept, ProposalID: r.id, Workload: r.payload}
        if err := x.d.writeCommand(cmd, pr.Conn); err != nil {
            logutil.Warnf(x.log, "paxos: accept to %s: %v", endpoint, err)
            x.d.markPeerDead(endpoint)
        }
    }

    self := q.Self().Endpoint
    r.acks[self] = ackPromised
    if r.id > x.acceptedID {
        x.acceptedID = r.id
    }
    result := x.d.processWorkload(r.payload)
    x.receiveAccepted(self, command.Command{Type: command.TypeAccepted, ProposalID: r.id, Workload: result})
}

// receiveAccepted collects one response. When every promised peer (self
// included) has contributed, the responses are checked for consistency and
// the reply is written back on the client connection.
func (x *paxos) receiveAccepted(endpoint string, cmd command.Command) {
    r := x.rounds[cmd.ProposalID]
    if r == nil || r.phase != phaseAccepting {
        return
    }
    if a, ok := r.acks[endpoint]; !ok || a != ackPromised {
        return
    }
    if _, dup := r.responses[endpoint]; dup {
        return
    }
    r.responses[endpoint] = cmd.Workload
    if len(r.responses) < r.promisedCount() {
        return
    }

    // The handler is deterministic and every peer applied the same payload,
    // so all responses must be byte-equal.
    for _, resp := range r.responses {
        if !bytes.Equal(resp, cmd.Workload) {
            logutil.Errorf(x.log, "paxos: round %d: divergent responses", r.id)
            x.finish(r, command.ErrorInconsistentResponse)
            return
        }
    }

    reply := command.Command{Type: command.TypeAccepted, ProposalID: r.id, Workload: cmd.Workload}
    if err := x.d.writeCommand(reply, r.client); err != nil {
        logutil.Warnf(x.log, "paxos: round %d: client reply: %v", r.id, err)
    }
    r.phase = phaseDone
    x.release(r)
    obsmetrics.RoundsCompleted.WithLabelValues("ok").Inc()
}

// roundExpired fires on the round deadline timer, outside the protocol
// mutex; it re-enters through the dispatcher to abort the stalled round.
func (x *paxos) roundExpired(id uint64) {
    x.d.withLock(func() { x.expireRound(id) })
}

// expireRound aborts a stalled round: peers that never answered are marked
// dead and the client is told the peer set was unreachable.
func (x *paxos) expireRound(id uint64) {
    r := x.rounds[id]
    if r == nil || r.phase == phaseDone {
        return
    }
    self := x.d.quorum().Self().Endpoint
    for endpoint, a := range r.acks {
        if endpoint == self {
            continue
        }
        _, responded := r.responses[endpoint]
        if a == ackPending || (r.phase == phaseAccepting && !responded) {
            logutil.Warnf(x.log, "paxos: round %d: %s never answered, marking dead", id, endpoint)
            x.d.markPeerDead(endpoint)
        }
    }
    x.finish(r, command.ErrorPeerUnreachable)
}

// finish terminates a round with an error command on the client connection.
func (x *paxos) finish(r *round, kind command.ErrorKind) {
    if r.phase == phaseDone {
        return
    }
    r.phase = phaseDone
    if r.client != nil {
        cmd := command.Command{Type: command.TypeError, ProposalID: r.id, Error: kind}
        if err := x.d.writeCommand(cmd, r.client); err != nil {
            logutil.Warnf(x.log, "paxos: round %d: error reply: %v", r.id, err)
        }
    }
    x.release(r)
    obsmetrics.RoundsCompleted.WithLabelValues(string(kind)).Inc()
}

func (x *paxos) release(r *round) {
    if r.timer != nil {
        r.timer.Stop()
        r.timer = nil
    }
    delete(x.rounds, r.id)
}

func (x *paxos) dropRounds() {
    for _, r := range x.rounds {
        if r.timer != nil {
            r.timer.Stop()
        }
    }
    x.rounds = make(map[uint64]*round)
}

// --- follower path ---

// receivePrepare promises any proposal above the local counter and raises the
// counter to it; everything else is refused. The counter is never lowered.
func (x *paxos) receivePrepare(conn *transport.Conn, cmd command.Command) {
    ret := command.Command{ProposalID: cmd.ProposalID}
    if cmd.ProposalID > x.proposalID {
        x.proposalID = cmd.ProposalID
        obsmetrics.ProposalID.Set(float64(x.proposalID))
        ret.Type = command.TypePromise
        q := x.d.quorum()
        if q.WeAreTheLeader() {
            // A higher proposal outranks our leadership; step down and let
            // the health check settle the new view.
            logutil.Infof(x.log, "paxos: promised proposal %d, stepping down as leader", cmd.ProposalID)
            q.AdjustSelfState(quorum.StateFollower)
        }
    } else {
        ret.Type = command.TypeFail
    }
    if err := x.d.writeCommand(ret, conn); err != nil {
        logutil.Warnf(x.log, "paxos: %s reply: %v", ret.Type, err)
    }
}

// receiveAccept applies a workload and returns the handler's result. Accepts
// for proposals this node never promised, or at or below the last applied
// one, are refused as stale.
func (x *paxos) receiveAccept(conn *transport.Conn, cmd command.Command) {
    if cmd.ProposalID > x.proposalID || cmd.ProposalID <= x.acceptedID {
        ret := command.Command{Type: command.TypeFail, ProposalID: cmd.ProposalID}
        if err := x.d.writeCommand(ret, conn); err != nil {
            logutil.Warnf(x.log, "paxos: fail reply: %v", err)
        }
        return
    }
    x.acceptedID = cmd.ProposalID
    result := x.d.processWorkload(cmd.Workload)
    ret := command.Command{Type: command.TypeAccepted, ProposalID: cmd.ProposalID, Workload: result}
    if err := x.d.writeCommand(ret, conn); err != nil {
        logutil.Warnf(x.log, "paxos: accepted reply: %v", err)
    }
}
