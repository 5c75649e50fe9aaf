package protocol

import (
    "io"
    "log"
    "net"
    "sync/atomic"
    "testing"
    "time"

    "github.com/google/uuid"
    "github.com/stretchr/testify/require"

    "github.com/mrwill84/go-paxos/pkg/command"
    "github.com/mrwill84/go-paxos/pkg/quorum"
    "github.com/mrwill84/go-paxos/pkg/transport"
)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestProtocol(peers []string, h Handler) (*Protocol, *quorum.Quorum) {
    if h == nil {
        h = func(payload []byte) []byte { return payload }
    }
    q := quorum.New("127.0.0.1:7001", peers)
    p := New(q, Config{
        HandshakeTimeout:  500 * time.Millisecond,
        RoundTimeout:      time.Second,
        HealthCheckPeriod: time.Hour,
    }, h, testLogger())
    return p, q
}

func pipePair() (*transport.Conn, *transport.Conn) {
    a, b := net.Pipe()
    return transport.New(a), transport.New(b)
}

// exchange runs one command through the dispatcher and returns the single
// framed reply written back on the connection.
func exchange(t *testing.T, p *Protocol, cmd command.Command) command.Command {
    t.Helper()
    local, remote := pipePair()
    defer local.Close()
    defer remote.Close()
    go p.HandleCommand(local, cmd)
    out, err := remote.ReadCommand(2 * time.Second)
    require.NoError(t, err)
    return out
}

func TestFollower_PreparePromisesHigherProposals(t *testing.T) {
    p, _ := newTestProtocol(nil, nil)

    out := exchange(t, p, command.Command{Type: command.TypePrepare, ProposalID: 5})
    require.Equal(t, command.TypePromise, out.Type)
    require.Equal(t, uint64(5), out.ProposalID)
    require.Equal(t, uint64(5), p.ProposalID())

    // Same and lower proposals are refused; the counter never decreases.
    out = exchange(t, p, command.Command{Type: command.TypePrepare, ProposalID: 5})
    require.Equal(t, command.TypeFail, out.Type)
    out = exchange(t, p, command.Command{Type: command.TypePrepare, ProposalID: 3})
    require.Equal(t, command.TypeFail, out.Type)
    require.Equal(t, uint64(5), p.ProposalID())

    out = exchange(t, p, command.Command{Type: command.TypePrepare, ProposalID: 8})
    require.Equal(t, command.TypePromise, out.Type)
    require.Equal(t, uint64(8), p.ProposalID())
}

func TestFollower_AcceptRunsHandler(t *testing.T) {
    var calls atomic.Int64
    p, _ := newTestProtocol(nil, func(payload []byte) []byte {
        calls.Add(1)
        return append([]byte("echo:"), payload...)
    })

    out := exchange(t, p, command.Command{Type: command.TypePrepare, ProposalID: 2})
    require.Equal(t, command.TypePromise, out.Type)

    out = exchange(t, p, command.Command{Type: command.TypeAccept, ProposalID: 2, Workload: []byte("abc")})
    require.Equal(t, command.TypeAccepted, out.Type)
    require.Equal(t, []byte("echo:abc"), out.Workload)
    require.Equal(t, int64(1), calls.Load())
}

func TestFollower_StaleAcceptRefused(t *testing.T) {
    var calls atomic.Int64
    p, _ := newTestProtocol(nil, func(payload []byte) []byte {
        calls.Add(1)
        return payload
    })

    exchange(t, p, command.Command{Type: command.TypePrepare, ProposalID: 4})
    out := exchange(t, p, command.Command{Type: command.TypeAccept, ProposalID: 4, Workload: []byte("x")})
    require.Equal(t, command.TypeAccepted, out.Type)

    // Replay of an already applied proposal.
    out = exchange(t, p, command.Command{Type: command.TypeAccept, ProposalID: 4, Workload: []byte("x")})
    require.Equal(t, command.TypeFail, out.Type)

    // Accept for a proposal this node never promised.
    out = exchange(t, p, command.Command{Type: command.TypeAccept, ProposalID: 9, Workload: []byte("x")})
    require.Equal(t, command.TypeFail, out.Type)

    require.Equal(t, int64(1), calls.Load())
}

func TestFollower_PipelinedAcceptsApplyInOrder(t *testing.T) {
    var calls atomic.Int64
    p, _ := newTestProtocol(nil, func(payload []byte) []byte {
        calls.Add(1)
        return payload
    })

    // Two overlapping rounds from the same leader: both prepares land before
    // the first accept.
    exchange(t, p, command.Command{Type: command.TypePrepare, ProposalID: 1})
    exchange(t, p, command.Command{Type: command.TypePrepare, ProposalID: 2})

    out := exchange(t, p, command.Command{Type: command.TypeAccept, ProposalID: 1, Workload: []byte("a")})
    require.Equal(t, command.TypeAccepted, out.Type)
    out = exchange(t, p, command.Command{Type: command.TypeAccept, ProposalID: 2, Workload: []byte("b")})
    require.Equal(t, command.TypeAccepted, out.Type)
    require.Equal(t, int64(2), calls.Load())
}

func TestFollower_LeaderStepsDownOnHigherPrepare(t *testing.T) {
    p, q := newTestProtocol(nil, nil)
    q.AdjustSelfState(quorum.StateLeader)

    out := exchange(t, p, command.Command{Type: command.TypePrepare, ProposalID: 10})
    require.Equal(t, command.TypePromise, out.Type)
    require.False(t, q.WeAreTheLeader())
}

func TestLeader_RequestRefusedOnFollower(t *testing.T) {
    p, _ := newTestProtocol(nil, nil)
    out := exchange(t, p, command.Command{Type: command.TypeRequest, Workload: []byte("w")})
    require.Equal(t, command.TypeError, out.Type)
    require.Equal(t, command.ErrorIncorrectProposal, out.Error)
}

func TestLeader_SingleNodeRound(t *testing.T) {
    var calls atomic.Int64
    p, q := newTestProtocol(nil, func(payload []byte) []byte {
        calls.Add(1)
        return payload
    })
    q.AdjustSelfState(quorum.StateLeader)

    out := exchange(t, p, command.Command{Type: command.TypeRequest, Workload: []byte("solo")})
    require.Equal(t, command.TypeAccepted, out.Type)
    require.Equal(t, []byte("solo"), out.Workload)
    require.Equal(t, int64(1), calls.Load())
    require.Equal(t, uint64(1), p.ProposalID())
}

// wireFollower attaches a fake follower connection to the peer record and
// returns the far end the test drives by hand.
func wireFollower(p *Protocol, endpoint string) *transport.Conn {
    local, remote := pipePair()
    p.adoptPeer(endpoint, uuid.New(), quorum.StateFollower, local)
    return remote
}

func TestLeader_FullRound(t *testing.T) {
    const peerEP = "127.0.0.1:7002"
    p, q := newTestProtocol([]string{peerEP}, nil)
    q.AdjustSelfState(quorum.StateLeader)
    follower := wireFollower(p, peerEP)
    defer follower.Close()

    clientLocal, clientRemote := pipePair()
    defer clientLocal.Close()
    defer clientRemote.Close()

    go p.HandleCommand(clientLocal, command.Command{Type: command.TypeRequest, Workload: []byte("W")})

    prep, err := follower.ReadCommand(2 * time.Second)
    require.NoError(t, err)
    require.Equal(t, command.TypePrepare, prep.Type)
    require.Equal(t, uint64(1), prep.ProposalID)

    require.NoError(t, follower.WriteCommand(command.Command{Type: command.TypePromise, ProposalID: prep.ProposalID}))

    acc, err := follower.ReadCommand(2 * time.Second)
    require.NoError(t, err)
    require.Equal(t, command.TypeAccept, acc.Type)
    require.Equal(t, []byte("W"), acc.Workload)

    require.NoError(t, follower.WriteCommand(command.Command{Type: command.TypeAccepted, ProposalID: acc.ProposalID, Workload: []byte("W")}))

    reply, err := clientRemote.ReadCommand(2 * time.Second)
    require.NoError(t, err)
    require.Equal(t, command.TypeAccepted, reply.Type)
    require.Equal(t, []byte("W"), reply.Workload)
}

func TestLeader_ProposalIDsStrictlyIncrease(t *testing.T) {
    const peerEP = "127.0.0.1:7002"
    p, q := newTestProtocol([]string{peerEP}, nil)
    q.AdjustSelfState(quorum.StateLeader)
    follower := wireFollower(p, peerEP)
    defer follower.Close()

    var ids []uint64
    for i := 0; i < 2; i++ {
        clientLocal, clientRemote := pipePair()
        go p.HandleCommand(clientLocal, command.Command{Type: command.TypeRequest, Workload: []byte("W")})

        prep, err := follower.ReadCommand(2 * time.Second)
        require.NoError(t, err)
        require.Equal(t, command.TypePrepare, prep.Type)
        ids = append(ids, prep.ProposalID)

        require.NoError(t, follower.WriteCommand(command.Command{Type: command.TypePromise, ProposalID: prep.ProposalID}))
        acc, err := follower.ReadCommand(2 * time.Second)
        require.NoError(t, err)
        require.NoError(t, follower.WriteCommand(command.Command{Type: command.TypeAccepted, ProposalID: acc.ProposalID, Workload: []byte("W")}))

        _, err = clientRemote.ReadCommand(2 * time.Second)
        require.NoError(t, err)
        clientLocal.Close()
        clientRemote.Close()
    }
    require.Len(t, ids, 2)
    require.Less(t, ids[0], ids[1])
}

func TestLeader_FailAbortsRound(t *testing.T) {
    const peerEP = "127.0.0.1:7002"
    var calls atomic.Int64
    p, q := newTestProtocol([]string{peerEP}, func(payload []byte) []byte {
        calls.Add(1)
        return payload
    })
    q.AdjustSelfState(quorum.StateLeader)
    follower := wireFollower(p, peerEP)
    defer follower.Close()

    clientLocal, clientRemote := pipePair()
    defer clientLocal.Close()
    defer clientRemote.Close()

    go p.HandleCommand(clientLocal, command.Command{Type: command.TypeRequest, Workload: []byte("W")})

    prep, err := follower.ReadCommand(2 * time.Second)
    require.NoError(t, err)
    require.NoError(t, follower.WriteCommand(command.Command{Type: command.TypeFail, ProposalID: prep.ProposalID}))

    reply, err := clientRemote.ReadCommand(2 * time.Second)
    require.NoError(t, err)
    require.Equal(t, command.TypeError, reply.Type)
    require.Equal(t, command.ErrorIncorrectProposal, reply.Error)
    // The workload never ran anywhere: no accept was sent.
    require.Equal(t, int64(0), calls.Load())
}

func TestLeader_InconsistentResponsesSurface(t *testing.T) {
    const peerEP = "127.0.0.1:7002"
    p, q := newTestProtocol([]string{peerEP}, nil)
    q.AdjustSelfState(quorum.StateLeader)
    follower := wireFollower(p, peerEP)
    defer follower.Close()

    clientLocal, clientRemote := pipePair()
    defer clientLocal.Close()
    defer clientRemote.Close()

    go p.HandleCommand(clientLocal, command.Command{Type: command.TypeRequest, Workload: []byte("W")})

    prep, err := follower.ReadCommand(2 * time.Second)
    require.NoError(t, err)
    require.NoError(t, follower.WriteCommand(command.Command{Type: command.TypePromise, ProposalID: prep.ProposalID}))

    acc, err := follower.ReadCommand(2 * time.Second)
    require.NoError(t, err)
    // A divergent result, as a buggy non-deterministic handler would produce.
    require.NoError(t, follower.WriteCommand(command.Command{Type: command.TypeAccepted, ProposalID: acc.ProposalID, Workload: []byte("DIVERGED")}))

    reply, err := clientRemote.ReadCommand(2 * time.Second)
    require.NoError(t, err)
    require.Equal(t, command.TypeError, reply.Type)
    require.Equal(t, command.ErrorInconsistentResponse, reply.Error)
}

func TestLeader_RoundDeadlineSurfacesUnreachable(t *testing.T) {
    const peerEP = "127.0.0.1:7002"
    q := quorum.New("127.0.0.1:7001", []string{peerEP})
    p := New(q, Config{
        HandshakeTimeout:  500 * time.Millisecond,
        RoundTimeout:      300 * time.Millisecond,
        HealthCheckPeriod: time.Hour,
    }, func(payload []byte) []byte { return payload }, testLogger())
    q.AdjustSelfState(quorum.StateLeader)
    follower := wireFollower(p, peerEP)
    defer follower.Close()

    clientLocal, clientRemote := pipePair()
    defer clientLocal.Close()
    defer clientRemote.Close()

    go p.HandleCommand(clientLocal, command.Command{Type: command.TypeRequest, Workload: []byte("W")})

    // Swallow the prepare and never answer.
    _, err := follower.ReadCommand(2 * time.Second)
    require.NoError(t, err)

    reply, err := clientRemote.ReadCommand(2 * time.Second)
    require.NoError(t, err)
    require.Equal(t, command.TypeError, reply.Type)
    require.Equal(t, command.ErrorPeerUnreachable, reply.Error)

    // The silent peer is swept dead.
    require.Equal(t, quorum.StateDead, q.Lookup(peerEP).State)
}
