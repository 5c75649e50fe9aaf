package protocol

import (
    "context"
    "log"
    "sync"
    "time"

    "github.com/google/uuid"

    "github.com/mrwill84/go-paxos/pkg/command"
    "github.com/mrwill84/go-paxos/pkg/internal/logutil"
    obsmetrics "github.com/mrwill84/go-paxos/pkg/observability/metrics"
    "github.com/mrwill84/go-paxos/pkg/quorum"
    "github.com/mrwill84/go-paxos/pkg/transport"
)

// Handler is the user-supplied workload handler: a pure function from request
// bytes to response bytes. It must be deterministic and side-effect-equivalent
// across nodes; the engine relies on this for response consistency.
type Handler func(payload []byte) []byte

// Config carries the protocol timing knobs.
type Config struct {
    // HandshakeTimeout bounds dialing a peer and waiting for its handshake
    // response.
    HandshakeTimeout time.Duration
    // RoundTimeout bounds a full replication round on the leader. An expired
    // round is aborted and peer_unreachable is surfaced to the client.
    RoundTimeout time.Duration
    // HealthCheckPeriod is the interval of the re-handshake/re-election timer.
    HealthCheckPeriod time.Duration
}

func (c Config) withDefaults() Config {
    if c.HandshakeTimeout <= 0 {
        c.HandshakeTimeout = 3 * time.Second
    }
    if c.RoundTimeout <= 0 {
        c.RoundTimeout = 2 * c.HandshakeTimeout
    }
    if c.HealthCheckPeriod <= 0 {
        c.HealthCheckPeriod = 3 * time.Second
    }
    return c
}

// dispatcher is the collaborator surface the engines receive at construction.
// Engines never own the Protocol; they borrow this narrow view of it.
//
// quorum, config, writeCommand, processWorkload and markPeerDead are called
// from command handlers and assume the protocol mutex is held. adoptPeer and
// peerUnreachable are the handshake's entry points from outside the mutex and
// acquire it themselves.
type dispatcher interface {
    quorum() *quorum.Quorum
    config() Config
    writeCommand(cmd command.Command, conn *transport.Conn) error
    processWorkload(payload []byte) []byte
    markPeerDead(endpoint string)
    adoptPeer(endpoint string, id uuid.UUID, st quorum.State, conn *transport.Conn)
    peerUnreachable(endpoint string)
    withLock(fn func())
}

// Protocol is the entry point for all communication within the quorum: it
// owns the engines, demultiplexes inbound framed commands to them by type and
// serializes all protocol work behind a single mutex, preserving the
// run-to-completion discipline of the handlers.
type Protocol struct {
    mu  sync.Mutex
    q   *quorum.Quorum
    cfg Config
    h   Handler
    log *log.Logger

    hs *handshake
    el *election
    px *paxos

    // conns tracks every connection with an active read loop; the value is
    // the associated peer endpoint, or "" for client and unidentified inbound
    // connections.
    conns map[*transport.Conn]string

    closed    chan struct{}
    closeOnce sync.Once
}

// New assembles a protocol instance over the given quorum. The handler is
// invoked once per accepted workload on this node.
func New(q *quorum.Quorum, cfg Config, h Handler, logger *log.Logger) *Protocol {
    if logger == nil {
        logger = log.Default()
    }
    p := &Protocol{
        q:      q,
        cfg:    cfg.withDefaults(),
        h:      h,
        log:    logger,
        conns:  make(map[*transport.Conn]string),
        closed: make(chan struct{}),
    }
    p.hs = &handshake{d: p, log: logger}
    p.el = &election{d: p, log: logger}
    p.px = &paxos{d: p, log: logger, rounds: make(map[uint64]*round)}
    return p
}

// Bootstrap performs the startup sequence: handshake with every configured
// peer, leader election over the resulting live set, then the periodic health
// check. A handshake endpoint mismatch is a fatal configuration error and
// aborts startup.
func (p *Protocol) Bootstrap(ctx context.Context) error {
    if err := p.hs.start(); err != nil {
        return err
    }
    p.mu.Lock()
    p.el.elect()
    p.mu.Unlock()
    p.updateGauges()
    go p.healthLoop(ctx)
    return nil
}

// NewConnection registers an inbound or cached connection and starts its read
// loop: a single outstanding read at a time, commands processed in arrival
// order.
func (p *Protocol) NewConnection(conn *transport.Conn) {
    p.mu.Lock()
    if _, ok := p.conns[conn]; !ok {
        p.conns[conn] = ""
    }
    p.mu.Unlock()
    go p.readLoop(conn)
}

func (p *Protocol) readLoop(conn *transport.Conn) {
    for {
        cmd, err := conn.ReadCommand(0)
        if err != nil {
            p.connFailed(conn, err)
            return
        }
        p.HandleCommand(conn, cmd)
    }
}

// HandleCommand routes one inbound command to the handshake, election or
// replication engine. Handlers run to completion under the protocol mutex.
func (p *Protocol) HandleCommand(conn *transport.Conn, cmd command.Command) {
    obsmetrics.CommandsReceived.WithLabelValues(string(cmd.Type)).Inc()
    p.mu.Lock()
    defer p.mu.Unlock()
    switch cmd.Type {
    case command.TypeHandshakeStart:
        p.hs.receiveStart(conn)
    case command.TypeLeaderClaim:
        p.el.receiveClaim(cmd)
    case command.TypeRequest:
        if !p.q.WeAreTheLeader() {
            // The client contacted the wrong node; refuse.
            _ = p.writeCommand(command.Command{Type: command.TypeError, Error: command.ErrorIncorrectProposal}, conn)
            return
        }
        p.px.start(conn, cmd.Workload)
    case command.TypePrepare:
        p.px.receivePrepare(conn, cmd)
    case command.TypePromise:
        p.px.receivePromise(p.conns[conn], cmd)
    case command.TypeFail:
        p.px.receiveFail(p.conns[conn], cmd)
    case command.TypeAccept:
        p.px.receiveAccept(conn, cmd)
    case command.TypeAccepted:
        p.px.receiveAccepted(p.conns[conn], cmd)
    default:
        logutil.Warnf(p.log, "protocol: ignoring unexpected command type %q", cmd.Type)
    }
}

// Stop tears down every tracked connection and outstanding round.
func (p *Protocol) Stop() {
    p.closeOnce.Do(func() { close(p.closed) })
    p.mu.Lock()
    defer p.mu.Unlock()
    for conn := range p.conns {
        _ = conn.Close()
    }
    p.conns = make(map[*transport.Conn]string)
    p.px.dropRounds()
}

// connFailed is invoked by a read loop when its connection errors out: the
// associated peer (if identified) is marked dead and the connection dropped.
func (p *Protocol) connFailed(conn *transport.Conn, err error) {
    obsmetrics.ConnectionsDropped.Inc()
    p.mu.Lock()
    defer p.mu.Unlock()
    ep, tracked := p.conns[conn]
    if !tracked {
        return
    }
    delete(p.conns, conn)
    _ = conn.Close()
    if ep != "" {
        logutil.Warnf(p.log, "protocol: connection to %s failed, marking dead: %v", ep, err)
        p.markPeerDead(ep)
    }
}

// --- dispatcher implementation ---

func (p *Protocol) quorum() *quorum.Quorum { return p.q }
func (p *Protocol) config() Config         { return p.cfg }

func (p *Protocol) writeCommand(cmd command.Command, conn *transport.Conn) error {
    obsmetrics.CommandsWritten.WithLabelValues(string(cmd.Type)).Inc()
    return conn.WriteCommand(cmd)
}

func (p *Protocol) processWorkload(payload []byte) []byte {
    obsmetrics.WorkloadInvocations.Inc()
    return p.h(payload)
}

// adoptPeer stores the identity and state a peer reported during handshake
// and caches the connection on the record if it has none; a spare connection
// is closed. Acquires the protocol mutex.
func (p *Protocol) adoptPeer(endpoint string, id uuid.UUID, st quorum.State, conn *transport.Conn) {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.q.SetPeerIdentity(endpoint, id)
    p.q.SetPeerState(endpoint, st)
    pr := p.q.Lookup(endpoint)
    if pr == nil || pr.Conn != nil {
        _ = conn.Close()
        return
    }
    p.q.SetPeerConn(endpoint, conn)
    p.conns[conn] = endpoint
    go p.readLoop(conn)
}

// peerUnreachable marks a peer dead from outside a command handler.
// Acquires the protocol mutex.
func (p *Protocol) peerUnreachable(endpoint string) {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.markPeerDead(endpoint)
}

// withLock runs fn under the protocol mutex; used by timer callbacks to
// re-enter the single-threaded protocol discipline.
func (p *Protocol) withLock(fn func()) {
    p.mu.Lock()
    defer p.mu.Unlock()
    fn()
}

// markPeerDead transitions the peer to dead and discards its connection.
// Callers hold p.mu.
func (p *Protocol) markPeerDead(endpoint string) {
    p.q.SetPeerState(endpoint, quorum.StateDead)
    if prev := p.q.SetPeerConn(endpoint, nil); prev != nil {
        delete(p.conns, prev)
        _ = prev.Close()
    }
}

// --- health check ---

func (p *Protocol) healthLoop(ctx context.Context) {
    t := time.NewTicker(p.cfg.HealthCheckPeriod)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-p.closed:
            return
        case <-t.C:
            p.healthCheck()
        }
    }
}

// healthCheck re-runs the handshake against dead or disconnected peers and
// re-elects when the current leader is gone. An endpoint mismatch at runtime
// is not fatal; the peer stays dead until its configuration is fixed.
func (p *Protocol) healthCheck() {
    _, peers := p.q.Snapshot()
    for _, pv := range peers {
        if pv.State == quorum.StateDead.String() || !pv.Connected {
            if err := p.hs.handshakePeer(pv.Endpoint); err != nil {
                logutil.Errorf(p.log, "protocol: health check handshake with %s: %v", pv.Endpoint, err)
                p.mu.Lock()
                p.markPeerDead(pv.Endpoint)
                p.mu.Unlock()
            }
        }
    }
    p.mu.Lock()
    p.el.converge()
    if !p.leaderAlive() {
        logutil.Infof(p.log, "protocol: no live leader, re-running election")
        p.el.elect()
    }
    p.mu.Unlock()
    p.updateGauges()
}

// leaderAlive reports whether a live leader exists in our view. Callers hold
// p.mu.
func (p *Protocol) leaderAlive() bool {
    if p.q.WeAreTheLeader() {
        return true
    }
    for _, pr := range p.q.Peers() {
        if pr.State == quorum.StateLeader {
            return true
        }
    }
    return false
}

func (p *Protocol) updateGauges() {
    obsmetrics.QuorumPeers.Set(float64(p.q.Size()))
    obsmetrics.PeersAlive.Set(float64(p.q.AliveCount()))
    if p.q.WeAreTheLeader() {
        obsmetrics.IsLeader.Set(1)
    } else {
        obsmetrics.IsLeader.Set(0)
    }
}

// LeaderEndpoint returns the endpoint of the current leader in this node's
// view: the local endpoint when self is leader, else the endpoint of the peer
// marked leader, or "" when no leader is known.
func (p *Protocol) LeaderEndpoint() string {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.q.WeAreTheLeader() {
        return p.q.Self().Endpoint
    }
    for _, pr := range p.q.Peers() {
        if pr.State == quorum.StateLeader {
            return pr.Endpoint
        }
    }
    return ""
}

// ProposalID exposes the current proposal counter for introspection.
func (p *Protocol) ProposalID() uint64 {
    p.mu.Lock()
    defer p.mu.Unlock()
    return p.px.proposalID
}
