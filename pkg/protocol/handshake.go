package protocol

import (
    "fmt"
    "log"
    "sync"

    "github.com/google/uuid"

    "github.com/mrwill84/go-paxos/pkg/command"
    "github.com/mrwill84/go-paxos/pkg/internal/logutil"
    obsmetrics "github.com/mrwill84/go-paxos/pkg/observability/metrics"
    "github.com/mrwill84/go-paxos/pkg/quorum"
    "github.com/mrwill84/go-paxos/pkg/transport"
)

// handshake populates the quorum registry: on boot it dials every configured
// peer, exchanges identity and self-reported role, and marks unreachable
// peers dead. The health check re-runs it against individual peers.
type handshake struct {
    d   dispatcher
    log *log.Logger
}

// start runs the boot-time handshake against all peers concurrently. Peers
// that cannot be reached are marked dead and the boot proceeds with the
// reduced set; an endpoint mismatch aborts startup.
func (h *handshake) start() error {
    q := h.d.quorum()
    peers := q.Peers()
    if len(peers) == 0 {
        // Degenerate single-node cluster: nobody to talk to, we lead.
        q.AdjustSelfState(quorum.StateLeader)
        return nil
    }
    var wg sync.WaitGroup
    errs := make([]error, len(peers))
    for i, pr := range peers {
        wg.Add(1)
        go func(i int, endpoint string) {
            defer wg.Done()
            errs[i] = h.handshakePeer(endpoint)
        }(i, pr.Endpoint)
    }
    wg.Wait()
    for _, err := range errs {
        if err != nil {
            return err
        }
    }
    return nil
}

// handshakePeer performs one identity exchange: dial, send handshake_start,
// await handshake_response within the configured deadline. Unreachable or
// misbehaving peers are marked dead and a nil error is returned; only an
// endpoint mismatch is reported to the caller. Runs outside the protocol
// mutex; blocking I/O must not stall command handlers.
func (h *handshake) handshakePeer(endpoint string) error {
    cfg := h.d.config()
    conn, err := transport.Dial(endpoint, cfg.HandshakeTimeout)
    if err != nil {
        logutil.Warnf(h.log, "handshake: %s unreachable, marking dead: %v", endpoint, err)
        h.fail(endpoint)
        return nil
    }
    if err := conn.WriteCommand(command.Command{Type: command.TypeHandshakeStart}); err != nil {
        _ = conn.Close()
        h.fail(endpoint)
        return nil
    }
    resp, err := conn.ReadCommand(cfg.HandshakeTimeout)
    if err != nil {
        logutil.Warnf(h.log, "handshake: no response from %s, marking dead: %v", endpoint, err)
        _ = conn.Close()
        h.fail(endpoint)
        return nil
    }
    if resp.Type != command.TypeHandshakeResponse {
        _ = conn.Close()
        h.fail(endpoint)
        return nil
    }
    if resp.HostEndpoint != endpoint {
        _ = conn.Close()
        obsmetrics.HandshakeAttempts.WithLabelValues("mismatch").Inc()
        return fmt.Errorf("%w: dialed %s, peer reports %s", ErrEndpointMismatch, endpoint, resp.HostEndpoint)
    }
    id, err := uuid.Parse(resp.HostID)
    if err != nil {
        _ = conn.Close()
        h.fail(endpoint)
        return nil
    }
    st, err := quorum.ParseState(resp.HostState)
    if err != nil {
        st = quorum.StateUnknown
    }
    h.d.adoptPeer(endpoint, id, st, conn)
    obsmetrics.HandshakeAttempts.WithLabelValues("ok").Inc()
    logutil.Infof(h.log, "handshake: %s identified as %s (%s)", endpoint, id, st)
    return nil
}

func (h *handshake) fail(endpoint string) {
    obsmetrics.HandshakeAttempts.WithLabelValues("failed").Inc()
    h.d.peerUnreachable(endpoint)
}

// receiveStart answers an inbound handshake with our identity, endpoint and
// self-reported state. Callers hold the protocol mutex.
func (h *handshake) receiveStart(conn *transport.Conn) {
    self := h.d.quorum().Self()
    ret := command.Command{
        Type:         command.TypeHandshakeResponse,
        HostID:       self.ID.String(),
        HostEndpoint: self.Endpoint,
        HostState:    self.State.String(),
    }
    if err := h.d.writeCommand(ret, conn); err != nil {
        logutil.Warnf(h.log, "handshake: writing response: %v", err)
    }
}
