package server

import (
    "context"
    "encoding/json"
    "errors"
    "log"
    "net"
    "sync"

    "github.com/mrwill84/go-paxos/pkg/internal/logutil"
    obsmetrics "github.com/mrwill84/go-paxos/pkg/observability/metrics"
    "github.com/mrwill84/go-paxos/pkg/protocol"
    "github.com/mrwill84/go-paxos/pkg/quorum"
    "github.com/mrwill84/go-paxos/pkg/transport"
)

// Server is one replica node: it owns the quorum registry and the protocol
// engines, accepts inbound connections from peers and clients, and feeds the
// user-supplied workload handler. Embed it by constructing Options (usually
// via bootstrap.Config) and calling Start.
type Server struct {
    opts Options
    mu   sync.Mutex
    run  struct {
        started bool
        closed  bool
    }
    q     *quorum.Quorum
    proto *protocol.Protocol
    ln    net.Listener
    log   *log.Logger
}

// New constructs a node from validated options. It performs no network
// activity; call Start to launch it.
func New(opts Options) (*Server, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    s := &Server{opts: opts, log: opts.Logger}
    s.q = quorum.New(opts.Endpoint, opts.Peers)
    s.proto = protocol.New(s.q, protocol.Config{
        HandshakeTimeout:  opts.HandshakeTimeout,
        RoundTimeout:      opts.RoundTimeout,
        HealthCheckPeriod: opts.HealthCheckPeriod,
    }, opts.Handler, opts.Logger)
    return s, nil
}

// Start listens on the configured address, launches the accept loop, runs
// the startup handshake and election, and starts the optional management
// endpoint. A handshake endpoint mismatch aborts startup.
func (s *Server) Start(ctx context.Context) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.run.started {
        return nil
    }
    obsmetrics.Register()

    bind := s.opts.Bind
    if bind == "" {
        bind = s.opts.Endpoint
    }
    ln, err := net.Listen("tcp", bind)
    if err != nil {
        return err
    }
    s.ln = ln
    s.run.started = true
    go s.acceptLoop()
    logutil.Infof(s.log, "server: listening at %s (endpoint %s)", bind, s.opts.Endpoint)

    if err := s.proto.Bootstrap(ctx); err != nil {
        _ = ln.Close()
        s.proto.Stop()
        return err
    }

    if s.opts.Mgmt != nil {
        statusFn := func(ctx context.Context) ([]byte, error) { return s.statusJSON() }
        if err := s.opts.Mgmt.Start(ctx, statusFn); err != nil {
            return err
        }
        logutil.Infof(s.log, "server: management endpoint listening at %s", s.opts.Mgmt.Addr())
    }
    return nil
}

func (s *Server) acceptLoop() {
    for {
        nc, err := s.ln.Accept()
        if err != nil {
            s.mu.Lock()
            closed := s.run.closed
            s.mu.Unlock()
            if closed || errors.Is(err, net.ErrClosed) {
                return
            }
            logutil.Warnf(s.log, "server: accept: %v", err)
            continue
        }
        s.proto.NewConnection(transport.New(nc))
    }
}

// Stop closes the listener, every protocol connection and the management
// endpoint.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.run.closed {
        return nil
    }
    s.run.closed = true
    if s.ln != nil {
        _ = s.ln.Close()
    }
    s.proto.Stop()
    if s.opts.Mgmt != nil {
        _ = s.opts.Mgmt.Stop(ctx)
    }
    return nil
}

// Close is a convenience alias for Stop with a background context.
func (s *Server) Close() error {
    return s.Stop(context.Background())
}

// IsLeader reports whether this node currently considers itself the leader.
func (s *Server) IsLeader() bool { return s.q.WeAreTheLeader() }

// Endpoint returns the advertised endpoint of this node.
func (s *Server) Endpoint() string { return s.opts.Endpoint }

// Status returns a snapshot of the node and its quorum view.
func (s *Server) Status() Status {
    self, peers := s.q.Snapshot()
    st := Status{
        LeaderEndpoint: s.proto.LeaderEndpoint(),
        ProposalID:     s.proto.ProposalID(),
        Self:           self,
        Peers:          peers,
    }
    st.Healthy = st.LeaderEndpoint != ""
    return st
}

func (s *Server) statusJSON() ([]byte, error) {
    return json.Marshal(s.Status())
}
