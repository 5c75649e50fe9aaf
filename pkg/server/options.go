package server

import (
    "errors"
    "log"
    "time"

    "github.com/mrwill84/go-paxos/pkg/mgmt"
    "github.com/mrwill84/go-paxos/pkg/protocol"
)

// Options carries the configuration and dependency-injected components used
// to assemble a replica node. Instances are typically produced from
// bootstrap.Config.
type Options struct {
    // Endpoint is the advertised host:port of this node. It must match the
    // address the other quorum members dial, since the handshake verifies it.
    Endpoint string
    // Bind optionally overrides the listen address (defaults to Endpoint).
    Bind string
    // Peers lists the endpoints of the other quorum members. The quorum is
    // fixed at startup and never resized.
    Peers []string

    // Handler is the user-supplied workload handler, invoked once per
    // accepted workload on this node (required).
    Handler protocol.Handler

    // HandshakeTimeout bounds peer dialing and handshake reads.
    HandshakeTimeout time.Duration
    // RoundTimeout bounds a full replication round on the leader.
    RoundTimeout time.Duration
    // HealthCheckPeriod is the interval of the re-handshake/re-election timer.
    HealthCheckPeriod time.Duration

    // Logger is used to report operational messages.
    Logger *log.Logger

    // Mgmt is an optional management endpoint (status/healthz/metrics).
    Mgmt mgmt.Server
}

// Validate performs a minimal validation of Options. It does not start any
// network activity and is safe to call before New.
func (o Options) Validate() error {
    if o.Endpoint == "" {
        return errors.New("server: empty Endpoint")
    }
    if o.Handler == nil {
        return errors.New("server: nil Handler")
    }
    return nil
}
