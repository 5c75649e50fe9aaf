package bootstrap

import (
    "context"
    "log"
    "time"

    "crypto/tls"

    "github.com/mrwill84/go-paxos/pkg/discovery"
    dFile "github.com/mrwill84/go-paxos/pkg/discovery/file"
    dGossip "github.com/mrwill84/go-paxos/pkg/discovery/gossip"
    dStatic "github.com/mrwill84/go-paxos/pkg/discovery/static"
    "github.com/mrwill84/go-paxos/pkg/mgmt"
    mgmtgrpc "github.com/mrwill84/go-paxos/pkg/mgmt/grpc"
    "github.com/mrwill84/go-paxos/pkg/mgmt/httpjson"
    "github.com/mrwill84/go-paxos/pkg/protocol"
    tlsx "github.com/mrwill84/go-paxos/pkg/security/tlsconfig"
    "github.com/mrwill84/go-paxos/pkg/server"
)

// Config defines high-level inputs to assemble a replica node with sensible
// defaults. Applications embed the library by providing this structure and
// calling Build/Run.
type Config struct {
    // Identity and addresses
    Endpoint string // advertised host:port, e.g. "10.0.0.1:1337"
    Bind     string // optional listen override, e.g. ":1337"

    // Workload handler (required): deterministic bytes → bytes.
    Handler protocol.Handler

    // Discovery settings
    DiscoveryKind string // "static" (default), "file", or "gossip"
    PeersCSV      string // used when DiscoveryKind=static
    FilePath      string // used when kind=file
    FileEnv       string // used when kind=file
    GossipBind    string // used when kind=gossip
    GossipJoinCSV string // used when kind=gossip
    GossipName    string // used when kind=gossip

    // Protocol timing
    HandshakeTimeout  time.Duration
    RoundTimeout      time.Duration
    HealthCheckPeriod time.Duration

    // Management API (status/healthz/metrics); empty disables it.
    MgmtAddr  string
    MgmtProto string // "http" (default) or "grpc"

    // TLS (optional) for the management API
    TLSEnable     bool
    TLSCA         string
    TLSCert       string
    TLSKey        string
    TLSServerName string
    TLSSkipVerify bool

    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger
}

// Build assembles a server.Server from Config without starting it.
func Build(cfg Config) (*server.Server, error) {
    if cfg.Logger == nil {
        cfg.Logger = log.Default()
    }

    // Discovery backend resolves the fixed quorum endpoint set.
    var disc discovery.Discovery
    switch cfg.DiscoveryKind {
    case "file":
        disc = dFile.New(dFile.Options{Path: cfg.FilePath, Env: cfg.FileEnv})
    case "gossip":
        name := cfg.GossipName
        if name == "" {
            name = cfg.Endpoint
        }
        g, err := dGossip.New(dGossip.Options{
            NodeID:   name,
            Bind:     cfg.GossipBind,
            Join:     dStatic.Parse(cfg.GossipJoinCSV),
            Endpoint: cfg.Endpoint,
            Logger:   cfg.Logger,
        })
        if err != nil {
            return nil, err
        }
        disc = g
    default:
        disc = dStatic.New(dStatic.Parse(cfg.PeersCSV)...)
    }

    // Management API
    var mgmtSrv mgmt.Server
    if cfg.MgmtAddr != "" {
        var srvTLS *tls.Config
        if cfg.TLSEnable {
            topts := tlsx.Options{
                Enable:             true,
                CAFile:             cfg.TLSCA,
                CertFile:           cfg.TLSCert,
                KeyFile:            cfg.TLSKey,
                InsecureSkipVerify: cfg.TLSSkipVerify,
                ServerName:         cfg.TLSServerName,
            }
            s, err := topts.Server()
            if err != nil {
                return nil, err
            }
            srvTLS = s
        }
        switch cfg.MgmtProto {
        case "grpc":
            s := mgmtgrpc.NewServer(cfg.MgmtAddr)
            if srvTLS != nil {
                s.UseTLS(srvTLS)
            }
            mgmtSrv = s
        default:
            s := httpjson.NewServer(cfg.MgmtAddr, cfg.Logger)
            if srvTLS != nil {
                s.UseTLS(srvTLS)
            }
            mgmtSrv = s
        }
    }

    opts := server.Options{
        Endpoint:          cfg.Endpoint,
        Bind:              cfg.Bind,
        Peers:             disc.Seeds(),
        Handler:           cfg.Handler,
        HandshakeTimeout:  cfg.HandshakeTimeout,
        RoundTimeout:      cfg.RoundTimeout,
        HealthCheckPeriod: cfg.HealthCheckPeriod,
        Logger:            cfg.Logger,
        Mgmt:              mgmtSrv,
    }
    return server.New(opts)
}

// Run builds and starts the node, returning the instance for lifecycle
// control. The caller is responsible for calling Close() when finished.
func Run(ctx context.Context, cfg Config) (*server.Server, error) {
    srv, err := Build(cfg)
    if err != nil {
        return nil, err
    }
    if err := srv.Start(ctx); err != nil {
        return nil, err
    }
    return srv, nil
}
