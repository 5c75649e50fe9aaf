package cli

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "log"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/spf13/cobra"

    "github.com/mrwill84/go-paxos/pkg/bootstrap"
    "github.com/mrwill84/go-paxos/pkg/client"
    "github.com/mrwill84/go-paxos/pkg/mgmt"
    mgmtgrpc "github.com/mrwill84/go-paxos/pkg/mgmt/grpc"
    "github.com/mrwill84/go-paxos/pkg/mgmt/httpjson"
    "github.com/mrwill84/go-paxos/pkg/observability/tracing"
    tlsx "github.com/mrwill84/go-paxos/pkg/security/tlsconfig"
)

// AddAll attaches the node subcommands (run/status/submit) to the provided
// root command.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewSubmitCmd())
}

// NewRunCmd returns the "run" command used to start a replica node with the
// built-in echo handler. Embedding applications supply their own handler via
// bootstrap.Config instead.
func NewRunCmd() *cobra.Command {
    var (
        endpoint, bind, peersCSV, discoveryKind, filePath, fileEnv string
        gossipBind, gossipJoin, gossipName                         string
        mgmtAddr, mgmtProto                                        string
        handshakeTimeout, roundTimeout, healthPeriod               time.Duration
        tlsEnable, tlsSkip, traceEnable                            bool
        tlsCA, tlsCert, tlsKey, tlsServerName                      string
    )
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a replica node (echo workload handler)",
        RunE: func(cmd *cobra.Command, args []string) error {
            if endpoint == "" {
                return fmt.Errorf("missing --endpoint")
            }
            ctx, cancel := signalContext()
            defer cancel()

            if traceEnable {
                shutdown, err := tracing.Setup(true)
                if err != nil {
                    return err
                }
                defer func() { _ = shutdown(context.Background()) }()
            }

            cfg := bootstrap.Config{
                Endpoint:          endpoint,
                Bind:              bind,
                Handler:           func(payload []byte) []byte { return payload },
                DiscoveryKind:     discoveryKind,
                PeersCSV:          peersCSV,
                FilePath:          filePath,
                FileEnv:           fileEnv,
                GossipBind:        gossipBind,
                GossipJoinCSV:     gossipJoin,
                GossipName:        gossipName,
                HandshakeTimeout:  handshakeTimeout,
                RoundTimeout:      roundTimeout,
                HealthCheckPeriod: healthPeriod,
                MgmtAddr:          mgmtAddr,
                MgmtProto:         mgmtProto,
                TLSEnable:         tlsEnable,
                TLSCA:             tlsCA,
                TLSCert:           tlsCert,
                TLSKey:            tlsKey,
                TLSServerName:     tlsServerName,
                TLSSkipVerify:     tlsSkip,
                Logger:            log.Default(),
            }
            srv, err := bootstrap.Run(ctx, cfg)
            if err != nil {
                return err
            }
            defer srv.Close()
            <-ctx.Done()
            return nil
        },
    }
    cmd.Flags().StringVar(&endpoint, "endpoint", "", "advertised host:port of this node")
    cmd.Flags().StringVar(&bind, "bind", "", "listen address override")
    cmd.Flags().StringVar(&peersCSV, "peers", "", "comma-separated peer endpoints (static discovery)")
    cmd.Flags().StringVar(&discoveryKind, "discovery", "static", "discovery kind: static|file|gossip")
    cmd.Flags().StringVar(&filePath, "peers-file", "", "file with one peer endpoint per line")
    cmd.Flags().StringVar(&fileEnv, "peers-env", "", "env var holding comma-separated peer endpoints")
    cmd.Flags().StringVar(&gossipBind, "gossip-bind", "", "gossip bind host:port")
    cmd.Flags().StringVar(&gossipJoin, "gossip-join", "", "comma-separated gossip join addresses")
    cmd.Flags().StringVar(&gossipName, "gossip-name", "", "gossip node name (defaults to endpoint)")
    cmd.Flags().StringVar(&mgmtAddr, "mgmt", "", "management API bind address")
    cmd.Flags().StringVar(&mgmtProto, "mgmt-proto", "http", "management protocol: http|grpc")
    cmd.Flags().DurationVar(&handshakeTimeout, "handshake-timeout", 0, "handshake/read timeout")
    cmd.Flags().DurationVar(&roundTimeout, "round-timeout", 0, "replication round deadline")
    cmd.Flags().DurationVar(&healthPeriod, "health-period", 0, "health check period")
    cmd.Flags().BoolVar(&tlsEnable, "tls", false, "enable TLS for the management API")
    cmd.Flags().StringVar(&tlsCA, "tls-ca", "", "CA certificate file")
    cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "certificate file")
    cmd.Flags().StringVar(&tlsKey, "tls-key", "", "private key file")
    cmd.Flags().StringVar(&tlsServerName, "tls-server-name", "", "expected server name")
    cmd.Flags().BoolVar(&tlsSkip, "tls-skip-verify", false, "skip TLS verification (testing only)")
    cmd.Flags().BoolVar(&traceEnable, "trace", false, "enable stdout tracing")
    return cmd
}

// NewStatusCmd returns the "status" command which queries a node's
// management endpoint and prints the JSON snapshot.
func NewStatusCmd() *cobra.Command {
    var (
        addr, proto                           string
        tlsEnable, tlsSkip                    bool
        tlsCA, tlsCert, tlsKey, tlsServerName string
    )
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Query a node's management status endpoint",
        RunE: func(cmd *cobra.Command, args []string) error {
            if addr == "" {
                return fmt.Errorf("missing --addr")
            }
            var cliTLS *tls.Config
            if tlsEnable {
                topts := tlsx.Options{
                    Enable:             true,
                    CAFile:             tlsCA,
                    CertFile:           tlsCert,
                    KeyFile:            tlsKey,
                    InsecureSkipVerify: tlsSkip,
                    ServerName:         tlsServerName,
                }
                c, err := topts.Client()
                if err != nil {
                    return err
                }
                cliTLS = c
            }
            var mc mgmt.Client
            switch proto {
            case "grpc":
                c := mgmtgrpc.NewClient(3 * time.Second)
                if cliTLS != nil {
                    c.UseTLS(cliTLS)
                }
                defer c.Close()
                mc = c
            default:
                c := httpjson.NewClient(3 * time.Second)
                if cliTLS != nil {
                    c.UseTLS(cliTLS)
                }
                mc = c
            }
            data, err := mc.GetStatus(cmd.Context(), addr)
            if err != nil {
                return err
            }
            var pretty json.RawMessage = data
            out, err := json.MarshalIndent(pretty, "", "  ")
            if err != nil {
                fmt.Println(string(data))
                return nil
            }
            fmt.Println(string(out))
            return nil
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "", "management address of the node")
    cmd.Flags().StringVar(&proto, "proto", "http", "management protocol: http|grpc")
    cmd.Flags().BoolVar(&tlsEnable, "tls", false, "enable TLS")
    cmd.Flags().StringVar(&tlsCA, "tls-ca", "", "CA certificate file")
    cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "certificate file")
    cmd.Flags().StringVar(&tlsKey, "tls-key", "", "private key file")
    cmd.Flags().StringVar(&tlsServerName, "tls-server-name", "", "expected server name")
    cmd.Flags().BoolVar(&tlsSkip, "tls-skip-verify", false, "skip TLS verification (testing only)")
    return cmd
}

// NewSubmitCmd returns the "submit" command which sends a workload through
// the replication protocol and prints the replicated response.
func NewSubmitCmd() *cobra.Command {
    var (
        endpointsCSV string
        payload      string
        timeout      time.Duration
    )
    cmd := &cobra.Command{
        Use:   "submit",
        Short: "Submit a workload to the quorum and print the response",
        RunE: func(cmd *cobra.Command, args []string) error {
            if endpointsCSV == "" {
                return fmt.Errorf("missing --endpoints")
            }
            if payload == "" && len(args) > 0 {
                payload = args[0]
            }
            c, err := client.New(client.Options{Endpoints: splitCSV(endpointsCSV)})
            if err != nil {
                return err
            }
            defer c.Close()
            ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
            defer cancel()
            out, err := c.Submit(ctx, []byte(payload))
            if err != nil {
                return err
            }
            fmt.Println(string(out))
            return nil
        },
    }
    cmd.Flags().StringVar(&endpointsCSV, "endpoints", "", "comma-separated quorum endpoints")
    cmd.Flags().StringVar(&payload, "payload", "", "workload payload (or first positional arg)")
    cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall submit timeout")
    return cmd
}

func splitCSV(csv string) []string {
    var out []string
    start := 0
    for i := 0; i <= len(csv); i++ {
        if i == len(csv) || csv[i] == ',' {
            if s := csv[start:i]; s != "" {
                out = append(out, s)
            }
            start = i + 1
        }
    }
    return out
}

func signalContext() (context.Context, context.CancelFunc) {
    ctx, cancel := context.WithCancel(context.Background())
    ch := make(chan os.Signal, 1)
    signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
    go func() {
        select {
        case <-ch:
            cancel()
        case <-ctx.Done():
        }
        signal.Stop(ch)
    }()
    return ctx, cancel
}
