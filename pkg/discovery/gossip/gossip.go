package gossip

import (
    "encoding/json"
    "fmt"
    "log"
    "net"
    "sort"
    "sync"
    "time"

    "github.com/hashicorp/memberlist"

    "github.com/mrwill84/go-paxos/pkg/discovery"
    "github.com/mrwill84/go-paxos/pkg/internal/logutil"
)

// Options configures memberlist-backed discovery. Each node advertises its
// replication endpoint as gossip metadata; Seeds collects the endpoints of
// everyone in the pool so operators only have to configure one or two join
// addresses instead of the full quorum.
type Options struct {
    // NodeID is the unique gossip name of this node.
    NodeID string
    // Bind is the gossip bind address in host:port form.
    Bind string
    // Advertise optionally overrides the advertised gossip address.
    Advertise string
    // Join lists gossip addresses of nodes already in the pool.
    Join []string
    // Endpoint is the replication endpoint this node advertises to the pool.
    Endpoint string
    // Settle is how long to wait for the pool to converge before reading the
    // member set (default 1s).
    Settle time.Duration
    // Logger is optional.
    Logger *log.Logger
}

type impl struct {
    opts  Options
    mu    sync.Mutex
    cache []string
    done  bool
}

// New returns a gossip-backed discovery. The pool is only consulted once:
// the quorum is fixed at startup.
func New(opts Options) (discovery.Discovery, error) {
    if opts.NodeID == "" {
        return nil, fmt.Errorf("gossip: empty NodeID")
    }
    if opts.Bind == "" {
        return nil, fmt.Errorf("gossip: empty Bind address")
    }
    if opts.Endpoint == "" {
        return nil, fmt.Errorf("gossip: empty Endpoint")
    }
    if opts.Settle <= 0 {
        opts.Settle = time.Second
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    return &impl{opts: opts}, nil
}

func (g *impl) Seeds() []string {
    g.mu.Lock()
    defer g.mu.Unlock()
    if g.done {
        return append([]string(nil), g.cache...)
    }
    g.done = true
    seeds, err := g.resolve()
    if err != nil {
        logutil.Errorf(g.opts.Logger, "gossip: discovery failed: %v", err)
        return nil
    }
    g.cache = seeds
    return append([]string(nil), g.cache...)
}

// resolve joins the gossip pool, waits for it to settle, reads every
// member's advertised replication endpoint and leaves again.
func (g *impl) resolve() ([]string, error) {
    cfg := memberlist.DefaultLANConfig()
    cfg.Name = g.opts.NodeID
    host, portStr, err := net.SplitHostPort(g.opts.Bind)
    if err != nil {
        return nil, fmt.Errorf("gossip: invalid bind address %q: %w", g.opts.Bind, err)
    }
    port, err := parsePort(portStr)
    if err != nil {
        return nil, err
    }
    cfg.BindAddr = host
    cfg.BindPort = port
    if g.opts.Advertise != "" {
        ahost, aportStr, err := net.SplitHostPort(g.opts.Advertise)
        if err != nil {
            return nil, fmt.Errorf("gossip: invalid advertise address %q: %w", g.opts.Advertise, err)
        }
        aport, err := parsePort(aportStr)
        if err != nil {
            return nil, err
        }
        cfg.AdvertiseAddr = ahost
        cfg.AdvertisePort = aport
    }
    meta, _ := json.Marshal(map[string]string{"paxos": g.opts.Endpoint})
    cfg.Delegate = &nodeDelegate{meta: meta}

    ml, err := memberlist.Create(cfg)
    if err != nil {
        return nil, err
    }
    defer func() {
        _ = ml.Leave(time.Second)
        _ = ml.Shutdown()
    }()
    if len(g.opts.Join) > 0 {
        if _, err := ml.Join(g.opts.Join); err != nil {
            return nil, err
        }
    }
    time.Sleep(g.opts.Settle)

    var out []string
    for _, n := range ml.Members() {
        if len(n.Meta) == 0 {
            continue
        }
        m := map[string]string{}
        if json.Unmarshal(n.Meta, &m) != nil {
            continue
        }
        if ep := m["paxos"]; ep != "" && ep != g.opts.Endpoint {
            out = append(out, ep)
        }
    }
    sort.Strings(out)
    logutil.Infof(g.opts.Logger, "gossip: discovered %d quorum endpoints", len(out))
    return out, nil
}

func parsePort(s string) (int, error) {
    var p int
    _, err := fmt.Sscanf(s, "%d", &p)
    if err != nil || p < 0 || p > 65535 {
        return 0, fmt.Errorf("gossip: invalid port %q", s)
    }
    return p, nil
}

// nodeDelegate implements memberlist.Delegate to propagate the replication
// endpoint as node metadata.
type nodeDelegate struct{ meta []byte }

func (d *nodeDelegate) NodeMeta(limit int) []byte {
    if len(d.meta) <= limit {
        return d.meta
    }
    if limit <= 0 {
        return nil
    }
    return d.meta[:limit]
}

func (d *nodeDelegate) NotifyMsg([]byte)                       {}
func (d *nodeDelegate) GetBroadcasts(int, int) [][]byte        { return nil }
func (d *nodeDelegate) LocalState(join bool) []byte            { return nil }
func (d *nodeDelegate) MergeRemoteState(buf []byte, join bool) {}
