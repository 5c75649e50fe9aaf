package client

import (
    "context"
    "errors"
    "log"
    "sync"
    "time"

    "github.com/mrwill84/go-paxos/pkg/command"
    "github.com/mrwill84/go-paxos/pkg/internal/logutil"
    "github.com/mrwill84/go-paxos/pkg/protocol"
    "github.com/mrwill84/go-paxos/pkg/transport"
)

// Options configures a client.
type Options struct {
    // Endpoints lists the quorum nodes the client may submit to. The client
    // hunts for the leader by rotating through them.
    Endpoints []string
    // DialTimeout bounds connection establishment (default 3s).
    DialTimeout time.Duration
    // Logger is optional.
    Logger *log.Logger
}

// Result is the outcome of one submitted workload.
type Result struct {
    Payload []byte
    Err     error
}

// Future resolves to the response of a workload submitted with Go. Requests
// are pipelined: many futures may be outstanding on one connection and they
// resolve in submission order.
type Future struct {
    ch chan Result
}

// Wait blocks until the response arrives or ctx is done.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case res := <-f.ch:
        return res.Payload, res.Err
    }
}

func resolved(err error) *Future {
    f := &Future{ch: make(chan Result, 1)}
    f.ch <- Result{Err: err}
    return f
}

// Client submits opaque workloads to the quorum leader and returns the
// replicated handler result. It keeps a single connection and pipelines
// requests over it; responses are matched first-in-first-out.
type Client struct {
    opts Options
    log  *log.Logger

    mu      sync.Mutex
    conn    *transport.Conn
    next    int
    pending []*Future
    closed  bool
}

// New constructs a client. No connection is opened until the first submit.
func New(opts Options) (*Client, error) {
    if len(opts.Endpoints) == 0 {
        return nil, errors.New("client: no endpoints")
    }
    if opts.DialTimeout <= 0 {
        opts.DialTimeout = 3 * time.Second
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    return &Client{opts: opts, log: opts.Logger}, nil
}

// Go submits a workload and returns a future for its response. The caller
// must Wait on the future; errors (including connection failures) resolve it.
func (c *Client) Go(ctx context.Context, payload []byte) *Future {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.closed {
        return resolved(errors.New("client: closed"))
    }
    if c.conn == nil {
        if err := c.connectLocked(); err != nil {
            return resolved(err)
        }
    }
    f := &Future{ch: make(chan Result, 1)}
    c.pending = append(c.pending, f)
    cmd := command.Command{Type: command.TypeRequest, Workload: payload}
    if err := c.conn.WriteCommand(cmd); err != nil {
        c.dropConnLocked(err)
        return f
    }
    return f
}

// Submit sends one workload and blocks for its response. When the contacted
// node is not the leader or is unreachable, the client rotates to the next
// endpoint and retries until it has visited the whole quorum twice.
func (c *Client) Submit(ctx context.Context, payload []byte) ([]byte, error) {
    var lastErr error
    attempts := 2 * len(c.opts.Endpoints)
    for i := 0; i < attempts; i++ {
        out, err := c.Go(ctx, payload).Wait(ctx)
        if err == nil {
            return out, nil
        }
        if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
            return nil, err
        }
        lastErr = err
        if errors.Is(err, protocol.ErrInconsistentResponse) {
            // Retrying cannot help a non-deterministic handler.
            return nil, err
        }
        logutil.Warnf(c.log, "client: submit failed (%v), rotating endpoint", err)
        c.rotate()
    }
    return nil, lastErr
}

// Close drops the connection and fails outstanding futures.
func (c *Client) Close() error {
    c.mu.Lock()
    defer c.mu.Unlock()
    c.closed = true
    c.dropConnLocked(errors.New("client: closed"))
    return nil
}

// rotate abandons the current connection so the next submit dials the next
// endpoint.
func (c *Client) rotate() {
    c.mu.Lock()
    defer c.mu.Unlock()
    c.next = (c.next + 1) % len(c.opts.Endpoints)
    c.dropConnLocked(protocol.ErrPeerUnreachable)
}

// connectLocked dials endpoints starting at the rotation cursor until one
// accepts, then starts the response reader for that connection.
func (c *Client) connectLocked() error {
    var lastErr error
    for i := 0; i < len(c.opts.Endpoints); i++ {
        ep := c.opts.Endpoints[(c.next+i)%len(c.opts.Endpoints)]
        conn, err := transport.Dial(ep, c.opts.DialTimeout)
        if err != nil {
            lastErr = err
            continue
        }
        c.next = (c.next + i) % len(c.opts.Endpoints)
        c.conn = conn
        go c.readLoop(conn)
        return nil
    }
    if lastErr == nil {
        lastErr = protocol.ErrPeerUnreachable
    }
    return lastErr
}

func (c *Client) readLoop(conn *transport.Conn) {
    for {
        cmd, err := conn.ReadCommand(0)
        if err != nil {
            c.mu.Lock()
            if c.conn == conn {
                c.dropConnLocked(err)
            }
            c.mu.Unlock()
            return
        }
        c.dispatch(conn, cmd)
    }
}

// dispatch resolves the oldest pending future with the received command.
func (c *Client) dispatch(conn *transport.Conn, cmd command.Command) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.conn != conn || len(c.pending) == 0 {
        return
    }
    f := c.pending[0]
    c.pending = c.pending[1:]
    switch cmd.Type {
    case command.TypeAccepted:
        f.ch <- Result{Payload: cmd.Workload}
    case command.TypeError:
        f.ch <- Result{Err: protocol.ErrorFor(cmd.Error)}
    default:
        f.ch <- Result{Err: errors.New("client: unexpected reply " + string(cmd.Type))}
    }
}

// dropConnLocked closes the connection and fails every outstanding future.
func (c *Client) dropConnLocked(err error) {
    if c.conn != nil {
        _ = c.conn.Close()
        c.conn = nil
    }
    if err == nil {
        err = protocol.ErrPeerUnreachable
    }
    for _, f := range c.pending {
        f.ch <- Result{Err: err}
    }
    c.pending = nil
}
