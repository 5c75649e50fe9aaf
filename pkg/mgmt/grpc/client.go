package grpc

import (
    "context"
    "crypto/tls"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"

    "github.com/mrwill84/go-paxos/pkg/mgmt"
)

// Client implements mgmt.Client over gRPC with the JSON codec. Connections
// are cached per address and reused across calls.
type Client struct {
    timeout time.Duration
    tlsCfg  *tls.Config

    mu    sync.Mutex
    conns map[string]*grpc.ClientConn
}

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 {
        timeout = 3 * time.Second
    }
    return &Client{timeout: timeout, conns: make(map[string]*grpc.ClientConn)}
}

// UseTLS enables TLS for outbound connections.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) conn(addr string) (*grpc.ClientConn, error) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if cc, ok := c.conns[addr]; ok {
        return cc, nil
    }
    creds := insecure.NewCredentials()
    if c.tlsCfg != nil {
        creds = credentials.NewTLS(c.tlsCfg)
    }
    cc, err := grpc.NewClient(addr,
        grpc.WithTransportCredentials(creds),
        grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
    )
    if err != nil {
        return nil, err
    }
    c.conns[addr] = cc
    return cc, nil
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    cc, err := c.conn(addr)
    if err != nil {
        return nil, err
    }
    ctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    out := new(statusBlob)
    if err := cc.Invoke(ctx, "/paxos.v1.Management/GetStatus", new(empty), out); err != nil {
        return nil, err
    }
    return out.Data, nil
}

func (c *Client) Health(ctx context.Context, addr string) error {
    cc, err := c.conn(addr)
    if err != nil {
        return err
    }
    ctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    _, err = healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{})
    return err
}

// Close releases all cached connections.
func (c *Client) Close() error {
    c.mu.Lock()
    defer c.mu.Unlock()
    for addr, cc := range c.conns {
        _ = cc.Close()
        delete(c.conns, addr)
    }
    return nil
}

var _ mgmt.Client = (*Client)(nil)
