package grpc

import (
    "context"
    "net"
    "testing"
    "time"

    "github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
    t.Helper()
    ln, err := net.Listen("tcp", "127.0.0.1:0")
    require.NoError(t, err)
    addr := ln.Addr().String()
    require.NoError(t, ln.Close())
    return addr
}

func TestGRPC_GetStatus(t *testing.T) {
    addr := freeAddr(t)
    srv := NewServer(addr)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    payload := []byte(`{"healthy":true}`)
    require.NoError(t, srv.Start(ctx, func(context.Context) ([]byte, error) { return payload, nil }))
    defer srv.Stop(context.Background())

    cli := NewClient(2 * time.Second)
    defer cli.Close()

    out, err := cli.GetStatus(ctx, addr)
    require.NoError(t, err)
    require.JSONEq(t, string(payload), string(out))

    require.NoError(t, cli.Health(ctx, addr))
}
