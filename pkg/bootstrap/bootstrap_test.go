package bootstrap

import (
    "context"
    "io"
    "log"
    "net"
    "testing"
    "time"

    "github.com/stretchr/testify/require"
)

func freeEndpoint(t *testing.T) string {
    t.Helper()
    ln, err := net.Listen("tcp", "127.0.0.1:0")
    require.NoError(t, err)
    ep := ln.Addr().String()
    require.NoError(t, ln.Close())
    return ep
}

func TestBuild_Static(t *testing.T) {
    srv, err := Build(Config{
        Endpoint: "127.0.0.1:19001",
        PeersCSV: "127.0.0.1:19002,127.0.0.1:19003",
        Handler:  func(payload []byte) []byte { return payload },
        Logger:   log.New(io.Discard, "", 0),
    })
    require.NoError(t, err)
    require.NotNil(t, srv)
}

func TestBuild_RequiresHandler(t *testing.T) {
    _, err := Build(Config{Endpoint: "127.0.0.1:19001"})
    require.Error(t, err)
}

func TestRun_SingleNode(t *testing.T) {
    ep := freeEndpoint(t)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    srv, err := Run(ctx, Config{
        Endpoint:          ep,
        Handler:           func(payload []byte) []byte { return payload },
        HealthCheckPeriod: 200 * time.Millisecond,
        Logger:            log.New(io.Discard, "", 0),
    })
    require.NoError(t, err)
    defer srv.Close()
    require.True(t, srv.IsLeader())
}
