package client

import (
    "context"
    "net"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/mrwill84/go-paxos/pkg/command"
    "github.com/mrwill84/go-paxos/pkg/protocol"
    "github.com/mrwill84/go-paxos/pkg/transport"
)

func TestClient_RequiresEndpoints(t *testing.T) {
    _, err := New(Options{})
    require.Error(t, err)
}

func TestClient_SubmitAgainstUnreachableQuorum(t *testing.T) {
    ln, err := net.Listen("tcp", "127.0.0.1:0")
    require.NoError(t, err)
    endpoint := ln.Addr().String()
    require.NoError(t, ln.Close())

    c, err := New(Options{Endpoints: []string{endpoint}, DialTimeout: 200 * time.Millisecond})
    require.NoError(t, err)
    defer c.Close()

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    _, err = c.Submit(ctx, []byte("w"))
    require.Error(t, err)
}

// fakeLeader answers every request with an accepted echo.
func fakeLeader(t *testing.T) (string, func()) {
    t.Helper()
    ln, err := net.Listen("tcp", "127.0.0.1:0")
    require.NoError(t, err)
    go func() {
        for {
            nc, err := ln.Accept()
            if err != nil {
                return
            }
            go func(nc net.Conn) {
                conn := transport.New(nc)
                for {
                    cmd, err := conn.ReadCommand(0)
                    if err != nil {
                        _ = conn.Close()
                        return
                    }
                    if cmd.Type == command.TypeRequest {
                        _ = conn.WriteCommand(command.Command{Type: command.TypeAccepted, Workload: cmd.Workload})
                    }
                }
            }(nc)
        }
    }()
    return ln.Addr().String(), func() { _ = ln.Close() }
}

func TestClient_PipelinedFuturesResolveInOrder(t *testing.T) {
    endpoint, stop := fakeLeader(t)
    defer stop()

    c, err := New(Options{Endpoints: []string{endpoint}})
    require.NoError(t, err)
    defer c.Close()

    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()

    var futures []*Future
    for i := byte(0); i < 50; i++ {
        futures = append(futures, c.Go(ctx, []byte{i}))
    }
    for i, f := range futures {
        out, err := f.Wait(ctx)
        require.NoError(t, err)
        require.Equal(t, []byte{byte(i)}, out)
    }
}

func TestClient_ErrorCommandMapsToSentinel(t *testing.T) {
    ln, err := net.Listen("tcp", "127.0.0.1:0")
    require.NoError(t, err)
    defer ln.Close()
    go func() {
        nc, err := ln.Accept()
        if err != nil {
            return
        }
        conn := transport.New(nc)
        for {
            cmd, err := conn.ReadCommand(0)
            if err != nil {
                return
            }
            if cmd.Type == command.TypeRequest {
                _ = conn.WriteCommand(command.Command{Type: command.TypeError, Error: command.ErrorIncorrectProposal})
            }
        }
    }()

    c, err := New(Options{Endpoints: []string{ln.Addr().String()}})
    require.NoError(t, err)
    defer c.Close()

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    _, err = c.Go(ctx, []byte("w")).Wait(ctx)
    require.ErrorIs(t, err, protocol.ErrIncorrectProposal)
}
