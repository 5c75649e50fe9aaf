package gossip

import (
    "testing"

    "github.com/stretchr/testify/require"
)

func TestGossip_OptionsValidated(t *testing.T) {
    _, err := New(Options{})
    require.Error(t, err)
    _, err = New(Options{NodeID: "n1"})
    require.Error(t, err)
    _, err = New(Options{NodeID: "n1", Bind: "127.0.0.1:0"})
    require.Error(t, err)

    d, err := New(Options{NodeID: "n1", Bind: "127.0.0.1:0", Endpoint: "127.0.0.1:1337"})
    require.NoError(t, err)
    require.NotNil(t, d)
}

func TestGossip_LonePoolSeesNoPeers(t *testing.T) {
    d, err := New(Options{NodeID: "lone", Bind: "127.0.0.1:0", Endpoint: "127.0.0.1:1337"})
    require.NoError(t, err)
    // A pool of one discovers nobody besides itself.
    require.Empty(t, d.Seeds())
    // The result is memoized; the pool is not consulted again.
    require.Empty(t, d.Seeds())
}
