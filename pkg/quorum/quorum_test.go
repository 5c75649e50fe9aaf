package quorum

import (
    "testing"

    "github.com/google/uuid"
    "github.com/stretchr/testify/require"
)

func TestQuorum_InsertionOrderAndDedup(t *testing.T) {
    q := New("127.0.0.1:1", []string{
        "127.0.0.1:2", "127.0.0.1:3", "127.0.0.1:2", "127.0.0.1:1", "",
    })
    require.Equal(t, 2, q.Size())
    peers := q.Peers()
    require.Equal(t, "127.0.0.1:2", peers[0].Endpoint)
    require.Equal(t, "127.0.0.1:3", peers[1].Endpoint)
}

func TestQuorum_SelfIdentityStable(t *testing.T) {
    q := New("127.0.0.1:1", nil)
    self := q.Self()
    require.NotEqual(t, uuid.Nil, self.ID)
    require.Equal(t, self.ID, q.Self().ID)
    require.Equal(t, StateUnknown, self.State)
}

func TestQuorum_Lookup(t *testing.T) {
    q := New("127.0.0.1:1", []string{"127.0.0.1:2"})
    require.NotNil(t, q.Lookup("127.0.0.1:2"))
    require.Nil(t, q.Lookup("127.0.0.1:9"))
}

func TestQuorum_LeadershipTransitions(t *testing.T) {
    q := New("127.0.0.1:1", nil)
    require.False(t, q.WeAreTheLeader())
    q.AdjustSelfState(StateLeader)
    require.True(t, q.WeAreTheLeader())
    q.AdjustSelfState(StateFollower)
    require.False(t, q.WeAreTheLeader())
}

func TestQuorum_PeerStateAndIdentity(t *testing.T) {
    q := New("127.0.0.1:1", []string{"127.0.0.1:2"})
    id := uuid.New()
    q.SetPeerIdentity("127.0.0.1:2", id)
    q.SetPeerState("127.0.0.1:2", StateFollower)

    p := q.Lookup("127.0.0.1:2")
    require.Equal(t, id, p.ID)
    require.Equal(t, StateFollower, p.State)
    require.True(t, p.HasIdentity())
    require.True(t, p.Alive())

    q.SetPeerState("127.0.0.1:2", StateDead)
    require.False(t, q.Lookup("127.0.0.1:2").Alive())
    require.Equal(t, 0, q.AliveCount())
}

func TestQuorum_Snapshot(t *testing.T) {
    q := New("127.0.0.1:1", []string{"127.0.0.1:2"})
    q.AdjustSelfState(StateLeader)
    self, peers := q.Snapshot()
    require.Equal(t, "leader", self.State)
    require.Len(t, peers, 1)
    require.Equal(t, "unknown", peers[0].State)
    require.False(t, peers[0].Connected)
    require.Empty(t, peers[0].ID)
}

func TestParseState(t *testing.T) {
    for _, s := range []State{StateUnknown, StateLeader, StateFollower, StateDead} {
        got, err := ParseState(s.String())
        require.NoError(t, err)
        require.Equal(t, s, got)
    }
    _, err := ParseState("bogus")
    require.Error(t, err)
}
