package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    QuorumPeers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_paxos",
        Name:      "quorum_peers_total",
        Help:      "Number of configured peers in the quorum (excluding self)",
    })

    PeersAlive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_paxos",
        Name:      "peers_alive",
        Help:      "Number of peers currently considered alive",
    })

    IsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_paxos",
        Name:      "is_leader",
        Help:      "1 if this node is the leader, else 0",
    })

    LeaderElections = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_paxos",
        Name:      "leader_elections_total",
        Help:      "Total number of leader elections run on this node",
    })

    ProposalID = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_paxos",
        Name:      "proposal_id",
        Help:      "Current value of the local proposal counter",
    })

    RoundsStarted = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_paxos",
        Subsystem: "rounds",
        Name:      "started_total",
        Help:      "Total number of replication rounds started (leader side)",
    })
    RoundsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_paxos",
        Subsystem: "rounds",
        Name:      "completed_total",
        Help:      "Total number of replication rounds finished, by result",
    }, []string{"result"})

    HandshakeAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_paxos",
        Subsystem: "handshake",
        Name:      "attempts_total",
        Help:      "Total handshake attempts, by result",
    }, []string{"result"})

    WorkloadInvocations = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_paxos",
        Name:      "workload_invocations_total",
        Help:      "Total number of workload handler invocations on this node",
    })

    CommandsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_paxos",
        Name:      "commands_received_total",
        Help:      "Total inbound protocol commands dispatched, by type",
    }, []string{"type"})

    CommandsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_paxos",
        Name:      "commands_written_total",
        Help:      "Total outbound protocol commands written, by type",
    }, []string{"type"})

    ConnectionsDropped = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_paxos",
        Name:      "connections_dropped_total",
        Help:      "Total connections dropped due to read, write or framing failures",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(QuorumPeers)
        prometheus.MustRegister(PeersAlive)
        prometheus.MustRegister(IsLeader)
        prometheus.MustRegister(LeaderElections)
        prometheus.MustRegister(ProposalID)
        prometheus.MustRegister(RoundsStarted)
        prometheus.MustRegister(RoundsCompleted)
        prometheus.MustRegister(HandshakeAttempts)
        prometheus.MustRegister(WorkloadInvocations)
        prometheus.MustRegister(CommandsReceived)
        prometheus.MustRegister(CommandsWritten)
        prometheus.MustRegister(ConnectionsDropped)
    })
}
