package protocol

import (
    "errors"

    "github.com/mrwill84/go-paxos/pkg/command"
)

var (
    // ErrNotLeader names the not-leader condition. Nothing in this package
    // returns it: a request that reaches a node that is not the leader is
    // refused on the wire with incorrect_proposal (ErrIncorrectProposal).
    ErrNotLeader = errors.New("protocol: not leader")
    // ErrIncorrectProposal indicates a request reached a node that is not the
    // leader, or a round was rejected because of a stale proposal id (usually
    // two nodes briefly believed they were leader). Clients should retry
    // after the next health check.
    ErrIncorrectProposal = errors.New("protocol: incorrect proposal")
    // ErrInconsistentResponse indicates the quorum returned distinct results
    // for the same accepted workload (non-deterministic handler or corruption).
    ErrInconsistentResponse = errors.New("protocol: inconsistent response")
    // ErrPeerUnreachable indicates a round was aborted because a participant
    // stopped responding.
    ErrPeerUnreachable = errors.New("protocol: peer unreachable")
    // ErrEndpointMismatch indicates a handshake responder reported an endpoint
    // other than the one dialed; the quorum configuration is wrong.
    ErrEndpointMismatch = errors.New("protocol: handshake endpoint mismatch")
)

// ErrorFor maps an on-wire error kind to its sentinel error.
func ErrorFor(kind command.ErrorKind) error {
    switch kind {
    case command.ErrorIncorrectProposal:
        return ErrIncorrectProposal
    case command.ErrorInconsistentResponse:
        return ErrInconsistentResponse
    case command.ErrorPeerUnreachable:
        return ErrPeerUnreachable
    }
    return errors.New("protocol: " + string(kind))
}
