package command

// Type enumerates the closed set of protocol commands exchanged within the
// quorum and with clients.
type Type string

const (
    // TypeHandshakeStart opens the identity exchange with a freshly dialed peer.
    TypeHandshakeStart Type = "handshake_start"
    // TypeHandshakeResponse carries the responder's identity, endpoint and state.
    TypeHandshakeResponse Type = "handshake_response"
    // TypeLeaderClaim announces the sender considers itself the elected leader.
    TypeLeaderClaim Type = "leader_claim"
    // TypeRequest is a client-submitted workload.
    TypeRequest Type = "request"
    TypePrepare  Type = "prepare"
    TypePromise  Type = "promise"
    TypeFail     Type = "fail"
    TypeAccept   Type = "accept"
    TypeAccepted Type = "accepted"
    // TypeError carries a protocol error back to a client.
    TypeError Type = "error"
)

// ErrorKind identifies the protocol error carried by a TypeError command.
type ErrorKind string

const (
    ErrorIncorrectProposal    ErrorKind = "incorrect_proposal"
    ErrorInconsistentResponse ErrorKind = "inconsistent_response"
    ErrorPeerUnreachable      ErrorKind = "peer_unreachable"
)

// Command is the on-wire unit. Optional fields are populated only for the
// relevant types. The codec handles serialization and versioning; framing is
// done by pkg/transport.
type Command struct {
    Version    int    `json:"v"`
    Type       Type   `json:"type"`
    ProposalID uint64 `json:"proposalId,omitempty"`
    Workload   []byte `json:"workload,omitempty"`

    // Handshake / election fields.
    HostID       string `json:"hostId,omitempty"`
    HostEndpoint string `json:"hostEndpoint,omitempty"`
    HostState    string `json:"hostState,omitempty"`

    Error ErrorKind `json:"error,omitempty"`
}

func known(t Type) bool {
    switch t {
    case TypeHandshakeStart, TypeHandshakeResponse, TypeLeaderClaim,
        TypeRequest, TypePrepare, TypePromise, TypeFail, TypeAccept,
        TypeAccepted, TypeError:
        return true
    }
    return false
}
