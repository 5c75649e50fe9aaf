package mgmt

import "context"

// StatusFunc returns a JSON-encoded status payload for the management
// /status surface. Using []byte avoids import cycles on server types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// Server exposes the read-only management endpoints (status, health,
// metrics) for operators and tooling. The replication path never depends on
// it.
type Server interface {
    Start(ctx context.Context, status StatusFunc) error
    Addr() string
    Stop(ctx context.Context) error
}

// Client performs management calls against other nodes using the chosen
// protocol (HTTP/JSON or gRPC JSON codec).
type Client interface {
    GetStatus(ctx context.Context, addr string) ([]byte, error)
    Health(ctx context.Context, addr string) error
}
