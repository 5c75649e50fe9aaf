package grpc

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "net"

    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/encoding"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"

    "github.com/mrwill84/go-paxos/pkg/mgmt"
    "github.com/mrwill84/go-paxos/pkg/observability/tracing"
)

// codecName is the content-subtype both halves of the management API agree
// on. The codec serializes the handful of management messages as plain JSON
// so the service needs no protobuf codegen.
const codecName = "paxosjson"

type mgmtCodec struct{}

func (mgmtCodec) Marshal(v interface{}) ([]byte, error)   { return json.Marshal(v) }
func (mgmtCodec) Unmarshal(b []byte, v interface{}) error { return json.Unmarshal(b, v) }
func (mgmtCodec) Name() string                            { return codecName }

func init() {
    encoding.RegisterCodec(mgmtCodec{})
}

// Server implements mgmt.Server over gRPC using a JSON codec.
type Server struct {
    bind   string
    lis    net.Listener
    srv    *grpc.Server
    tlsCfg *tls.Config
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// internal request/response types used over the gRPC JSON codec
type empty struct{}
type statusBlob struct {
    Data []byte `json:"data"`
}

// managementServer defines the methods we expose.
type managementServer interface {
    GetStatus(ctx context.Context, in *empty) (*statusBlob, error)
}

type mgmtImpl struct{ status mgmt.StatusFunc }

func (m *mgmtImpl) GetStatus(ctx context.Context, _ *empty) (*statusBlob, error) {
    ctx, end := tracing.StartSpan(ctx, "grpc.status")
    defer end()
    b, err := m.status(ctx)
    if err != nil {
        return nil, err
    }
    return &statusBlob{Data: b}, nil
}

// Service descriptor and handlers (hand-written, no codegen required)
var _Management_serviceDesc = grpc.ServiceDesc{
    ServiceName: "paxos.v1.Management",
    HandlerType: (*managementServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "GetStatus", Handler: _Management_GetStatus_Handler},
    },
}

func _Management_GetStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(empty)
    if err := dec(in); err != nil {
        return nil, err
    }
    if interceptor == nil {
        return srv.(managementServer).GetStatus(ctx, in)
    }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/paxos.v1.Management/GetStatus"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).GetStatus(ctx, req.(*empty))
    }
    return interceptor(ctx, in, info, handler)
}

// Start launches the gRPC server with the management service and the
// standard health service registered.
func (s *Server) Start(ctx context.Context, status mgmt.StatusFunc) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil {
        return err
    }
    s.lis = lis
    var opts []grpc.ServerOption
    if s.tlsCfg != nil {
        opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg)))
    }
    s.srv = grpc.NewServer(opts...)
    s.srv.RegisterService(&_Management_serviceDesc, &mgmtImpl{status: status})
    healthpb.RegisterHealthServer(s.srv, health.NewServer())

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() { _ = s.srv.Serve(lis) }()
    return nil
}

// Addr returns the configured bind address.
func (s *Server) Addr() string { return s.bind }

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) error {
    if s.srv == nil {
        return nil
    }
    s.srv.GracefulStop()
    s.srv = nil
    return nil
}

var _ mgmt.Server = (*Server)(nil)
