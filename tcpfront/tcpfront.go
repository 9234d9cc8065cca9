// Package tcpfront implements the TCP surface of §6: the wire
// Command/Outcome envelope (the operations httpfront maps to REST routes),
// carried over a single gRPC unary RPC with a raw-bytes codec (no protoc-generated
// stubs — the envelope is already self-describing, so gRPC here supplies
// framing, the codec plugin point, and middleware, not message schemas).
// Like httpfront, this is an external-collaborator contract: the engine
// never depends on it.
package tcpfront

import (
	"context"
	"net"

	"github.com/ethereum/go-ethereum/log"
	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"github.com/ledgerwatch/immuxdb/command"
	"github.com/ledgerwatch/immuxdb/executor"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// codecName is negotiated as the content-type subtype
// (application/grpc+immuxraw); a client
// dialing with grpc.CallContentSubtype(codecName) gets raw []byte framing
// instead of protobuf.
const codecName = "immuxraw"

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// rawCodec marshals/unmarshals the wire envelope bytes verbatim — no
// schema, since Command/Outcome already self-describe via their tag
// bytes.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	return v.(*rawMessage).data, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	v.(*rawMessage).data = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string { return codecName }

type rawMessage struct{ data []byte }

// Server wraps an Executor and exposes it over gRPC as a single Execute
// unary RPC carrying the Command/Outcome envelope.
type Server struct {
	executor *executor.Executor
	grpc     *grpc.Server
	logger   log.Logger
}

// New builds the gRPC server, with a logging interceptor chained through
// grpc-middleware.
func New(x *executor.Executor) *Server {
	s := &Server{executor: x, logger: log.New("module", "tcpfront")}

	s.grpc = grpc.NewServer(
		grpc.UnaryInterceptor(grpcmiddleware.ChainUnaryServer(s.loggingInterceptor)),
	)
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

func (s *Server) loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	s.logger.Debug("tcp command received", "method", info.FullMethod)
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Warn("tcp command failed", "method", info.FullMethod, "err", err)
	}
	return resp, err
}

// Serve accepts connections on lis and blocks until the server stops.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() { s.grpc.GracefulStop() }

// Execute decodes a Command from raw, runs it through the executor, and
// re-encodes the resulting Outcome — the single RPC method this service
// exposes.
func (s *Server) Execute(ctx context.Context, raw []byte) ([]byte, error) {
	cmd, _, err := command.Parse(raw)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "tcpfront: parse command: %v", err)
	}

	out, err := s.executor.Execute(ctx, cmd)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "tcpfront: %v", err)
	}
	return out.Marshal(), nil
}

func executeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(rawMessage)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		data, err := srv.(*Server).Execute(ctx, req.(*rawMessage).data)
		if err != nil {
			return nil, err
		}
		return &rawMessage{data: data}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/immuxdb.Store/Execute"}
	return interceptor(ctx, in, info, handler)
}

// serviceDesc is the hand-written equivalent of a protoc-gen-go-grpc
// ServiceDesc for a service with one unary RPC, Execute(bytes) bytes.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "immuxdb.Store",
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tcpfront/store.proto",
}
