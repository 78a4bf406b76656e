package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tfiber/tera-assist/internal/domain"
)

// ServiceName is the gRPC service exposing the oracles. Requests and
// responses are google.protobuf.Struct messages.
const ServiceName = "tera.oracle.v1.Oracle"

const (
	methodCheckEligibility = "/" + ServiceName + "/CheckEligibility"
	methodAnswerFAQ        = "/" + ServiceName + "/AnswerFAQ"
	methodRetrieveContent  = "/" + ServiceName + "/RetrieveContent"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errNotServing               = errors.New("oracle service not serving")
)

// Remote calls oracles hosted by another process.
type Remote struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// DialRemote connects to a remote oracle service and waits until it is
// ready and reports SERVING.
func DialRemote(ctx context.Context, addr string, connectTimeout time.Duration, logger *slog.Logger, opts ...grpc.DialOption) (*Remote, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		return nil, fmt.Errorf("ORACLE_GRPC_ADDR is required for the grpc oracle backend")
	}
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    2 * time.Minute,
			Timeout: 10 * time.Second,
		}),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create oracle client for %s: %w", addr, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("oracle service at %s not ready: %w", addr, err)
	}

	r := &Remote{conn: conn, health: healthpb.NewHealthClient(conn), addr: addr, logger: logger}
	if err := r.Health(connectCtx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.Info("Connected to remote oracle service", "address", addr)
	return r, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (r *Remote) Close() error {
	if r.conn == nil {
		return nil
	}
	if err := r.conn.Close(); err != nil {
		return fmt.Errorf("close oracle connection: %w", err)
	}
	return nil
}

// Health checks the remote service health status.
func (r *Remote) Health(ctx context.Context) error {
	resp, err := r.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("oracle health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
	}
	return nil
}

func (r *Remote) call(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := &structpb.Struct{}
	if err := r.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, fmt.Errorf("invoke %s: %w", method, err)
	}
	return out, nil
}

// CheckEligibility implements EligibilityChecker.
func (r *Remote) CheckEligibility(ctx context.Context, location string) (domain.Eligibility, error) {
	out, err := r.call(ctx, methodCheckEligibility, map[string]any{"location": location})
	if err != nil {
		return domain.Eligibility{}, err
	}
	fields := out.GetFields()
	return domain.Eligibility{
		IsEligible: fields["isEligible"].GetBoolValue(),
		Details:    fields["details"].GetStringValue(),
	}, nil
}

// AnswerFAQ implements FAQAnswerer.
func (r *Remote) AnswerFAQ(ctx context.Context, query, faq string) (string, error) {
	out, err := r.call(ctx, methodAnswerFAQ, map[string]any{"query": query, "faq": faq})
	if err != nil {
		return "", err
	}
	return out.GetFields()["answer"].GetStringValue(), nil
}

// RetrieveContent implements ContentRetriever.
func (r *Remote) RetrieveContent(ctx context.Context, query string) (string, error) {
	out, err := r.call(ctx, methodRetrieveContent, map[string]any{"query": query})
	if err != nil {
		return "", err
	}
	return out.GetFields()["response"].GetStringValue(), nil
}

// Register exposes set on s under ServiceName together with a health
// service reporting SERVING.
func Register(s *grpc.Server, set *Set) {
	s.RegisterService(&serviceDesc, &server{set: set})

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
}

type oracleServer interface {
	handle(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error)
}

type server struct {
	set *Set
}

func (s *server) handle(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	str := func(key string) string { return fields[key].GetStringValue() }

	var out map[string]any
	switch method {
	case methodCheckEligibility:
		res, err := s.set.Eligibility.CheckEligibility(ctx, str("location"))
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		out = map[string]any{"isEligible": res.IsEligible, "details": res.Details}
	case methodAnswerFAQ:
		answer, err := s.set.FAQ.AnswerFAQ(ctx, str("query"), str("faq"))
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		out = map[string]any{"answer": answer}
	case methodRetrieveContent:
		response, err := s.set.Content.RetrieveContent(ctx, str("query"))
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		out = map[string]any{"response": response}
	default:
		return nil, status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}

	resp, err := structpb.NewStruct(out)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

func unaryHandler(method string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		impl := srv.(oracleServer)
		if interceptor == nil {
			return impl.handle(ctx, method, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return impl.handle(ctx, method, req.(*structpb.Struct))
		})
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*oracleServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckEligibility", Handler: unaryHandler(methodCheckEligibility)},
		{MethodName: "AnswerFAQ", Handler: unaryHandler(methodAnswerFAQ)},
		{MethodName: "RetrieveContent", Handler: unaryHandler(methodRetrieveContent)},
	},
	Metadata: "tera/oracle/v1/oracle.proto",
}
