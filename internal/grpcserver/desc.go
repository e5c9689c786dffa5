package grpcserver

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"jobmate/recommender-service/internal/auth"
	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/service"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "jobmate.recommender.v1.RecommenderService"

// RecommenderServer is the server API of ServiceName.
type RecommenderServer interface {
	ListSources(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RegisterSource(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateSource(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSource(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ScanSource(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ScanAll(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListScanHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpsertPostings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPostings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Recommend(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRecommendationHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpsertProfile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetProfile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListProfiles(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteProfile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IssueToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTokens(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RevokeToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAuditEvents(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var _ RecommenderServer = (*Server)(nil)

type rpc func(RecommenderServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// methods maps each RPC to its core operation; the operation decides the
// scope the auth interceptor checks.
var methods = []struct {
	name string
	op   service.Operation
	call rpc
}{
	{"ListSources", service.OpListSources, RecommenderServer.ListSources},
	{"RegisterSource", service.OpRegisterSource, RecommenderServer.RegisterSource},
	{"UpdateSource", service.OpUpdateSource, RecommenderServer.UpdateSource},
	{"GetSource", service.OpGetSource, RecommenderServer.GetSource},
	{"ScanSource", service.OpScanSource, RecommenderServer.ScanSource},
	{"ScanAll", service.OpScanAll, RecommenderServer.ScanAll},
	{"ListScanHistory", service.OpListScanHistory, RecommenderServer.ListScanHistory},
	{"UpsertPostings", service.OpUpsertPostings, RecommenderServer.UpsertPostings},
	{"ListPostings", service.OpListPostings, RecommenderServer.ListPostings},
	{"Recommend", service.OpRecommend, RecommenderServer.Recommend},
	{"ListRecommendationHistory", service.OpListRecommendation, RecommenderServer.ListRecommendationHistory},
	{"UpsertProfile", service.OpUpsertProfile, RecommenderServer.UpsertProfile},
	{"GetProfile", service.OpGetProfile, RecommenderServer.GetProfile},
	{"ListProfiles", service.OpListProfiles, RecommenderServer.ListProfiles},
	{"DeleteProfile", service.OpDeleteProfile, RecommenderServer.DeleteProfile},
	{"IssueToken", service.OpIssueToken, RecommenderServer.IssueToken},
	{"ListTokens", service.OpListTokens, RecommenderServer.ListTokens},
	{"RevokeToken", service.OpRevokeToken, RecommenderServer.RevokeToken},
	{"ListAuditEvents", service.OpListAuditEvents, RecommenderServer.ListAuditEvents},
}

// FullMethod returns "/<service>/<method>".
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

func serviceDesc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*RecommenderServer)(nil),
		Metadata:    "recommender.proto",
	}
	for _, m := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.name,
			Handler:    unaryHandler(FullMethod(m.name), m.call),
		})
	}
	return desc
}

func unaryHandler(fullMethod string, call rpc) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RecommenderServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RecommenderServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Register mounts s on gs.
func Register(gs *grpc.Server, s RecommenderServer) {
	gs.RegisterService(serviceDesc(), s)
}

// New returns a grpc.Server with s registered behind the scope interceptor.
func New(s *Server) *grpc.Server {
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(
		recoverInterceptor(s.log),
		authInterceptor(s.svc),
	))
	Register(gs, s)
	return gs
}

// authInterceptor checks the x-api-key metadata against the scope the
// method's operation requires and audits scoped calls. The request id and
// audit event id go back as response headers.
func authInterceptor(svc *service.Service) grpc.UnaryServerInterceptor {
	ops := make(map[string]service.Operation, len(methods))
	for _, m := range methods {
		ops[FullMethod(m.name)] = m.op
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		op, ok := ops[info.FullMethod]
		if !ok || !service.Audited(op) {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		requestID := first(md, "x-request-id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		eventID := uuid.NewString()
		_ = grpc.SetHeader(ctx, metadata.Pairs("x-request-id", requestID, "x-audit-event-id", eventID))

		var (
			resp any
			err  error
		)
		p, authErr := svc.Authorize(ctx, first(md, "x-api-key"), op)
		switch {
		case errors.Is(authErr, auth.ErrUnauthenticated):
			err = status.Error(codes.Unauthenticated, authErr.Error())
		case errors.Is(authErr, auth.ErrForbidden):
			err = status.Error(codes.PermissionDenied, authErr.Error())
		case authErr != nil:
			err = toGRPCError(authErr)
		default:
			resp, err = handler(ctx, req)
		}

		svc.RecordAudit(context.WithoutCancel(ctx), model.AuditEvent{
			EventID:    eventID,
			RequestID:  requestID,
			Action:     string(op),
			Status:     auditStatus(status.Code(err)),
			Actor:      p.Name,
			Transport:  "grpc",
			Method:     info.FullMethod,
			StatusCode: int(status.Code(err)),
		})
		return resp, err
	}
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func auditStatus(code codes.Code) model.AuditStatus {
	switch code {
	case codes.OK:
		return model.AuditOK
	case codes.Unauthenticated:
		return model.AuditUnauthorized
	case codes.PermissionDenied:
		return model.AuditForbidden
	case codes.Internal, codes.Unavailable, codes.Unknown:
		return model.AuditError
	default:
		return model.AuditRejected
	}
}

func recoverInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("rpc panic", zap.String("method", info.FullMethod), zap.Any("panic", r))
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
