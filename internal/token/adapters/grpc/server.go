// Package grpc serves token resolution to relying parties over gRPC and
// provides the matching client. Messages are google.protobuf.Struct values,
// so no generated stubs are needed.
package grpc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"kycvault/internal/signature"
	"kycvault/internal/token/service"
	id "kycvault/pkg/domain"
	dErrors "kycvault/pkg/domain-errors"
	"kycvault/pkg/requestcontext"
)

const (
	serviceName = "kycvault.token.v1.TokenResolver"

	methodResolve = "/" + serviceName + "/Resolve"
	methodRevoke  = "/" + serviceName + "/Revoke"
	methodVerify  = "/" + serviceName + "/Verify"

	mdRequestID = "request-id"
	mdUserAgent = "user-agent"
	mdReason    = "deny-reason"
)

// TokenService is the subset of the token service exposed over gRPC.
type TokenService interface {
	Resolve(ctx context.Context, tokenID id.TokenID, requester string) (*service.Projection, error)
	Revoke(ctx context.Context, tokenID id.TokenID) error
	Verify(ctx context.Context, compact string) (signature.Payload, error)
}

// Server adapts TokenService to the TokenResolver gRPC service.
type Server struct {
	tokens TokenService
	logger *slog.Logger
}

func NewServer(tokens TokenService, logger *slog.Logger) *Server {
	return &Server{tokens: tokens, logger: logger}
}

// Register attaches the TokenResolver service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// Resolve expects {token_id, requester} and returns the scoped projection.
func (s *Server) Resolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctx = s.requestContext(ctx)
	tokenID, err := id.ParseTokenID(field(req, "token_id"))
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	proj, err := s.tokens.Resolve(ctx, tokenID, field(req, "requester"))
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	out := map[string]any{
		"profile_id":     proj.ProfileID,
		"canonical_name": proj.CanonicalName,
	}
	if proj.AddressHash != "" {
		out["address_hash"] = proj.AddressHash
	}
	if proj.DOB != "" {
		out["dob"] = proj.DOB
	}
	return structpb.NewStruct(out)
}

// Revoke expects {token_id}.
func (s *Server) Revoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctx = s.requestContext(ctx)
	tokenID, err := id.ParseTokenID(field(req, "token_id"))
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	if err := s.tokens.Revoke(ctx, tokenID); err != nil {
		return nil, toStatus(ctx, err)
	}
	return structpb.NewStruct(map[string]any{"ok": true})
}

// Verify expects {signature} and returns the decoded payload.
func (s *Server) Verify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctx = s.requestContext(ctx)
	p, err := s.tokens.Verify(ctx, field(req, "signature"))
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return structpb.NewStruct(map[string]any{
		"profile_id": p.ProfileID,
		"consent_id": p.ConsentID,
		"recipient":  p.Recipient,
		"issued_at":  p.IssuedAt.UTC().Format(time.RFC3339),
		"expires_at": p.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// requestContext copies incoming metadata into the request-scoped values the
// services read. The caller's address is set by the peer interceptor.
func (s *Server) requestContext(ctx context.Context) context.Context {
	ctx = requestcontext.WithTime(ctx, time.Now().UTC())
	md, _ := metadata.FromIncomingContext(ctx)
	if v := first(md, mdRequestID); v != "" {
		ctx = requestcontext.WithRequestID(ctx, v)
	}
	if ua := first(md, mdUserAgent); ua != "" && requestcontext.UserAgent(ctx) == "" {
		ctx = requestcontext.WithClientMetadata(ctx, requestcontext.ClientIP(ctx), ua)
	}
	return ctx
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func field(req *structpb.Struct, name string) string {
	if req == nil {
		return ""
	}
	return req.GetFields()[name].GetStringValue()
}

// toStatus maps domain codes onto gRPC codes. Policy denials carry their
// reason in the trailer so clients can rebuild the domain error.
func toStatus(ctx context.Context, err error) error {
	code := dErrors.CodeOf(err)
	msg := "internal error"
	var de *dErrors.Error
	if code != dErrors.CodeInternal && errors.As(err, &de) {
		msg = de.Message
	}
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvalidInput, dErrors.CodeInvalidRelation:
		return status.Error(codes.InvalidArgument, msg)
	case dErrors.CodeNotFound:
		return status.Error(codes.NotFound, msg)
	case dErrors.CodeExpired:
		return status.Error(codes.FailedPrecondition, msg)
	case dErrors.CodePolicyDenied:
		_ = grpc.SetTrailer(ctx, metadata.Pairs(mdReason, dErrors.ReasonOf(err)))
		return status.Error(codes.PermissionDenied, msg)
	case dErrors.CodeSignatureInvalid, dErrors.CodeUnauthorized:
		return status.Error(codes.Unauthenticated, msg)
	case dErrors.CodeRateLimited:
		return status.Error(codes.ResourceExhausted, msg)
	case dErrors.CodeConflict:
		return status.Error(codes.Aborted, msg)
	case dErrors.CodeTimeout:
		return status.Error(codes.DeadlineExceeded, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}

func unaryHandler(call func(*Server, context.Context, *structpb.Struct) (*structpb.Struct, error), method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(*Server), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(*Server), ctx, req.(*structpb.Struct))
		})
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Resolve", Handler: unaryHandler((*Server).Resolve, methodResolve)},
		{MethodName: "Revoke", Handler: unaryHandler((*Server).Revoke, methodRevoke)},
		{MethodName: "Verify", Handler: unaryHandler((*Server).Verify, methodVerify)},
	},
	Metadata: "kycvault/token/v1/resolver.proto",
}
