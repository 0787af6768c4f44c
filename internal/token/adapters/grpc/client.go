package grpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"kycvault/internal/signature"
	"kycvault/internal/token/service"
	id "kycvault/pkg/domain"
	dErrors "kycvault/pkg/domain-errors"
	"kycvault/pkg/requestcontext"
)

// Client calls a remote TokenResolver and translates its statuses back into
// domain errors, so callers can treat it like a local token service.
type Client struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

// Dial connects to a resolver at addr.
func Dial(addr string, timeout time.Duration, opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	// TODO: use TLS credentials once relying parties are onboarded with certificates
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to token resolver: %w", err)
	}
	return NewClient(conn, timeout), conn, nil
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface, timeout time.Duration) *Client {
	return &Client{conn: conn, timeout: timeout}
}

func (c *Client) Resolve(ctx context.Context, tokenID id.TokenID, requester string) (*service.Projection, error) {
	out, err := c.invoke(ctx, methodResolve, map[string]any{
		"token_id":  tokenID.String(),
		"requester": requester,
	})
	if err != nil {
		return nil, err
	}
	return &service.Projection{
		ProfileID:     field(out, "profile_id"),
		CanonicalName: field(out, "canonical_name"),
		AddressHash:   field(out, "address_hash"),
		DOB:           field(out, "dob"),
	}, nil
}

func (c *Client) Revoke(ctx context.Context, tokenID id.TokenID) error {
	_, err := c.invoke(ctx, methodRevoke, map[string]any{"token_id": tokenID.String()})
	return err
}

func (c *Client) Verify(ctx context.Context, compact string) (signature.Payload, error) {
	out, err := c.invoke(ctx, methodVerify, map[string]any{"signature": compact})
	if err != nil {
		return signature.Payload{}, err
	}
	issuedAt, err := time.Parse(time.RFC3339, field(out, "issued_at"))
	if err != nil {
		return signature.Payload{}, dErrors.Wrap(err, dErrors.CodeInternal, "malformed issued_at")
	}
	expiresAt, err := time.Parse(time.RFC3339, field(out, "expires_at"))
	if err != nil {
		return signature.Payload{}, dErrors.Wrap(err, dErrors.CodeInternal, "malformed expires_at")
	}
	return signature.Payload{
		ProfileID: field(out, "profile_id"),
		ConsentID: field(out, "consent_id"),
		Recipient: field(out, "recipient"),
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

func (c *Client) invoke(ctx context.Context, method string, in map[string]any) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx = addMetadata(ctx)

	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode request")
	}
	out := new(structpb.Struct)
	var trailer metadata.MD
	if err := c.conn.Invoke(ctx, method, req, out, grpc.Trailer(&trailer)); err != nil {
		return nil, mapGRPCError(err, trailer)
	}
	return out, nil
}

func addMetadata(ctx context.Context) context.Context {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, mdRequestID, requestID)
	}
	return ctx
}

func mapGRPCError(err error, trailer metadata.MD) error {
	st, ok := status.FromError(err)
	if !ok {
		return dErrors.Wrap(err, dErrors.CodeInternal, "token resolver call failed")
	}

	switch st.Code() {
	case codes.InvalidArgument:
		return dErrors.New(dErrors.CodeValidation, st.Message())
	case codes.NotFound:
		return dErrors.New(dErrors.CodeNotFound, st.Message())
	case codes.FailedPrecondition:
		return dErrors.New(dErrors.CodeExpired, st.Message())
	case codes.PermissionDenied:
		return dErrors.Denied(first(trailer, mdReason))
	case codes.Unauthenticated:
		return dErrors.New(dErrors.CodeSignatureInvalid, st.Message())
	case codes.ResourceExhausted:
		return dErrors.New(dErrors.CodeRateLimited, st.Message())
	case codes.DeadlineExceeded:
		return dErrors.Wrap(err, dErrors.CodeTimeout, "token resolver timeout")
	case codes.Unavailable:
		return dErrors.Wrap(err, dErrors.CodeInternal, "token resolver unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, st.Message())
	}
}
