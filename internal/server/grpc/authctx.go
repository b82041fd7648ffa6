package grpcserver

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/and161185/sonickeeper/internal/session"
)

var errNoBearer = errors.New("no bearer token")

// AuthUnary resolves "authorization: Bearer <JWT>" into a session identity.
// Calls without a token proceed anonymously; handlers decide what that allows.
func AuthUnary(p session.Provider) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		tok, err := bearerTokenFromMD(ctx)
		if err != nil {
			return next(session.WithIdentity(ctx, session.Anonymous), req)
		}
		id, err := p.Authenticate(ctx, tok)
		if err != nil {
			return nil, toStatus(err)
		}
		return next(session.WithIdentity(ctx, id), req)
	}
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errNoBearer
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errNoBearer
}
