package grpcserver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

func TestLoggingUnary_LevelsAndFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ic := LoggingUnary(zap.New(core))
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod("ListUsers")}

	resp, err := ic(ctx, &Empty{}, info, func(context.Context, any) (any, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "ok", resp)

	denied := status.Error(codes.PermissionDenied, "There's nothing much to see here.")
	_, err = ic(ctx, &Empty{}, info, func(context.Context, any) (any, error) { return nil, denied })
	require.Equal(t, denied, err)

	_, err = ic(ctx, &Empty{}, info, func(context.Context, any) (any, error) { return nil, status.Error(codes.Unavailable, "db down") })
	require.Equal(t, codes.Unavailable, status.Code(err))

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
	require.Equal(t, zapcore.ErrorLevel, entries[2].Level)

	f := entries[1].ContextMap()
	require.Equal(t, "ListUsers", f["method"])
	require.Equal(t, "PermissionDenied", f["code"])
	require.Equal(t, "127.0.0.1", f["peer"])
	require.Equal(t, "There's nothing much to see here.", f["reason"])
	require.NotContains(t, entries[0].ContextMap(), "reason")
}

func TestLoggingUnary_PlainErrorIsUnknown(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ic := LoggingUnary(zap.New(core))
	wantErr := errors.New("boom")

	_, err := ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "Bare"},
		func(context.Context, any) (any, error) { return nil, wantErr })
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, 1, logs.Len())
	require.Equal(t, zapcore.ErrorLevel, logs.All()[0].Level)
	require.Equal(t, "Bare", logs.All()[0].ContextMap()["method"])
	require.Equal(t, "", logs.All()[0].ContextMap()["peer"])
}

func TestRecoverUnary(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod("GetUser")}

	resp, err := ic(context.Background(), &UserRequest{ID: "me"}, info, func(context.Context, any) (any, error) {
		panic("oh no")
	})
	require.Nil(t, resp)
	require.Equal(t, codes.Internal, status.Code(err))

	resp, err = ic(context.Background(), &UserRequest{ID: "me"}, info, func(context.Context, any) (any, error) {
		return &User{Name: "bob"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "bob", resp.(*User).Name)
}

func TestMethodName(t *testing.T) {
	t.Parallel()
	require.Equal(t, "Login", methodName(FullMethod("Login")))
	require.Equal(t, "plain", methodName("plain"))
}
