package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	pkgcrypto "github.com/and161185/sonickeeper/internal/crypto"
	"github.com/and161185/sonickeeper/internal/limiter"
	"github.com/and161185/sonickeeper/internal/model"
	"github.com/and161185/sonickeeper/internal/repository/memory"
	"github.com/and161185/sonickeeper/internal/service"
	"github.com/and161185/sonickeeper/internal/session"
)

const bufSize = 1 << 20

func startBufGRPC(t *testing.T, srv *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	gs, _ := NewGRPCServer(srv, zaptest.NewLogger(t), false)
	go func() { _ = gs.Serve(lis) }()
	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })
	return cc
}

func seedUser(t *testing.T, st *memory.Store, name, password string, admin bool) model.User {
	t.Helper()
	hash, salt, err := pkgcrypto.Hash(password)
	require.NoError(t, err)
	u := model.User{ID: uuid.Must(uuid.NewV4()), Name: name, PwdHash: hash, Salt: salt, Admin: admin}
	require.NoError(t, st.Repos().Users.Create(context.Background(), &u))
	return u
}

func newTestServer(t *testing.T) (*grpc.ClientConn, *memory.Store) {
	t.Helper()
	log := zaptest.NewLogger(t)
	st := memory.NewStore()
	mgr := session.NewManager(st, limiter.NewMemory(limiter.DefaultPolicy), []byte("test-secret"), time.Hour, log)
	svc := service.NewAccountService(st, nil, nil, 0, log)
	return startBufGRPC(t, New(svc, mgr)), st
}

func login(t *testing.T, cc *grpc.ClientConn, name, password string) context.Context {
	t.Helper()
	var resp LoginResponse
	err := cc.Invoke(context.Background(), FullMethod("Login"), &LoginRequest{Name: name, Password: password}, &resp)
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+resp.AccessToken)
}

func TestServer_E2E_AdminFlow(t *testing.T) {
	t.Parallel()
	cc, st := newTestServer(t)
	seedUser(t, st, "alice", "Alic3", true)
	bob := seedUser(t, st, "bob", "B0b", false)

	ctx := login(t, cc, "alice", "Alic3")

	var list ListUsersResponse
	require.NoError(t, cc.Invoke(ctx, FullMethod("ListUsers"), &Empty{}, &list))
	require.Len(t, list.Users, 2)

	var added OutcomeResponse
	require.NoError(t, cc.Invoke(ctx, FullMethod("AddUser"),
		&AddUserRequest{Name: "carol", Password: "c", Confirm: "c"}, &added))
	require.Equal(t, service.MsgUserAdded, added.Message)
	require.NotNil(t, added.User)
	require.Equal(t, "carol", added.User.Name)

	var dup OutcomeResponse
	err := cc.Invoke(ctx, FullMethod("AddUser"), &AddUserRequest{Name: "bob", Password: "c", Confirm: "c"}, &dup)
	require.Equal(t, codes.AlreadyExists, status.Code(err))

	var renamed OutcomeResponse
	admin := true
	require.NoError(t, cc.Invoke(ctx, FullMethod("ChangeUsername"),
		&ChangeUsernameRequest{ID: bob.ID.String(), Name: "b0b", Admin: &admin}, &renamed))
	require.Equal(t, "b0b", renamed.User.Name)
	require.True(t, renamed.User.Admin)

	var deleted OutcomeResponse
	require.NoError(t, cc.Invoke(ctx, FullMethod("DeleteUser"), &UserRequest{ID: added.User.ID}, &deleted))
	require.Equal(t, service.MsgUserDeleted, deleted.Message)

	var u User
	err = cc.Invoke(ctx, FullMethod("GetUser"), &UserRequest{ID: added.User.ID}, &u)
	require.Equal(t, codes.NotFound, status.Code(err))

	err = cc.Invoke(ctx, FullMethod("GetUser"), &UserRequest{ID: "string"}, &u)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_E2E_UserFlow(t *testing.T) {
	t.Parallel()
	cc, st := newTestServer(t)
	alice := seedUser(t, st, "alice", "Alic3", true)
	seedUser(t, st, "bob", "B0b", false)

	var bad LoginResponse
	err := cc.Invoke(context.Background(), FullMethod("Login"), &LoginRequest{Name: "bob", Password: "nope"}, &bad)
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	var list ListUsersResponse
	err = cc.Invoke(context.Background(), FullMethod("ListUsers"), &Empty{}, &list)
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := login(t, cc, "bob", "B0b")

	err = cc.Invoke(ctx, FullMethod("ListUsers"), &Empty{}, &list)
	require.Equal(t, codes.PermissionDenied, status.Code(err))

	var me User
	require.NoError(t, cc.Invoke(ctx, FullMethod("GetUser"), &UserRequest{ID: "me"}, &me))
	require.Equal(t, "bob", me.Name)

	var u User
	err = cc.Invoke(ctx, FullMethod("GetUser"), &UserRequest{ID: alice.ID.String()}, &u)
	require.Equal(t, codes.PermissionDenied, status.Code(err))

	var out OutcomeResponse
	err = cc.Invoke(ctx, FullMethod("ChangePassword"), &ChangePasswordRequest{ID: "me", Current: "wrong", New: "n", Confirm: "n"}, &out)
	require.Equal(t, codes.PermissionDenied, status.Code(err))

	require.NoError(t, cc.Invoke(ctx, FullMethod("ChangePassword"),
		&ChangePasswordRequest{ID: "me", Current: "B0b", New: "n3w", Confirm: "n3w"}, &out))
	require.Equal(t, service.MsgPasswordChanged, out.Message)

	require.NoError(t, cc.Invoke(ctx, FullMethod("Logout"), &Empty{}, &Empty{}))
	err = cc.Invoke(ctx, FullMethod("GetUser"), &UserRequest{ID: "me"}, &me)
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	login(t, cc, "bob", "n3w")
}

func TestServer_Health(t *testing.T) {
	t.Parallel()
	cc, _ := newTestServer(t)

	resp, err := healthpb.NewHealthClient(cc).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: ServiceName}, grpc.CallContentSubtype("proto"))
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
