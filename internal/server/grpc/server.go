// Package grpcserver exposes the account operations over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/and161185/sonickeeper/internal/errs"
	"github.com/and161185/sonickeeper/internal/service"
	"github.com/and161185/sonickeeper/internal/session"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "sonickeeper.v1.Accounts"

// AccountsServer is the gRPC surface of the account service.
type AccountsServer interface {
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	Logout(context.Context, *Empty) (*Empty, error)
	ListUsers(context.Context, *Empty) (*ListUsersResponse, error)
	GetUser(context.Context, *UserRequest) (*User, error)
	AddUser(context.Context, *AddUserRequest) (*OutcomeResponse, error)
	ChangeUsername(context.Context, *ChangeUsernameRequest) (*OutcomeResponse, error)
	ChangePassword(context.Context, *ChangePasswordRequest) (*OutcomeResponse, error)
	DeleteUser(context.Context, *UserRequest) (*OutcomeResponse, error)
}

// Server wires services into gRPC handlers.
type Server struct {
	accounts service.AccountService
	auth     session.Provider
}

var _ AccountsServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(accounts service.AccountService, auth session.Provider) *Server {
	return &Server{accounts: accounts, auth: auth}
}

// NewGRPCServer builds a *grpc.Server with interceptors, the account service
// and the standard health service registered.
func NewGRPCServer(srv *Server, log *zap.Logger, dev bool, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append(opts, grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		LoggingUnary(log),
		AuthUnary(srv.auth),
	))
	gs := grpc.NewServer(opts...)
	gs.RegisterService(&ServiceDesc, srv)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	if dev {
		reflection.Register(gs)
	}
	return gs, hs
}

// ServiceDesc describes the Accounts service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AccountsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Login", AccountsServer.Login),
		unary("Logout", AccountsServer.Logout),
		unary("ListUsers", AccountsServer.ListUsers),
		unary("GetUser", AccountsServer.GetUser),
		unary("AddUser", AccountsServer.AddUser),
		unary("ChangeUsername", AccountsServer.ChangeUsername),
		unary("ChangePassword", AccountsServer.ChangePassword),
		unary("DeleteUser", AccountsServer.DeleteUser),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sonickeeper/v1/accounts",
}

// FullMethod returns "/sonickeeper.v1.Accounts/<name>".
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unary[Req, Resp any](name string, call func(AccountsServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(AccountsServer)
			if ic == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}

	var c codes.Code
	switch errs.CodeOf(err) {
	case errs.CodeInvalidIdentifier, errs.CodeValidation, errs.CodeMismatchedConfirmation, errs.CodeMissingToken:
		c = codes.InvalidArgument
	case errs.CodeNotFound:
		c = codes.NotFound
	case errs.CodeUnauthenticated, errs.CodeInvalidCredentials:
		c = codes.Unauthenticated
	case errs.CodeUnauthorized, errs.CodeWrongPassword:
		c = codes.PermissionDenied
	case errs.CodeDuplicateName:
		c = codes.AlreadyExists
	case errs.CodeRateLimited:
		c = codes.ResourceExhausted
	case errs.CodeExternalService, errs.CodeStorageUnavailable:
		c = codes.Unavailable
	default:
		return status.Error(codes.Internal, "internal")
	}
	return status.Error(c, errs.MessageOf(err))
}

func remoteIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}

// Login authenticates a user and issues an access token.
func (s *Server) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	tok, id, err := s.auth.Login(ctx, req.Name, req.Password, remoteIP(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	return &LoginResponse{
		AccessToken: tok.AccessToken,
		SessionID:   tok.SessionID.String(),
		ExpiresAt:   tok.ExpiresAt,
		UserID:      id.UserID.String(),
		Admin:       id.Admin,
	}, nil
}

// Logout ends the caller's session.
func (s *Server) Logout(ctx context.Context, _ *Empty) (*Empty, error) {
	id := session.FromContext(ctx)
	if !id.IsAuthenticated() || id.System {
		return nil, toStatus(errs.ErrUnauthenticated)
	}
	if err := s.auth.Logout(ctx, id.SessionID); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// ListUsers lists all accounts. Admin only.
func (s *Server) ListUsers(ctx context.Context, _ *Empty) (*ListUsersResponse, error) {
	users, err := s.accounts.List(ctx, session.FromContext(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	out := &ListUsersResponse{Users: make([]User, 0, len(users))}
	for _, u := range users {
		out.Users = append(out.Users, toUser(u))
	}
	return out, nil
}

// GetUser returns a single account.
func (s *Server) GetUser(ctx context.Context, req *UserRequest) (*User, error) {
	d, err := s.accounts.Detail(ctx, session.FromContext(ctx), req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	u := toUser(d.User)
	return &u, nil
}

func toOutcome(o service.Outcome) *OutcomeResponse {
	out := &OutcomeResponse{Message: o.Message}
	if o.User != nil {
		u := toUser(*o.User)
		out.User = &u
	}
	return out
}

// AddUser creates an account. Admin only.
func (s *Server) AddUser(ctx context.Context, req *AddUserRequest) (*OutcomeResponse, error) {
	o, err := s.accounts.AddUser(ctx, session.FromContext(ctx), service.AddUserInput{
		Name:     req.Name,
		Mail:     req.Mail,
		Password: req.Password,
		Confirm:  req.Confirm,
		Admin:    req.Admin,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return toOutcome(o), nil
}

// ChangeUsername renames an account.
func (s *Server) ChangeUsername(ctx context.Context, req *ChangeUsernameRequest) (*OutcomeResponse, error) {
	o, err := s.accounts.ChangeUsername(ctx, session.FromContext(ctx), req.ID, service.ChangeUsernameInput{
		Name:  req.Name,
		Admin: req.Admin,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return toOutcome(o), nil
}

// ChangePassword replaces a password.
func (s *Server) ChangePassword(ctx context.Context, req *ChangePasswordRequest) (*OutcomeResponse, error) {
	o, err := s.accounts.ChangePassword(ctx, session.FromContext(ctx), req.ID, service.ChangePasswordInput{
		Current: req.Current,
		New:     req.New,
		Confirm: req.Confirm,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &OutcomeResponse{Message: o.Message}, nil
}

// DeleteUser removes an account. Admin only.
func (s *Server) DeleteUser(ctx context.Context, req *UserRequest) (*OutcomeResponse, error) {
	o, err := s.accounts.DeleteUser(ctx, session.FromContext(ctx), req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toOutcome(o), nil
}
