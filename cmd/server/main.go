// Command sk-server starts the sonickeeper HTTP API and gRPC endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"

	"github.com/and161185/sonickeeper/internal/config"
	"github.com/and161185/sonickeeper/internal/crypto/sealbox"
	"github.com/and161185/sonickeeper/internal/lastfm"
	"github.com/and161185/sonickeeper/internal/limiter"
	"github.com/and161185/sonickeeper/internal/logging"
	"github.com/and161185/sonickeeper/internal/migrate"
	"github.com/and161185/sonickeeper/internal/repository"
	"github.com/and161185/sonickeeper/internal/repository/memory"
	"github.com/and161185/sonickeeper/internal/repository/postgres"
	grpcserver "github.com/and161185/sonickeeper/internal/server/grpc"
	httpserver "github.com/and161185/sonickeeper/internal/server/http"
	"github.com/and161185/sonickeeper/internal/service"
	"github.com/and161185/sonickeeper/internal/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

// main loads configuration, prepares the record store and serves until a signal arrives.
func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.HTTPAddr),
		zap.String("grpcAddr", cfg.GRPCAddr),
		zap.String("store", cfg.Store),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store  repository.Store
		lim    limiter.Limiter
		pinger httpserver.Pinger
	)
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store, data is lost on exit")
		store = memory.NewStore()
		lim = limiter.NewMemory(cfg.Limiter)
	default:
		if err := migrate.Up(ctx, cfg.DSN); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		db, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			logger.Fatal("postgres pool", zap.Error(err))
		}
		defer db.Close()
		store = postgres.NewStore(db)
		lim = limiter.NewPG(db.Pool, cfg.Limiter)
		pinger = db
	}

	box, err := sealbox.New([]byte(cfg.SealKey))
	if err != nil {
		logger.Fatal("seal key", zap.Error(err))
	}
	if !box.Enabled() {
		logger.Warn("no seal key configured, Last.fm session keys are stored unencrypted")
	}
	lfm := lastfm.New(cfg.LastFM)
	if !lfm.Configured() {
		logger.Info("Last.fm API key not set, account linking disabled")
	}

	// Services
	sessions := session.NewManager(store, lim, []byte(cfg.JWTKey), cfg.AccessTTL, logger)
	accounts := service.NewAccountService(store, lfm, box, lfm.Timeout(), logger)

	if _, err := accounts.SeedAdmin(ctx); err != nil {
		logger.Fatal("seed admin", zap.Error(err))
	}

	errCh := make(chan error, 2)

	// HTTP API
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpserver.New(accounts, sessions, pinger, logger, version).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.Bool("tls", cfg.TLSCert != ""))
		var err error
		if cfg.TLSCert != "" {
			err = httpSrv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	// gRPC with interceptors and health
	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		var opts []grpc.ServerOption
		if cfg.TLSCert != "" {
			creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
			if err != nil {
				logger.Fatal("failed to load TLS cert/key", zap.Error(err))
			}
			opts = append(opts, grpc.Creds(creds))
		}
		var hs *health.Server
		grpcSrv, hs = grpcserver.NewGRPCServer(grpcserver.New(accounts, sessions), logger, cfg.Dev, opts...)
		defer hs.Shutdown()

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("listen", zap.Error(err))
		}
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	// Wait for stop
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if grpcSrv != nil {
		done := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			grpcSrv.Stop()
		}
	}

	logger.Info("shutdown complete")
}
