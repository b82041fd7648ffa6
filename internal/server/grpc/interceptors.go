package grpcserver

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// levelFor picks the log level of a finished call: server faults are errors,
// refused or invalid calls are warnings.
func levelFor(c codes.Code) zapcore.Level {
	switch c {
	case codes.OK, codes.Canceled:
		return zapcore.InfoLevel
	case codes.Internal, codes.Unavailable, codes.DataLoss, codes.Unknown:
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}

// methodName strips the service prefix from "/pkg.Service/Method".
func methodName(full string) string {
	if i := strings.LastIndexByte(full, '/'); i >= 0 {
		return full[i+1:]
	}
	return full
}

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		// metadata only, never payloads
		fields := []zap.Field{
			zap.String("method", methodName(info.FullMethod)),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remoteIP(ctx)),
		}
		if err != nil {
			fields = append(fields, zap.String("reason", status.Convert(err).Message()))
		}
		if ce := log.Check(levelFor(code), "grpc"); ce != nil {
			ce.Write(fields...)
		}
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that turns panics into codes.Internal.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				resp, err = nil, status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}
