package observability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"speech-session-service/internal/observability/metrics"
)

// UnaryServerInterceptor records every unary call on the health and
// reflection services.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observe(m, info.FullMethod, "unary", start, err)
		return resp, err
	}
}

// StreamServerInterceptor records streaming calls. Orchestrators hold health
// Watch streams open for the life of the process, so they end as Canceled.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observe(m, info.FullMethod, "stream", start, err)
		return err
	}
}

func observe(m *metrics.Metrics, fullMethod, kind string, start time.Time, err error) {
	elapsed := time.Since(start)
	code := status.Code(err)
	m.RecordGRPCRequest(fullMethod, code.String(), elapsed.Seconds())

	service, method := splitMethod(fullMethod)
	log.WithLevel(callLevel(code)).
		Str("service", service).
		Str("method", method).
		Str("kind", kind).
		Str("code", code.String()).
		Dur("duration", elapsed).
		Msg("gRPC call")
}

// splitMethod turns "/grpc.health.v1.Health/Check" into its service and
// method names.
func splitMethod(fullMethod string) (string, string) {
	trimmed := strings.TrimPrefix(fullMethod, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[:i], trimmed[i+1:]
	}
	return "unknown", trimmed
}

func callLevel(code codes.Code) zerolog.Level {
	switch code {
	case codes.OK, codes.Canceled:
		return zerolog.DebugLevel
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable:
		return zerolog.ErrorLevel
	default:
		return zerolog.WarnLevel
	}
}
