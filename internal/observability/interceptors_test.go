package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"speech-session-service/internal/observability/metrics"
)

func grpcMetrics() *metrics.Metrics {
	return &metrics.Metrics{
		GRPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grpc_requests_total",
		}, []string{"method", "code"}),
		GRPCRequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "grpc_request_duration_seconds",
		}, []string{"method"}),
	}
}

func TestUnaryServerInterceptor_RecordsCode(t *testing.T) {
	m := grpcMetrics()
	intercept := UnaryServerInterceptor(m)
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	ok := func(ctx context.Context, req any) (any, error) { return "serving", nil }
	if resp, err := intercept(context.Background(), nil, info, ok); err != nil || resp != "serving" {
		t.Fatalf("unexpected result %v, %v", resp, err)
	}

	unavailable := func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.Unavailable, "store down")
	}
	if _, err := intercept(context.Background(), nil, info, unavailable); status.Code(err) != codes.Unavailable {
		t.Fatalf("expected handler error to pass through, got %v", err)
	}

	if got := testutil.ToFloat64(m.GRPCRequests.WithLabelValues(info.FullMethod, "OK")); got != 1 {
		t.Errorf("expected 1 OK call, got %v", got)
	}
	if got := testutil.ToFloat64(m.GRPCRequests.WithLabelValues(info.FullMethod, "Unavailable")); got != 1 {
		t.Errorf("expected 1 Unavailable call, got %v", got)
	}
}

func TestStreamServerInterceptor_RecordsCanceledWatch(t *testing.T) {
	m := grpcMetrics()
	intercept := StreamServerInterceptor(m)
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch", IsServerStream: true}

	err := intercept(nil, nil, info, func(srv any, ss grpc.ServerStream) error {
		return status.Error(codes.Canceled, "client went away")
	})
	if status.Code(err) != codes.Canceled {
		t.Fatalf("expected Canceled, got %v", err)
	}
	if got := testutil.ToFloat64(m.GRPCRequests.WithLabelValues(info.FullMethod, "Canceled")); got != 1 {
		t.Errorf("expected 1 Canceled call, got %v", got)
	}
}

func TestSplitMethod(t *testing.T) {
	tests := []struct {
		full, service, method string
	}{
		{"/grpc.health.v1.Health/Check", "grpc.health.v1.Health", "Check"},
		{"/grpc.reflection.v1.ServerReflection/ServerReflectionInfo", "grpc.reflection.v1.ServerReflection", "ServerReflectionInfo"},
		{"Check", "unknown", "Check"},
	}
	for _, tt := range tests {
		service, method := splitMethod(tt.full)
		if service != tt.service || method != tt.method {
			t.Errorf("splitMethod(%q) = %q, %q", tt.full, service, method)
		}
	}
}

func TestCallLevel(t *testing.T) {
	tests := map[codes.Code]zerolog.Level{
		codes.OK:               zerolog.DebugLevel,
		codes.Canceled:         zerolog.DebugLevel,
		codes.NotFound:         zerolog.WarnLevel,
		codes.DeadlineExceeded: zerolog.WarnLevel,
		codes.Unavailable:      zerolog.ErrorLevel,
		codes.Internal:         zerolog.ErrorLevel,
	}
	for code, want := range tests {
		if got := callLevel(code); got != want {
			t.Errorf("callLevel(%s) = %s, want %s", code, got, want)
		}
	}
}
