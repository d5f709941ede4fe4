package grpcserver

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	methodCheck = healthPrefix + "Check"
	methodWatch = healthPrefix + "Watch"
	methodList  = "/grpc.reflection.v1.ServerReflection/ServerReflectionInfo"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "10.0.0.7:41000" }

// fakeStream only needs a context; every other method panics if called.
type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s fakeStream) Context() context.Context { return s.ctx }

func TestLoggingUnary_PassthroughAndLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ic := LoggingUnary(zap.New(core))
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})

	ok := func(ctx context.Context, req any) (any, error) { return "serving", nil }
	down := status.Error(codes.NotFound, "unknown service")
	bad := func(ctx context.Context, req any) (any, error) { return nil, down }

	resp, err := ic(ctx, nil, &grpc.UnaryServerInfo{FullMethod: methodCheck}, ok)
	if err != nil || resp.(string) != "serving" {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}
	if _, err := ic(ctx, nil, &grpc.UnaryServerInfo{FullMethod: methodCheck}, bad); !errors.Is(err, down) {
		t.Fatalf("want original error, got: %v", err)
	}
	_, _ = ic(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/other.Service/Call"}, ok)

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("want 3 entries, got %d", len(entries))
	}
	want := []zapcore.Level{zapcore.DebugLevel, zapcore.WarnLevel, zapcore.InfoLevel}
	for i, e := range entries {
		if e.Level != want[i] {
			t.Fatalf("entry %d: level %s, want %s", i, e.Level, want[i])
		}
	}
	fields := entries[1].ContextMap()
	if fields["code"] != codes.NotFound.String() || fields["peer"] != "10.0.0.7:41000" {
		t.Fatalf("fields: %v", fields)
	}
	if _, ok := fields["dur"]; !ok {
		t.Fatalf("missing dur field")
	}
}

func TestLoggingStream_LogsOnEnd(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ic := LoggingStream(zap.New(core))
	ss := fakeStream{ctx: context.Background()}

	err := ic(nil, ss, &grpc.StreamServerInfo{FullMethod: methodWatch}, func(any, grpc.ServerStream) error {
		return status.Error(codes.Canceled, "client gone")
	})
	if status.Code(err) != codes.Canceled {
		t.Fatalf("want canceled, got %v", err)
	}
	if err := ic(nil, ss, &grpc.StreamServerInfo{FullMethod: methodList}, func(any, grpc.ServerStream) error { return nil }); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	entries := logs.All()
	if len(entries) != 2 || entries[0].Level != zapcore.WarnLevel || entries[1].Level != zapcore.InfoLevel {
		t.Fatalf("entries: %+v", entries)
	}
	if entries[0].ContextMap()["method"] != methodWatch {
		t.Fatalf("method field: %v", entries[0].ContextMap())
	}
}

func TestRecoverUnary(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: methodCheck}

	_, err := ic(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		panic("nil health map")
	})
	if st, ok := status.FromError(err); !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}

	resp, err := ic(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) { return 42, nil })
	if err != nil || resp.(int) != 42 {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}
}

func TestRecoverStream(t *testing.T) {
	t.Parallel()

	ic := RecoverStream(zaptest.NewLogger(t))
	info := &grpc.StreamServerInfo{FullMethod: methodWatch}

	err := ic(nil, fakeStream{ctx: context.Background()}, info, func(any, grpc.ServerStream) error {
		panic("send on closed stream")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
}
