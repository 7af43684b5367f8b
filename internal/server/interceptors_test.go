package server_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"

	"github.com/xdp-tools/udprouter/internal/server"
)

// panicProcedure is a standalone procedure (unrelated to RouterServer) used
// only to exercise RecoveryInterceptor in isolation.
const panicProcedure = "/udprouter.v1.RouterService/Panic"

type panicRequest struct{}
type panicResponse struct{}

func panicUnary(context.Context, *connect.Request[panicRequest]) (*connect.Response[panicResponse], error) {
	panic("intentional test panic")
}

func TestLoggingInterceptorObservesSuccessAndError(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)

	mux := http.NewServeMux()
	opts := []connect.HandlerOption{
		connect.WithCodec(server.Codec()),
		connect.WithInterceptors(server.LoggingInterceptor(logger)),
	}
	mux.Handle(server.ProcedureGetStats, connect.NewUnaryHandler(server.ProcedureGetStats,
		func(ctx context.Context, _ *connect.Request[server.GetStatsRequest]) (*connect.Response[server.GetStatsResponse], error) {
			return connect.NewResponse(&server.GetStatsResponse{}), nil
		}, opts...))
	mux.Handle(server.ProcedureSetGatewayMacAddress, connect.NewUnaryHandler(server.ProcedureSetGatewayMacAddress,
		func(ctx context.Context, _ *connect.Request[server.SetGatewayMacAddressRequest]) (*connect.Response[server.SetGatewayMacAddressResponse], error) {
			return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("boom"))
		}, opts...))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	statsClient := connect.NewClient[server.GetStatsRequest, server.GetStatsResponse](
		srv.Client(), srv.URL+server.ProcedureGetStats, connect.WithCodec(server.Codec()))
	if _, err := statsClient.CallUnary(context.Background(), connect.NewRequest(&server.GetStatsRequest{})); err != nil {
		t.Fatalf("GetStats: %v", err)
	}

	macClient := connect.NewClient[server.SetGatewayMacAddressRequest, server.SetGatewayMacAddressResponse](
		srv.Client(), srv.URL+server.ProcedureSetGatewayMacAddress, connect.WithCodec(server.Codec()))
	_, err := macClient.CallUnary(context.Background(), connect.NewRequest(&server.SetGatewayMacAddressRequest{}))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != connect.CodeInvalidArgument {
		t.Errorf("code = %s, want InvalidArgument", connectErr.Code())
	}
}

type fakeObserver struct {
	calls []string
	errs  []error
}

func (f *fakeObserver) ObserveRPC(procedure string, err error) {
	f.calls = append(f.calls, procedure)
	f.errs = append(f.errs, err)
}

func TestMetricsInterceptorObservesCalls(t *testing.T) {
	t.Parallel()

	observer := &fakeObserver{}

	mux := http.NewServeMux()
	opts := []connect.HandlerOption{
		connect.WithCodec(server.Codec()),
		connect.WithInterceptors(server.MetricsInterceptor(observer)),
	}
	mux.Handle(server.ProcedureGetStats, connect.NewUnaryHandler(server.ProcedureGetStats,
		func(ctx context.Context, _ *connect.Request[server.GetStatsRequest]) (*connect.Response[server.GetStatsResponse], error) {
			return connect.NewResponse(&server.GetStatsResponse{}), nil
		}, opts...))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := connect.NewClient[server.GetStatsRequest, server.GetStatsResponse](
		srv.Client(), srv.URL+server.ProcedureGetStats, connect.WithCodec(server.Codec()))
	if _, err := client.CallUnary(context.Background(), connect.NewRequest(&server.GetStatsRequest{})); err != nil {
		t.Fatalf("GetStats: %v", err)
	}

	if len(observer.calls) != 1 {
		t.Fatalf("calls = %v, want 1 recorded call", observer.calls)
	}
	if observer.calls[0] != server.ProcedureGetStats {
		t.Errorf("procedure = %q, want %q", observer.calls[0], server.ProcedureGetStats)
	}
	if observer.errs[0] != nil {
		t.Errorf("err = %v, want nil", observer.errs[0])
	}
}

func TestRecoveryInterceptorTranslatesPanicToInternalError(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)

	mux := http.NewServeMux()
	opts := []connect.HandlerOption{
		connect.WithCodec(server.Codec()),
		connect.WithInterceptors(server.RecoveryInterceptor(logger)),
	}
	mux.Handle(panicProcedure, connect.NewUnaryHandler(panicProcedure, panicUnary, opts...))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := connect.NewClient[panicRequest, panicResponse](
		srv.Client(), srv.URL+panicProcedure, connect.WithCodec(server.Codec()))
	_, err := client.CallUnary(context.Background(), connect.NewRequest(&panicRequest{}))
	if err == nil {
		t.Fatal("expected error after panic, got nil")
	}

	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != connect.CodeInternal {
		t.Errorf("code = %s, want Internal", connectErr.Code())
	}
	if !errors.Is(connectErr, server.ErrPanicRecovered) {
		t.Error("expected error chain to contain ErrPanicRecovered")
	}
}
