// Package server implements the ConnectRPC control-plane API for the
// router daemon: a thin adapter between the wire protocol and the Control
// Actor's async Handle.
package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"

	"github.com/xdp-tools/udprouter/internal/control"
)

// Sentinel errors for request validation.
var (
	ErrInvalidNetwork = errors.New("network must be a dotted-quad IPv4 address")
	ErrInvalidMask    = errors.New("mask must be a dotted-quad IPv4 address")
	ErrInvalidMAC     = errors.New("mac address must be six colon-separated hex octets")
)

// RouterServer implements the four router control operations over the
// Control Actor's Handle.
type RouterServer struct {
	handle *control.Handle
	logger *slog.Logger
}

// New constructs a RouterServer and an http.Handler serving all four
// procedures plus a gRPC-style health check, mounted on a fresh ServeMux.
// extraInterceptors run after LoggingInterceptor and RecoveryInterceptor,
// in the order given; the daemon uses this to wire MetricsInterceptor
// without making server depend on the metrics package.
func New(handle *control.Handle, logger *slog.Logger, extraInterceptors ...connect.UnaryInterceptorFunc) http.Handler {
	srv := &RouterServer{
		handle: handle,
		logger: logger.With(slog.String("component", "server")),
	}

	chain := []connect.Interceptor{
		LoggingInterceptor(srv.logger),
		RecoveryInterceptor(srv.logger),
	}
	for _, ic := range extraInterceptors {
		chain = append(chain, ic)
	}
	opts := []connect.HandlerOption{connect.WithCodec(jsonCodec{}), connect.WithInterceptors(chain...)}

	mux := http.NewServeMux()
	mux.Handle(ProcedureGetStats, connect.NewUnaryHandler(ProcedureGetStats, srv.getStats, opts...))
	mux.Handle(ProcedureSetLocalNetAndMask, connect.NewUnaryHandler(ProcedureSetLocalNetAndMask, srv.setLocalNetAndMask, opts...))
	mux.Handle(ProcedureSetBackendNetAndMask, connect.NewUnaryHandler(ProcedureSetBackendNetAndMask, srv.setBackendNetAndMask, opts...))
	mux.Handle(ProcedureSetGatewayMacAddress, connect.NewUnaryHandler(ProcedureSetGatewayMacAddress, srv.setGatewayMacAddress, opts...))

	checker := grpchealth.NewStaticChecker(ServiceName)
	mux.Handle(grpchealth.NewHandler(checker))

	return mux
}

func (s *RouterServer) getStats(ctx context.Context, _ *connect.Request[GetStatsRequest]) (*connect.Response[GetStatsResponse], error) {
	stats, err := s.handle.GetStats(ctx)
	if err != nil {
		return nil, mapControlError(err, "get stats")
	}
	return connect.NewResponse(&GetStatsResponse{
		TotalPackets:          stats.TotalPackets,
		ClientToServerPackets: stats.ClientToServerPackets,
		ServerToClientPackets: stats.ServerToClientPackets,
	}), nil
}

func (s *RouterServer) setLocalNetAndMask(ctx context.Context, req *connect.Request[NetAndMaskRequest]) (*connect.Response[NetAndMaskResponse], error) {
	net, mask, err := parseNetAndMask(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	s.logger.InfoContext(ctx, "SetLocalNetAndMask called",
		slog.String("network", req.Msg.Network), slog.String("mask", req.Msg.Mask))

	if err := s.handle.SetLocalNetAndMask(ctx, net, mask); err != nil {
		return nil, mapControlError(err, "set local net/mask")
	}
	return connect.NewResponse(&NetAndMaskResponse{}), nil
}

func (s *RouterServer) setBackendNetAndMask(ctx context.Context, req *connect.Request[NetAndMaskRequest]) (*connect.Response[NetAndMaskResponse], error) {
	net, mask, err := parseNetAndMask(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	s.logger.InfoContext(ctx, "SetBackendNetAndMask called",
		slog.String("network", req.Msg.Network), slog.String("mask", req.Msg.Mask))

	if err := s.handle.SetBackendNetAndMask(ctx, net, mask); err != nil {
		return nil, mapControlError(err, "set backend net/mask")
	}
	return connect.NewResponse(&NetAndMaskResponse{}), nil
}

func (s *RouterServer) setGatewayMacAddress(ctx context.Context, req *connect.Request[SetGatewayMacAddressRequest]) (*connect.Response[SetGatewayMacAddressResponse], error) {
	mac, err := parseMACAddress(req.Msg.MacAddress)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	s.logger.InfoContext(ctx, "SetGatewayMacAddress called", slog.String("mac", req.Msg.MacAddress))

	if err := s.handle.SetGatewayMacAddress(ctx, mac); err != nil {
		return nil, mapControlError(err, "set gateway mac")
	}
	return connect.NewResponse(&SetGatewayMacAddressResponse{}), nil
}

// parseNetAndMask validates and converts a NetAndMaskRequest's dotted-quad
// strings into host-byte-order uint32s.
func parseNetAndMask(req *NetAndMaskRequest) (net, mask uint32, err error) {
	n, err := parseIPv4(req.Network)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidNetwork, req.Network)
	}
	m, err := parseIPv4(req.Mask)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMask, req.Mask)
	}
	return n, m, nil
}

func parseIPv4(s string) (uint32, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, fmt.Errorf("not an IP address: %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("not an IPv4 address: %q", s)
	}
	return binary.BigEndian.Uint32(v4), nil
}

// parseMACAddress converts a colon-separated MAC string into the 48-bit
// value right-aligned in a uint64, matching xdpmaps' packed representation.
func parseMACAddress(s string) (uint64, error) {
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMAC, s)
	}
	var buf [8]byte
	copy(buf[2:], hw)
	return binary.BigEndian.Uint64(buf[:]), nil
}

// mapControlError translates control-actor errors into ConnectRPC codes.
// A context-cancellation error maps to CodeCanceled/CodeDeadlineExceeded
// and a stopped actor to CodeUnavailable; anything else reaching the RPC
// boundary is treated as internal, since the actor itself escalates map
// I/O failures by panicking (§7) rather than returning them here.
func mapControlError(err error, operation string) *connect.Error {
	switch {
	case errors.Is(err, control.ErrActorStopped):
		return connect.NewError(connect.CodeUnavailable, fmt.Errorf("%s: %w", operation, err))
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, fmt.Errorf("%s: %w", operation, err))
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, fmt.Errorf("%s: %w", operation, err))
	default:
		return connect.NewError(connect.CodeInternal, fmt.Errorf("%s: %w", operation, err))
	}
}
