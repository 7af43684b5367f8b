package server_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"

	"github.com/xdp-tools/udprouter/internal/control"
	"github.com/xdp-tools/udprouter/internal/server"
	"github.com/xdp-tools/udprouter/internal/xdpmaps"
)

// testClients bundles one connect.Client per procedure, since this service
// has no generated *ServiceClient to hand out a single struct for.
type testClients struct {
	getStats             *connect.Client[server.GetStatsRequest, server.GetStatsResponse]
	setLocalNetAndMask   *connect.Client[server.NetAndMaskRequest, server.NetAndMaskResponse]
	setBackendNetAndMask *connect.Client[server.NetAndMaskRequest, server.NetAndMaskResponse]
	setGatewayMacAddress *connect.Client[server.SetGatewayMacAddressRequest, server.SetGatewayMacAddressResponse]
}

func setupTestServer(t *testing.T) (testClients, *xdpmaps.FakeMaps) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	maps := xdpmaps.NewFakeMaps(2)
	actor, handle := control.New(maps, logger)

	handler := server.New(handle, logger)
	mux := http.NewServeMux()
	mux.Handle("/", handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(actor.Wait)
	t.Cleanup(handle.Close)

	httpClient := srv.Client()
	url := srv.URL

	return testClients{
		getStats: connect.NewClient[server.GetStatsRequest, server.GetStatsResponse](
			httpClient, url+server.ProcedureGetStats, connect.WithCodec(server.Codec())),
		setLocalNetAndMask: connect.NewClient[server.NetAndMaskRequest, server.NetAndMaskResponse](
			httpClient, url+server.ProcedureSetLocalNetAndMask, connect.WithCodec(server.Codec())),
		setBackendNetAndMask: connect.NewClient[server.NetAndMaskRequest, server.NetAndMaskResponse](
			httpClient, url+server.ProcedureSetBackendNetAndMask, connect.WithCodec(server.Codec())),
		setGatewayMacAddress: connect.NewClient[server.SetGatewayMacAddressRequest, server.SetGatewayMacAddressResponse](
			httpClient, url+server.ProcedureSetGatewayMacAddress, connect.WithCodec(server.Codec())),
	}, maps
}

func TestGetStatsEmpty(t *testing.T) {
	t.Parallel()

	clients, _ := setupTestServer(t)

	resp, err := clients.getStats.CallUnary(context.Background(), connect.NewRequest(&server.GetStatsRequest{}))
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if resp.Msg.TotalPackets != 0 {
		t.Errorf("TotalPackets = %d, want 0", resp.Msg.TotalPackets)
	}
}

func TestGetStatsReflectsCounters(t *testing.T) {
	t.Parallel()

	clients, maps := setupTestServer(t)

	maps.IncrementCounter(xdpmaps.SlotTotalPackets, 0)
	maps.IncrementCounter(xdpmaps.SlotTotalPackets, 1)
	maps.IncrementCounter(xdpmaps.SlotClientToServerPackets, 0)

	resp, err := clients.getStats.CallUnary(context.Background(), connect.NewRequest(&server.GetStatsRequest{}))
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if resp.Msg.TotalPackets != 2 {
		t.Errorf("TotalPackets = %d, want 2", resp.Msg.TotalPackets)
	}
	if resp.Msg.ClientToServerPackets != 1 {
		t.Errorf("ClientToServerPackets = %d, want 1", resp.Msg.ClientToServerPackets)
	}
}

func TestSetLocalNetAndMask(t *testing.T) {
	t.Parallel()

	clients, maps := setupTestServer(t)

	_, err := clients.setLocalNetAndMask.CallUnary(context.Background(), connect.NewRequest(&server.NetAndMaskRequest{
		Network: "10.0.0.0",
		Mask:    "255.255.0.0",
	}))
	if err != nil {
		t.Fatalf("SetLocalNetAndMask: %v", err)
	}

	packed, err := maps.ReadConfig(xdpmaps.SlotLocalNetAndMask)
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	net, mask := xdpmaps.UnpackNetAndMask(packed)
	if net != 0x0a000000 {
		t.Errorf("net = %#x, want 0x0a000000", net)
	}
	if mask != 0xffff0000 {
		t.Errorf("mask = %#x, want 0xffff0000", mask)
	}
}

func TestSetLocalNetAndMaskInvalidArgument(t *testing.T) {
	t.Parallel()

	clients, _ := setupTestServer(t)

	_, err := clients.setLocalNetAndMask.CallUnary(context.Background(), connect.NewRequest(&server.NetAndMaskRequest{
		Network: "not-an-ip",
		Mask:    "255.255.0.0",
	}))
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

func TestSetGatewayMacAddress(t *testing.T) {
	t.Parallel()

	clients, maps := setupTestServer(t)

	_, err := clients.setGatewayMacAddress.CallUnary(context.Background(), connect.NewRequest(&server.SetGatewayMacAddressRequest{
		MacAddress: "aa:bb:cc:dd:ee:ff",
	}))
	if err != nil {
		t.Fatalf("SetGatewayMacAddress: %v", err)
	}

	packed, err := maps.ReadConfig(xdpmaps.SlotGatewayMacAddress)
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if packed != 0x0000aabbccddeeff {
		t.Errorf("packed mac = %#x, want 0x0000aabbccddeeff", packed)
	}
}

func TestSetGatewayMacAddressInvalidArgument(t *testing.T) {
	t.Parallel()

	clients, _ := setupTestServer(t)

	_, err := clients.setGatewayMacAddress.CallUnary(context.Background(), connect.NewRequest(&server.SetGatewayMacAddressRequest{
		MacAddress: "not-a-mac",
	}))
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
