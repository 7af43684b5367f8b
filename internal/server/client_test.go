package server_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xdp-tools/udprouter/internal/control"
	"github.com/xdp-tools/udprouter/internal/server"
	"github.com/xdp-tools/udprouter/internal/xdpmaps"
)

func setupTestServerAndClient(t *testing.T) (*server.Client, *xdpmaps.FakeMaps) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	maps := xdpmaps.NewFakeMaps(2)
	actor, handle := control.New(maps, logger)

	srv := httptest.NewServer(server.New(handle, logger))
	t.Cleanup(srv.Close)
	t.Cleanup(actor.Wait)
	t.Cleanup(handle.Close)

	return server.NewClient(srv.Client(), srv.URL), maps
}

func TestClientGetStats(t *testing.T) {
	t.Parallel()

	client, maps := setupTestServerAndClient(t)
	maps.IncrementCounter(xdpmaps.SlotTotalPackets, 0)
	maps.IncrementCounter(xdpmaps.SlotServerToClientPackets, 1)

	resp, err := client.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if resp.TotalPackets != 1 {
		t.Errorf("TotalPackets = %d, want 1", resp.TotalPackets)
	}
	if resp.ServerToClientPackets != 1 {
		t.Errorf("ServerToClientPackets = %d, want 1", resp.ServerToClientPackets)
	}
}

func TestClientSetLocalNetAndMask(t *testing.T) {
	t.Parallel()

	client, maps := setupTestServerAndClient(t)

	if err := client.SetLocalNetAndMask(context.Background(), "10.0.0.0", "255.255.0.0"); err != nil {
		t.Fatalf("SetLocalNetAndMask: %v", err)
	}

	packed, err := maps.ReadConfig(xdpmaps.SlotLocalNetAndMask)
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	net, mask := xdpmaps.UnpackNetAndMask(packed)
	if net != 0x0a000000 || mask != 0xffff0000 {
		t.Errorf("net/mask = %#x/%#x, want 0x0a000000/0xffff0000", net, mask)
	}
}

func TestClientSetBackendNetAndMask(t *testing.T) {
	t.Parallel()

	client, maps := setupTestServerAndClient(t)

	if err := client.SetBackendNetAndMask(context.Background(), "192.168.1.0", "255.255.255.0"); err != nil {
		t.Fatalf("SetBackendNetAndMask: %v", err)
	}

	packed, err := maps.ReadConfig(xdpmaps.SlotBackendNetAndMask)
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	net, mask := xdpmaps.UnpackNetAndMask(packed)
	if net != 0xc0a80100 || mask != 0xffffff00 {
		t.Errorf("net/mask = %#x/%#x, want 0xc0a80100/0xffffff00", net, mask)
	}
}

func TestClientSetGatewayMacAddress(t *testing.T) {
	t.Parallel()

	client, maps := setupTestServerAndClient(t)

	if err := client.SetGatewayMacAddress(context.Background(), "aa:bb:cc:dd:ee:ff"); err != nil {
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

func TestClientGetStatsError(t *testing.T) {
	t.Parallel()

	// A server whose handler always 404s forces the ConnectRPC client to
	// surface a transport-level error rather than a decoded response.
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	client := server.NewClient(srv.Client(), srv.URL)
	if _, err := client.GetStats(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}
}
