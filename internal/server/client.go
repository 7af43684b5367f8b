package server

import (
	"context"
	"fmt"

	"connectrpc.com/connect"
)

// Client is a thin ConnectRPC client over the four control-plane
// procedures, used by cmd/udprouterctl. It speaks the same hand-written
// JSON codec as the server (see codec.go); any connect.HTTPClient (e.g.
// http.DefaultClient) works since the wire format is plain HTTP/1.1 JSON,
// not HTTP/2.
type Client struct {
	getStats             *connect.Client[GetStatsRequest, GetStatsResponse]
	setLocalNetAndMask   *connect.Client[NetAndMaskRequest, NetAndMaskResponse]
	setBackendNetAndMask *connect.Client[NetAndMaskRequest, NetAndMaskResponse]
	setGatewayMAC        *connect.Client[SetGatewayMacAddressRequest, SetGatewayMacAddressResponse]
}

// NewClient builds a Client talking to baseURL (e.g. "http://127.0.0.1:8888").
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)

	return &Client{
		getStats:             connect.NewClient[GetStatsRequest, GetStatsResponse](httpClient, baseURL+ProcedureGetStats, opts...),
		setLocalNetAndMask:   connect.NewClient[NetAndMaskRequest, NetAndMaskResponse](httpClient, baseURL+ProcedureSetLocalNetAndMask, opts...),
		setBackendNetAndMask: connect.NewClient[NetAndMaskRequest, NetAndMaskResponse](httpClient, baseURL+ProcedureSetBackendNetAndMask, opts...),
		setGatewayMAC:        connect.NewClient[SetGatewayMacAddressRequest, SetGatewayMacAddressResponse](httpClient, baseURL+ProcedureSetGatewayMacAddress, opts...),
	}
}

// GetStats fetches the current counter snapshot.
func (c *Client) GetStats(ctx context.Context) (*GetStatsResponse, error) {
	resp, err := c.getStats.CallUnary(ctx, connect.NewRequest(&GetStatsRequest{}))
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return resp.Msg, nil
}

// SetLocalNetAndMask overwrites the LocalNetAndMask slot.
func (c *Client) SetLocalNetAndMask(ctx context.Context, network, mask string) error {
	req := connect.NewRequest(&NetAndMaskRequest{Network: network, Mask: mask})
	if _, err := c.setLocalNetAndMask.CallUnary(ctx, req); err != nil {
		return fmt.Errorf("set local net/mask: %w", err)
	}
	return nil
}

// SetBackendNetAndMask overwrites the BackendNetAndMask slot.
func (c *Client) SetBackendNetAndMask(ctx context.Context, network, mask string) error {
	req := connect.NewRequest(&NetAndMaskRequest{Network: network, Mask: mask})
	if _, err := c.setBackendNetAndMask.CallUnary(ctx, req); err != nil {
		return fmt.Errorf("set backend net/mask: %w", err)
	}
	return nil
}

// SetGatewayMacAddress overwrites the GatewayMacAddress slot. mac is in
// standard colon-separated form, e.g. "aa:bb:cc:dd:ee:ff".
func (c *Client) SetGatewayMacAddress(ctx context.Context, mac string) error {
	req := connect.NewRequest(&SetGatewayMacAddressRequest{MacAddress: mac})
	if _, err := c.setGatewayMAC.CallUnary(ctx, req); err != nil {
		return fmt.Errorf("set gateway mac: %w", err)
	}
	return nil
}
