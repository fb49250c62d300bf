package server

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
)

// NewConnectHandlers returns the Connect handlers for svc keyed by path.
// Requests and responses use the CBOR codec.
func NewConnectHandlers(svc *RunService, opts ...connect.HandlerOption) map[string]http.Handler {
	opts = append([]connect.HandlerOption{connect.WithCodec(cborCodec{})}, opts...)
	return map[string]http.Handler{
		RunProcedure: connect.NewUnaryHandler(
			RunProcedure,
			func(ctx context.Context, req *connect.Request[RunRequest]) (*connect.Response[RunResponse], error) {
				resp, err := svc.Run(ctx, req.Msg)
				if err != nil {
					return nil, err
				}
				return connect.NewResponse(resp), nil
			},
			opts...,
		),
		CheckProcedure: connect.NewUnaryHandler(
			CheckProcedure,
			func(ctx context.Context, req *connect.Request[CheckRequest]) (*connect.Response[CheckResponse], error) {
				resp, err := svc.Check(ctx, req.Msg)
				if err != nil {
					return nil, err
				}
				return connect.NewResponse(resp), nil
			},
			opts...,
		),
	}
}

// Client calls the interpreter service over Connect.
type Client struct {
	run   *connect.Client[RunRequest, RunResponse]
	check *connect.Client[CheckRequest, CheckResponse]
}

// NewClient creates a Connect client for the service at baseURL,
// e.g. "http://localhost:4567".
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	opts = append([]connect.ClientOption{connect.WithCodec(cborCodec{})}, opts...)
	return &Client{
		run:   connect.NewClient[RunRequest, RunResponse](httpClient, baseURL+RunProcedure, opts...),
		check: connect.NewClient[CheckRequest, CheckResponse](httpClient, baseURL+CheckProcedure, opts...),
	}
}

// Run executes a program remotely.
func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	resp, err := c.run.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Check compiles a program remotely.
func (c *Client) Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error) {
	resp, err := c.check.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
