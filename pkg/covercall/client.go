// Package covercall is the Go client of the covercall backtest service.
package covercall

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls a covercall-server over gRPC.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient creates a client for the server at target. Without options the
// connection is unencrypted.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Run executes a backtest on the server and returns it with its ledger and
// cycle log.
func (c *Client) Run(ctx context.Context, req RunRequest) (*Run, error) {
	var run Run
	if err := c.invoke(ctx, MethodRun, req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun returns a persisted run with its ledger.
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := c.invoke(ctx, MethodGetRun, GetRunRequest{ID: id}, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns up to limit runs, newest first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	var resp ListRunsResponse
	if err := c.invoke(ctx, MethodListRuns, ListRunsRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	in, err := ToStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return err
	}
	return FromStruct(out, resp)
}
