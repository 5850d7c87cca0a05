package client

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client talks to a running microk8s-agent health daemon.
type Client struct {
	conn   *grpc.ClientConn
	Health healthpb.HealthClient
}

// Options control Client behavior.
type Options struct {
	// DialTimeout is the timeout for establishing the initial connection.
	DialTimeout time.Duration
	// Insecure skips TLS (default true, the daemon listens on localhost).
	Insecure bool
	// DialOptions are appended to the options derived from the fields above.
	DialOptions []grpc.DialOption
}

// New dials the daemon at address (host:port) and returns a Client.
func New(ctx context.Context, address string, opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{Insecure: true, DialTimeout: 5 * time.Second}
	}
	var dialOpts []grpc.DialOption
	if opts.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	dialOpts = append(dialOpts, opts.DialOptions...)
	if opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
	}
	conn, err := grpc.DialContext(ctx, address, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, Health: healthpb.NewHealthClient(conn)}, nil
}

// Check returns the serving status of service ("" for the daemon itself).
func (c *Client) Check(ctx context.Context, service string) (*healthpb.HealthCheckResponse, error) {
	return c.Health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }
