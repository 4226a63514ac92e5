package docker

import (
	"context"
	"errors"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/splax/agentdeploy/internal/domain"
)

// ErrNotFound indicates the requested container does not exist.
var ErrNotFound = fmt.Errorf("docker: %w", domain.ErrNotFound)

// Client wraps the Docker SDK client.
type Client struct {
	inner *client.Client
}

// New creates a Docker client from environment defaults. host overrides
// DOCKER_HOST when set.
func New(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{inner: inner}, nil
}

// Ping validates connectivity to the Docker daemon.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.inner == nil {
		return errors.New("docker client not initialized")
	}
	var ping types.Ping
	ping, err := c.inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return errors.New("docker ping returned empty API version")
	}
	return nil
}

// Close releases resources held by the Docker client.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

func mapError(op string, err error) error {
	if errdefs.IsNotFound(err) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if errdefs.IsConflict(err) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrAlreadyExists, err)
	}
	if errdefs.IsInvalidParameter(err) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrInvalidArgument, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
