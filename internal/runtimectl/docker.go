// Package runtimectl controls environment runtimes through the Docker
// daemon. An environment's runtime is the set of containers whose names are
// prefixed with the registry entry's runtime identifier.
package runtimectl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// ErrNoRuntime indicates no containers exist for the environment.
var ErrNoRuntime = errors.New("runtimectl: no runtime containers")

// Controller is the runtime surface the pipeline needs. Implemented by
// Client; faked in tests.
type Controller interface {
	Ping(ctx context.Context) error
	Running(ctx context.Context, runtime string) (bool, error)
	Start(ctx context.Context, runtime string) error
}

// Client wraps the Docker SDK client.
type Client struct {
	inner *client.Client
}

// New creates a Docker client using environment defaults, overridden by host
// when set.
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

// Running reports whether every container of the runtime is up. A runtime
// with no containers at all is reported as not running without error.
func (c *Client) Running(ctx context.Context, runtime string) (bool, error) {
	containers, err := c.list(ctx, runtime)
	if err != nil {
		return false, err
	}
	if len(containers) == 0 {
		return false, nil
	}
	for _, ctr := range containers {
		if ctr.State != "running" {
			return false, nil
		}
	}
	return true, nil
}

// Start starts every stopped container of the runtime.
func (c *Client) Start(ctx context.Context, runtime string) error {
	containers, err := c.list(ctx, runtime)
	if err != nil {
		return err
	}
	if len(containers) == 0 {
		return fmt.Errorf("%w: %s", ErrNoRuntime, runtime)
	}
	for _, ctr := range containers {
		if ctr.State == "running" {
			continue
		}
		if err := c.inner.ContainerStart(ctx, ctr.ID, container.StartOptions{}); err != nil {
			return fmt.Errorf("start container %s: %w", strings.TrimPrefix(firstName(ctr), "/"), err)
		}
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

func (c *Client) list(ctx context.Context, runtime string) ([]types.Container, error) {
	if runtime == "" {
		return nil, errors.New("runtimectl: empty runtime name")
	}
	args := filters.NewArgs(filters.Arg("name", runtime))
	containers, err := c.inner.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list containers for %s: %w", runtime, err)
	}
	// The name filter is a substring match; keep only true prefix matches.
	matched := containers[:0]
	for _, ctr := range containers {
		if strings.HasPrefix(strings.TrimPrefix(firstName(ctr), "/"), runtime) {
			matched = append(matched, ctr)
		}
	}
	return matched, nil
}

func firstName(ctr types.Container) string {
	if len(ctr.Names) == 0 {
		return ""
	}
	return ctr.Names[0]
}
