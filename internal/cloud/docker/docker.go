// Package docker implements the cloud.Instances interface using the
// Docker daemon. A container stands in for a droplet: the startup
// payload runs as the container entrypoint. This backend exists so
// launch payloads can be exercised locally without spending cloud money.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"
	"github.com/google/uuid"

	"github.com/liftci/liftci/internal/cloud"
)

// Config holds Docker-specific settings.
type Config struct {
	// Image is the container image that stands in for the droplet OS
	// image. Default: ubuntu:20.04 to match the droplet default.
	Image string
}

// Client manages stand-in CI instances as Docker containers.
type Client struct {
	docker *dockerclient.Client
	image  string
	logger *slog.Logger

	mu         sync.Mutex
	containers map[string]string // instance name -> container ID
}

// Compile-time check that Client satisfies the cloud.Instances interface.
var _ cloud.Instances = (*Client)(nil)

// New creates a Docker backend, connects to the daemon, and pulls the
// base image so it is available for container creation.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Image == "" {
		cfg.Image = "ubuntu:20.04"
	}

	docker, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	logger.Info("pulling base image", slog.String("image", cfg.Image))

	pull, err := docker.ImagePull(ctx, cfg.Image, image.PullOptions{})
	if err != nil {
		return nil, fmt.Errorf("image pull %s: %w", cfg.Image, err)
	}
	// Drain and close the pull stream so the image is fully downloaded.
	if _, err := io.ReadAll(pull); err != nil {
		return nil, fmt.Errorf("reading image pull response: %w", err)
	}
	if err := pull.Close(); err != nil {
		return nil, fmt.Errorf("closing image pull stream: %w", err)
	}

	logger.Info("base image ready", slog.String("image", cfg.Image))

	return &Client{
		docker:     docker,
		image:      cfg.Image,
		logger:     logger,
		containers: make(map[string]string),
	}, nil
}

// Create starts a container that executes the startup payload, the same
// way a droplet would execute its user data on first boot.
func (c *Client) Create(ctx context.Context, req cloud.CreateRequest) (string, error) {
	// Container names must be unique on the daemon, so relaunching the
	// same run name needs a suffix.
	name := fmt.Sprintf("%s-%s", req.Name, uuid.NewString()[:8])

	resp, err := c.docker.ContainerCreate(
		ctx,
		&container.Config{
			Image: c.image,
			Cmd:   []string{"/bin/bash", "-c", req.UserData},
			Labels: map[string]string{
				"liftci.instance": req.Name,
			},
		},
		nil, // host config
		nil, // networking config
		nil, // platform
		name,
	)
	if err != nil {
		return "", fmt.Errorf("container create %s: %w", req.Name, err)
	}

	if err := c.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Best-effort cleanup of the created-but-not-started container.
		_ = c.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("container start %s: %w", req.Name, err)
	}

	c.mu.Lock()
	c.containers[req.Name] = resp.ID
	c.mu.Unlock()

	c.logger.Info("instance container started",
		slog.String("name", req.Name),
		slog.String("containerID", resp.ID),
	)

	return resp.ID, nil
}

// Destroy force-removes the container identified by id.
func (c *Client) Destroy(ctx context.Context, id string) error {
	c.logger.Info("destroying instance container", slog.String("containerID", id))

	if err := c.docker.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if dockerclient.IsErrNotFound(err) {
			c.logger.Info("instance container already removed", slog.String("containerID", id))
			return nil
		}
		return fmt.Errorf("container remove %s: %w", id, err)
	}

	c.mu.Lock()
	for name, cid := range c.containers {
		if cid == id {
			delete(c.containers, name)
			break
		}
	}
	c.mu.Unlock()

	return nil
}
