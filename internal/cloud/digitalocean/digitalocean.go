// Package digitalocean implements the cloud.Instances interface against
// the DigitalOcean control plane using godo.
//
// Destroy uses the "destroy with associated resources" endpoint rather
// than the plain droplet delete so that attached volumes, snapshots and
// floating IPs are reclaimed together with the droplet. That endpoint
// requires an explicit acknowledgment header because the deletion is
// irreversible.
package digitalocean

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/digitalocean/godo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/liftci/liftci/internal/cloud"
)

// dangerHeader acknowledges that the destroy call is irreversible.
const dangerHeader = "X-Dangerous"

// Config holds DigitalOcean-specific settings.
type Config struct {
	// Token is the bearer token authorizing control-plane calls (required).
	Token string

	// BaseURL overrides the API endpoint. Used by tests; leave empty
	// for the public control plane.
	BaseURL string
}

// Client manages CI droplets through the DigitalOcean API.
type Client struct {
	api    *godo.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// Compile-time check that Client satisfies the cloud.Instances interface.
var _ cloud.Instances = (*Client)(nil)

// New creates a DigitalOcean client from the given config.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("digitalocean: token is required")
	}

	opts := []godo.ClientOpt{}
	if cfg.BaseURL != "" {
		opts = append(opts, godo.SetBaseURL(cfg.BaseURL))
	}

	api, err := godo.New(oauthClient(cfg.Token), opts...)
	if err != nil {
		return nil, fmt.Errorf("digitalocean client: %w", err)
	}

	return &Client{
		api:    api,
		logger: logger,
		tracer: otel.Tracer("liftci/cloud/digitalocean"),
	}, nil
}

// Create provisions a droplet whose user_data is the startup payload.
func (c *Client) Create(ctx context.Context, req cloud.CreateRequest) (string, error) {
	ctx, span := c.tracer.Start(ctx, "cloud.digitalocean.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("droplet.name", req.Name),
		attribute.String("droplet.region", req.Region),
		attribute.String("droplet.size", req.Size),
	)

	c.logger.Info("creating droplet",
		slog.String("name", req.Name),
		slog.String("region", req.Region),
		slog.String("size", req.Size),
		slog.String("image", req.Image),
	)

	droplet, _, err := c.api.Droplets.Create(ctx, &godo.DropletCreateRequest{
		Name:     req.Name,
		Region:   req.Region,
		Size:     req.Size,
		Image:    godo.DropletCreateImage{Slug: req.Image},
		UserData: req.UserData,
		Tags:     req.Tags,
	})
	if err != nil {
		return "", fmt.Errorf("create droplet %s: %w", req.Name, err)
	}

	id := strconv.Itoa(droplet.ID)
	span.SetAttributes(attribute.String("droplet.id", id))

	c.logger.Info("droplet created",
		slog.String("name", req.Name),
		slog.String("id", id),
	)

	return id, nil
}

// Destroy permanently deletes the droplet and everything attached to it.
// It is idempotent -- destroying an already-deleted droplet is not an
// error. The call is a single DELETE; no retry, and no response body is
// processed.
func (c *Client) Destroy(ctx context.Context, id string) error {
	ctx, span := c.tracer.Start(ctx, "cloud.digitalocean.Destroy")
	defer span.End()

	span.SetAttributes(attribute.String("droplet.id", id))

	c.logger.Info("destroying droplet", slog.String("id", id))

	path := fmt.Sprintf("v2/droplets/%s/destroy_with_associated_resources/dangerous", id)
	req, err := c.api.NewRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("destroy droplet %s: %w", id, err)
	}
	req.Header.Set(dangerHeader, "true")

	if _, err := c.api.Do(ctx, req, nil); err != nil {
		if isNotFound(err) {
			span.AddEvent("droplet already deleted (idempotent)")
			c.logger.Info("droplet already deleted", slog.String("id", id))
			return nil
		}
		return fmt.Errorf("destroy droplet %s: %w", id, err)
	}

	c.logger.Info("droplet destroyed", slog.String("id", id))
	return nil
}

// isNotFound reports whether err is a 404 from the DigitalOcean API.
func isNotFound(err error) bool {
	var errResp *godo.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return errResp.Response.StatusCode == http.StatusNotFound
	}
	return false
}

// oauthClient returns an http.Client that injects the bearer token on
// every request. godo ships an oauth2 helper but a RoundTripper keeps
// the token handling local and testable.
func oauthClient(token string) *http.Client {
	return &http.Client{
		Transport: &bearerTransport{token: token, base: http.DefaultTransport},
	}
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(clone)
}
