// Package config handles loading, validating, and applying
// configuration for the liftci CLI.  Configuration is read from a YAML
// file and can be overridden by CLI flags.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/liftci/liftci/internal/cloud"
	"github.com/liftci/liftci/internal/cloud/digitalocean"
	"github.com/liftci/liftci/internal/cloud/docker"
	"github.com/liftci/liftci/internal/dataset"
)

// ---------------------------------------------------------------------------
// Top-level config
// ---------------------------------------------------------------------------

// Config is the root configuration structure.
type Config struct {
	Cloud   CloudConfig   `yaml:"cloud"`
	Spaces  SpacesConfig  `yaml:"spaces"`
	Run     RunConfig     `yaml:"run"`
	Dataset DatasetConfig `yaml:"dataset"`
	Logging LoggingConfig `yaml:"logging"`
	OTel    OTelConfig    `yaml:"otel"`
}

// ---------------------------------------------------------------------------
// Cloud
// ---------------------------------------------------------------------------

// CloudConfig selects and configures the instance backend.
type CloudConfig struct {
	// Provider selects the backend: "digitalocean" (default) or
	// "docker" (local containers standing in for droplets).
	Provider string `yaml:"provider"`

	// DigitalOcean holds control-plane settings.  Only read when
	// Provider == "digitalocean".
	DigitalOcean DigitalOceanConfig `yaml:"digitalocean"`

	// Docker holds the local backend settings.  Only read when
	// Provider == "docker".
	Docker DockerConfig `yaml:"docker"`
}

// DigitalOceanConfig holds droplet control-plane settings.
type DigitalOceanConfig struct {
	// Token is the bearer token for the control plane.  Falls back to
	// the DO_TOKEN environment variable when empty.
	Token string `yaml:"token"`

	// Region, Size, Image select the droplet shape.  Defaults:
	// nyc3 / c-32 / ubuntu-20-04-x64.
	Region string `yaml:"region"`
	Size   string `yaml:"size"`
	Image  string `yaml:"image"`
}

// DockerConfig holds local-backend settings.
type DockerConfig struct {
	// Image is the container image standing in for the droplet OS.
	// Default: ubuntu:20.04.
	Image string `yaml:"image"`
}

// ---------------------------------------------------------------------------
// Object storage
// ---------------------------------------------------------------------------

// SpacesConfig holds the corpus object-storage settings.  Spaces speaks
// the S3 protocol.
type SpacesConfig struct {
	// Endpoint without scheme, e.g. "nyc3.digitaloceanspaces.com".
	Endpoint string `yaml:"endpoint"`

	// Region, e.g. "nyc3".
	Region string `yaml:"region"`

	// Bucket holding the corpus archives.
	Bucket string `yaml:"bucket"`

	// AccessKey / SecretKey fall back to AWS_ACCESS_KEY_ID /
	// AWS_SECRET_ACCESS_KEY when empty, matching how the CI secrets
	// were historically injected.
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`

	// UseSSL enables TLS.  Default: true.  A *bool distinguishes
	// "not set" from "explicitly false".
	UseSSL *bool `yaml:"use_ssl"`
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// RunConfig describes one CI run as seen by the on-instance runner.
type RunConfig struct {
	// Name is the free-text run identifier.
	Name string `yaml:"name"`

	// Branch is the source branch under test.
	Branch string `yaml:"branch"`

	// SlackWebhook receives run notifications.  Falls back to the
	// SLACK_HOOK environment variable when empty.
	SlackWebhook string `yaml:"slack_webhook"`

	// Debug preserves the instance after the workload exits and
	// captures core dumps instead of self-destructing.
	Debug bool `yaml:"debug"`

	// CoreDir is where core dumps land in debug mode.
	// Default: /coredumps.
	CoreDir string `yaml:"core_dir"`

	// StatusAddr, when set, serves /healthz and /metrics while the
	// workload runs (e.g. ":9090").
	StatusAddr string `yaml:"status_addr"`
}

// ---------------------------------------------------------------------------
// Dataset
// ---------------------------------------------------------------------------

// DatasetConfig holds corpus selection defaults.
type DatasetConfig struct {
	// Tag is the compiled-toolchain version tag.  Default: llvm11.
	Tag string `yaml:"tag"`

	// Size is the corpus size.  Default: 1k.
	Size string `yaml:"size"`

	// ArchFile is the path of the ordered architecture list.
	ArchFile string `yaml:"arch_file"`
}

// ---------------------------------------------------------------------------
// Logging
// ---------------------------------------------------------------------------

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	// Level: debug, info, warn, error.  Default: info.
	Level string `yaml:"level"`
	// Format: text, json.  Default: text.
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// OpenTelemetry
// ---------------------------------------------------------------------------

// OTelConfig controls OpenTelemetry tracing and metrics.
type OTelConfig struct {
	// Enabled controls whether OTLP push is active.  Default: false.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP HTTP endpoint (e.g. "localhost:4318").
	// If empty, falls back to OTEL_EXPORTER_OTLP_ENDPOINT env var.
	Endpoint string `yaml:"endpoint"`

	// Insecure enables plain HTTP (no TLS) for OTLP export.  Default: true.
	Insecure bool `yaml:"insecure"`

	// StdOut also prints traces and metrics to stdout (for debugging).
	StdOut bool `yaml:"stdout"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads a YAML config file from path and returns the parsed Config.
// If the file does not exist the returned Config contains zero values
// which flags and environment fallbacks can fill before Validate.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Config file is optional -- flags can supply everything.
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// ---------------------------------------------------------------------------
// Defaults & validation
// ---------------------------------------------------------------------------

// ApplyDefaults fills in defaults and environment fallbacks for any
// unset fields.
func (c *Config) ApplyDefaults() {
	if c.Cloud.Provider == "" {
		c.Cloud.Provider = "digitalocean"
	}
	if c.Cloud.DigitalOcean.Token == "" {
		c.Cloud.DigitalOcean.Token = os.Getenv("DO_TOKEN")
	}
	if c.Cloud.DigitalOcean.Region == "" {
		c.Cloud.DigitalOcean.Region = "nyc3"
	}
	if c.Cloud.DigitalOcean.Size == "" {
		c.Cloud.DigitalOcean.Size = "c-32"
	}
	if c.Cloud.DigitalOcean.Image == "" {
		c.Cloud.DigitalOcean.Image = "ubuntu-20-04-x64"
	}
	if c.Cloud.Docker.Image == "" {
		c.Cloud.Docker.Image = "ubuntu:20.04"
	}
	if c.Spaces.AccessKey == "" {
		c.Spaces.AccessKey = os.Getenv("AWS_ACCESS_KEY_ID")
	}
	if c.Spaces.SecretKey == "" {
		c.Spaces.SecretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	if c.Spaces.UseSSL == nil {
		t := true
		c.Spaces.UseSSL = &t
	}
	if c.Run.SlackWebhook == "" {
		c.Run.SlackWebhook = os.Getenv("SLACK_HOOK")
	}
	if c.Run.CoreDir == "" {
		c.Run.CoreDir = "/coredumps"
	}
	if c.Dataset.Tag == "" {
		c.Dataset.Tag = dataset.DefaultTag
	}
	if c.Dataset.Size == "" {
		c.Dataset.Size = dataset.DefaultSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if !c.OTel.Enabled && c.OTel.Endpoint == "" {
		c.OTel.Insecure = true
	}
}

// Validate checks invariants shared by every command.  Command-specific
// requirements (cloud credentials, storage settings) are checked by
// ValidateCloud and ValidateSpaces so that, say, a dataset fetch does
// not demand a control-plane token.
func (c *Config) Validate() error {
	c.ApplyDefaults()

	switch c.Cloud.Provider {
	case "digitalocean", "docker":
		// OK
	default:
		return fmt.Errorf("cloud.provider %q is not supported (supported: digitalocean, docker)", c.Cloud.Provider)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}

	return nil
}

// ValidateCloud checks the settings the selected backend needs.
func (c *Config) ValidateCloud() error {
	if c.Cloud.Provider == "digitalocean" && c.Cloud.DigitalOcean.Token == "" {
		return fmt.Errorf("no DigitalOcean token: set cloud.digitalocean.token or the DO_TOKEN env var")
	}
	return nil
}

// ValidateSpaces checks the object-storage settings.
func (c *Config) ValidateSpaces() error {
	if c.Spaces.Endpoint == "" {
		return fmt.Errorf("spaces.endpoint is required")
	}
	if c.Spaces.Bucket == "" {
		return fmt.Errorf("spaces.bucket is required")
	}
	if c.Spaces.AccessKey == "" || c.Spaces.SecretKey == "" {
		return fmt.Errorf("no Spaces credentials: set spaces.access_key/secret_key or the AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY env vars")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Factories
// ---------------------------------------------------------------------------

// NewLogger creates a *slog.Logger from the Logging configuration.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     c.slogLevel(),
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
}

func (c *Config) slogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewInstances creates the instance backend selected by cloud.provider.
func (c *Config) NewInstances(ctx context.Context, logger *slog.Logger) (cloud.Instances, error) {
	switch c.Cloud.Provider {
	case "digitalocean":
		return digitalocean.New(digitalocean.Config{
			Token: c.Cloud.DigitalOcean.Token,
		}, logger.WithGroup("cloud.digitalocean"))
	case "docker":
		return docker.New(ctx, docker.Config{
			Image: c.Cloud.Docker.Image,
		}, logger.WithGroup("cloud.docker"))
	default:
		return nil, fmt.Errorf("unsupported cloud provider: %s", c.Cloud.Provider)
	}
}

// NewObjectStore creates the corpus object store.
func (c *Config) NewObjectStore() (dataset.ObjectStore, error) {
	return dataset.NewSpacesStore(dataset.SpacesConfig{
		Endpoint:  c.Spaces.Endpoint,
		Region:    c.Spaces.Region,
		Bucket:    c.Spaces.Bucket,
		AccessKey: c.Spaces.AccessKey,
		SecretKey: c.Spaces.SecretKey,
		UseSSL:    *c.Spaces.UseSSL,
	})
}
