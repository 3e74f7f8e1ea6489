package dataset

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// SpacesConfig holds the object-storage connection settings. The
// corpus lives in a DigitalOcean Space, which speaks the S3 protocol.
type SpacesConfig struct {
	// Endpoint is the Spaces endpoint without scheme
	// (e.g. "nyc3.digitaloceanspaces.com").
	Endpoint string

	// Region is the Spaces region (e.g. "nyc3").
	Region string

	// Bucket is the Space holding the corpus archives.
	Bucket string

	// AccessKey and SecretKey are the Spaces credentials.
	AccessKey string
	SecretKey string

	// UseSSL enables TLS. Default true in config loading.
	UseSSL bool
}

// SpacesStore implements ObjectStore against a DigitalOcean Space.
type SpacesStore struct {
	client *minio.Client
	bucket string
}

// Compile-time check.
var _ ObjectStore = (*SpacesStore)(nil)

// NewSpacesStore connects to the configured Space.
func NewSpacesStore(cfg SpacesConfig) (*SpacesStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("spaces: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("spaces: bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("spaces client: %w", err)
	}

	return &SpacesStore{client: client, bucket: cfg.Bucket}, nil
}

// Download fetches one object to dest.
func (s *SpacesStore) Download(ctx context.Context, key, dest string) error {
	if err := s.client.FGetObject(ctx, s.bucket, key, dest, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("get object %s/%s: %w", s.bucket, key, err)
	}
	return nil
}
