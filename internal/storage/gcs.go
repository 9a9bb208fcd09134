package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/jjudge-oj/authserver/config"
	"google.golang.org/api/option"
)

// GCSClient writes exports to a Google Cloud Storage bucket. Objects are
// created with a does-not-exist precondition, so an export never replaces
// an earlier one.
type GCSClient struct {
	client    *storage.Client
	bucket    string
	projectID string
}

func NewGCSClient(ctx context.Context, cfg config.GCSConfig) (*GCSClient, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("gcs: missing GCS_BUCKET")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}

	return &GCSClient{
		client:    client,
		bucket:    cfg.Bucket,
		projectID: cfg.ProjectID,
	}, nil
}

// EnsureBucket creates the bucket when it is missing. Creating requires a
// project id.
func (g *GCSClient) EnsureBucket(ctx context.Context) error {
	bucket := g.client.Bucket(g.bucket)
	_, err := bucket.Attrs(ctx)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, storage.ErrBucketNotExist):
		return fmt.Errorf("gcs: check bucket %s: %w", g.bucket, err)
	case strings.TrimSpace(g.projectID) == "":
		return fmt.Errorf("gcs: bucket %s does not exist and GCS_PROJECT_ID is not set", g.bucket)
	}
	if err := bucket.Create(ctx, g.projectID, nil); err != nil {
		return fmt.Errorf("gcs: create bucket %s: %w", g.bucket, err)
	}
	return nil
}

func (g *GCSClient) Put(ctx context.Context, obj Object) error {
	handle := g.client.Bucket(g.bucket).Object(obj.Key).If(storage.Conditions{DoesNotExist: true})

	writer := handle.NewWriter(ctx)
	writer.ContentType = obj.ContentType
	writer.CacheControl = "no-store"
	writer.Metadata = obj.Metadata
	// Single request upload; exports are small.
	writer.ChunkSize = 0

	if _, err := writer.Write(obj.Body); err != nil {
		_ = writer.Close()
		return fmt.Errorf("gcs: write %s/%s: %w", g.bucket, obj.Key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("gcs: close %s/%s: %w", g.bucket, obj.Key, err)
	}
	return nil
}

func (g *GCSClient) Bucket() string {
	return g.bucket
}
