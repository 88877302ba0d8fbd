package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds configuration for the object store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBaseURL is the externally reachable prefix for stored objects,
	// e.g. a CDN in front of the bucket.
	PublicBaseURL string
}

// MinioStore persists audio artifacts and playlist manifests in an
// S3-compatible bucket.
type MinioStore struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

// NewMinioStore creates the store and verifies the bucket exists,
// creating it when it does not.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MinioStore{
		client:        cli,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// UploadAudio stores one μ-law audio artifact and returns its public
// location and size in bytes.
func (m *MinioStore) UploadAudio(ctx context.Context, key string, data []byte) (string, int64, error) {
	info, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "audio/basic",
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to upload audio %s: %w", key, err)
	}
	return m.Location(key), info.Size, nil
}

// UploadManifest stores a playlist manifest, overwriting any previous
// version under the same key. Overwrites are how a streaming playlist
// grows: each rewrite carries every chunk published so far.
func (m *MinioStore) UploadManifest(ctx context.Context, key, manifest string) (string, error) {
	_, err := m.client.PutObject(ctx, m.bucket, key, strings.NewReader(manifest), int64(len(manifest)), minio.PutObjectOptions{
		ContentType:  "application/vnd.apple.mpegurl",
		CacheControl: "no-cache",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload manifest %s: %w", key, err)
	}
	return m.Location(key), nil
}

// Location returns the public URL for a stored key.
func (m *MinioStore) Location(key string) string {
	return m.publicBaseURL + "/" + strings.TrimLeft(key, "/")
}
