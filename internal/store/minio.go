package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig describes an S3-compatible endpoint.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

func minioConfigFromURL(u *url.URL) MinioConfig {
	cfg := MinioConfig{
		Endpoint: u.Host,
		Region:   u.Query().Get("region"),
		UseSSL:   u.Scheme == "https",
	}
	if u.User != nil {
		cfg.AccessKey = u.User.Username()
		cfg.SecretKey, _ = u.User.Password()
	}
	return cfg
}

// MinioStore is a BlobStore backed by a bucket on any S3-compatible service.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the endpoint and makes sure the bucket exists,
// creating it if necessary.
func NewMinioStore(ctx context.Context, cfg MinioConfig, bucket string) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
		}
		slog.Info("Created bucket", "bucket", bucket)
	}

	return &MinioStore{client: client, bucket: bucket}, nil
}

func (s *MinioStore) List(ctx context.Context) ([]string, error) {
	opts := minio.ListObjectsOptions{
		Recursive: true,
	}

	names := make([]string, 0, 64)
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects in %q: %w", s.bucket, obj.Err)
		}
		names = append(names, obj.Key)
	}
	return names, nil
}

func (s *MinioStore) ReadStream(ctx context.Context, name string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrapError(name, err)
	}

	// GetObject is lazy; Stat forces the request so a missing key is reported
	// here rather than on the first Read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, s.wrapError(name, err)
	}
	return obj, nil
}

func (s *MinioStore) WriteFromLocalFile(ctx context.Context, name string, localPath string) error {
	_, err := s.client.FPutObject(ctx, s.bucket, name, localPath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("put object %q: %w", name, err)
	}
	return nil
}

func (s *MinioStore) Delete(ctx context.Context, name string) error {
	// RemoveObject succeeds for missing keys, so check first.
	if _, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{}); err != nil {
		return s.wrapError(name, err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %q: %w", name, err)
	}
	return nil
}

func (s *MinioStore) Close() error {
	return nil
}

func (s *MinioStore) wrapError(name string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	return fmt.Errorf("%q: %w", name, err)
}
