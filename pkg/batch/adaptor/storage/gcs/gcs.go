// Package gcs stores objects in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	storage "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/storage"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Type is the storage type handled by this package.
const Type = "gcs"

func init() {
	storage.Register(Type, func(ctx context.Context, name string, cfg config.StorageConfig) (storage.Storage, error) {
		return New(ctx, name, cfg)
	})
}

// Storage is a GCS client bound to a default bucket.
type Storage struct {
	name   string
	bucket string
	client *gcstorage.Client
}

var _ storage.Storage = (*Storage)(nil)

// New creates a client. Without credentials_file, Application Default Credentials are used.
func New(ctx context.Context, name string, cfg config.StorageConfig, opts ...option.ClientOption) (*Storage, error) {
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &Storage{name: name, bucket: cfg.BucketName, client: client}, nil
}

func (s *Storage) Close() error { return s.client.Close() }
func (s *Storage) Type() string { return Type }
func (s *Storage) Name() string { return s.name }

func (s *Storage) bucketOf(bucket string) (string, error) {
	if bucket == "" {
		bucket = s.bucket
	}
	if bucket == "" {
		return "", fmt.Errorf("gcs storage '%s': no bucket given and bucket_name is not set", s.name)
	}
	return bucket, nil
}

func (s *Storage) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	bucket, err := s.bucketOf(bucket)
	if err != nil {
		return err
	}
	w := s.client.Bucket(bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("upload gs://%s/%s: %w", bucket, objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload gs://%s/%s: %w", bucket, objectName, err)
	}
	logger.Debugf("gcs storage '%s': uploaded gs://%s/%s.", s.name, bucket, objectName)
	return nil
}

func (s *Storage) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	bucket, err := s.bucketOf(bucket)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("download gs://%s/%s: %w", bucket, objectName, err)
	}
	return r, nil
}

func (s *Storage) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	bucket, err := s.bucketOf(bucket)
	if err != nil {
		return err
	}
	it := s.client.Bucket(bucket).Objects(ctx, &gcstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("list gs://%s/%s: %w", bucket, prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

func (s *Storage) DeleteObject(ctx context.Context, bucket, objectName string) error {
	bucket, err := s.bucketOf(bucket)
	if err != nil {
		return err
	}
	err = s.client.Bucket(bucket).Object(objectName).Delete(ctx)
	if err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return fmt.Errorf("delete gs://%s/%s: %w", bucket, objectName, err)
	}
	return nil
}
