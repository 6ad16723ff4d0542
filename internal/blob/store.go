// Package blob provides an S3-compatible object store for the media and
// audio artifacts the enrichment pipeline produces. Callers address objects
// by an exact key (e.g. "vocabs/en/house/images/large2x.jpg") rather than by
// an opaque artifact ID, since the pipeline's blob layout is part of its
// external contract.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Config configures an S3-compatible blob store.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// PutOptions carries optional metadata for a Put call.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Store stores and retrieves blobs in an S3-compatible bucket, keyed by
// their full object key.
type Store struct {
	client *s3.Client
	bucket string
}

// New creates a new S3-backed blob store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("blob: bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("blob: load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Store{client: client, bucket: bucket}, nil
}

// Put streams data into the bucket under key and returns the object's
// s3:// URL. Callers stream directly from an in-memory or network reader;
// the pipeline never writes artifact bytes to local disk.
func (s *Store) Put(ctx context.Context, key string, data io.Reader, opts PutOptions) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   data,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("blob: put object %q: %w", key, err)
	}
	return s.URL(key), nil
}

// Get retrieves a blob's contents.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: get object %q: %w", key, err)
	}
	return out.Body, nil
}

// Exists reports whether a key is already present, without downloading it.
// The audio subsystem uses this for idempotent reuse: if both target keys
// already exist, it skips regenerating audio entirely.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return false, nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && strings.EqualFold(apiErr.ErrorCode(), "NotFound") {
		return false, nil
	}
	return false, fmt.Errorf("blob: head object %q: %w", key, err)
}

// URL returns the canonical s3:// URL for a key, without touching the network.
func (s *Store) URL(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

// Delete removes a blob. Used by tests and cleanup tooling; the pipeline
// itself never deletes artifacts it has written.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}); err != nil {
		return fmt.Errorf("blob: delete object %q: %w", key, err)
	}
	return nil
}
