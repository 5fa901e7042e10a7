// Package s3 uploads pipeline artifacts to an S3 bucket, an optional
// sink alongside GitHub releases.
package s3

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	rferrors "github.com/rentflow/rentflow/pkg/errors"
)

// Config holds S3 client configuration.
type Config struct {
	Region string
	Bucket string

	// Endpoint overrides the default S3 endpoint, for S3-compatible
	// services like MinIO or LocalStack.
	Endpoint     string
	UsePathStyle bool

	// Static credentials; the default chain is used when empty.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	UploadTimeout time.Duration

	// Prefix is prepended to all uploaded keys.
	Prefix string
}

// DefaultConfig returns sensible defaults for a bucket and region.
func DefaultConfig(bucket, region string) Config {
	return Config{
		Bucket:        bucket,
		Region:        region,
		UploadTimeout: 5 * time.Minute,
		Prefix:        "rentflow/",
	}
}

// Client uploads artifacts to one bucket.
type Client struct {
	cfg    Config
	client *s3.Client
}

// NewClient builds an S3 client from the config.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, rferrors.New(rferrors.CodeInvalidConfig, "s3 bucket not configured")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeInvalidConfig, "failed to load AWS config")
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Client{cfg: cfg, client: s3.NewFromConfig(awsCfg, s3Opts...)}, nil
}

// Upload stores one local file under prefix/runTag/basename.
func (c *Client) Upload(ctx context.Context, runTag, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", rferrors.Wrap(err, rferrors.CodePublishFailed, "artifact not readable").
			WithContext("path", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	key := c.cfg.Prefix + runTag + "/" + filepath.Base(path)
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.cfg.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return "", rferrors.Wrap(err, rferrors.CodePublishFailed, "s3 upload failed").
			WithContext("bucket", c.cfg.Bucket).
			WithContext("key", key)
	}

	slog.Info("artifact uploaded to s3",
		"bucket", c.cfg.Bucket, "key", key, "bytes", info.Size())
	return key, nil
}

// UploadAll uploads every file, skipping ones that do not exist locally.
func (c *Client) UploadAll(ctx context.Context, runTag string, paths []string) ([]string, error) {
	var keys []string
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			slog.Warn("skipping missing artifact", "path", path)
			continue
		}
		key, err := c.Upload(ctx, runTag, path)
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
