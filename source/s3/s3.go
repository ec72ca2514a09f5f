// Package s3 provides an S3-backed asset source, covering AWS and
// S3-compatible providers (R2, MinIO) via endpoint and path-style
// overrides.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pithecene-io/hostbridge/source"
	"github.com/pithecene-io/hostbridge/types"
)

// Config holds the S3 backend settings.
type Config struct {
	// Bucket is the bucket name (required).
	Bucket string
	// Prefix is prepended to every object key (optional).
	Prefix string
	// Region overrides the default credential chain's region (optional).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers.
	// Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not
	// subdomain). Required by most S3-compatible providers.
	UsePathStyle bool
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("s3 bucket is required")
	}
	return nil
}

// objectGetter is the slice of the S3 API this source needs.
type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Source fetches objects from one bucket.
type Source struct {
	client objectGetter
	bucket string
	prefix string
}

var _ source.Source = (*Source)(nil)

// New creates a source using the AWS SDK default credential chain
// (env vars, shared config, IAM role).
func New(ctx context.Context, cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Source{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Fetch retrieves one object. The reference is the object key, resolved
// under the configured prefix.
func (s *Source) Fetch(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	key := s.resolveKey(ref)
	if key == "" {
		return nil, 0, types.NewValidationError("empty object key")
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

func (s *Source) resolveKey(ref string) string {
	ref = strings.TrimPrefix(ref, "/")
	if s.prefix == "" {
		return ref
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + ref
}
