// Package s3blob archives finished runs to S3 or an S3-compatible store
// such as MinIO or R2.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig describes the bucket runs are archived to.
type ClientConfig struct {
	// Endpoint is empty for AWS. A bare host gets a scheme from UseSSL.
	Endpoint string
	Region   string
	Bucket   string
	// Prefix is the key prefix shared by every run, e.g. "updownbot".
	Prefix string

	// Static keys are optional; without them the default AWS chain (env,
	// shared profile, instance role) is used.
	AccessKey string
	SecretKey string

	UseSSL         bool
	ForcePathStyle bool
}

// Client is a bucket-scoped S3 handle.
type Client struct {
	api    *s3.Client
	bucket string
	prefix string
}

// New loads AWS configuration and builds the S3 client.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	switch {
	case cfg.Bucket == "":
		return nil, errors.New("s3blob: bucket is required")
	case cfg.Region == "":
		return nil, errors.New("s3blob: region is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpointURL(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{
		api:    api,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Ping checks the bucket exists and is reachable with the configured
// credentials.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %q: %w", c.bucket, err)
	}
	return nil
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string { return c.bucket }

// Prefix returns the key prefix without surrounding slashes.
func (c *Client) Prefix() string { return c.prefix }

func endpointURL(endpoint string, tls bool) string {
	endpoint = strings.TrimRight(endpoint, "/")
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if tls {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
