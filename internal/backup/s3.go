package backup

import (
	"bytes"
	"context"
	"fmt"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"autoqc/internal/config"
)

// Uploader stores an object under key.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
}

// S3Uploader writes objects to a single bucket.
type S3Uploader struct {
	client *s3.Client
	bucket string
}

// NewS3 builds an S3Uploader from the backup section. Extra options are
// applied to the S3 client after the config-derived ones.
func NewS3(ctx context.Context, cfg config.Backup, opts ...func(*s3.Options)) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3FromConfig(awsCfg, cfg, opts...), nil
}

// NewS3FromConfig builds an S3Uploader from an already loaded AWS config.
func NewS3FromConfig(awsCfg aws.Config, cfg config.Backup, opts ...func(*s3.Options)) *S3Uploader {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		for _, opt := range opts {
			opt(o)
		}
	})
	return &S3Uploader{client: client, bucket: cfg.Bucket}
}

// Upload puts body at key, replacing any existing object.
func (u *S3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := u.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}
	return nil
}
