package drivers

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/FairForge/vaultaire-recovery/internal/backup"
)

const defaultS3Region = "us-east-1"

// S3API is the subset of the S3 client a target uses
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Target stores archives in an S3-compatible bucket
type S3Target struct {
	name   string
	bucket string
	prefix string
	logger *zap.Logger
	client S3API
}

// NewS3Target creates a target from the destination's bucket settings.
// Static credentials are used when the destination carries them; otherwise
// the default AWS credential chain applies.
func NewS3Target(ctx context.Context, dest backup.Destination, logger *zap.Logger) (*S3Target, error) {
	if dest.Bucket == "" {
		return nil, fmt.Errorf("destination %s: bucket required", dest.Name)
	}
	region := dest.Region
	if region == "" {
		region = defaultS3Region
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if dest.AccessKeyID != "" {
		creds := credentials.NewStaticCredentialsProvider(dest.AccessKeyID, dest.SecretAccessKey, "")
		opts = append(opts, config.WithCredentialsProvider(creds))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if dest.Endpoint != "" {
			o.BaseEndpoint = aws.String(dest.Endpoint)
		}
		o.UsePathStyle = dest.UsePathStyle
	})
	return NewS3TargetWithClient(dest, client, logger), nil
}

// NewS3TargetWithClient wraps an existing client
func NewS3TargetWithClient(dest backup.Destination, client S3API, logger *zap.Logger) *S3Target {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Target{
		name:   dest.Name,
		bucket: dest.Bucket,
		prefix: dest.Prefix,
		logger: logger.Named("s3"),
		client: client,
	}
}

// Name returns the destination name
func (t *S3Target) Name() string {
	return t.name
}

func (t *S3Target) key(key string) string {
	if t.prefix == "" {
		return key
	}
	return path.Join(t.prefix, key)
}

// Put uploads the object
func (t *S3Target) Put(ctx context.Context, key string, data io.Reader) (string, error) {
	k := t.key(key)
	t.logger.Debug("put object", zap.String("bucket", t.bucket), zap.String("key", k))
	_, err := t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(k),
		Body:   data,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s/%s: %w", t.bucket, k, err)
	}
	return key, nil
}

// Get downloads the object
func (t *S3Target) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	k := t.key(key)
	result, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", t.bucket, k, err)
	}
	return result.Body, nil
}

// Delete removes the object
func (t *S3Target) Delete(ctx context.Context, key string) error {
	k := t.key(key)
	_, err := t.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		return fmt.Errorf("delete object %s/%s: %w", t.bucket, k, err)
	}
	return nil
}

// Ping checks the bucket is reachable with the configured credentials
func (t *S3Target) Ping(ctx context.Context) error {
	_, err := t.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(t.bucket)})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", t.bucket, err)
	}
	return nil
}
