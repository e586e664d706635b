package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/roach88/tunedb/internal/config"
)

// Bucket stores dumps as objects under a key prefix of one S3 bucket.
type Bucket struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 builds a Bucket from cfg. optFns are applied after cfg, so tests can
// swap the HTTP client.
func NewS3(ctx context.Context, cfg config.ArchiveConfig, optFns ...func(*s3.Options)) (*Bucket, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	opts := []func(*s3.Options){func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// S3-compatible stores differ in trailing checksum support.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	}}
	client := s3.NewFromConfig(awsCfg, append(opts, optFns...)...)
	return &Bucket{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Key returns the object key a dump named name is stored under.
func (b *Bucket) Key(name string) string {
	if b.prefix == "" {
		return name
	}
	return path.Join(b.prefix, name)
}

// Upload stores data as the dump named name, replacing any previous one.
func (b *Bucket) Upload(ctx context.Context, name string, data []byte) error {
	key := b.Key(name)
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &b.bucket,
		Key:           &key,
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: put s3://%s/%s: %w", b.bucket, key, err)
	}
	return nil
}

// ErrNoDump is returned by Download when the named dump does not exist.
var ErrNoDump = errors.New("archive: no such dump")

// Download returns the dump named name.
func (b *Bucket) Download(ctx context.Context, name string) ([]byte, error) {
	key := b.Key(name)
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &b.bucket, Key: &key})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("s3://%s/%s: %w", b.bucket, key, ErrNoDump)
		}
		return nil, fmt.Errorf("archive: get s3://%s/%s: %w", b.bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("archive: read s3://%s/%s: %w", b.bucket, key, err)
	}
	return data, nil
}
