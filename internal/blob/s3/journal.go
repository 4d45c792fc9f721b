// Package s3blob archives settlement journal entries to S3 or an
// S3-compatible store (MinIO, R2) through AWS SDK v2.
package s3blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Config selects the bucket and key prefix journal entries are written to.
type Config struct {
	// Endpoint is an S3-compatible endpoint such as "minio:9000" or
	// "http://minio:9000". Empty means AWS S3.
	Endpoint string
	Region   string
	Bucket   string
	Prefix   string

	// AccessKey and SecretKey are optional; without them the default AWS
	// credential chain (env, shared config, instance role) is used.
	AccessKey string
	SecretKey string

	UseSSL         bool // scheme for an Endpoint given without one
	ForcePathStyle bool // MinIO wants bucket-in-path addressing
}

// objectAPI is the slice of the S3 client the journal uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Journal stores settlement records as objects. It implements
// domain.BlobWriter.
type Journal struct {
	api    objectAPI
	bucket string
	prefix string
}

// New builds a Journal from cfg.
func New(ctx context.Context, cfg Config) (*Journal, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
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

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpointURL(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return newJournal(client, cfg.Bucket, cfg.Prefix), nil
}

func newJournal(api objectAPI, bucket, prefix string) *Journal {
	return &Journal{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Put uploads data with a single PutObject request. Journal entries are a
// few hundred bytes.
func (j *Journal) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	key := j.key(path)
	_, err := j.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(j.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s/%s: %w", j.bucket, key, err)
	}
	return nil
}

// Health checks that the bucket exists and is reachable with the configured
// credentials.
func (j *Journal) Health(ctx context.Context) error {
	if _, err := j.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(j.bucket)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", j.bucket, err)
	}
	return nil
}

func (j *Journal) key(path string) string {
	path = strings.TrimLeft(path, "/")
	if j.prefix == "" {
		return path
	}
	return j.prefix + "/" + path
}

// endpointURL adds a scheme to a bare host[:port]. url.Parse is no help
// here: it reads "localhost:9000" as scheme "localhost".
func endpointURL(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

var _ domain.BlobWriter = (*Journal)(nil)
