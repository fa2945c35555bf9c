// Package artifact stores customer design files in S3-compatible object
// storage. Files move between the browser and the bucket directly via
// presigned URLs; the order record only carries the object key.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/random"
)

// Config holds object storage configuration.
type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PresignTTL      time.Duration
}

// Store presigns uploads and downloads of design files.
type Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	ttl       time.Duration
}

// NewStore creates an artifact store.
func NewStore(cfg *Config) (*Store, error) {
	if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.Bucket == "" {
		return nil, errors.New("incomplete storage configuration")
	}

	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(creds),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		ttl:       ttl,
	}, nil
}

// PresignedURL is a time-limited URL for direct object access.
type PresignedURL struct {
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewKey allocates an object key for a fresh design file upload.
func NewKey(filename string) string {
	ext := path.Ext(filename)
	return fmt.Sprintf("designs/%s/%s%s", time.Now().Format("2006/01"), random.UpperAlphaNum(16), ext)
}

// PresignUpload generates a presigned URL for uploading a design file.
func (s *Store) PresignUpload(ctx context.Context, key string, size int64) (*PresignedURL, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	req, err := s.presigner.PresignPutObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = s.ttl
	})
	if err != nil {
		return nil, fmt.Errorf("presign put: %w", err)
	}

	return &PresignedURL{
		URL:       req.URL,
		Method:    req.Method,
		Key:       key,
		ExpiresAt: time.Now().Add(s.ttl),
	}, nil
}

// PresignDownload generates a presigned URL for retrieving a design file.
func (s *Store) PresignDownload(ctx context.Context, key string) (*PresignedURL, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}

	req, err := s.presigner.PresignGetObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = s.ttl
	})
	if err != nil {
		return nil, fmt.Errorf("presign get: %w", err)
	}

	return &PresignedURL{
		URL:       req.URL,
		Method:    req.Method,
		Key:       key,
		ExpiresAt: time.Now().Add(s.ttl),
	}, nil
}

// DeleteObject removes a design file, used when an order is purged.
func (s *Store) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
