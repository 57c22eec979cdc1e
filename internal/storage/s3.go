package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config locates a bucket and tunes retries.
type S3Config struct {
	Bucket string
	Region string // default us-east-1
	// Endpoint and UsePathStyle select an S3-compatible server such as MinIO.
	Endpoint     string
	UsePathStyle bool
	// Prefix is prepended to every object key.
	Prefix string

	MaxRetries int           // default 3
	RetryBase  time.Duration // first backoff, doubled per attempt; default 100ms
}

// s3API is the part of *s3.Client the store calls.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// S3Storage implements ObjectStorage on an S3 bucket. Object paths become
// keys below the configured prefix.
type S3Storage struct {
	api s3API
	cfg S3Config
}

// NewS3Storage builds a client from the default AWS credential chain.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newS3Storage(client, cfg), nil
}

func newS3Storage(api s3API, cfg S3Config) *S3Storage {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	return &S3Storage{api: api, cfg: cfg}
}

func (s *S3Storage) key(objectPath string) (*string, error) {
	if err := validPath(objectPath); err != nil {
		return nil, err
	}
	return aws.String(s.cfg.Prefix + objectPath), nil
}

// Put uploads data, replacing any existing object.
func (s *S3Storage) Put(ctx context.Context, objectPath string, data []byte) error {
	key, err := s.key(objectPath)
	if err != nil {
		return err
	}
	_, err = retry(ctx, s.cfg, func() (*s3.PutObjectOutput, error) {
		return s.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.cfg.Bucket),
			Key:           key,
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
		})
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPutFailed, objectPath, err)
	}
	return nil
}

// Get downloads an object.
func (s *S3Storage) Get(ctx context.Context, objectPath string) ([]byte, error) {
	key, err := s.key(objectPath)
	if err != nil {
		return nil, err
	}
	data, err := retry(ctx, s.cfg, func() ([]byte, error) {
		out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: key})
		if err != nil {
			return nil, notFoundAs(err, ErrObjectNotFound)
		}
		defer out.Body.Close()
		return io.ReadAll(out.Body)
	})
	switch {
	case errors.Is(err, ErrObjectNotFound):
		return nil, ErrObjectNotFound
	case err != nil:
		return nil, fmt.Errorf("%w: %s: %w", ErrGetFailed, objectPath, err)
	}
	return data, nil
}

// Delete removes an object. S3 treats a missing key as deleted.
func (s *S3Storage) Delete(ctx context.Context, objectPath string) error {
	key, err := s.key(objectPath)
	if err != nil {
		return err
	}
	_, err = retry(ctx, s.cfg, func() (*s3.DeleteObjectOutput, error) {
		return s.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: key})
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDeleteFailed, objectPath, err)
	}
	return nil
}

// Exists reports whether the object is present.
func (s *S3Storage) Exists(ctx context.Context, objectPath string) (bool, error) {
	key, err := s.key(objectPath)
	if err != nil {
		return false, err
	}
	_, err = retry(ctx, s.cfg, func() (*s3.HeadObjectOutput, error) {
		out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: key})
		return out, notFoundAs(err, ErrObjectNotFound)
	})
	switch {
	case errors.Is(err, ErrObjectNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// ListObjects pages through every key under prefix and returns them as
// object paths, without the configured key prefix.
func (s *S3Storage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	pages := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.cfg.Prefix + prefix),
	})
	var paths []string
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			paths = append(paths, strings.TrimPrefix(aws.ToString(obj.Key), s.cfg.Prefix))
		}
	}
	return paths, nil
}

// notFoundAs replaces S3's missing-object errors with target. HeadObject
// reports NotFound, GetObject NoSuchKey, and some compatible servers only
// a bare 404.
func notFoundAs(err, target error) error {
	if err == nil {
		return nil
	}
	var (
		noKey   *types.NoSuchKey
		missing *types.NotFound
		resp    *awshttp.ResponseError
	)
	switch {
	case errors.As(err, &noKey), errors.As(err, &missing):
		return target
	case errors.As(err, &resp) && resp.HTTPStatusCode() == http.StatusNotFound:
		return target
	}
	return err
}

// retry runs op until it succeeds, reports a missing object, or has failed
// MaxRetries+1 times, sleeping RetryBase, 2*RetryBase, ... in between.
func retry[T any](ctx context.Context, cfg S3Config, op func() (T, error)) (T, error) {
	delay := cfg.RetryBase
	for attempt := 0; ; attempt++ {
		v, err := op()
		if err == nil || errors.Is(err, ErrObjectNotFound) || attempt >= cfg.MaxRetries {
			return v, err
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}
