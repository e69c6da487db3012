package repository

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	applogger "XetraCast/pkg/logger"
)

// S3API is the subset of the S3 client used for dataset files and the
// public Xetra bucket.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store implements ObjectStore on one bucket under a key prefix.
type S3Store struct {
	client S3API
	bucket string
	prefix string
	l      *applogger.Logger
}

func NewS3Store(client S3API, bucket, prefix string, l *applogger.Logger) *S3Store {
	if l == nil {
		l = applogger.NewNop()
	}
	return &S3Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), l: l.With("s3")}
}

// URI returns the s3:// URI of key under the store's prefix.
func (s *S3Store) URI(key string) string {
	return "s3://" + s.bucket + "/" + s.key(key)
}

func (s *S3Store) key(key string) string {
	return path.Join(s.prefix, strings.TrimLeft(key, "/"))
}

// Put uploads r to key and returns its URI.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	start := time.Now()
	full := s.key(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
		Body:   r,
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", s.bucket, full, err)
	}
	uri := "s3://" + s.bucket + "/" + full
	s.l.Info("object uploaded", applogger.String("uri", uri), applogger.Duration("duration_ms", time.Since(start)))
	return uri, nil
}

// Get opens an object by s3:// URI or by key under the store's prefix.
func (s *S3Store) Get(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key := s.bucket, s.key(uri)
	if strings.HasPrefix(uri, "s3://") {
		var err error
		bucket, key, err = ParseS3URI(uri)
		if err != nil {
			return nil, err
		}
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3 uri %q has no bucket", uri)
	}
	return bucket, key, nil
}
