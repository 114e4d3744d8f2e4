package blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config describes an S3 compatible bucket.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Secure    bool
	// Prefix is prepended to every object key.
	Prefix string
}

// S3Store keeps shards as objects in an S3 compatible bucket.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Store dials the endpoint described by cfg.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: endpoint and bucket required")
	}
	endpoint := cfg.Endpoint
	secure := cfg.Secure
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint, secure = strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		endpoint, secure = strings.TrimPrefix(endpoint, "http://"), false
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: client: %w", err)
	}
	return NewS3StoreWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client *minio.Client, bucket, prefix string) *S3Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *S3Store) EnsureBucket(ctx context.Context, region string) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("s3: bucket exists: %w", err)
	}
	if ok {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("s3: make bucket: %w", err)
	}
	return nil
}

func (s *S3Store) Put(ctx context.Context, id ID, r io.Reader, size int64) (int64, error) {
	info, err := s.client.PutObject(ctx, s.bucket, s.key(id), r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return 0, err
	}
	if size >= 0 && info.Size != size {
		return info.Size, ErrSizeMismatch
	}
	return info.Size, nil
}

func (s *S3Store) Get(ctx context.Context, id ID) (io.ReadCloser, int64, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, mapS3Error(err)
	}
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, 0, mapS3Error(err)
	}
	return obj, stat.Size, nil
}

func (s *S3Store) Delete(ctx context.Context, id ID) error {
	return mapS3Error(s.client.RemoveObject(ctx, s.bucket, s.key(id), minio.RemoveObjectOptions{}))
}

func (s *S3Store) Exists(ctx context.Context, id ID) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.key(id), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *S3Store) key(id ID) string {
	return s.prefix + shardKey(id)
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func mapS3Error(err error) error {
	if err != nil && isNoSuchKey(err) {
		return ErrNotFound
	}
	return err
}
