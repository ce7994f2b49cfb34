package storage

import (
	"context"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
)

// ObjectStore is the durable blob surface the pipeline stages use. The
// minio client satisfies it in production; tests substitute an in-memory
// implementation.
type ObjectStore interface {
	Download(ctx context.Context, objectKey, localPath string) error
	Upload(ctx context.Context, objectKey, localPath, contentType string, metadata map[string]string) error
	Remove(ctx context.Context, objectKey string) error
	Stat(ctx context.Context, objectKey string) (int64, time.Time, error)
	PresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

type minioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(client *minio.Client, bucket string) ObjectStore {
	return &minioStore{
		client: client,
		bucket: bucket,
	}
}

func (s *minioStore) Download(ctx context.Context, objectKey, localPath string) error {
	return s.client.FGetObject(ctx, s.bucket, objectKey, localPath, minio.GetObjectOptions{})
}

func (s *minioStore) Upload(ctx context.Context, objectKey, localPath, contentType string, metadata map[string]string) error {
	_, err := s.client.FPutObject(ctx, s.bucket, objectKey, localPath, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	return err
}

func (s *minioStore) Remove(ctx context.Context, objectKey string) error {
	return s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{})
}

func (s *minioStore) Stat(ctx context.Context, objectKey string) (int64, time.Time, error) {
	info, err := s.client.StatObject(ctx, s.bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return 0, time.Time{}, err
	}
	return info.Size, info.LastModified, nil
}

func (s *minioStore) PresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, expiry, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
