package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore keeps blobs in a MinIO (or other S3-compatible) bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore wraps an existing client.
func NewMinioStore(client *minio.Client, bucket string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket}
}

// NewMinioFromEnv connects to endpoint with SIFTSEARCH_MINIO_ACCESS_KEY and
// SIFTSEARCH_MINIO_SECRET_KEY. TLS is on unless SIFTSEARCH_MINIO_SECURE is false.
func NewMinioFromEnv(endpoint, bucket string) (*MinioStore, error) {
	secure := true
	switch strings.ToLower(os.Getenv("SIFTSEARCH_MINIO_SECURE")) {
	case "0", "false", "no", "off":
		secure = false
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4(
			os.Getenv("SIFTSEARCH_MINIO_ACCESS_KEY"),
			os.Getenv("SIFTSEARCH_MINIO_SECRET_KEY"),
			"",
		),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return NewMinioStore(client, bucket), nil
}

func notFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *MinioStore) Get(ctx context.Context, name string) ([]byte, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{}); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("minio %s/%s: %w", s.bucket, name, ErrNotFound)
		}
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func (s *MinioStore) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}
