package receiptstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/joseph-ayodele/receipt-intake/internal/common"
)

// BlobStore holds sanitized receipt bytes outside the metadata backend.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// MinioBlobs offloads receipt content to a MinIO or S3 bucket.
type MinioBlobs struct {
	client *minio.Client
	bucket string
	region string
	logger *slog.Logger
}

// NewMinioBlobs connects to the configured endpoint. Call EnsureBucket before first use.
func NewMinioBlobs(cfg common.BlobConfig, logger *slog.Logger) (*MinioBlobs, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &MinioBlobs{client: client, bucket: cfg.Bucket, region: cfg.Region, logger: logger}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (m *MinioBlobs) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return common.StorageError("check bucket "+m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		return common.StorageError("make bucket "+m.bucket, err)
	}
	m.logger.Info("blobs.bucket.created", "bucket", m.bucket)
	return nil
}

func (m *MinioBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return common.StorageError("upload blob", err)
	}
	return nil
}

// Get returns ErrNotFoundOrExpired when the object is gone, which happens
// when a delete or purge lands between the metadata read and this call.
func (m *MinioBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, blobError("get blob", err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, blobError("read blob", err)
	}
	return buf, nil
}

func blobError(op string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return common.ErrNotFoundOrExpired
	}
	return common.StorageError(op, err)
}

func (m *MinioBlobs) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return common.StorageError("delete blob", err)
	}
	return nil
}
