// Package storage archives original documents in MinIO so low-confidence
// extractions can be re-run later without asking the sender again.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

// ErrNotConfigured is returned by New when no endpoint is set. The
// service keeps running without an archive; reprocessing is unavailable.
var ErrNotConfigured = errors.New("object storage not configured")

const defaultPresignExpiry = 24 * time.Hour

// Store wraps a MinIO client scoped to one bucket.
type Store struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// New connects to MinIO and verifies the bucket exists.
func New(ctx context.Context, cfg models.StorageConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" {
		return nil, ErrNotConfigured
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "invoices"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(checkCtx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}

	logger.Info("storage.ready", "endpoint", cfg.Endpoint, "bucket", bucket)
	return &Store{client: client, bucket: bucket, logger: logger}, nil
}

// Upload archives a document's original bytes.
// Object names are {yyyy}/{mm}/{document-id}{ext}, partitioned by the
// document's received date so a re-upload lands in the same place.
func (s *Store) Upload(ctx context.Context, doc *models.Document, content []byte) (string, error) {
	received := doc.ReceivedAt
	if received.IsZero() {
		received = time.Now().UTC()
	}
	objectName := fmt.Sprintf("%d/%02d/%s%s",
		received.Year(),
		received.Month(),
		doc.ID,
		FileExtension(doc.ContentType),
	)

	_, err := s.client.PutObject(ctx, s.bucket, objectName,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: doc.ContentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}

	s.logger.Info("storage.upload.ok",
		"document_id", doc.ID,
		"object", objectName,
		"size", len(content))
	return objectName, nil
}

// Fetch reads an archived document back for reprocessing.
func (s *Store) Fetch(ctx context.Context, objectPath string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}
	defer obj.Close()

	content, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return content, nil
}

// PresignURL generates a time-limited download URL for reviewers.
func (s *Store) PresignURL(ctx context.Context, objectPath string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}
	url, err := s.client.PresignedGetObject(ctx, s.bucket, objectPath, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}

// FileExtension maps a content type to a file extension for object names.
func FileExtension(contentType string) string {
	switch contentType {
	case "application/pdf":
		return ".pdf"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/tiff":
		return ".tif"
	case "image/bmp":
		return ".bmp"
	default:
		return ".bin"
	}
}
