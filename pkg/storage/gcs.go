package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GCSAssetStore stores assets in a Google Cloud Storage bucket.
type GCSAssetStore struct {
	client    *gcs.Client
	bucket    string
	cdnDomain string
	logger    *zap.Logger
}

// NewGCSAssetStore opens a client using the credentials file when given, ADC otherwise.
func NewGCSAssetStore(ctx context.Context, bucket, credentialsFile, cdnDomain string, logger *zap.Logger) (*GCSAssetStore, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("gcs bucket required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	return &GCSAssetStore{
		client:    client,
		bucket:    bucket,
		cdnDomain: strings.TrimRight(strings.TrimPrefix(strings.TrimPrefix(cdnDomain, "https://"), "http://"), "/"),
		logger:    logger,
	}, nil
}

// Upload streams the body into a new object and returns its public URL.
func (s *GCSAssetStore) Upload(ctx context.Context, upload AssetUpload) (*Asset, error) {
	key := ObjectKey(upload.Folder, upload.Filename, upload.ContentType)

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = upload.ContentType
	w.CacheControl = "public, max-age=31536000"
	written, err := io.Copy(w, upload.Body)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("gcs upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gcs finalize %s: %w", key, err)
	}

	s.logger.Debug("asset uploaded", zap.String("bucket", s.bucket), zap.String("key", key), zap.Int64("bytes", written))
	return &Asset{
		URL:          s.publicURL(key),
		PublicID:     key,
		Format:       FormatOf(key),
		Size:         written,
		ResourceType: upload.ResourceType,
		Width:        upload.Width,
		Height:       upload.Height,
		Duration:     upload.Duration,
	}, nil
}

// Delete removes the object; a missing object is not an error.
func (s *GCSAssetStore) Delete(ctx context.Context, publicID string, _ ResourceType) error {
	key := strings.TrimPrefix(strings.TrimSpace(publicID), "/")
	if key == "" {
		return nil
	}
	if err := s.client.Bucket(s.bucket).Object(key).Delete(ctx); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("gcs delete %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *GCSAssetStore) Close() error {
	return s.client.Close()
}

func (s *GCSAssetStore) publicURL(key string) string {
	if s.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", s.cdnDomain, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key)
}
