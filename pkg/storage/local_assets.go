package storage

import (
	"context"
	"fmt"
	"strings"
)

// LocalAssetStore keeps assets on disk and serves them under a public base URL.
type LocalAssetStore struct {
	files   *LocalStorage
	baseURL string
}

// NewLocalAssetStore wraps files; baseURL is the externally reachable prefix for stored keys.
func NewLocalAssetStore(files *LocalStorage, baseURL string) *LocalAssetStore {
	return &LocalAssetStore{files: files, baseURL: strings.TrimRight(baseURL, "/")}
}

// Upload writes the body to disk.
func (s *LocalAssetStore) Upload(ctx context.Context, upload AssetUpload) (*Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := ObjectKey(upload.Folder, upload.Filename, upload.ContentType)
	written, err := s.files.SaveStream(key, upload.Body)
	if err != nil {
		return nil, fmt.Errorf("local upload %s: %w", key, err)
	}
	return &Asset{
		URL:          s.baseURL + "/" + key,
		PublicID:     key,
		Format:       FormatOf(key),
		Size:         written,
		ResourceType: upload.ResourceType,
		Width:        upload.Width,
		Height:       upload.Height,
		Duration:     upload.Duration,
	}, nil
}

// Delete removes the file if present.
func (s *LocalAssetStore) Delete(ctx context.Context, publicID string, _ ResourceType) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(publicID) == "" {
		return nil
	}
	return s.files.Delete(publicID)
}

// Root returns the directory backing the store, for static serving.
func (s *LocalAssetStore) Root() string {
	return s.files.baseDir
}
