package storage

import (
	"context"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ResourceType classifies stored assets.
type ResourceType string

const (
	ResourceImage ResourceType = "image"
	ResourceVideo ResourceType = "video"
	ResourceRaw   ResourceType = "raw"
)

// AssetUpload carries raw bytes plus placement hints for the asset store.
type AssetUpload struct {
	Folder       string
	Filename     string
	ContentType  string
	Body         io.Reader
	Size         int64
	ResourceType ResourceType
	Width        int
	Height       int
	Duration     float64
}

// Asset describes a stored object.
type Asset struct {
	URL          string       `json:"url"`
	PublicID     string       `json:"publicId"`
	Format       string       `json:"format"`
	Size         int64        `json:"size"`
	ResourceType ResourceType `json:"resourceType"`
	Width        int          `json:"width,omitempty"`
	Height       int          `json:"height,omitempty"`
	Duration     float64      `json:"duration,omitempty"`
}

// AssetStore is the binary asset backend.
type AssetStore interface {
	Upload(ctx context.Context, upload AssetUpload) (*Asset, error)
	Delete(ctx context.Context, publicID string, resourceType ResourceType) error
}

// ObjectKey builds a collision-free key under folder keeping the original extension.
func ObjectKey(folder, filename, contentType string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	return path.Join(strings.Trim(folder, "/"), uuid.NewString()+ext)
}

// FormatOf returns the extension of key without the dot.
func FormatOf(key string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(key)), ".")
}
