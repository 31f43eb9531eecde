package service

import (
	"bytes"
	"context"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/storage"
)

// Asset folders below the configured prefix.
const (
	FolderCourseThumbnails = "course-thumbnails"
	FolderLectureVideos    = "lecture-videos"
	FolderProfileImages    = "profile-images"
	FolderCourseMaterials  = "course-materials"
)

// MaxFilesPerUpload bounds POST /upload/multiple.
const MaxFilesPerUpload = 10

var (
	imageTypes = map[string]bool{
		"image/jpeg": true,
		"image/jpg":  true,
		"image/png":  true,
		"image/gif":  true,
	}
	videoTypes = map[string]bool{
		"video/mp4":       true,
		"video/webm":      true,
		"video/quicktime": true,
		"video/x-msvideo": true,
	}
	documentTypes = map[string]bool{
		"application/pdf":    true,
		"application/msword": true,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
		"application/zip": true,
		"text/plain":      true,
	}
)

// UploadConfig configures asset placement and limits.
type UploadConfig struct {
	FolderPrefix string
	MaxFileSize  int64
}

// UploadService validates client files and hands them to the asset store.
type UploadService struct {
	store   storage.AssetStore
	metrics *MetricsService
	logger  *zap.Logger
	cfg     UploadConfig
}

// NewUploadService constructs an UploadService.
func NewUploadService(store storage.AssetStore, metrics *MetricsService, logger *zap.Logger, cfg UploadConfig) *UploadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 500 * 1024 * 1024
	}
	return &UploadService{store: store, metrics: metrics, logger: logger, cfg: cfg}
}

// UploadCourseImage crops the image to the thumbnail size and stores it.
func (s *UploadService) UploadCourseImage(ctx context.Context, file dto.FileUpload) (*storage.Asset, error) {
	return s.uploadImage(ctx, FolderCourseThumbnails, file, storage.ThumbnailSpec)
}

// UploadProfileImage crops the image to a square avatar and stores it.
func (s *UploadService) UploadProfileImage(ctx context.Context, file dto.FileUpload) (*storage.Asset, error) {
	return s.uploadImage(ctx, FolderProfileImages, file, storage.ProfileSpec)
}

// UploadLectureVideo stores a lecture video as-is.
func (s *UploadService) UploadLectureVideo(ctx context.Context, file dto.FileUpload) (*storage.Asset, error) {
	if err := s.checkFile(file, videoTypes); err != nil {
		return nil, err
	}
	return s.put(ctx, storage.AssetUpload{
		Folder:       s.folder(FolderLectureVideos, file.OwnerID),
		Filename:     file.Filename,
		ContentType:  file.ContentType,
		Body:         file.Body,
		Size:         file.Size,
		ResourceType: storage.ResourceVideo,
		Duration:     file.Duration,
	})
}

// UploadMultiple stores up to MaxFilesPerUpload course materials concurrently.
// When any upload fails the ones that succeeded are removed again.
func (s *UploadService) UploadMultiple(ctx context.Context, files []dto.FileUpload) (*dto.MultiUploadResponse, error) {
	if len(files) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no files uploaded")
	}
	if len(files) > MaxFilesPerUpload {
		return nil, appErrors.Clone(appErrors.ErrValidation, "too many files, maximum is 10")
	}
	for _, file := range files {
		if err := s.checkFile(file, nil); err != nil {
			return nil, err
		}
	}

	assets := make([]*storage.Asset, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			asset, err := s.put(gctx, storage.AssetUpload{
				Folder:       s.folder(FolderCourseMaterials, file.OwnerID),
				Filename:     file.Filename,
				ContentType:  file.ContentType,
				Body:         file.Body,
				Size:         file.Size,
				ResourceType: resourceTypeOf(file.ContentType),
				Duration:     file.Duration,
			})
			if err != nil {
				return err
			}
			assets[i] = asset
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, asset := range assets {
			if asset != nil {
				s.DeleteQuietly(ctx, asset.PublicID, asset.ResourceType)
			}
		}
		return nil, err
	}

	resp := &dto.MultiUploadResponse{Files: make([]storage.Asset, 0, len(assets))}
	for _, asset := range assets {
		resp.Files = append(resp.Files, *asset)
	}
	return resp, nil
}

// Delete removes a stored asset. Only the uploader or an admin may delete it.
func (s *UploadService) Delete(ctx context.Context, principal *models.JWTClaims, publicID string, resourceType storage.ResourceType) error {
	if principal == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	publicID = strings.TrimPrefix(strings.TrimSpace(publicID), "/")
	if publicID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "public id is required")
	}
	if strings.Contains(publicID, "..") {
		return appErrors.Clone(appErrors.ErrValidation, "invalid public id")
	}
	if owner := s.ownerOf(publicID); principal.Role != models.RoleAdmin && (owner == "" || owner != principal.UserID) {
		return appErrors.Clone(appErrors.ErrForbidden, "you can only delete your own files")
	}
	if resourceType == "" {
		resourceType = resourceTypeOf(contentTypeOfKey(publicID))
	}
	if err := s.store.Delete(ctx, publicID, resourceType); err != nil {
		return appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "failed to delete file")
	}
	return nil
}

// DeleteQuietly removes an asset as a side effect of another operation; failures are logged only.
func (s *UploadService) DeleteQuietly(ctx context.Context, publicID string, resourceType storage.ResourceType) {
	if s == nil || strings.TrimSpace(publicID) == "" {
		return
	}
	if err := s.store.Delete(ctx, publicID, resourceType); err != nil {
		s.logger.Warn("failed to delete asset", zap.String("public_id", publicID), zap.Error(err))
	}
}

func (s *UploadService) uploadImage(ctx context.Context, folder string, file dto.FileUpload, spec storage.ImageSpec) (*storage.Asset, error) {
	if err := s.checkFile(file, imageTypes); err != nil {
		return nil, err
	}
	processed, err := storage.ProcessImage(file.Body, spec)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid image file")
	}
	name := strings.TrimSuffix(file.Filename, path.Ext(file.Filename)) + ".jpg"
	return s.put(ctx, storage.AssetUpload{
		Folder:       s.folder(folder, file.OwnerID),
		Filename:     name,
		ContentType:  "image/jpeg",
		Body:         bytes.NewReader(processed.Data),
		Size:         int64(len(processed.Data)),
		ResourceType: storage.ResourceImage,
		Width:        processed.Width,
		Height:       processed.Height,
	})
}

func (s *UploadService) put(ctx context.Context, upload storage.AssetUpload) (*storage.Asset, error) {
	asset, err := s.store.Upload(ctx, upload)
	if err != nil {
		s.logger.Error("asset upload failed", zap.String("folder", upload.Folder), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "failed to upload file")
	}
	s.metrics.RecordUpload(string(asset.ResourceType), asset.Size)
	return asset, nil
}

// checkFile validates size and type; a nil allow list accepts every known type.
func (s *UploadService) checkFile(file dto.FileUpload, allow map[string]bool) error {
	if file.Body == nil {
		return appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if file.Size > s.cfg.MaxFileSize {
		return appErrors.Clone(appErrors.ErrPayloadTooLarge, "file too large")
	}
	contentType := normalizeContentType(file.ContentType)
	if allow == nil {
		if imageTypes[contentType] || videoTypes[contentType] || documentTypes[contentType] {
			return nil
		}
	} else if allow[contentType] {
		return nil
	}
	return appErrors.Clone(appErrors.ErrValidation, "invalid file type: "+file.ContentType)
}

// folder builds <prefix>/<name>/<owner>; the owner segment is omitted when unknown.
func (s *UploadService) folder(name, ownerID string) string {
	parts := make([]string, 0, 3)
	if s.cfg.FolderPrefix != "" {
		parts = append(parts, s.cfg.FolderPrefix)
	}
	parts = append(parts, name)
	if ownerID = strings.TrimSpace(ownerID); ownerID != "" && !strings.Contains(ownerID, "/") {
		parts = append(parts, ownerID)
	}
	return strings.Join(parts, "/")
}

// ownerOf returns the owner segment of a public id, or "" when it has none.
func (s *UploadService) ownerOf(publicID string) string {
	rest := publicID
	if s.cfg.FolderPrefix != "" {
		trimmed := strings.TrimPrefix(rest, s.cfg.FolderPrefix+"/")
		if trimmed == rest {
			return ""
		}
		rest = trimmed
	}
	// <folder>/<owner>/<file>
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

func normalizeContentType(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

func resourceTypeOf(contentType string) storage.ResourceType {
	contentType = normalizeContentType(contentType)
	switch {
	case imageTypes[contentType]:
		return storage.ResourceImage
	case videoTypes[contentType]:
		return storage.ResourceVideo
	default:
		return storage.ResourceRaw
	}
}

func contentTypeOfKey(key string) string {
	switch storage.FormatOf(key) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "mp4":
		return "video/mp4"
	case "webm":
		return "video/webm"
	case "mov":
		return "video/quicktime"
	case "avi":
		return "video/x-msvideo"
	default:
		return ""
	}
}
