package handler

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
	"github.com/noah-isme/lms-api/pkg/storage"
)

type uploadService interface {
	UploadCourseImage(ctx context.Context, file dto.FileUpload) (*storage.Asset, error)
	UploadLectureVideo(ctx context.Context, file dto.FileUpload) (*storage.Asset, error)
	UploadMultiple(ctx context.Context, files []dto.FileUpload) (*dto.MultiUploadResponse, error)
	Delete(ctx context.Context, principal *models.JWTClaims, publicID string, resourceType storage.ResourceType) error
}

type profileImageUpdater interface {
	UpdateProfileImage(ctx context.Context, principal *models.JWTClaims, file dto.FileUpload) (*models.User, error)
}

// UploadHandler exposes asset upload endpoints.
type UploadHandler struct {
	uploads  uploadService
	profiles profileImageUpdater
}

// NewUploadHandler constructs UploadHandler.
func NewUploadHandler(uploads uploadService, profiles profileImageUpdater) *UploadHandler {
	return &UploadHandler{uploads: uploads, profiles: profiles}
}

// CourseImage godoc
// @Summary Upload course thumbnail
// @Tags Uploads
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param image formData file true "Image file"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /upload/course-image [post]
func (h *UploadHandler) CourseImage(c *gin.Context) {
	h.single(c, "image", h.uploads.UploadCourseImage)
}

// LectureVideo godoc
// @Summary Upload lecture video
// @Tags Uploads
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param video formData file true "Video file"
// @Param duration formData number false "Length in seconds"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /upload/lecture-video [post]
func (h *UploadHandler) LectureVideo(c *gin.Context) {
	h.single(c, "video", h.uploads.UploadLectureVideo)
}

// ProfileImage godoc
// @Summary Upload profile image
// @Description Stores the avatar and updates the caller's profile
// @Tags Uploads
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param image formData file true "Image file"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /upload/profile-image [post]
func (h *UploadHandler) ProfileImage(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	file, closer, err := formFile(c, "image")
	if err != nil {
		response.Error(c, err)
		return
	}
	if file == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "no file uploaded"))
		return
	}
	defer closer()

	user, err := h.profiles.UpdateProfileImage(c.Request.Context(), claims, *file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"url": user.ProfileImage, "publicId": user.ProfileImagePublicID, "user": user}, nil)
}

// Multiple godoc
// @Summary Upload course materials
// @Tags Uploads
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param files formData file true "Up to 10 files"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /upload/multiple [post]
func (h *UploadHandler) Multiple(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid multipart form"))
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "no files uploaded"))
		return
	}

	files := make([]dto.FileUpload, 0, len(headers))
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, header := range headers {
		src, err := header.Open()
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
			return
		}
		opened = append(opened, src)
		file := toFileUpload(header, src, 0)
		file.OwnerID = claims.UserID
		files = append(files, file)
	}

	res, err := h.uploads.UploadMultiple(c.Request.Context(), files)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Delete godoc
// @Summary Delete an asset
// @Tags Uploads
// @Produce json
// @Security BearerAuth
// @Param publicId path string true "Asset public id"
// @Param resourceType query string false "image, video or raw"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /upload/{publicId} [delete]
func (h *UploadHandler) Delete(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	publicID := strings.TrimPrefix(c.Param("publicId"), "/")
	if publicID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "public id is required"))
		return
	}
	resourceType := storage.ResourceType(c.DefaultQuery("resourceType", string(storage.ResourceImage)))
	switch resourceType {
	case storage.ResourceImage, storage.ResourceVideo, storage.ResourceRaw:
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid resource type"))
		return
	}

	if err := h.uploads.Delete(c.Request.Context(), claims, publicID, resourceType); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "File deleted successfully")
}

func (h *UploadHandler) single(c *gin.Context, field string, upload func(context.Context, dto.FileUpload) (*storage.Asset, error)) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	file, closer, err := formFile(c, field)
	if err != nil {
		response.Error(c, err)
		return
	}
	if file == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "no file uploaded"))
		return
	}
	defer closer()
	file.OwnerID = claims.UserID

	asset, err := upload(c.Request.Context(), *file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, asset, nil)
}

// formFile reads an optional multipart file. It returns nil without error when
// the field is absent; the caller must invoke the closer otherwise.
func formFile(c *gin.Context, field string) (*dto.FileUpload, func(), error) {
	header, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, func() {}, nil
		}
		return nil, func() {}, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid multipart form")
	}
	src, err := header.Open()
	if err != nil {
		return nil, func() {}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	duration, _ := strconv.ParseFloat(c.PostForm("duration"), 64)
	upload := toFileUpload(header, src, duration)
	return &upload, func() { src.Close() }, nil
}

func toFileUpload(header *multipart.FileHeader, src multipart.File, duration float64) dto.FileUpload {
	return dto.FileUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        src,
		Duration:    duration,
	}
}
