package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

type enrollmentService interface {
	Enroll(ctx context.Context, principal *models.JWTClaims, req dto.EnrollRequest) (*models.Enrollment, error)
	Unenroll(ctx context.Context, principal *models.JWTClaims, courseID string) (*models.Enrollment, error)
	Status(ctx context.Context, principal *models.JWTClaims, courseID string) (*dto.EnrollmentStatusResponse, error)
	Progress(ctx context.Context, principal *models.JWTClaims, courseID string) (*dto.ProgressResponse, error)
	UpdateWatchProgress(ctx context.Context, principal *models.JWTClaims, req dto.WatchProgressRequest) (*models.LastWatched, error)
	CompleteLecture(ctx context.Context, principal *models.JWTClaims, req dto.CompleteLectureRequest) (*models.Enrollment, error)
	AddNote(ctx context.Context, principal *models.JWTClaims, req dto.NoteRequest) (*models.Note, error)
	Notes(ctx context.Context, principal *models.JWTClaims, courseID string, query dto.AnnotationQuery) (*dto.NoteList, error)
	UpdateNote(ctx context.Context, principal *models.JWTClaims, noteID string, req dto.UpdateNoteRequest) (*models.Note, error)
	DeleteNote(ctx context.Context, principal *models.JWTClaims, courseID, noteID string) error
	AddBookmark(ctx context.Context, principal *models.JWTClaims, req dto.BookmarkRequest) (*models.Bookmark, bool, error)
	Bookmarks(ctx context.Context, principal *models.JWTClaims, courseID string, query dto.AnnotationQuery) (*dto.BookmarkList, error)
	DeleteBookmark(ctx context.Context, principal *models.JWTClaims, courseID, bookmarkID string) error
	StartWatchSession(ctx context.Context, principal *models.JWTClaims, req dto.StartSessionRequest) (*models.WatchSession, error)
	EndWatchSession(ctx context.Context, principal *models.JWTClaims, req dto.EndSessionRequest) (*models.WatchHistory, error)
	RecordInteraction(ctx context.Context, principal *models.JWTClaims, req dto.InteractionRequest) (*models.WatchHistory, error)
	WatchHistory(ctx context.Context, principal *models.JWTClaims, courseID string, page, limit int) ([]models.WatchHistory, *models.Pagination, error)
}

type certificateService interface {
	Generate(ctx context.Context, principal *models.JWTClaims, courseID string) (*dto.CertificateResponse, error)
	Get(ctx context.Context, principal *models.JWTClaims, courseID string) (*dto.CertificateResponse, error)
	Open(token string) (*os.File, string, error)
}

// EnrollmentHandler exposes enrollment, learning progress and certificate endpoints.
type EnrollmentHandler struct {
	enrollments  enrollmentService
	certificates certificateService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService, certificates certificateService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, certificates: certificates}
}

// Enroll godoc
// @Summary Enroll in a course
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.EnrollRequest true "Course to join"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments/enroll [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.EnrollRequest
	if !bindJSON(c, &req) {
		return
	}
	enrollment, err := h.enrollments.Enroll(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Unenroll godoc
// @Summary Leave a course
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/unenroll/{courseId} [post]
func (h *EnrollmentHandler) Unenroll(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	enrollment, err := h.enrollments.Unenroll(c.Request.Context(), claims, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Status godoc
// @Summary Enrollment status
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/status/{courseId} [get]
func (h *EnrollmentHandler) Status(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	status, err := h.enrollments.Status(c.Request.Context(), claims, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Progress godoc
// @Summary Course progress breakdown
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/progress/{courseId} [get]
func (h *EnrollmentHandler) Progress(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	progress, err := h.enrollments.Progress(c.Request.Context(), claims, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, progress, nil)
}

// UpdateProgress godoc
// @Summary Save resume position
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.WatchProgressRequest true "Position"
// @Success 200 {object} response.Envelope
// @Router /enrollments/progress [post]
func (h *EnrollmentHandler) UpdateProgress(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.WatchProgressRequest
	if !bindJSON(c, &req) {
		return
	}
	lastWatched, err := h.enrollments.UpdateWatchProgress(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lastWatched, nil)
}

// CompleteLecture godoc
// @Summary Mark lecture completed
// @Description Idempotent; progress is recalculated from the course content
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CompleteLectureRequest true "Lecture"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/complete-lecture [post]
func (h *EnrollmentHandler) CompleteLecture(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.CompleteLectureRequest
	if !bindJSON(c, &req) {
		return
	}
	enrollment, err := h.enrollments.CompleteLecture(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"progressPercentage": enrollment.Percentage,
		"completedLectures":  len(enrollment.CompletedLectures),
		"status":             enrollment.Status,
	}, nil)
}

// WatchHistory godoc
// @Summary Watch history of a course
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments/watch-history/{courseId} [get]
func (h *EnrollmentHandler) WatchHistory(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	history, pagination, err := h.enrollments.WatchHistory(c.Request.Context(), claims, c.Param("courseId"), queryInt(c, "page", 1), queryInt(c, "limit", 20))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, pagination)
}

// StartSession godoc
// @Summary Start watch session
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.StartSessionRequest true "Session start"
// @Success 201 {object} response.Envelope
// @Router /enrollments/watch-history/start [post]
func (h *EnrollmentHandler) StartSession(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.StartSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.enrollments.StartWatchSession(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// EndSession godoc
// @Summary End watch session
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.EndSessionRequest true "Session end"
// @Success 200 {object} response.Envelope
// @Router /enrollments/watch-history/end [post]
func (h *EnrollmentHandler) EndSession(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.EndSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	history, err := h.enrollments.EndWatchSession(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// Interaction godoc
// @Summary Record player interaction
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.InteractionRequest true "Interaction"
// @Success 200 {object} response.Envelope
// @Router /enrollments/watch-history/interaction [post]
func (h *EnrollmentHandler) Interaction(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.InteractionRequest
	if !bindJSON(c, &req) {
		return
	}
	if _, err := h.enrollments.RecordInteraction(c.Request.Context(), claims, req); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Interaction recorded")
}

// Notes godoc
// @Summary List notes
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Param chapterId query string false "Chapter filter"
// @Param lectureId query string false "Lecture filter"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments/notes/{courseId} [get]
func (h *EnrollmentHandler) Notes(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	list, err := h.enrollments.Notes(c.Request.Context(), claims, c.Param("courseId"), annotationQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list.Notes, list.Pagination)
}

// AddNote godoc
// @Summary Add note
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.NoteRequest true "Note"
// @Success 201 {object} response.Envelope
// @Router /enrollments/notes [post]
func (h *EnrollmentHandler) AddNote(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.NoteRequest
	if !bindJSON(c, &req) {
		return
	}
	note, err := h.enrollments.AddNote(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, note)
}

// UpdateNote godoc
// @Summary Edit note
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param noteId path string true "Note ID"
// @Param payload body dto.UpdateNoteRequest true "Note"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/notes/{noteId} [put]
func (h *EnrollmentHandler) UpdateNote(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.UpdateNoteRequest
	if !bindJSON(c, &req) {
		return
	}
	note, err := h.enrollments.UpdateNote(c.Request.Context(), claims, c.Param("noteId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, note, nil)
}

// DeleteNote godoc
// @Summary Delete note
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param noteId path string true "Note ID"
// @Param courseId query string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/notes/{noteId} [delete]
func (h *EnrollmentHandler) DeleteNote(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	courseID, ok := requireQuery(c, "courseId")
	if !ok {
		return
	}
	if err := h.enrollments.DeleteNote(c.Request.Context(), claims, courseID, c.Param("noteId")); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Note deleted successfully")
}

// Bookmarks godoc
// @Summary List bookmarks
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Param chapterId query string false "Chapter filter"
// @Param lectureId query string false "Lecture filter"
// @Success 200 {object} response.Envelope
// @Router /enrollments/bookmarks/{courseId} [get]
func (h *EnrollmentHandler) Bookmarks(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	list, err := h.enrollments.Bookmarks(c.Request.Context(), claims, c.Param("courseId"), annotationQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list.Bookmarks, list.Pagination)
}

// AddBookmark godoc
// @Summary Add bookmark
// @Description Re-bookmarking the same position returns the existing bookmark
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.BookmarkRequest true "Bookmark"
// @Success 200 {object} response.Envelope
// @Success 201 {object} response.Envelope
// @Router /enrollments/bookmarks [post]
func (h *EnrollmentHandler) AddBookmark(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.BookmarkRequest
	if !bindJSON(c, &req) {
		return
	}
	bookmark, created, err := h.enrollments.AddBookmark(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if created {
		response.Created(c, bookmark)
		return
	}
	response.JSON(c, http.StatusOK, bookmark, nil)
}

// DeleteBookmark godoc
// @Summary Delete bookmark
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param bookmarkId path string true "Bookmark ID"
// @Param courseId query string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/bookmarks/{bookmarkId} [delete]
func (h *EnrollmentHandler) DeleteBookmark(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	courseID, ok := requireQuery(c, "courseId")
	if !ok {
		return
	}
	if err := h.enrollments.DeleteBookmark(c.Request.Context(), claims, courseID, c.Param("bookmarkId")); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Bookmark deleted successfully")
}

// Certificate godoc
// @Summary Get certificate
// @Tags Certificates
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/certificate/{courseId} [get]
func (h *EnrollmentHandler) Certificate(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	cert, err := h.certificates.Get(c.Request.Context(), claims, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cert, nil)
}

// GenerateCertificate godoc
// @Summary Generate certificate
// @Description Requires a completed enrollment; repeated calls return the same certificate
// @Tags Certificates
// @Produce json
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /enrollments/certificate/{courseId}/generate [post]
func (h *EnrollmentHandler) GenerateCertificate(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	cert, err := h.certificates.Generate(c.Request.Context(), claims, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cert, nil)
}

// DownloadCertificate godoc
// @Summary Download certificate PDF via signed token
// @Tags Certificates
// @Produce application/pdf
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 401 {object} response.Envelope
// @Router /enrollments/certificate/download/{token} [get]
func (h *EnrollmentHandler) DownloadCertificate(c *gin.Context) {
	file, filename, err := h.certificates.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read certificate"))
		return
	}
	c.DataFromReader(http.StatusOK, info.Size(), "application/pdf", file, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", filename),
	})
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return false
	}
	return true
}

func requireQuery(c *gin.Context, key string) (string, bool) {
	value := c.Query(key)
	if value == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, key+" is required"))
		return "", false
	}
	return value, true
}

func annotationQuery(c *gin.Context) dto.AnnotationQuery {
	return dto.AnnotationQuery{
		ChapterID: c.Query("chapterId"),
		LectureID: c.Query("lectureId"),
		Page:      queryInt(c, "page", 1),
		Limit:     queryInt(c, "limit", 20),
	}
}
