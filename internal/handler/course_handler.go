package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

type courseService interface {
	List(ctx context.Context, filter models.CourseFilter) (*dto.CourseListResponse, bool, error)
	Search(ctx context.Context, query string, filter models.CourseFilter) (*dto.CourseListResponse, bool, error)
	Featured(ctx context.Context, limit int) ([]models.Course, error)
	EducatorCourses(ctx context.Context, principal *models.JWTClaims, educatorID string, status models.CourseStatus, page, limit int) (*dto.CourseListResponse, error)
	Get(ctx context.Context, id string, viewer *models.JWTClaims) (*dto.CourseDetailResponse, bool, error)
	Create(ctx context.Context, principal *models.JWTClaims, req dto.CreateCourseRequest, thumbnail *dto.FileUpload) (*models.Course, error)
	Update(ctx context.Context, principal *models.JWTClaims, id string, req dto.UpdateCourseRequest, thumbnail *dto.FileUpload) (*models.Course, error)
	AddChapter(ctx context.Context, principal *models.JWTClaims, courseID string, req dto.ChapterRequest) (*models.Chapter, error)
	AddLecture(ctx context.Context, principal *models.JWTClaims, courseID, chapterID string, req dto.LectureRequest, video *dto.FileUpload) (*models.Lecture, error)
	Publish(ctx context.Context, principal *models.JWTClaims, id string) (*models.Course, error)
	Rate(ctx context.Context, principal *models.JWTClaims, id string, req dto.RatingRequest) (*models.Course, error)
	Delete(ctx context.Context, principal *models.JWTClaims, id string) (bool, error)
	Students(ctx context.Context, principal *models.JWTClaims, id string, page, limit int) ([]models.RosterEntry, *models.Pagination, error)
	ExportStudents(ctx context.Context, principal *models.JWTClaims, id string) ([]byte, string, error)
	WatchStats(ctx context.Context, principal *models.JWTClaims, id string) (*dto.CourseWatchStats, error)
}

// CourseHandler exposes the course catalog and authoring endpoints.
type CourseHandler struct {
	service courseService
}

// NewCourseHandler constructs CourseHandler.
func NewCourseHandler(svc courseService) *CourseHandler {
	return &CourseHandler{service: svc}
}

// List godoc
// @Summary List published courses
// @Tags Courses
// @Produce json
// @Param category query string false "Category"
// @Param level query string false "Level"
// @Param isFree query bool false "Only free (true) or only paid (false) courses"
// @Param minPrice query number false "Minimum price"
// @Param maxPrice query number false "Maximum price"
// @Param tags query string false "Comma separated tags"
// @Param search query string false "Free text"
// @Param sort query string false "createdAt, price, averageRating, totalStudents, title or relevance"
// @Param order query string false "asc or desc"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	filter, err := parseCourseFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	res, hit, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	respondWithMeta(c, http.StatusOK, res.Courses, res.Pagination, hit)
}

// Search godoc
// @Summary Search courses
// @Tags Courses
// @Produce json
// @Param q query string true "Search text"
// @Param category query string false "Category"
// @Param level query string false "Level"
// @Param isFree query bool false "Only free (true) or only paid (false) courses"
// @Param sort query string false "Sort key"
// @Param order query string false "asc or desc"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /courses/search [get]
func (h *CourseHandler) Search(c *gin.Context) {
	filter, err := parseCourseFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	res, hit, err := h.service.Search(c.Request.Context(), c.Query("q"), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	respondWithMeta(c, http.StatusOK, res.Courses, res.Pagination, hit)
}

// Featured godoc
// @Summary Featured courses
// @Tags Courses
// @Produce json
// @Param limit query int false "Maximum courses"
// @Success 200 {object} response.Envelope
// @Router /courses/featured [get]
func (h *CourseHandler) Featured(c *gin.Context) {
	courses, err := h.service.Featured(c.Request.Context(), queryInt(c, "limit", 12))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, nil)
}

// MyCourses godoc
// @Summary Courses authored by the caller
// @Tags Courses
// @Produce json
// @Security BearerAuth
// @Param status query string false "draft, published or archived"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courses/educator [get]
func (h *CourseHandler) MyCourses(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	h.educatorCourses(c, claims, claims.UserID)
}

// EducatorCourses godoc
// @Summary Published courses of an educator
// @Tags Courses
// @Produce json
// @Param educatorId path string true "Educator ID"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courses/educator/{educatorId} [get]
func (h *CourseHandler) EducatorCourses(c *gin.Context) {
	h.educatorCourses(c, claimsFromContext(c), c.Param("educatorId"))
}

func (h *CourseHandler) educatorCourses(c *gin.Context, principal *models.JWTClaims, educatorID string) {
	status := models.CourseStatus(c.Query("status"))
	res, err := h.service.EducatorCourses(c.Request.Context(), principal, educatorID, status, queryInt(c, "page", 1), queryInt(c, "limit", 12))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res.Courses, res.Pagination)
}

// Get godoc
// @Summary Course detail
// @Description Non-preview lecture media is hidden unless the caller is enrolled or owns the course
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	res, hit, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	respondWithMeta(c, http.StatusOK, res, nil, hit)
}

// Create godoc
// @Summary Create course
// @Description Accepts JSON or multipart with a courseData JSON field and an optional image file
// @Tags Courses
// @Accept json
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateCourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.CreateCourseRequest
	thumbnail, closer, err := bindWithFile(c, "courseData", "image", &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closer()

	course, err := h.service.Create(c.Request.Context(), claims, req, thumbnail)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// Update godoc
// @Summary Update course
// @Tags Courses
// @Accept json
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param payload body dto.UpdateCourseRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id} [put]
func (h *CourseHandler) Update(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.UpdateCourseRequest
	thumbnail, closer, err := bindWithFile(c, "courseData", "image", &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closer()

	course, err := h.service.Update(c.Request.Context(), claims, c.Param("id"), req, thumbnail)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Delete godoc
// @Summary Delete course
// @Description Courses with enrollments are archived instead
// @Tags Courses
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id} [delete]
func (h *CourseHandler) Delete(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	archived, err := h.service.Delete(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if archived {
		response.Message(c, http.StatusOK, "Course archived because it has enrolled students")
		return
	}
	response.Message(c, http.StatusOK, "Course deleted successfully")
}

// AddChapter godoc
// @Summary Add chapter
// @Tags Courses
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param payload body dto.ChapterRequest true "Chapter"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id}/chapters [post]
func (h *CourseHandler) AddChapter(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.ChapterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid chapter payload"))
		return
	}
	chapter, err := h.service.AddChapter(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, chapter)
}

// AddLecture godoc
// @Summary Add lecture
// @Description Accepts JSON or multipart with a lectureData JSON field and an optional video file
// @Tags Courses
// @Accept json
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param chapterId path string true "Chapter ID"
// @Param payload body dto.LectureRequest true "Lecture"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id}/chapters/{chapterId}/lectures [post]
func (h *CourseHandler) AddLecture(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.LectureRequest
	video, closer, err := bindWithFile(c, "lectureData", "video", &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closer()

	lecture, err := h.service.AddLecture(c.Request.Context(), claims, c.Param("id"), c.Param("chapterId"), req, video)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, lecture)
}

// Publish godoc
// @Summary Publish course
// @Tags Courses
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /courses/{id}/publish [post]
func (h *CourseHandler) Publish(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	course, err := h.service.Publish(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Rate godoc
// @Summary Rate course
// @Description Enrolled students only; a later rating replaces the earlier one
// @Tags Courses
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param payload body dto.RatingRequest true "Rating"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id}/rating [post]
func (h *CourseHandler) Rate(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.RatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rating payload"))
		return
	}
	course, err := h.service.Rate(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"averageRating": course.AverageRating,
		"totalReviews":  course.TotalReviews,
	}, nil)
}

// Students godoc
// @Summary Course roster
// @Tags Courses
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/students [get]
func (h *CourseHandler) Students(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	roster, pagination, err := h.service.Students(c.Request.Context(), claims, c.Param("id"), queryInt(c, "page", 1), queryInt(c, "limit", 20))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, pagination)
}

// ExportStudents godoc
// @Summary Export roster as CSV
// @Tags Courses
// @Produce text/csv
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 200 {file} file
// @Router /courses/{id}/students/export [get]
func (h *CourseHandler) ExportStudents(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	data, filename, err := h.service.ExportStudents(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// WatchStats godoc
// @Summary Course watch stats
// @Tags Courses
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/watch-stats [get]
func (h *CourseHandler) WatchStats(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	stats, err := h.service.WatchStats(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

func parseCourseFilter(c *gin.Context) (models.CourseFilter, error) {
	filter := models.CourseFilter{
		Category:  c.Query("category"),
		Level:     c.Query("level"),
		Search:    strings.TrimSpace(c.Query("search")),
		SortBy:    firstQuery(c, "sort", "sortBy"),
		SortOrder: firstQuery(c, "order", "sortOrder"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "limit", 12),
	}
	if raw := c.Query("isFree"); raw != "" {
		free, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "isFree must be true or false")
		}
		filter.IsFree = &free
	}
	// price=free|paid is accepted as an alias of isFree.
	switch c.Query("price") {
	case "":
	case "free":
		free := true
		filter.IsFree = &free
	case "paid":
		paid := false
		filter.IsFree = &paid
	default:
		return filter, appErrors.Clone(appErrors.ErrValidation, "price must be free or paid")
	}
	var err error
	if filter.MinPrice, err = queryFloat(c, "minPrice"); err != nil {
		return filter, err
	}
	if filter.MaxPrice, err = queryFloat(c, "maxPrice"); err != nil {
		return filter, err
	}
	if raw := c.Query("tags"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				filter.Tags = append(filter.Tags, tag)
			}
		}
	}
	return filter, nil
}

// firstQuery returns the first non-empty query value among keys.
func firstQuery(c *gin.Context, keys ...string) string {
	for _, key := range keys {
		if v := c.Query(key); v != "" {
			return v
		}
	}
	return ""
}

func queryFloat(c *gin.Context, key string) (*float64, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, key+" must be a non-negative number")
	}
	return &value, nil
}

// bindWithFile decodes dest from a JSON body, or from the dataField of a
// multipart form alongside an optional file.
func bindWithFile(c *gin.Context, dataField, fileField string, dest interface{}) (*dto.FileUpload, func(), error) {
	noop := func() {}
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBindJSON(dest); err != nil {
			return nil, noop, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload")
		}
		return nil, noop, nil
	}

	raw := c.PostForm(dataField)
	if raw == "" {
		return nil, noop, appErrors.Clone(appErrors.ErrValidation, dataField+" is required")
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return nil, noop, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid "+dataField)
	}
	return formFile(c, fileField)
}
