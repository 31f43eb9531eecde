package service

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/export"
	"github.com/noah-isme/lms-api/pkg/storage"
)

const courseCachePattern = "courses:*"

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	Mutate(ctx context.Context, id string, fn func(*models.Course) error) (*models.Course, error)
	Rate(ctx context.Context, rating models.CourseRating) (*models.Course, error)
	Delete(ctx context.Context, id string) error
}

type courseEnrollmentReader interface {
	IsEnrolled(ctx context.Context, userID, courseID string) (bool, error)
	CountByCourse(ctx context.Context, courseID string) (int, error)
	ListRoster(ctx context.Context, courseID string, page, size int) ([]models.RosterEntry, int, error)
}

type courseWatchReader interface {
	CourseTotals(ctx context.Context, courseID string) (models.WatchTotals, error)
}

type courseAssetStore interface {
	UploadCourseImage(ctx context.Context, file dto.FileUpload) (*storage.Asset, error)
	UploadLectureVideo(ctx context.Context, file dto.FileUpload) (*storage.Asset, error)
	DeleteQuietly(ctx context.Context, publicID string, resourceType storage.ResourceType)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CourseServiceConfig tunes catalog caching.
type CourseServiceConfig struct {
	CacheTTL time.Duration
}

// CourseService implements the catalog: listing, authoring, publishing and ratings.
type CourseService struct {
	repo        courseRepository
	enrollments courseEnrollmentReader
	watch       courseWatchReader
	assets      courseAssetStore
	audit       auditWriter
	cache       *CacheService
	exporter    *export.CSVExporter
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         CourseServiceConfig
}

// NewCourseService constructs a CourseService.
func NewCourseService(repo courseRepository, enrollments courseEnrollmentReader, watch courseWatchReader, assets courseAssetStore, audit auditWriter, cache *CacheService, validate *validator.Validate, logger *zap.Logger, cfg CourseServiceConfig) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{
		repo:        repo,
		enrollments: enrollments,
		watch:       watch,
		assets:      assets,
		audit:       audit,
		cache:       cache,
		exporter:    export.NewCSVExporter(),
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
	}
}

// List returns a page of published courses with non-preview media removed.
// The boolean reports a cache hit.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) (*dto.CourseListResponse, bool, error) {
	filter.Status = models.CourseStatusPublished
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize, 12, 100)
	return s.listCached(ctx, filter)
}

// Search is List with a mandatory query, ordered by relevance unless a sort is given.
func (s *CourseService) Search(ctx context.Context, query string, filter models.CourseFilter) (*dto.CourseListResponse, bool, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "search query is required")
	}
	filter.Search = query
	if filter.SortBy == "" {
		filter.SortBy = models.SortRelevance
	}
	return s.List(ctx, filter)
}

// Featured returns the best rated featured courses.
func (s *CourseService) Featured(ctx context.Context, limit int) ([]models.Course, error) {
	featured := true
	resp, _, err := s.List(ctx, models.CourseFilter{Featured: &featured, SortBy: "averageRating", SortOrder: "desc", Page: 1, PageSize: limit})
	if err != nil {
		return nil, err
	}
	return resp.Courses, nil
}

// EducatorCourses lists the courses of an educator. The educator sees every
// status of their own courses; everybody else sees published ones only.
func (s *CourseService) EducatorCourses(ctx context.Context, principal *models.JWTClaims, educatorID string, status models.CourseStatus, page, limit int) (*dto.CourseListResponse, error) {
	if educatorID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "educator id is required")
	}
	filter := models.CourseFilter{EducatorID: educatorID, Status: status}
	filter.Page, filter.PageSize = models.NormalizePage(page, limit, 12, 100)

	own := principal != nil && (principal.UserID == educatorID || principal.Role == models.RoleAdmin)
	if !own {
		filter.Status = models.CourseStatusPublished
	}

	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	if courses == nil {
		courses = []models.Course{}
	}
	if !own {
		for i := range courses {
			courses[i].StripProtectedMedia()
		}
	}
	return &dto.CourseListResponse{
		Courses:    courses,
		Pagination: models.NewPagination(filter.Page, filter.PageSize, total, len(courses)),
	}, nil
}

// Get returns a course with the viewer's relation to it. Non-preview media is
// removed unless the viewer is enrolled or owns the course. Unpublished courses
// are only visible to their owner.
func (s *CourseService) Get(ctx context.Context, id string, viewer *models.JWTClaims) (*dto.CourseDetailResponse, bool, error) {
	key := courseCacheKey("detail", id)
	var course models.Course
	hit, err := s.cache.Get(ctx, key, &course)
	if err != nil || !hit {
		loaded, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return nil, false, mapCourseError(err, "failed to load course")
		}
		course = *loaded
		s.persistCache(ctx, key, course)
		hit = false
	}

	resp := &dto.CourseDetailResponse{Course: &course}
	if viewer != nil {
		resp.IsOwner = course.IsOwnedBy(viewer.UserID)
		enrolled, err := s.enrollments.IsEnrolled(ctx, viewer.UserID, course.ID)
		if err != nil {
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}
		resp.IsEnrolled = enrolled
	}

	privileged := resp.IsOwner || (viewer != nil && viewer.Role == models.RoleAdmin)
	if course.Status != models.CourseStatusPublished && !privileged {
		return nil, false, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}
	if !resp.IsEnrolled && !privileged {
		course.StripProtectedMedia()
	}
	return resp, hit, nil
}

// Create authors a new draft course owned by the principal.
func (s *CourseService) Create(ctx context.Context, principal *models.JWTClaims, req dto.CreateCourseRequest, thumbnail *dto.FileUpload) (*models.Course, error) {
	if !principal.IsEducator() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only educators can create courses")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	if err := validateCourseTaxonomy(&req.Category, &req.Level); err != nil {
		return nil, err
	}

	course := &models.Course{
		ID:               uuid.NewString(),
		Title:            strings.TrimSpace(req.Title),
		Description:      req.Description,
		ShortDescription: req.ShortDescription,
		Category:         req.Category,
		Level:            req.Level,
		Language:         req.Language,
		PreviewVideo:     req.PreviewVideo,
		EducatorID:       principal.UserID,
		Content:          dto.ToChapters(req.Chapters),
		Tags:             cleanList(req.Tags),
		Requirements:     cleanList(req.Requirements),
		LearningOutcomes: cleanList(req.LearningOutcomes),
		Status:           models.CourseStatusDraft,
		Thumbnail:        models.DefaultThumbnailURL,
	}
	if course.Language == "" {
		course.Language = "English"
	}
	applyPrice(&course.Price, req.Price)
	course.AssignContentIDs()
	course.EnsureSlug()

	if thumbnail != nil {
		thumbnail.OwnerID = principal.UserID
		asset, err := s.assets.UploadCourseImage(ctx, *thumbnail)
		if err != nil {
			return nil, err
		}
		course.Thumbnail = asset.URL
		course.ThumbnailPublicID = asset.PublicID
	}

	baseSlug := course.Slug
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = s.repo.Create(ctx, course); !errors.Is(err, repository.ErrDuplicate) {
			break
		}
		course.Slug = baseSlug + "-" + uuid.NewString()[:8]
	}
	if err != nil {
		if thumbnail != nil {
			s.assets.DeleteQuietly(ctx, course.ThumbnailPublicID, storage.ResourceImage)
		}
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a course with this title already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}

	s.invalidate(ctx)
	s.recordAudit(ctx, principal, models.AuditActionCourseCreate, course.ID, map[string]interface{}{"title": course.Title})
	return course, nil
}

// Update changes the fields present in req. Only the owning educator may update.
// A new thumbnail replaces the old one, which is deleted best-effort.
func (s *CourseService) Update(ctx context.Context, principal *models.JWTClaims, id string, req dto.UpdateCourseRequest, thumbnail *dto.FileUpload) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	if err := validateCourseTaxonomy(req.Category, req.Level); err != nil {
		return nil, err
	}
	if req.Featured != nil && principal.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can feature courses")
	}

	var asset *storage.Asset
	if thumbnail != nil {
		if _, err := s.loadOwned(ctx, principal, id); err != nil {
			return nil, err
		}
		thumbnail.OwnerID = principal.UserID
		uploaded, err := s.assets.UploadCourseImage(ctx, *thumbnail)
		if err != nil {
			return nil, err
		}
		asset = uploaded
	}

	var previousThumbnail string
	course, err := s.repo.Mutate(ctx, id, func(c *models.Course) error {
		if err := authorizeCourseOwner(principal, c); err != nil {
			return err
		}
		applyCourseUpdate(c, req)
		if asset != nil {
			previousThumbnail = c.ThumbnailPublicID
			c.Thumbnail = asset.URL
			c.ThumbnailPublicID = asset.PublicID
		}
		return nil
	})
	if err != nil {
		if asset != nil {
			s.assets.DeleteQuietly(ctx, asset.PublicID, storage.ResourceImage)
		}
		return nil, mapCourseError(err, "failed to update course")
	}
	if previousThumbnail != "" {
		s.assets.DeleteQuietly(ctx, previousThumbnail, storage.ResourceImage)
	}

	s.invalidate(ctx)
	s.recordAudit(ctx, principal, models.AuditActionCourseUpdate, course.ID, nil)
	return course, nil
}

// AddChapter appends a chapter to the course content.
func (s *CourseService) AddChapter(ctx context.Context, principal *models.JWTClaims, courseID string, req dto.ChapterRequest) (*models.Chapter, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid chapter payload")
	}

	var added models.Chapter
	_, err := s.repo.Mutate(ctx, courseID, func(c *models.Course) error {
		if err := authorizeCourseOwner(principal, c); err != nil {
			return err
		}
		added = c.AppendChapter(req.ToChapter(), req.Order)
		return nil
	})
	if err != nil {
		return nil, mapCourseError(err, "failed to add chapter")
	}
	s.invalidate(ctx)
	return &added, nil
}

// AddLecture appends a lecture to a chapter. An uploaded video is stored first.
func (s *CourseService) AddLecture(ctx context.Context, principal *models.JWTClaims, courseID, chapterID string, req dto.LectureRequest, video *dto.FileUpload) (*models.Lecture, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lecture payload")
	}

	lecture := req.ToLecture()
	var asset *storage.Asset
	if video != nil {
		course, err := s.loadOwned(ctx, principal, courseID)
		if err != nil {
			return nil, err
		}
		if course.Chapter(chapterID) == nil {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "chapter not found")
		}
		video.OwnerID = principal.UserID
		uploaded, err := s.assets.UploadLectureVideo(ctx, *video)
		if err != nil {
			return nil, err
		}
		asset = uploaded
		lecture.VideoURL = asset.URL
		lecture.VideoPublicID = asset.PublicID
		if lecture.Duration == 0 && asset.Duration > 0 {
			lecture.Duration = int(math.Round(asset.Duration))
		}
	}

	var added models.Lecture
	_, err := s.repo.Mutate(ctx, courseID, func(c *models.Course) error {
		if err := authorizeCourseOwner(principal, c); err != nil {
			return err
		}
		appended, err := c.AppendLecture(chapterID, lecture, req.Order)
		if err != nil {
			return err
		}
		added = appended
		return nil
	})
	if err != nil {
		if asset != nil {
			s.assets.DeleteQuietly(ctx, asset.PublicID, storage.ResourceVideo)
		}
		return nil, mapCourseError(err, "failed to add lecture")
	}
	s.invalidate(ctx)
	return &added, nil
}

// Publish makes a draft course visible in the catalog once it has content.
func (s *CourseService) Publish(ctx context.Context, principal *models.JWTClaims, id string) (*models.Course, error) {
	course, err := s.repo.Mutate(ctx, id, func(c *models.Course) error {
		if err := authorizeCourseOwner(principal, c); err != nil {
			return err
		}
		return c.Publish(time.Now().UTC())
	})
	if err != nil {
		return nil, mapCourseError(err, "failed to publish course")
	}
	s.invalidate(ctx)
	s.recordAudit(ctx, principal, models.AuditActionCoursePublish, course.ID, nil)
	return course, nil
}

// Rate stores the caller's rating, replacing any earlier one, and returns the
// course with refreshed stats. Only enrolled students may rate.
func (s *CourseService) Rate(ctx context.Context, principal *models.JWTClaims, id string, req dto.RatingRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "rating must be between 1 and 5")
	}
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return nil, mapCourseError(err, "failed to load course")
	}
	enrolled, err := s.enrollments.IsEnrolled(ctx, principal.UserID, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you must be enrolled to rate this course")
	}

	course, err := s.repo.Rate(ctx, models.CourseRating{
		CourseID:  id,
		UserID:    principal.UserID,
		Rating:    req.Rating,
		Review:    strings.TrimSpace(req.Review),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, mapCourseError(err, "failed to save rating")
	}
	s.invalidate(ctx)
	return course, nil
}

// Delete removes a course without enrollments, or archives it otherwise.
// The returned flag reports whether the course was archived.
func (s *CourseService) Delete(ctx context.Context, principal *models.JWTClaims, id string) (bool, error) {
	course, err := s.loadOwned(ctx, principal, id)
	if err != nil {
		return false, err
	}
	count, err := s.enrollments.CountByCourse(ctx, id)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}

	if count > 0 {
		if _, err := s.repo.Mutate(ctx, id, func(c *models.Course) error {
			c.Status = models.CourseStatusArchived
			return nil
		}); err != nil {
			return false, mapCourseError(err, "failed to archive course")
		}
	} else {
		if err := s.repo.Delete(ctx, id); err != nil {
			return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
		}
		s.assets.DeleteQuietly(ctx, course.ThumbnailPublicID, storage.ResourceImage)
	}

	s.invalidate(ctx)
	s.recordAudit(ctx, principal, models.AuditActionCourseDelete, id, map[string]interface{}{"archived": count > 0})
	return count > 0, nil
}

// Students returns a page of the course roster with progress from each enrollment.
func (s *CourseService) Students(ctx context.Context, principal *models.JWTClaims, id string, page, limit int) ([]models.RosterEntry, *models.Pagination, error) {
	if _, err := s.loadOwned(ctx, principal, id); err != nil {
		return nil, nil, err
	}
	page, limit = models.NormalizePage(page, limit, 20, 100)
	roster, total, err := s.enrollments.ListRoster(ctx, id, page, limit)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	if roster == nil {
		roster = []models.RosterEntry{}
	}
	return roster, models.NewPagination(page, limit, total, len(roster)), nil
}

// ExportStudents renders the whole roster as CSV and returns it with a file name.
func (s *CourseService) ExportStudents(ctx context.Context, principal *models.JWTClaims, id string) ([]byte, string, error) {
	course, err := s.loadOwned(ctx, principal, id)
	if err != nil {
		return nil, "", err
	}
	roster, _, err := s.enrollments.ListRoster(ctx, id, 0, 0)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}

	dataset := export.Dataset{Headers: []string{"Name", "Email", "Enrolled At", "Status", "Progress", "Watch Time (min)"}}
	for _, entry := range roster {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Name":             entry.FullName(),
			"Email":            entry.Email,
			"Enrolled At":      entry.EnrolledAt.UTC().Format(time.RFC3339),
			"Status":           string(entry.Status),
			"Progress":         strconv.Itoa(entry.Progress) + "%",
			"Watch Time (min)": strconv.Itoa(entry.TotalWatchTime),
		})
	}
	data, err := s.exporter.Render(dataset)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to export students")
	}
	return data, fmt.Sprintf("%s-students.csv", course.Slug), nil
}

// WatchStats aggregates how the course's lectures are being watched.
func (s *CourseService) WatchStats(ctx context.Context, principal *models.JWTClaims, id string) (*dto.CourseWatchStats, error) {
	if _, err := s.loadOwned(ctx, principal, id); err != nil {
		return nil, err
	}
	totals, err := s.watch.CourseTotals(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load watch stats")
	}

	stats := &dto.CourseWatchStats{
		TotalViewers:        totals.UniqueViewers,
		TotalWatchTimeHours: round2(totals.TotalWatchTime / 3600),
	}
	if totals.UniqueViewers > 0 {
		stats.AverageWatchTimeMinutes = round2(totals.TotalWatchTime / 60 / float64(totals.UniqueViewers))
	}
	if totals.TotalLectures > 0 {
		stats.CompletionRate = round2(float64(totals.CompletedLectures) / float64(totals.TotalLectures) * 100)
	}
	return stats, nil
}

func (s *CourseService) listCached(ctx context.Context, filter models.CourseFilter) (*dto.CourseListResponse, bool, error) {
	key := courseCacheKey("list", filterFingerprint(filter))
	var cached dto.CourseListResponse
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, true, nil
	}

	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	if courses == nil {
		courses = []models.Course{}
	}
	for i := range courses {
		courses[i].StripProtectedMedia()
	}
	resp := &dto.CourseListResponse{
		Courses:    courses,
		Pagination: models.NewPagination(filter.Page, filter.PageSize, total, len(courses)),
	}
	s.persistCache(ctx, key, resp)
	return resp, false, nil
}

func (s *CourseService) loadOwned(ctx context.Context, principal *models.JWTClaims, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapCourseError(err, "failed to load course")
	}
	if err := authorizeCourseOwner(principal, course); err != nil {
		return nil, err
	}
	return course, nil
}

func (s *CourseService) persistCache(ctx context.Context, key string, value interface{}) {
	if err := s.cache.Set(ctx, key, value, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("course cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *CourseService) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, courseCachePattern); err != nil {
		s.logger.Warn("course cache invalidation failed", zap.Error(err))
	}
}

func (s *CourseService) recordAudit(ctx context.Context, principal *models.JWTClaims, action, courseID string, values map[string]interface{}) {
	if s.audit == nil || principal == nil {
		return
	}
	var payload []byte
	if values != nil {
		payload, _ = json.Marshal(values)
	}
	userID := principal.UserID
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "course",
		ResourceID: &courseID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func authorizeCourseOwner(principal *models.JWTClaims, course *models.Course) error {
	if principal == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if principal.Role == models.RoleAdmin || course.IsOwnedBy(principal.UserID) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "you can only modify your own courses")
}

func mapCourseError(err error, message string) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "course not found")
	case errors.Is(err, models.ErrChapterNotFound):
		return appErrors.Clone(appErrors.ErrNotFound, "chapter not found")
	case errors.Is(err, models.ErrCourseNoChapters), errors.Is(err, models.ErrCourseNoLectures), errors.Is(err, models.ErrCourseNotPublishable):
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
	}
}

func validateCourseTaxonomy(category, level *string) error {
	if category != nil && !slices.Contains(models.CourseCategories, *category) {
		return appErrors.Clone(appErrors.ErrValidation, "invalid course category")
	}
	if level != nil && !slices.Contains(models.CourseLevels, *level) {
		return appErrors.Clone(appErrors.ErrValidation, "invalid course level")
	}
	return nil
}

func applyPrice(price *models.Price, req *dto.PriceRequest) {
	if req != nil {
		price.Amount = req.Amount
		price.Currency = strings.ToUpper(req.Currency)
		price.DiscountPrice = req.DiscountPrice
		if req.IsFree != nil {
			price.IsFree = *req.IsFree
		} else {
			price.IsFree = req.Amount == 0
		}
	}
	price.Normalize()
	if price.IsFree {
		price.Amount = 0
		price.DiscountPrice = nil
	}
}

func applyCourseUpdate(c *models.Course, req dto.UpdateCourseRequest) {
	if req.Title != nil {
		c.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		c.Description = *req.Description
	}
	if req.ShortDescription != nil {
		c.ShortDescription = *req.ShortDescription
	}
	if req.Category != nil {
		c.Category = *req.Category
	}
	if req.Level != nil {
		c.Level = *req.Level
	}
	if req.Language != nil {
		c.Language = *req.Language
	}
	if req.Price != nil {
		applyPrice(&c.Price, req.Price)
	}
	if req.PreviewVideo != nil {
		c.PreviewVideo = *req.PreviewVideo
	}
	if req.Tags != nil {
		c.Tags = cleanList(*req.Tags)
	}
	if req.Requirements != nil {
		c.Requirements = cleanList(*req.Requirements)
	}
	if req.LearningOutcomes != nil {
		c.LearningOutcomes = cleanList(*req.LearningOutcomes)
	}
	if req.Chapters != nil {
		c.ReplaceContent(dto.ToChapters(*req.Chapters))
	}
	if req.Featured != nil {
		c.Featured = *req.Featured
	}
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func courseCacheKey(parts ...string) string {
	var builder strings.Builder
	builder.WriteString("courses")
	for _, part := range parts {
		if part == "" {
			continue
		}
		builder.WriteByte(':')
		builder.WriteString(strings.ReplaceAll(part, ":", "|"))
	}
	return builder.String()
}

func filterFingerprint(filter models.CourseFilter) string {
	raw, _ := json.Marshal(filter)
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:])
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
