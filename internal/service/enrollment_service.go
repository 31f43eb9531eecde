package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type enrollmentStore interface {
	Create(ctx context.Context, enrollment *models.Enrollment) error
	FindByUserAndCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error)
	Mutate(ctx context.Context, userID, courseID string, fn func(*models.Enrollment) error) (*models.Enrollment, error)
	SaveWatchProgress(ctx context.Context, enrollmentID string, lastWatched models.LastWatched, history *models.WatchHistory) error
}

type enrollmentCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type watchHistoryStore interface {
	Mutate(ctx context.Context, key repository.LectureKey, fn func(*models.WatchHistory) error) (*models.WatchHistory, error)
	MarkCompleted(ctx context.Context, key repository.LectureKey, at time.Time) error
	ListByCourse(ctx context.Context, userID, courseID string, page, size int) ([]models.WatchHistory, int, error)
}

var (
	errAlreadyEnrolled = appErrors.Clone(appErrors.ErrConflict, "already enrolled in this course")
	errNotEnrolled     = appErrors.Clone(appErrors.ErrNotFound, "not enrolled in this course")
)

// EnrollmentService owns a student's progress through a course: enrollment,
// completion, resume point, notes, bookmarks and watch sessions.
type EnrollmentService struct {
	repo      enrollmentStore
	courses   enrollmentCourseReader
	watch     watchHistoryStore
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentStore, courses enrollmentCourseReader, watch watchHistoryStore, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:      repo,
		courses:   courses,
		watch:     watch,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Enroll registers the principal in a published course. A dropped enrollment
// is reactivated; any other existing enrollment is a conflict.
func (s *EnrollmentService) Enroll(ctx context.Context, principal *models.JWTClaims, req dto.EnrollRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found or not available")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.Status != models.CourseStatusPublished {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found or not available")
	}

	now := s.now()
	enrollment := models.NewEnrollment(principal.UserID, course, req.EnrollmentType, now)
	err = s.repo.Create(ctx, enrollment)
	if errors.Is(err, repository.ErrDuplicate) {
		enrollment, err = s.repo.Mutate(ctx, principal.UserID, course.ID, func(e *models.Enrollment) error {
			if e.Status != models.EnrollmentStatusDropped {
				return errAlreadyEnrolled
			}
			e.Status = models.EnrollmentStatusActive
			e.RecalculateProgress(course.LectureCount(), now)
			return nil
		})
	}
	if err != nil {
		return nil, mapEnrollmentError(err, "failed to enroll")
	}

	s.metrics.RecordEnrollment(enrollment.EnrollmentType)
	s.invalidateCourses(ctx)
	s.logger.Info("user enrolled", zap.String("user_id", principal.UserID), zap.String("course_id", course.ID))
	return enrollment, nil
}

// Unenroll marks the enrollment as dropped. The record and its progress are kept.
func (s *EnrollmentService) Unenroll(ctx context.Context, principal *models.JWTClaims, courseID string) (*models.Enrollment, error) {
	enrollment, err := s.repo.Mutate(ctx, principal.UserID, courseID, func(e *models.Enrollment) error {
		if e.Status == models.EnrollmentStatusDropped {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment already dropped")
		}
		e.Drop(s.now())
		return nil
	})
	if err != nil {
		return nil, mapEnrollmentError(err, "failed to unenroll")
	}
	s.invalidateCourses(ctx)
	return enrollment, nil
}

// Status reports the principal's enrollment in a course.
func (s *EnrollmentService) Status(ctx context.Context, principal *models.JWTClaims, courseID string) (*dto.EnrollmentStatusResponse, error) {
	enrollment, err := s.load(ctx, principal, courseID)
	if err != nil {
		return nil, err
	}
	return &dto.EnrollmentStatusResponse{IsEnrolled: enrollment.CountsTowardRoster(), Enrollment: enrollment}, nil
}

// Progress breaks the enrollment's completion down per chapter.
func (s *EnrollmentService) Progress(ctx context.Context, principal *models.JWTClaims, courseID string) (*dto.ProgressResponse, error) {
	enrollment, err := s.load(ctx, principal, courseID)
	if err != nil {
		return nil, err
	}
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	resp := &dto.ProgressResponse{
		Overall: dto.OverallProgress{
			Percentage:        enrollment.Percentage,
			CompletedLectures: len(enrollment.CompletedLectures),
			TotalLectures:     course.LectureCount(),
			TotalWatchTime:    enrollment.TotalWatchTime,
			Status:            enrollment.Status,
		},
		Chapters:    make([]dto.ChapterProgress, 0, len(course.Content)),
		LastWatched: enrollment.LastWatched,
	}
	for _, ch := range course.Content {
		completed := 0
		for _, l := range ch.Lectures {
			if enrollment.IsLectureCompleted(ch.ChapterID, l.LectureID) {
				completed++
			}
		}
		resp.Chapters = append(resp.Chapters, dto.ChapterProgress{
			ChapterID:         ch.ChapterID,
			Title:             ch.Title,
			TotalLectures:     len(ch.Lectures),
			CompletedLectures: completed,
			Percentage:        models.ProgressPercentage(completed, len(ch.Lectures)),
		})
	}
	return resp, nil
}

// UpdateWatchProgress stores the resume point on the enrollment and the
// position on the lecture's watch history in one transaction.
func (s *EnrollmentService) UpdateWatchProgress(ctx context.Context, principal *models.JWTClaims, req dto.WatchProgressRequest) (*models.LastWatched, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid progress payload")
	}
	enrollment, err := s.loadActive(ctx, principal, req.CourseID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	enrollment.SetLastWatched(req.ChapterID, req.LectureID, req.Timestamp, now)
	history := models.NewWatchHistory(principal.UserID, req.CourseID, req.ChapterID, req.LectureID, now)
	history.SetPosition(req.Timestamp, now)

	if err := s.repo.SaveWatchProgress(ctx, enrollment.ID, *enrollment.LastWatched, history); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update progress")
	}
	return enrollment.LastWatched, nil
}

// CompleteLecture records a finished lecture. Completing the same lecture again
// changes nothing.
func (s *EnrollmentService) CompleteLecture(ctx context.Context, principal *models.JWTClaims, req dto.CompleteLectureRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid completion payload")
	}
	course, err := s.loadCourse(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}
	if course.Lecture(req.ChapterID, req.LectureID) == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "lecture not found")
	}

	now := s.now()
	changed, finished := false, false
	enrollment, err := s.repo.Mutate(ctx, principal.UserID, req.CourseID, func(e *models.Enrollment) error {
		if !e.CountsTowardRoster() {
			return errNotEnrolled
		}
		wasActive := e.Status == models.EnrollmentStatusActive
		changed = e.CompleteLecture(req.ChapterID, req.LectureID, req.WatchTime, course.LectureCount(), now)
		finished = wasActive && e.Status == models.EnrollmentStatusCompleted
		return nil
	})
	if err != nil {
		return nil, mapEnrollmentError(err, "failed to complete lecture")
	}
	if !changed {
		return enrollment, nil
	}

	s.metrics.RecordLectureCompletion()
	if err := s.watch.MarkCompleted(ctx, lectureKey(principal.UserID, req.LectureRef), now); err != nil {
		s.logger.Warn("failed to mark watch history completed", zap.String("lecture_id", req.LectureID), zap.Error(err))
	}
	if finished {
		s.logger.Info("course completed", zap.String("user_id", principal.UserID), zap.String("course_id", req.CourseID))
	}
	return enrollment, nil
}

// AddNote pins a note to a video position.
func (s *EnrollmentService) AddNote(ctx context.Context, principal *models.JWTClaims, req dto.NoteRequest) (*models.Note, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid note payload")
	}
	var note models.Note
	_, err := s.repo.Mutate(ctx, principal.UserID, req.CourseID, func(e *models.Enrollment) error {
		if !e.CountsTowardRoster() {
			return errNotEnrolled
		}
		note = e.AddNote(req.ChapterID, req.LectureID, strings.TrimSpace(req.Content), req.Timestamp, s.now())
		return nil
	})
	if err != nil {
		return nil, mapEnrollmentError(err, "failed to add note")
	}
	return &note, nil
}

// Notes returns a page of notes, newest first.
func (s *EnrollmentService) Notes(ctx context.Context, principal *models.JWTClaims, courseID string, query dto.AnnotationQuery) (*dto.NoteList, error) {
	enrollment, err := s.load(ctx, principal, courseID)
	if err != nil {
		return nil, err
	}
	page, limit := models.NormalizePage(query.Page, query.Limit, 20, 100)
	notes := enrollment.FilterNotes(query.ChapterID, query.LectureID)
	pageItems := models.Paginate(notes, page, limit)
	return &dto.NoteList{Notes: pageItems, Pagination: models.NewPagination(page, limit, len(notes), len(pageItems))}, nil
}

// UpdateNote replaces the content of a note.
func (s *EnrollmentService) UpdateNote(ctx context.Context, principal *models.JWTClaims, noteID string, req dto.UpdateNoteRequest) (*models.Note, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid note payload")
	}
	var note models.Note
	_, err := s.repo.Mutate(ctx, principal.UserID, req.CourseID, func(e *models.Enrollment) error {
		if !e.CountsTowardRoster() {
			return errNotEnrolled
		}
		updated, err := e.UpdateNote(noteID, strings.TrimSpace(req.Content), s.now())
		if err != nil {
			return err
		}
		note = updated
		return nil
	})
	if err != nil {
		return nil, mapEnrollmentError(err, "failed to update note")
	}
	return &note, nil
}

// DeleteNote removes a note.
func (s *EnrollmentService) DeleteNote(ctx context.Context, principal *models.JWTClaims, courseID, noteID string) error {
	_, err := s.repo.Mutate(ctx, principal.UserID, courseID, func(e *models.Enrollment) error {
		if !e.CountsTowardRoster() {
			return errNotEnrolled
		}
		return e.DeleteNote(noteID, s.now())
	})
	if err != nil {
		return mapEnrollmentError(err, "failed to delete note")
	}
	return nil
}

// AddBookmark marks a video position. The boolean is false when an identical
// bookmark already existed and was returned instead.
func (s *EnrollmentService) AddBookmark(ctx context.Context, principal *models.JWTClaims, req dto.BookmarkRequest) (*models.Bookmark, bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bookmark payload")
	}
	var (
		bookmark models.Bookmark
		created  bool
	)
	_, err := s.repo.Mutate(ctx, principal.UserID, req.CourseID, func(e *models.Enrollment) error {
		if !e.CountsTowardRoster() {
			return errNotEnrolled
		}
		bookmark, created = e.AddBookmark(req.ChapterID, req.LectureID, strings.TrimSpace(req.Title), req.Timestamp, s.now())
		return nil
	})
	if err != nil {
		return nil, false, mapEnrollmentError(err, "failed to add bookmark")
	}
	return &bookmark, created, nil
}

// Bookmarks returns a page of bookmarks, newest first.
func (s *EnrollmentService) Bookmarks(ctx context.Context, principal *models.JWTClaims, courseID string, query dto.AnnotationQuery) (*dto.BookmarkList, error) {
	enrollment, err := s.load(ctx, principal, courseID)
	if err != nil {
		return nil, err
	}
	page, limit := models.NormalizePage(query.Page, query.Limit, 20, 100)
	bookmarks := enrollment.FilterBookmarks(query.ChapterID, query.LectureID)
	pageItems := models.Paginate(bookmarks, page, limit)
	return &dto.BookmarkList{Bookmarks: pageItems, Pagination: models.NewPagination(page, limit, len(bookmarks), len(pageItems))}, nil
}

// DeleteBookmark removes a bookmark.
func (s *EnrollmentService) DeleteBookmark(ctx context.Context, principal *models.JWTClaims, courseID, bookmarkID string) error {
	_, err := s.repo.Mutate(ctx, principal.UserID, courseID, func(e *models.Enrollment) error {
		if !e.CountsTowardRoster() {
			return errNotEnrolled
		}
		return e.DeleteBookmark(bookmarkID, s.now())
	})
	if err != nil {
		return mapEnrollmentError(err, "failed to delete bookmark")
	}
	return nil
}

// StartWatchSession opens a new session on the lecture's watch history.
// A session left open earlier is not closed.
func (s *EnrollmentService) StartWatchSession(ctx context.Context, principal *models.JWTClaims, req dto.StartSessionRequest) (*models.WatchSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if _, err := s.loadActive(ctx, principal, req.CourseID); err != nil {
		return nil, err
	}

	var session models.WatchSession
	_, err := s.watch.Mutate(ctx, lectureKey(principal.UserID, req.LectureRef), func(h *models.WatchHistory) error {
		session = h.StartSession(req.StartPosition, req.DeviceInfo, s.now())
		return nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start watch session")
	}
	s.metrics.RecordWatchSession("start")
	return &session, nil
}

// EndWatchSession closes the most recent session when it is still open and
// refreshes completion. Without an open session the history is returned unchanged.
func (s *EnrollmentService) EndWatchSession(ctx context.Context, principal *models.JWTClaims, req dto.EndSessionRequest) (*models.WatchHistory, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if _, err := s.loadActive(ctx, principal, req.CourseID); err != nil {
		return nil, err
	}

	ended := false
	history, err := s.watch.Mutate(ctx, lectureKey(principal.UserID, req.LectureRef), func(h *models.WatchHistory) error {
		ended = h.EndSession(req.EndPosition, req.LectureDuration, s.now())
		return nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to end watch session")
	}
	if ended {
		s.metrics.RecordWatchSession("end")
	}
	return history, nil
}

// RecordInteraction appends a player event to the lecture's watch history.
func (s *EnrollmentService) RecordInteraction(ctx context.Context, principal *models.JWTClaims, req dto.InteractionRequest) (*models.WatchHistory, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid interaction payload")
	}
	if _, err := s.loadActive(ctx, principal, req.CourseID); err != nil {
		return nil, err
	}
	history, err := s.watch.Mutate(ctx, lectureKey(principal.UserID, req.LectureRef), func(h *models.WatchHistory) error {
		h.RecordInteraction(models.Interaction{Type: req.Type, Timestamp: req.Timestamp, Value: req.Value, OccurredAt: s.now()})
		return nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record interaction")
	}
	return history, nil
}

// WatchHistory lists the principal's lecture histories in a course.
func (s *EnrollmentService) WatchHistory(ctx context.Context, principal *models.JWTClaims, courseID string, page, limit int) ([]models.WatchHistory, *models.Pagination, error) {
	page, limit = models.NormalizePage(page, limit, 20, 100)
	histories, total, err := s.watch.ListByCourse(ctx, principal.UserID, courseID, page, limit)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load watch history")
	}
	if histories == nil {
		histories = []models.WatchHistory{}
	}
	return histories, models.NewPagination(page, limit, total, len(histories)), nil
}

func (s *EnrollmentService) load(ctx context.Context, principal *models.JWTClaims, courseID string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByUserAndCourse(ctx, principal.UserID, courseID)
	if err != nil {
		return nil, mapEnrollmentError(err, "failed to load enrollment")
	}
	return enrollment, nil
}

// loadActive is load for writes: a dropped enrollment counts as not enrolled.
func (s *EnrollmentService) loadActive(ctx context.Context, principal *models.JWTClaims, courseID string) (*models.Enrollment, error) {
	enrollment, err := s.load(ctx, principal, courseID)
	if err != nil {
		return nil, err
	}
	if !enrollment.CountsTowardRoster() {
		return nil, errNotEnrolled
	}
	return enrollment, nil
}

func (s *EnrollmentService) loadCourse(ctx context.Context, courseID string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func (s *EnrollmentService) invalidateCourses(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, courseCachePattern); err != nil {
		s.logger.Warn("course cache invalidation failed", zap.Error(err))
	}
}

func lectureKey(userID string, ref dto.LectureRef) repository.LectureKey {
	return repository.LectureKey{UserID: userID, CourseID: ref.CourseID, ChapterID: ref.ChapterID, LectureID: ref.LectureID}
}

func mapEnrollmentError(err error, message string) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return errNotEnrolled
	case errors.Is(err, repository.ErrDuplicate):
		return errAlreadyEnrolled
	case errors.Is(err, models.ErrNoteNotFound):
		return appErrors.Clone(appErrors.ErrNotFound, "note not found")
	case errors.Is(err, models.ErrBookmarkNotFound):
		return appErrors.Clone(appErrors.ErrNotFound, "bookmark not found")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
	}
}
