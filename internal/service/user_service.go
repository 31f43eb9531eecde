package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/storage"
)

const (
	dashboardRecentLimit      = 5
	dashboardContinueLimit    = 5
	dashboardRecommendLimit   = 6
	dashboardAchievementLimit = 10
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateProfile(ctx context.Context, user *models.User) error
	UpdatePreferences(ctx context.Context, id string, prefs models.Preferences) error
}

type userEnrollmentReader interface {
	ListByUser(ctx context.Context, userID string, status models.EnrollmentStatus, page, size int) ([]models.EnrolledCourse, int, error)
	ListInProgress(ctx context.Context, userID string, limit int) ([]models.EnrolledCourse, error)
	Summary(ctx context.Context, userID string) (models.EnrollmentSummary, error)
}

type userCourseReader interface {
	Recommend(ctx context.Context, userID string, limit int) ([]models.Course, error)
	EducatorSummary(ctx context.Context, educatorID string) (models.EducatorSummary, error)
}

type userWatchReader interface {
	UserTotals(ctx context.Context, userID string) (models.WatchTotals, error)
}

type profileImageStore interface {
	UploadProfileImage(ctx context.Context, file dto.FileUpload) (*storage.Asset, error)
	DeleteQuietly(ctx context.Context, publicID string, resourceType storage.ResourceType)
}

// UserService serves the signed-in user's profile, dashboard and learning stats.
type UserService struct {
	repo        userRepository
	enrollments userEnrollmentReader
	courses     userCourseReader
	watch       userWatchReader
	assets      profileImageStore
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, enrollments userEnrollmentReader, courses userCourseReader, watch userWatchReader, assets profileImageStore, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{
		repo:        repo,
		enrollments: enrollments,
		courses:     courses,
		watch:       watch,
		assets:      assets,
		validator:   validate,
		logger:      logger,
	}
}

// Profile returns the principal's user record.
func (s *UserService) Profile(ctx context.Context, principal *models.JWTClaims) (*models.User, error) {
	return s.load(ctx, principal.UserID)
}

// UpdateProfile changes the fields present in req.
func (s *UserService) UpdateProfile(ctx context.Context, principal *models.JWTClaims, req dto.UpdateProfileRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}
	user, err := s.load(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	if req.FirstName != nil {
		user.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		user.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Bio != nil {
		user.Bio = strings.TrimSpace(*req.Bio)
	}
	if req.Website != nil {
		user.Website = strings.TrimSpace(*req.Website)
	}
	if req.SocialLinks != nil {
		user.SocialLinks = *req.SocialLinks
	}
	if err := s.repo.UpdateProfile(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}
	return user, nil
}

// UpdateProfileImage stores a new avatar and removes the previous one.
func (s *UserService) UpdateProfileImage(ctx context.Context, principal *models.JWTClaims, file dto.FileUpload) (*models.User, error) {
	user, err := s.load(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	file.OwnerID = principal.UserID
	asset, err := s.assets.UploadProfileImage(ctx, file)
	if err != nil {
		return nil, err
	}

	previous := user.ProfileImagePublicID
	user.ProfileImage = asset.URL
	user.ProfileImagePublicID = asset.PublicID
	if err := s.repo.UpdateProfile(ctx, user); err != nil {
		s.assets.DeleteQuietly(ctx, asset.PublicID, storage.ResourceImage)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile image")
	}
	if previous != "" {
		s.assets.DeleteQuietly(ctx, previous, storage.ResourceImage)
	}
	return user, nil
}

// UpdatePreferences merges the fields present in req into the stored preferences.
func (s *UserService) UpdatePreferences(ctx context.Context, principal *models.JWTClaims, req dto.UpdatePreferencesRequest) (*models.Preferences, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid preferences payload")
	}
	user, err := s.load(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	prefs := user.Preferences
	if req.Notifications != nil {
		prefs.Notifications = *req.Notifications
	}
	if req.Language != nil {
		prefs.Language = *req.Language
	}
	if req.Timezone != nil {
		prefs.Timezone = *req.Timezone
	}
	if err := s.repo.UpdatePreferences(ctx, user.ID, prefs); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update preferences")
	}
	return &prefs, nil
}

// Dashboard assembles the student dashboard. The sections are loaded concurrently.
func (s *UserService) Dashboard(ctx context.Context, principal *models.JWTClaims) (*dto.DashboardResponse, error) {
	userID := principal.UserID
	resp := &dto.DashboardResponse{}
	var (
		completed []models.EnrolledCourse
		summary   models.EnrollmentSummary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recent, _, err := s.enrollments.ListByUser(gctx, userID, "", 1, dashboardRecentLimit)
		resp.RecentEnrollments = recent
		return err
	})
	g.Go(func() error {
		inProgress, err := s.enrollments.ListInProgress(gctx, userID, dashboardContinueLimit)
		resp.ContinueWatching = inProgress
		return err
	})
	g.Go(func() error {
		recommended, err := s.courses.Recommend(gctx, userID, dashboardRecommendLimit)
		resp.RecommendedCourses = recommended
		return err
	})
	g.Go(func() error {
		var err error
		completed, _, err = s.enrollments.ListByUser(gctx, userID, models.EnrollmentStatusCompleted, 1, dashboardAchievementLimit)
		return err
	})
	g.Go(func() error {
		var err error
		summary, err = s.enrollments.Summary(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load dashboard")
	}

	if resp.RecentEnrollments == nil {
		resp.RecentEnrollments = []models.EnrolledCourse{}
	}
	if resp.ContinueWatching == nil {
		resp.ContinueWatching = []models.EnrolledCourse{}
	}
	if resp.RecommendedCourses == nil {
		resp.RecommendedCourses = []models.Course{}
	}
	for i := range resp.RecommendedCourses {
		resp.RecommendedCourses[i].StripProtectedMedia()
	}
	resp.Achievements = make([]dto.Achievement, 0, len(completed))
	for _, c := range completed {
		if c.CompletedAt == nil {
			continue
		}
		resp.Achievements = append(resp.Achievements, dto.Achievement{
			Type:     "course_completion",
			Title:    "Completed " + c.Title,
			CourseID: c.CourseID,
			EarnedAt: *c.CompletedAt,
		})
	}
	resp.Stats = dto.DashboardStats{
		TotalEnrollments: summary.Total,
		CompletedCourses: summary.Completed,
		TotalWatchTime:   summary.TotalWatchTime,
	}
	return resp, nil
}

// Stats aggregates learning stats and, for educators, teaching stats.
func (s *UserService) Stats(ctx context.Context, principal *models.JWTClaims) (*dto.UserStatsResponse, error) {
	summary, err := s.enrollments.Summary(ctx, principal.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment stats")
	}
	totals, err := s.watch.UserTotals(ctx, principal.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load watch stats")
	}

	resp := &dto.UserStatsResponse{
		Enrollments: summary,
		Watch: dto.WatchStats{
			TotalWatchTimeHours: round2(totals.TotalWatchTime / 3600),
			TotalLectures:       totals.TotalLectures,
			CompletedLectures:   totals.CompletedLectures,
			UniqueCourses:       totals.UniqueCourses,
		},
	}
	if totals.TotalLectures > 0 {
		resp.Watch.CompletionRate = round2(float64(totals.CompletedLectures) / float64(totals.TotalLectures) * 100)
	}

	if principal.IsEducator() {
		educator, err := s.courses.EducatorSummary(ctx, principal.UserID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load educator stats")
		}
		resp.Educator = &educator
	}
	return resp, nil
}

// Enrollments lists the principal's enrollments with course summaries.
func (s *UserService) Enrollments(ctx context.Context, principal *models.JWTClaims, status models.EnrollmentStatus, page, limit int) (*dto.EnrolledCourseList, error) {
	page, limit = models.NormalizePage(page, limit, 10, 100)
	courses, total, err := s.enrollments.ListByUser(ctx, principal.UserID, status, page, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	if courses == nil {
		courses = []models.EnrolledCourse{}
	}
	return &dto.EnrolledCourseList{Courses: courses, Pagination: models.NewPagination(page, limit, total, len(courses))}, nil
}

func (s *UserService) load(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}
