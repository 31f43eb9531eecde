package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/storage"
)

type mockProfileRepo struct {
	users     map[string]*models.User
	saved     int
	updateErr error
}

func (m *mockProfileRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *user
	return &copy, nil
}

func (m *mockProfileRepo) UpdateProfile(ctx context.Context, user *models.User) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	copy := *user
	m.users[user.ID] = &copy
	m.saved++
	return nil
}

func (m *mockProfileRepo) UpdatePreferences(ctx context.Context, id string, prefs models.Preferences) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.users[id].Preferences = prefs
	return nil
}

type mockLearnerEnrollments struct {
	mu         sync.Mutex
	byStatus   map[models.EnrollmentStatus][]models.EnrolledCourse
	inProgress []models.EnrolledCourse
	summary    models.EnrollmentSummary
	lastPage   int
	lastSize   int
	err        error
}

func (m *mockLearnerEnrollments) ListByUser(ctx context.Context, userID string, status models.EnrollmentStatus, page, size int) ([]models.EnrolledCourse, int, error) {
	if m.err != nil {
		return nil, 0, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPage, m.lastSize = page, size
	items := m.byStatus[status]
	total := len(items)
	if len(items) > size {
		items = items[:size]
	}
	return items, total, nil
}

func (m *mockLearnerEnrollments) ListInProgress(ctx context.Context, userID string, limit int) ([]models.EnrolledCourse, error) {
	return m.inProgress, nil
}

func (m *mockLearnerEnrollments) Summary(ctx context.Context, userID string) (models.EnrollmentSummary, error) {
	return m.summary, nil
}

type mockLearnerCourses struct {
	recommended []models.Course
	educator    models.EducatorSummary
	educatorHit bool
}

func (m *mockLearnerCourses) Recommend(ctx context.Context, userID string, limit int) ([]models.Course, error) {
	return m.recommended, nil
}

func (m *mockLearnerCourses) EducatorSummary(ctx context.Context, educatorID string) (models.EducatorSummary, error) {
	m.educatorHit = true
	return m.educator, nil
}

func (m *mockWatchTotals) UserTotals(ctx context.Context, userID string) (models.WatchTotals, error) {
	return m.totals, nil
}

func (m *mockAssets) UploadProfileImage(ctx context.Context, file dto.FileUpload) (*storage.Asset, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.uploads++
	return &storage.Asset{URL: "https://cdn.example.com/avatar-new.jpg", PublicID: "avatar-new", ResourceType: storage.ResourceImage}, nil
}

type userFixture struct {
	svc         *UserService
	repo        *mockProfileRepo
	enrollments *mockLearnerEnrollments
	courses     *mockLearnerCourses
	watch       *mockWatchTotals
	assets      *mockAssets
}

func newUserFixture() *userFixture {
	f := &userFixture{
		repo: &mockProfileRepo{users: map[string]*models.User{
			"stu-1": {
				ID:                   "stu-1",
				FirstName:            "Ada",
				LastName:             "Lovelace",
				Email:                "ada@example.com",
				Role:                 models.RoleStudent,
				ProfileImage:         "https://cdn.example.com/avatar-old.jpg",
				ProfileImagePublicID: "avatar-old",
				Preferences:          models.DefaultPreferences(),
				Active:               true,
			},
		}},
		enrollments: &mockLearnerEnrollments{byStatus: map[models.EnrollmentStatus][]models.EnrolledCourse{}},
		courses:     &mockLearnerCourses{},
		watch:       &mockWatchTotals{},
		assets:      &mockAssets{},
	}
	f.svc = NewUserService(f.repo, f.enrollments, f.courses, f.watch, f.assets, nil, zap.NewNop())
	return f
}

func textPtr(v string) *string { return &v }

func TestUserServiceUpdateProfileKeepsOmittedFields(t *testing.T) {
	f := newUserFixture()

	user, err := f.svc.UpdateProfile(context.Background(), student("stu-1"), dto.UpdateProfileRequest{
		Bio:     textPtr("  Mathematician  "),
		Website: textPtr("https://ada.example.com"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.FirstName)
	assert.Equal(t, "Mathematician", user.Bio)
	assert.Equal(t, "https://ada.example.com", user.Website)
	assert.Equal(t, 1, f.repo.saved)

	_, err = f.svc.UpdateProfile(context.Background(), student("stu-1"), dto.UpdateProfileRequest{FirstName: textPtr("A")})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Profile(context.Background(), student("ghost"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUserServiceUpdateProfileImageReplacesPrevious(t *testing.T) {
	f := newUserFixture()

	user, err := f.svc.UpdateProfileImage(context.Background(), student("stu-1"), dto.FileUpload{Filename: "me.png", ContentType: "image/png", Body: strings.NewReader("png")})
	require.NoError(t, err)
	assert.Equal(t, "avatar-new", user.ProfileImagePublicID)
	assert.Equal(t, []string{"avatar-old"}, f.assets.deleted)
}

func TestUserServiceUpdateProfileImageCleansUpOnSaveFailure(t *testing.T) {
	f := newUserFixture()
	f.repo.updateErr = errors.New("db down")

	_, err := f.svc.UpdateProfileImage(context.Background(), student("stu-1"), dto.FileUpload{Filename: "me.png", ContentType: "image/png", Body: strings.NewReader("png")})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
	assert.Equal(t, []string{"avatar-new"}, f.assets.deleted)
}

func TestUserServiceUpdatePreferencesMerges(t *testing.T) {
	f := newUserFixture()

	prefs, err := f.svc.UpdatePreferences(context.Background(), student("stu-1"), dto.UpdatePreferencesRequest{Language: textPtr("id")})
	require.NoError(t, err)
	assert.Equal(t, "id", prefs.Language)
	assert.Equal(t, "UTC", prefs.Timezone)
	assert.True(t, prefs.Notifications.Email)
	assert.Equal(t, "id", f.repo.users["stu-1"].Preferences.Language)
}

func TestUserServiceDashboard(t *testing.T) {
	f := newUserFixture()
	doneAt := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	f.enrollments.byStatus[""] = []models.EnrolledCourse{{CourseID: "c1", Title: "Go"}, {CourseID: "c2", Title: "SQL"}}
	f.enrollments.byStatus[models.EnrollmentStatusCompleted] = []models.EnrolledCourse{{CourseID: "c2", Title: "SQL", CompletedAt: &doneAt}}
	f.enrollments.summary = models.EnrollmentSummary{Total: 2, Active: 1, Completed: 1, TotalWatchTime: 95}
	recommended := publishedCourse()
	f.courses.recommended = []models.Course{*recommended}

	resp, err := f.svc.Dashboard(context.Background(), student("stu-1"))
	require.NoError(t, err)
	assert.Len(t, resp.RecentEnrollments, 2)
	assert.NotNil(t, resp.ContinueWatching)
	require.Len(t, resp.Achievements, 1)
	assert.Equal(t, "Completed SQL", resp.Achievements[0].Title)
	assert.Equal(t, doneAt, resp.Achievements[0].EarnedAt)
	assert.Equal(t, dto.DashboardStats{TotalEnrollments: 2, CompletedCourses: 1, TotalWatchTime: 95}, resp.Stats)

	require.Len(t, resp.RecommendedCourses, 1)
	for _, ch := range resp.RecommendedCourses[0].Content {
		for _, l := range ch.Lectures {
			if !l.IsPreview {
				assert.Empty(t, l.VideoURL)
			}
		}
	}
}

func TestUserServiceStats(t *testing.T) {
	f := newUserFixture()
	f.watch.totals = models.WatchTotals{TotalWatchTime: 5400, TotalLectures: 3, CompletedLectures: 1, UniqueCourses: 2}
	f.enrollments.summary = models.EnrollmentSummary{Total: 2}

	resp, err := f.svc.Stats(context.Background(), student("stu-1"))
	require.NoError(t, err)
	assert.Equal(t, 1.5, resp.Watch.TotalWatchTimeHours)
	assert.Equal(t, 33.33, resp.Watch.CompletionRate)
	assert.Nil(t, resp.Educator)
	assert.False(t, f.courses.educatorHit)

	f.courses.educator = models.EducatorSummary{TotalCourses: 4, PublishedCourses: 3}
	resp, err = f.svc.Stats(context.Background(), educator("stu-1"))
	require.NoError(t, err)
	require.NotNil(t, resp.Educator)
	assert.Equal(t, 3, resp.Educator.PublishedCourses)
}

func TestUserServiceEnrollmentsPaginates(t *testing.T) {
	f := newUserFixture()
	items := make([]models.EnrolledCourse, 12)
	for i := range items {
		items[i] = models.EnrolledCourse{CourseID: "c"}
	}
	f.enrollments.byStatus[models.EnrollmentStatusActive] = items

	list, err := f.svc.Enrollments(context.Background(), student("stu-1"), models.EnrollmentStatusActive, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, f.enrollments.lastSize)
	assert.Len(t, list.Courses, 10)
	assert.Equal(t, 12, list.Pagination.Total)
	assert.True(t, list.Pagination.HasMore)

	empty, err := f.svc.Enrollments(context.Background(), student("stu-1"), models.EnrollmentStatusDropped, 1, 10)
	require.NoError(t, err)
	assert.NotNil(t, empty.Courses)
	assert.Empty(t, empty.Courses)
}
