package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/storage"
)

type mockCourseRepo struct {
	courses       map[string]*models.Course
	ratings       map[string][]models.CourseRating
	students      map[string]int
	lastFilter    models.CourseFilter
	duplicateOnce bool
	deleted       []string
}

func newMockCourseRepo(courses ...*models.Course) *mockCourseRepo {
	repo := &mockCourseRepo{courses: map[string]*models.Course{}, ratings: map[string][]models.CourseRating{}, students: map[string]int{}}
	for _, c := range courses {
		repo.courses[c.ID] = c
	}
	return repo
}

func (m *mockCourseRepo) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	m.lastFilter = filter
	var out []models.Course
	for _, c := range m.courses {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.EducatorID != "" && c.EducatorID != filter.EducatorID {
			continue
		}
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (m *mockCourseRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	c, ok := m.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (m *mockCourseRepo) Create(ctx context.Context, course *models.Course) error {
	if m.duplicateOnce {
		m.duplicateOnce = false
		return repository.ErrDuplicate
	}
	course.RecalculateStats(nil, 0)
	cp := *course
	m.courses[course.ID] = &cp
	return nil
}

func (m *mockCourseRepo) Mutate(ctx context.Context, id string, fn func(*models.Course) error) (*models.Course, error) {
	stored, ok := m.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *stored
	if fn != nil {
		if err := fn(&cp); err != nil {
			return nil, err
		}
	}
	cp.RecalculateStats(m.ratings[id], m.students[id])
	m.courses[id] = &cp
	out := cp
	return &out, nil
}

func (m *mockCourseRepo) Rate(ctx context.Context, rating models.CourseRating) (*models.Course, error) {
	existing := m.ratings[rating.CourseID]
	replaced := false
	for i := range existing {
		if existing[i].UserID == rating.UserID {
			existing[i] = rating
			replaced = true
		}
	}
	if !replaced {
		existing = append(existing, rating)
	}
	m.ratings[rating.CourseID] = existing
	return m.Mutate(ctx, rating.CourseID, nil)
}

func (m *mockCourseRepo) Delete(ctx context.Context, id string) error {
	delete(m.courses, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockCourseEnrollments struct {
	enrolled map[string]bool
	count    int
	roster   []models.RosterEntry
}

func (m *mockCourseEnrollments) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	return m.enrolled[userID+"/"+courseID], nil
}

func (m *mockCourseEnrollments) CountByCourse(ctx context.Context, courseID string) (int, error) {
	return m.count, nil
}

func (m *mockCourseEnrollments) ListRoster(ctx context.Context, courseID string, page, size int) ([]models.RosterEntry, int, error) {
	return m.roster, len(m.roster), nil
}

type mockWatchTotals struct {
	totals models.WatchTotals
}

func (m *mockWatchTotals) CourseTotals(ctx context.Context, courseID string) (models.WatchTotals, error) {
	return m.totals, nil
}

type mockAssets struct {
	uploads int
	owners  []string
	deleted []string
	err     error
}

func (m *mockAssets) UploadCourseImage(ctx context.Context, file dto.FileUpload) (*storage.Asset, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.uploads++
	m.owners = append(m.owners, file.OwnerID)
	return &storage.Asset{URL: "https://cdn.example.com/thumb-new.jpg", PublicID: "thumb-new", ResourceType: storage.ResourceImage}, nil
}

func (m *mockAssets) UploadLectureVideo(ctx context.Context, file dto.FileUpload) (*storage.Asset, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.uploads++
	m.owners = append(m.owners, file.OwnerID)
	return &storage.Asset{URL: "https://cdn.example.com/video.mp4", PublicID: "video-1", ResourceType: storage.ResourceVideo, Duration: 299.6}, nil
}

func (m *mockAssets) DeleteQuietly(ctx context.Context, publicID string, resourceType storage.ResourceType) {
	m.deleted = append(m.deleted, publicID)
}

type courseFixture struct {
	svc         *CourseService
	repo        *mockCourseRepo
	enrollments *mockCourseEnrollments
	watch       *mockWatchTotals
	assets      *mockAssets
	audit       *mockAuthRepo
}

func newCourseFixture(courses ...*models.Course) *courseFixture {
	f := &courseFixture{
		repo:        newMockCourseRepo(courses...),
		enrollments: &mockCourseEnrollments{enrolled: map[string]bool{}},
		watch:       &mockWatchTotals{},
		assets:      &mockAssets{},
		audit:       &mockAuthRepo{},
	}
	f.svc = NewCourseService(f.repo, f.enrollments, f.watch, f.assets, f.audit, nil, nil, zap.NewNop(), CourseServiceConfig{})
	return f
}

func educator(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleEducator}
}

func student(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}

func publishedCourse() *models.Course {
	return &models.Course{
		ID:         "c1",
		Title:      "Go in Practice",
		Slug:       "go-in-practice",
		EducatorID: "edu-1",
		Status:     models.CourseStatusPublished,
		Category:   "Programming",
		Level:      "Beginner",
		Price:      models.Price{Amount: 20, Currency: "USD"},
		Content: models.Chapters{{
			ChapterID: "ch1",
			Title:     "Basics",
			Order:     1,
			Lectures: []models.Lecture{
				{LectureID: "l1", Title: "Intro", VideoURL: "https://cdn/intro.mp4", VideoPublicID: "intro", Duration: 120, IsPreview: true, Order: 1},
				{LectureID: "l2", Title: "Types", VideoURL: "https://cdn/types.mp4", VideoPublicID: "types", Duration: 300, Order: 2},
			},
		}},
	}
}

func validCreateRequest() dto.CreateCourseRequest {
	return dto.CreateCourseRequest{
		Title:       "Data Science 101",
		Description: "A thorough introduction to data science for beginners.",
		Category:    "Data Science",
		Level:       "Beginner",
		Tags:        []string{" python ", "", "pandas"},
		Chapters: []dto.ChapterRequest{{
			ChapterID: "client-chapter",
			Title:     "Setup",
			Lectures:  []dto.LectureRequest{{LectureID: "client-lecture", Title: "Install", Duration: 90}},
		}},
	}
}

func TestCourseServiceListForcesPublishedAndStripsMedia(t *testing.T) {
	draft := publishedCourse()
	draft.ID = "c2"
	draft.Status = models.CourseStatusDraft
	f := newCourseFixture(publishedCourse(), draft)

	resp, hit, err := f.svc.List(context.Background(), models.CourseFilter{Status: models.CourseStatusDraft})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, models.CourseStatusPublished, f.repo.lastFilter.Status)
	assert.Equal(t, 12, f.repo.lastFilter.PageSize)
	require.Len(t, resp.Courses, 1)

	lectures := resp.Courses[0].Content[0].Lectures
	assert.Equal(t, "https://cdn/intro.mp4", lectures[0].VideoURL)
	assert.Empty(t, lectures[1].VideoURL)
	assert.Empty(t, lectures[1].VideoPublicID)
	assert.False(t, resp.Pagination.HasMore)

	stored := f.repo.courses["c1"].Content[0].Lectures[1]
	assert.NotEmpty(t, stored.VideoURL)
}

func TestCourseServiceSearchRequiresQuery(t *testing.T) {
	f := newCourseFixture(publishedCourse())

	_, _, err := f.svc.Search(context.Background(), "   ", models.CourseFilter{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, _, err = f.svc.Search(context.Background(), "go", models.CourseFilter{})
	require.NoError(t, err)
	assert.Equal(t, "go", f.repo.lastFilter.Search)
	assert.Equal(t, models.SortRelevance, f.repo.lastFilter.SortBy)
}

func TestCourseServiceGetStripsForOutsiders(t *testing.T) {
	f := newCourseFixture(publishedCourse())
	f.enrollments.enrolled["stu-1/c1"] = true

	anonymous, _, err := f.svc.Get(context.Background(), "c1", nil)
	require.NoError(t, err)
	assert.False(t, anonymous.IsEnrolled)
	assert.Empty(t, anonymous.Course.Content[0].Lectures[1].VideoURL)
	assert.NotEmpty(t, anonymous.Course.Content[0].Lectures[0].VideoURL)

	enrolled, _, err := f.svc.Get(context.Background(), "c1", student("stu-1"))
	require.NoError(t, err)
	assert.True(t, enrolled.IsEnrolled)
	assert.Equal(t, "https://cdn/types.mp4", enrolled.Course.Content[0].Lectures[1].VideoURL)

	owner, _, err := f.svc.Get(context.Background(), "c1", educator("edu-1"))
	require.NoError(t, err)
	assert.True(t, owner.IsOwner)
	assert.Equal(t, "types", owner.Course.Content[0].Lectures[1].VideoPublicID)
}

func TestCourseServiceGetHidesDraftFromOthers(t *testing.T) {
	course := publishedCourse()
	course.Status = models.CourseStatusDraft
	f := newCourseFixture(course)

	_, _, err := f.svc.Get(context.Background(), "c1", student("stu-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, _, err = f.svc.Get(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceCreate(t *testing.T) {
	f := newCourseFixture()

	course, err := f.svc.Create(context.Background(), educator("edu-1"), validCreateRequest(), nil)
	require.NoError(t, err)

	assert.Equal(t, "edu-1", course.EducatorID)
	assert.Equal(t, models.CourseStatusDraft, course.Status)
	assert.Equal(t, models.DefaultThumbnailURL, course.Thumbnail)
	assert.Equal(t, "data-science-101", course.Slug)
	assert.True(t, course.IsFree)
	assert.Equal(t, "USD", course.Currency)
	assert.Equal(t, "English", course.Language)
	assert.Equal(t, []string{"python", "pandas"}, []string(course.Tags))
	assert.NotEqual(t, "client-chapter", course.Content[0].ChapterID)
	assert.NotEqual(t, "client-lecture", course.Content[0].Lectures[0].LectureID)
	assert.Equal(t, 1, course.TotalLectures)
	assert.Equal(t, 2, course.TotalDuration)
	require.Len(t, f.audit.auditLogs, 1)
	assert.Equal(t, models.AuditActionCourseCreate, f.audit.auditLogs[0].Action)
}

func TestCourseServiceCreateRetriesTakenSlug(t *testing.T) {
	f := newCourseFixture()
	f.repo.duplicateOnce = true

	course, err := f.svc.Create(context.Background(), educator("edu-1"), validCreateRequest(), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(course.Slug, "data-science-101-"))
	assert.Len(t, course.Slug, len("data-science-101-")+8)
}

func TestCourseServiceCreateRejects(t *testing.T) {
	f := newCourseFixture()

	_, err := f.svc.Create(context.Background(), student("stu-1"), validCreateRequest(), nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	req := validCreateRequest()
	req.Category = "Cooking"
	_, err = f.svc.Create(context.Background(), educator("edu-1"), req, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.repo.courses)
}

func TestCourseServiceCreateWithThumbnail(t *testing.T) {
	f := newCourseFixture()

	course, err := f.svc.Create(context.Background(), educator("edu-1"), validCreateRequest(), &dto.FileUpload{Filename: "a.png", ContentType: "image/png", Body: strings.NewReader("x")})
	require.NoError(t, err)
	assert.Equal(t, "thumb-new", course.ThumbnailPublicID)
	assert.Equal(t, 1, f.assets.uploads)
	assert.Equal(t, []string{"edu-1"}, f.assets.owners)
}

func TestCourseServiceUpdate(t *testing.T) {
	course := publishedCourse()
	course.Thumbnail = "https://cdn.example.com/old.jpg"
	course.ThumbnailPublicID = "thumb-old"
	f := newCourseFixture(course)

	title := "Go in Production"
	_, err := f.svc.Update(context.Background(), educator("edu-2"), "c1", dto.UpdateCourseRequest{Title: &title}, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	updated, err := f.svc.Update(context.Background(), educator("edu-1"), "c1", dto.UpdateCourseRequest{Title: &title}, &dto.FileUpload{Filename: "b.jpg", ContentType: "image/jpeg", Body: strings.NewReader("x")})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, "thumb-new", updated.ThumbnailPublicID)
	assert.Equal(t, []string{"thumb-old"}, f.assets.deleted)
}

func TestCourseServiceUpdateReplacesContentWithServerIDs(t *testing.T) {
	f := newCourseFixture(publishedCourse())

	chapters := []dto.ChapterRequest{
		{ChapterID: "ch1", Title: "Basics", Lectures: []dto.LectureRequest{{LectureID: "l1", Title: "Intro", Duration: 60}}},
		{ChapterID: "forged", Title: "More", Lectures: []dto.LectureRequest{{LectureID: "l1", Title: "Dup", Duration: 60}}},
	}
	updated, err := f.svc.Update(context.Background(), educator("edu-1"), "c1", dto.UpdateCourseRequest{Chapters: &chapters}, nil)
	require.NoError(t, err)

	assert.Equal(t, "ch1", updated.Content[0].ChapterID)
	assert.Equal(t, "l1", updated.Content[0].Lectures[0].LectureID)
	assert.NotEqual(t, "forged", updated.Content[1].ChapterID)
	assert.NotEqual(t, "l1", updated.Content[1].Lectures[0].LectureID)
	assert.Equal(t, 2, updated.TotalLectures)
}

func TestCourseServiceAddChapterAndLecture(t *testing.T) {
	f := newCourseFixture(publishedCourse())

	chapter, err := f.svc.AddChapter(context.Background(), educator("edu-1"), "c1", dto.ChapterRequest{Title: "Advanced"})
	require.NoError(t, err)
	assert.Equal(t, 2, chapter.Order)
	assert.NotEmpty(t, chapter.ChapterID)

	lecture, err := f.svc.AddLecture(context.Background(), educator("edu-1"), "c1", chapter.ChapterID, dto.LectureRequest{Title: "Generics"}, &dto.FileUpload{Filename: "g.mp4", ContentType: "video/mp4", Body: strings.NewReader("x")})
	require.NoError(t, err)
	assert.Equal(t, "video-1", lecture.VideoPublicID)
	assert.Equal(t, 300, lecture.Duration)
	assert.Equal(t, 1, lecture.Order)
	assert.Equal(t, 3, f.repo.courses["c1"].TotalLectures)

	_, err = f.svc.AddLecture(context.Background(), educator("edu-1"), "c1", "nope", dto.LectureRequest{Title: "Lost"}, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCourseServicePublishRequiresLectures(t *testing.T) {
	course := publishedCourse()
	course.Status = models.CourseStatusDraft
	course.Content = models.Chapters{{ChapterID: "ch1", Title: "Empty", Lectures: []models.Lecture{}}}
	f := newCourseFixture(course)

	_, err := f.svc.Publish(context.Background(), educator("edu-1"), "c1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "must have at least one lecture")
	assert.Equal(t, models.CourseStatusDraft, f.repo.courses["c1"].Status)
}

func TestCourseServicePublish(t *testing.T) {
	course := publishedCourse()
	course.Status = models.CourseStatusDraft
	f := newCourseFixture(course)

	published, err := f.svc.Publish(context.Background(), educator("edu-1"), "c1")
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusPublished, published.Status)
	assert.NotNil(t, published.PublishedAt)
}

func TestCourseServiceRate(t *testing.T) {
	f := newCourseFixture(publishedCourse())

	_, err := f.svc.Rate(context.Background(), student("stu-1"), "c1", dto.RatingRequest{Rating: 5})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	f.enrollments.enrolled["stu-1/c1"] = true
	f.enrollments.enrolled["stu-2/c1"] = true
	_, err = f.svc.Rate(context.Background(), student("stu-1"), "c1", dto.RatingRequest{Rating: 5})
	require.NoError(t, err)
	_, err = f.svc.Rate(context.Background(), student("stu-2"), "c1", dto.RatingRequest{Rating: 4})
	require.NoError(t, err)
	course, err := f.svc.Rate(context.Background(), student("stu-1"), "c1", dto.RatingRequest{Rating: 2, Review: "changed my mind"})
	require.NoError(t, err)

	assert.Equal(t, 2, course.TotalReviews)
	assert.Equal(t, 3.0, course.AverageRating)

	_, err = f.svc.Rate(context.Background(), student("stu-1"), "c1", dto.RatingRequest{Rating: 6})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceDelete(t *testing.T) {
	withStudents := publishedCourse()
	f := newCourseFixture(withStudents)
	f.enrollments.count = 3

	archived, err := f.svc.Delete(context.Background(), educator("edu-1"), "c1")
	require.NoError(t, err)
	assert.True(t, archived)
	assert.Equal(t, models.CourseStatusArchived, f.repo.courses["c1"].Status)

	empty := publishedCourse()
	empty.ThumbnailPublicID = "thumb-old"
	f = newCourseFixture(empty)
	archived, err = f.svc.Delete(context.Background(), educator("edu-1"), "c1")
	require.NoError(t, err)
	assert.False(t, archived)
	assert.Equal(t, []string{"c1"}, f.repo.deleted)
	assert.Equal(t, []string{"thumb-old"}, f.assets.deleted)
}

func TestCourseServiceWatchStats(t *testing.T) {
	f := newCourseFixture(publishedCourse())
	f.watch.totals = models.WatchTotals{TotalWatchTime: 5400, TotalLectures: 3, CompletedLectures: 1, UniqueViewers: 2}

	stats, err := f.svc.WatchStats(context.Background(), educator("edu-1"), "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalViewers)
	assert.Equal(t, 1.5, stats.TotalWatchTimeHours)
	assert.Equal(t, 45.0, stats.AverageWatchTimeMinutes)
	assert.Equal(t, 33.33, stats.CompletionRate)

	_, err = f.svc.WatchStats(context.Background(), student("stu-1"), "c1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceExportStudents(t *testing.T) {
	f := newCourseFixture(publishedCourse())
	f.enrollments.roster = []models.RosterEntry{{UserID: "stu-1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Status: models.EnrollmentStatusActive, Progress: 50, TotalWatchTime: 12}}

	data, name, err := f.svc.ExportStudents(context.Background(), educator("edu-1"), "c1")
	require.NoError(t, err)
	assert.Equal(t, "go-in-practice-students.csv", name)
	assert.Contains(t, string(data), "Name,Email,Enrolled At,Status,Progress,Watch Time (min)")
	assert.Contains(t, string(data), "Ada Lovelace,ada@example.com")
	assert.Contains(t, string(data), "50%")
}

func TestMapCourseErrorPassesThroughAppErrors(t *testing.T) {
	forbidden := appErrors.Clone(appErrors.ErrForbidden, "nope")
	assert.Same(t, forbidden, mapCourseError(forbidden, "x"))
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(mapCourseError(errors.New("boom"), "x")).Code)
}
