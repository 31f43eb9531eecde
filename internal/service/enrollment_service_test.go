package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type mockEnrollmentStore struct {
	enrollments map[string]*models.Enrollment
	saved       []models.LastWatched
	positions   []*models.WatchHistory
}

func enrollmentKey(userID, courseID string) string { return userID + "/" + courseID }

func (m *mockEnrollmentStore) Create(ctx context.Context, enrollment *models.Enrollment) error {
	key := enrollmentKey(enrollment.UserID, enrollment.CourseID)
	if _, ok := m.enrollments[key]; ok {
		return repository.ErrDuplicate
	}
	cp := *enrollment
	m.enrollments[key] = &cp
	return nil
}

func (m *mockEnrollmentStore) FindByUserAndCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	e, ok := m.enrollments[enrollmentKey(userID, courseID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (m *mockEnrollmentStore) Mutate(ctx context.Context, userID, courseID string, fn func(*models.Enrollment) error) (*models.Enrollment, error) {
	stored, ok := m.enrollments[enrollmentKey(userID, courseID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *stored
	if err := fn(&cp); err != nil {
		return nil, err
	}
	m.enrollments[enrollmentKey(userID, courseID)] = &cp
	out := cp
	return &out, nil
}

func (m *mockEnrollmentStore) SaveWatchProgress(ctx context.Context, enrollmentID string, lastWatched models.LastWatched, history *models.WatchHistory) error {
	m.saved = append(m.saved, lastWatched)
	m.positions = append(m.positions, history)
	return nil
}

type mockCourseLookup struct {
	courses map[string]*models.Course
}

func (m *mockCourseLookup) FindByID(ctx context.Context, id string) (*models.Course, error) {
	c, ok := m.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

type mockWatchStore struct {
	histories map[repository.LectureKey]*models.WatchHistory
	completed []repository.LectureKey
}

func (m *mockWatchStore) Mutate(ctx context.Context, key repository.LectureKey, fn func(*models.WatchHistory) error) (*models.WatchHistory, error) {
	stored, ok := m.histories[key]
	if !ok {
		stored = models.NewWatchHistory(key.UserID, key.CourseID, key.ChapterID, key.LectureID, time.Now().UTC())
	}
	cp := *stored
	if err := fn(&cp); err != nil {
		return nil, err
	}
	m.histories[key] = &cp
	out := cp
	return &out, nil
}

func (m *mockWatchStore) MarkCompleted(ctx context.Context, key repository.LectureKey, at time.Time) error {
	m.completed = append(m.completed, key)
	return nil
}

func (m *mockWatchStore) ListByCourse(ctx context.Context, userID, courseID string, page, size int) ([]models.WatchHistory, int, error) {
	var out []models.WatchHistory
	for key, h := range m.histories {
		if key.UserID == userID && key.CourseID == courseID {
			out = append(out, *h)
		}
	}
	return out, len(out), nil
}

type enrollmentFixture struct {
	svc   *EnrollmentService
	repo  *mockEnrollmentStore
	watch *mockWatchStore
	clock time.Time
}

func newEnrollmentFixture(courses ...*models.Course) *enrollmentFixture {
	lookup := &mockCourseLookup{courses: map[string]*models.Course{}}
	for _, c := range courses {
		lookup.courses[c.ID] = c
	}
	f := &enrollmentFixture{
		repo:  &mockEnrollmentStore{enrollments: map[string]*models.Enrollment{}},
		watch: &mockWatchStore{histories: map[repository.LectureKey]*models.WatchHistory{}},
		clock: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.svc = NewEnrollmentService(f.repo, lookup, f.watch, nil, NewMetricsService(), nil, zap.NewNop())
	f.svc.now = func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	return f
}

func (f *enrollmentFixture) enroll(t *testing.T, userID, courseID string) *models.Enrollment {
	t.Helper()
	enrollment, err := f.svc.Enroll(context.Background(), student(userID), dto.EnrollRequest{CourseID: courseID})
	require.NoError(t, err)
	return enrollment
}

func freeCourse() *models.Course {
	course := publishedCourse()
	course.Price = models.Price{Amount: 0, Currency: "USD", IsFree: true}
	return course
}

func ref(chapterID, lectureID string) dto.LectureRef {
	return dto.LectureRef{CourseID: "c1", ChapterID: chapterID, LectureID: lectureID}
}

func TestEnrollmentServiceEnroll(t *testing.T) {
	f := newEnrollmentFixture(freeCourse())

	enrollment := f.enroll(t, "stu-1", "c1")
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.Equal(t, models.EnrollmentTypeFree, enrollment.EnrollmentType)
	assert.Equal(t, models.PaymentStatusCompleted, enrollment.PaymentStatus)
	require.NotNil(t, enrollment.PaymentDetails)
	assert.Zero(t, enrollment.PaymentDetails.Amount)

	_, err := f.svc.Enroll(context.Background(), student("stu-1"), dto.EnrollRequest{CourseID: "c1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Len(t, f.repo.enrollments, 1)
	assert.Equal(t, uint64(1), f.svc.metrics.Snapshot().Enrollments)
}

func TestEnrollmentServiceEnrollPaidCourseIsPending(t *testing.T) {
	f := newEnrollmentFixture(publishedCourse())

	enrollment := f.enroll(t, "stu-1", "c1")
	assert.Equal(t, models.EnrollmentTypePaid, enrollment.EnrollmentType)
	assert.Equal(t, models.PaymentStatusPending, enrollment.PaymentStatus)
	assert.Nil(t, enrollment.PaymentDetails)
}

func TestEnrollmentServiceEnrollRequiresPublishedCourse(t *testing.T) {
	draft := publishedCourse()
	draft.Status = models.CourseStatusDraft
	f := newEnrollmentFixture(draft)

	_, err := f.svc.Enroll(context.Background(), student("stu-1"), dto.EnrollRequest{CourseID: "c1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Enroll(context.Background(), student("stu-1"), dto.EnrollRequest{CourseID: "missing"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.repo.enrollments)
}

func TestEnrollmentServiceUnenrollAndRejoin(t *testing.T) {
	f := newEnrollmentFixture(freeCourse())
	f.enroll(t, "stu-1", "c1")

	dropped, err := f.svc.Unenroll(context.Background(), student("stu-1"), "c1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusDropped, dropped.Status)

	status, err := f.svc.Status(context.Background(), student("stu-1"), "c1")
	require.NoError(t, err)
	assert.False(t, status.IsEnrolled)

	_, err = f.svc.Unenroll(context.Background(), student("stu-1"), "c1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)

	rejoined := f.enroll(t, "stu-1", "c1")
	assert.Equal(t, models.EnrollmentStatusActive, rejoined.Status)
	assert.Len(t, f.repo.enrollments, 1)
}

func TestEnrollmentServiceDroppedEnrollmentRejectsWrites(t *testing.T) {
	f := newEnrollmentFixture(freeCourse())
	f.enroll(t, "stu-1", "c1")
	ctx := context.Background()

	_, err := f.svc.AddNote(ctx, student("stu-1"), dto.NoteRequest{LectureRef: ref("ch1", "l1"), Content: "kept", Timestamp: 3})
	require.NoError(t, err)
	_, err = f.svc.Unenroll(ctx, student("stu-1"), "c1")
	require.NoError(t, err)

	assertNotEnrolled := func(err error) {
		t.Helper()
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
		assert.Equal(t, "not enrolled in this course", appErrors.FromError(err).Message)
	}

	_, err = f.svc.CompleteLecture(ctx, student("stu-1"), dto.CompleteLectureRequest{LectureRef: ref("ch1", "l1"), WatchTime: 30})
	assertNotEnrolled(err)
	_, err = f.svc.AddNote(ctx, student("stu-1"), dto.NoteRequest{LectureRef: ref("ch1", "l1"), Content: "late"})
	assertNotEnrolled(err)
	_, _, err = f.svc.AddBookmark(ctx, student("stu-1"), dto.BookmarkRequest{LectureRef: ref("ch1", "l1"), Title: "late", Timestamp: 4})
	assertNotEnrolled(err)
	_, err = f.svc.UpdateWatchProgress(ctx, student("stu-1"), dto.WatchProgressRequest{LectureRef: ref("ch1", "l1"), Timestamp: 9})
	assertNotEnrolled(err)
	_, err = f.svc.StartWatchSession(ctx, student("stu-1"), dto.StartSessionRequest{LectureRef: ref("ch1", "l1")})
	assertNotEnrolled(err)
	_, err = f.svc.RecordInteraction(ctx, student("stu-1"), dto.InteractionRequest{LectureRef: ref("ch1", "l1"), Type: models.InteractionPause})
	assertNotEnrolled(err)

	stored := f.repo.enrollments[enrollmentKey("stu-1", "c1")]
	assert.Empty(t, stored.CompletedLectures)
	assert.Len(t, stored.Notes, 1)
	assert.Empty(t, f.repo.saved)
	assert.Empty(t, f.watch.histories)
	assert.Empty(t, f.watch.completed)

	notes, err := f.svc.Notes(ctx, student("stu-1"), "c1", dto.AnnotationQuery{})
	require.NoError(t, err)
	assert.Len(t, notes.Notes, 1)
}

func TestEnrollmentServiceStatusWhenNotEnrolled(t *testing.T) {
	f := newEnrollmentFixture(freeCourse())

	_, err := f.svc.Status(context.Background(), student("stu-1"), "c1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceCompleteLectureIsIdempotent(t *testing.T) {
	f := newEnrollmentFixture(freeCourse())
	f.enroll(t, "stu-1", "c1")

	req := dto.CompleteLectureRequest{LectureRef: ref("ch1", "l1"), WatchTime: 90}
	first, err := f.svc.CompleteLecture(context.Background(), student("stu-1"), req)
	require.NoError(t, err)
	second, err := f.svc.CompleteLecture(context.Background(), student("stu-1"), req)
	require.NoError(t, err)

	assert.Len(t, first.CompletedLectures, 1)
	assert.Len(t, second.CompletedLectures, 1)
	assert.Equal(t, 2, second.TotalWatchTime)
	assert.Equal(t, 50, second.Percentage)
	assert.Equal(t, models.EnrollmentStatusActive, second.Status)
	assert.Len(t, f.watch.completed, 1)
	assert.Equal(t, uint64(1), f.svc.metrics.Snapshot().LectureCompletions)
}

func TestEnrollmentServiceCompletingAllLecturesCompletesCourse(t *testing.T) {
	f := newEnrollmentFixture(freeCourse())
	f.enroll(t, "stu-1", "c1")

	_, err := f.svc.CompleteLecture(context.Background(), student("stu-1"), dto.CompleteLectureRequest{LectureRef: ref("ch1", "l1")})
	require.NoError(t, err)
	done, err := f.svc.CompleteLecture(context.Background(), student("stu-1"), dto.CompleteLectureRequest{LectureRef: ref("ch1", "l2")})
	require.NoError(t, err)

	assert.Equal(t, 100, done.Percentage)
	assert.Equal(t, models.EnrollmentStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	progress, err := f.svc.Progress(context.Background(), student("stu-1"), "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, progress.Overall.CompletedLectures)
	assert.Equal(t, 2, progress.Overall.TotalLectures)
	require.Len(t, progress.Chapters, 1)
	assert.Equal(t, 100, progress.Chapters[0].Percentage)
}

func TestEnrollmentServiceCompleteLectureRejectsUnknownLecture(t *testing.T) {
	f := newEnrollmentFixture(freeCourse())
	f.enroll(t, "stu-1", "c1")

	_, err := f.svc.CompleteLecture(context.Background(), student("stu-1"), dto.CompleteLectureRequest{LectureRef: ref("ch1", "nope")})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceUpdateWatchProgress(t *testing.T) {
	f := newEnrollmentFixture(freeCourse())
	f.enroll(t, "stu-1", "c1")

	last, err := f.svc.UpdateWatchProgress(context.Background(), student("stu-1"), dto.WatchProgressRequest{LectureRef: ref("ch1", "l2"), Timestamp: 42.5})
	require.NoError(t, err)
	assert.Equal(t, "l2", last.LectureID)
	assert.Equal(t, 42.5, last.Timestamp)

	require.Len(t, f.repo.saved, 1)
	require.Len(t, f.repo.positions, 1)
	assert.Equal(t, 42.5, f.repo.positions[0].LastWatchPosition)
	assert.Equal(t, "stu-1", f.repo.positions[0].UserID)

	_, err = f.svc.UpdateWatchProgress(context.Background(), student("stu-2"), dto.WatchProgressRequest{LectureRef: ref("ch1", "l2"), Timestamp: 1})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceNotes(t *testing.T) {
	f := newEnrollmentFixture(freeCourse())
	f.enroll(t, "stu-1", "c1")
	ctx := context.Background()

	_, err := f.svc.AddNote(ctx, student("stu-2"), dto.NoteRequest{LectureRef: ref("ch1", "l1"), Content: "x"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	first, err := f.svc.AddNote(ctx, student("stu-1"), dto.NoteRequest{LectureRef: ref("ch1", "l1"), Content: "first", Timestamp: 10})
	require.NoError(t, err)
	_, err = f.svc.AddNote(ctx, student("stu-1"), dto.NoteRequest{LectureRef: ref("ch1", "l2"), Content: "second", Timestamp: 20})
	require.NoError(t, err)
	_, err = f.svc.AddNote(ctx, student("stu-1"), dto.NoteRequest{LectureRef: ref("ch1", "l1"), Content: "third", Timestamp: 30})
	require.NoError(t, err)

	page, err := f.svc.Notes(ctx, student("stu-1"), "c1", dto.AnnotationQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Notes, 2)
	assert.Equal(t, "third", page.Notes[0].Content)
	assert.Equal(t, "second", page.Notes[1].Content)
	assert.Equal(t, 3, page.Pagination.Total)
	assert.True(t, page.Pagination.HasMore)

	filtered, err := f.svc.Notes(ctx, student("stu-1"), "c1", dto.AnnotationQuery{LectureID: "l1"})
	require.NoError(t, err)
	require.Len(t, filtered.Notes, 2)
	assert.Equal(t, "third", filtered.Notes[0].Content)

	updated, err := f.svc.UpdateNote(ctx, student("stu-1"), first.ID, dto.UpdateNoteRequest{CourseID: "c1", Content: "edited"})
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Content)

	require.NoError(t, f.svc.DeleteNote(ctx, student("stu-1"), "c1", first.ID))
	err = f.svc.DeleteNote(ctx, student("stu-1"), "c1", first.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Len(t, f.repo.enrollments[enrollmentKey("stu-1", "c1")].Notes, 2)
}

func TestEnrollmentServiceBookmarksAreDeduplicated(t *testing.T) {
	f := newEnrollmentFixture(freeCourse())
	f.enroll(t, "stu-1", "c1")
	ctx := context.Background()

	req := dto.BookmarkRequest{LectureRef: ref("ch1", "l1"), Title: "Key point", Timestamp: 61}
	first, created, err := f.svc.AddBookmark(ctx, student("stu-1"), req)
	require.NoError(t, err)
	assert.True(t, created)
	again, created, err := f.svc.AddBookmark(ctx, student("stu-1"), req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	list, err := f.svc.Bookmarks(ctx, student("stu-1"), "c1", dto.AnnotationQuery{})
	require.NoError(t, err)
	assert.Len(t, list.Bookmarks, 1)

	require.NoError(t, f.svc.DeleteBookmark(ctx, student("stu-1"), "c1", first.ID))
	err = f.svc.DeleteBookmark(ctx, student("stu-1"), "c1", first.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceWatchSessions(t *testing.T) {
	f := newEnrollmentFixture(freeCourse())
	f.enroll(t, "stu-1", "c1")
	ctx := context.Background()

	session, err := f.svc.StartWatchSession(ctx, student("stu-1"), dto.StartSessionRequest{LectureRef: ref("ch1", "l1"), StartPosition: 5, DeviceInfo: models.DeviceInfo{Platform: "web"}})
	require.NoError(t, err)
	assert.True(t, session.Open())

	history, err := f.svc.EndWatchSession(ctx, student("stu-1"), dto.EndSessionRequest{LectureRef: ref("ch1", "l1"), EndPosition: 90, LectureDuration: 100})
	require.NoError(t, err)
	assert.Equal(t, 85.0, history.TotalWatchTime)
	assert.Equal(t, 90, history.CompletionPercentage)
	assert.True(t, history.IsCompleted)
	assert.True(t, history.Sessions[0].Completed)

	again, err := f.svc.EndWatchSession(ctx, student("stu-1"), dto.EndSessionRequest{LectureRef: ref("ch1", "l1"), EndPosition: 100, LectureDuration: 100})
	require.NoError(t, err)
	assert.Equal(t, 85.0, again.TotalWatchTime)
	assert.Equal(t, uint64(1), f.svc.metrics.Snapshot().WatchSessions)

	_, err = f.svc.StartWatchSession(ctx, student("stu-2"), dto.StartSessionRequest{LectureRef: ref("ch1", "l1")})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceStartDoesNotCloseOpenSession(t *testing.T) {
	f := newEnrollmentFixture(freeCourse())
	f.enroll(t, "stu-1", "c1")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.StartWatchSession(ctx, student("stu-1"), dto.StartSessionRequest{LectureRef: ref("ch1", "l1")})
		require.NoError(t, err)
	}
	history := f.watch.histories[lectureKey("stu-1", ref("ch1", "l1"))]
	require.Len(t, history.Sessions, 2)
	assert.True(t, history.Sessions[0].Open())
	assert.True(t, history.Sessions[1].Open())
}

func TestEnrollmentServiceInteractions(t *testing.T) {
	f := newEnrollmentFixture(freeCourse())
	f.enroll(t, "stu-1", "c1")
	ctx := context.Background()

	var history *models.WatchHistory
	var err error
	for i := 0; i < models.MaxInteractions+5; i++ {
		history, err = f.svc.RecordInteraction(ctx, student("stu-1"), dto.InteractionRequest{LectureRef: ref("ch1", "l1"), Type: models.InteractionSeek, Timestamp: float64(i)})
		require.NoError(t, err)
	}
	assert.Len(t, history.Interactions, models.MaxInteractions)
	assert.Equal(t, 5.0, history.Interactions[0].Timestamp)

	history, err = f.svc.RecordInteraction(ctx, student("stu-1"), dto.InteractionRequest{LectureRef: ref("ch1", "l1"), Type: models.InteractionSpeedChange, Value: "1.5"})
	require.NoError(t, err)
	assert.Equal(t, 1.5, history.PlaybackSpeed)

	_, err = f.svc.RecordInteraction(ctx, student("stu-1"), dto.InteractionRequest{LectureRef: ref("ch1", "l1"), Type: "jump"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	histories, pagination, err := f.svc.WatchHistory(ctx, student("stu-1"), "c1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, histories, 1)
	assert.Equal(t, 20, pagination.Limit)
}
