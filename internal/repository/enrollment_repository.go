package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
)

const enrollmentColumns = `id, user_id, course_id, enrollment_type, status, payment_status, payment_details, notes, bookmarks, certificate, enrolled_at, completed_at, created_at, updated_at, progress_percentage, completed_lectures, total_watch_time, last_watched`

const refreshRosterCount = `UPDATE courses SET total_students = (` + countRosterQuery + `), updated_at = $2 WHERE id = $1`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Create inserts the enrollment and refreshes the course's student count in one
// transaction. A second enrollment for the same (user, course) yields ErrDuplicate.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = now
	}
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const query = `INSERT INTO enrollments (id, user_id, course_id, enrollment_type, status, payment_status, payment_details, notes, bookmarks, certificate, enrolled_at, completed_at, created_at, updated_at, progress_percentage, completed_lectures, total_watch_time, last_watched)
VALUES (:id, :user_id, :course_id, :enrollment_type, :status, :payment_status, :payment_details, :notes, :bookmarks, :certificate, :enrolled_at, :completed_at, :created_at, :updated_at, :progress_percentage, :completed_lectures, :total_watch_time, :last_watched)`
		if _, err := tx.NamedExecContext(ctx, query, enrollment); err != nil {
			return fmt.Errorf("create enrollment: %w", mapWriteError(err))
		}
		if _, err := tx.ExecContext(ctx, refreshRosterCount, enrollment.CourseID, now); err != nil {
			return fmt.Errorf("refresh roster count: %w", err)
		}
		return nil
	})
}

// FindByUserAndCourse returns the enrollment for the pair.
func (r *EnrollmentRepository) FindByUserAndCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE user_id = $1 AND course_id = $2`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, userID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	return &enrollment, nil
}

// IsEnrolled reports whether the user holds a non-dropped enrollment in the course.
func (r *EnrollmentRepository) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE user_id = $1 AND course_id = $2 AND status <> 'dropped' LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, userID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return true, nil
}

// Mutate locks the enrollment row, applies fn and saves the result in one
// transaction. When the status changed the course's student count is refreshed.
func (r *EnrollmentRepository) Mutate(ctx context.Context, userID, courseID string, fn func(*models.Enrollment) error) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE user_id = $1 AND course_id = $2 FOR UPDATE`
		if err := tx.GetContext(ctx, &enrollment, query, userID, courseID); err != nil {
			if err == sql.ErrNoRows {
				return err
			}
			return fmt.Errorf("lock enrollment: %w", err)
		}
		previous := enrollment.Status
		if err := fn(&enrollment); err != nil {
			return err
		}
		enrollment.UpdatedAt = time.Now().UTC()

		const update = `UPDATE enrollments SET status = :status, payment_status = :payment_status, payment_details = :payment_details, notes = :notes, bookmarks = :bookmarks, certificate = :certificate, completed_at = :completed_at, updated_at = :updated_at, progress_percentage = :progress_percentage, completed_lectures = :completed_lectures, total_watch_time = :total_watch_time, last_watched = :last_watched WHERE id = :id`
		if _, err := tx.NamedExecContext(ctx, update, &enrollment); err != nil {
			return fmt.Errorf("update enrollment: %w", err)
		}
		if previous != enrollment.Status {
			if _, err := tx.ExecContext(ctx, refreshRosterCount, courseID, enrollment.UpdatedAt); err != nil {
				return fmt.Errorf("refresh roster count: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// SaveWatchProgress writes the enrollment resume point and the lecture's watch
// position in one transaction. The watch history row is created when missing.
func (r *EnrollmentRepository) SaveWatchProgress(ctx context.Context, enrollmentID string, lastWatched models.LastWatched, history *models.WatchHistory) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const update = `UPDATE enrollments SET last_watched = $2, updated_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, enrollmentID, lastWatched, lastWatched.LastAccessedAt); err != nil {
			return fmt.Errorf("update last watched: %w", err)
		}
		const upsert = `INSERT INTO watch_histories (id, user_id, course_id, chapter_id, lecture_id, watch_sessions, total_watch_time, last_watch_position, completion_percentage, is_completed, completed_at, watch_quality, playback_speed, interactions, last_watched_at, created_at, updated_at)
VALUES (:id, :user_id, :course_id, :chapter_id, :lecture_id, :watch_sessions, :total_watch_time, :last_watch_position, :completion_percentage, :is_completed, :completed_at, :watch_quality, :playback_speed, :interactions, :last_watched_at, :created_at, :updated_at)
ON CONFLICT (user_id, course_id, chapter_id, lecture_id) DO UPDATE SET last_watch_position = EXCLUDED.last_watch_position, last_watched_at = EXCLUDED.last_watched_at, updated_at = EXCLUDED.updated_at`
		if _, err := tx.NamedExecContext(ctx, upsert, history); err != nil {
			return fmt.Errorf("upsert watch position: %w", err)
		}
		return nil
	})
}

// ListByUser returns the user's enrollments joined with their courses, newest first.
func (r *EnrollmentRepository) ListByUser(ctx context.Context, userID string, status models.EnrollmentStatus, page, size int) ([]models.EnrolledCourse, int, error) {
	clause := ` WHERE e.user_id = $1`
	args := []interface{}{userID}
	if status != "" {
		clause += ` AND e.status = $2`
		args = append(args, status)
	}
	if size <= 0 || size > 100 {
		size = 10
	}
	base := `FROM enrollments e JOIN courses c ON c.id = e.course_id` + clause
	query := fmt.Sprintf(`SELECT e.id AS enrollment_id, e.course_id, c.title, c.slug, c.thumbnail, c.category, c.level, c.educator_id, c.total_lectures, c.total_duration,
        e.status, e.progress_percentage, e.total_watch_time, e.last_watched, e.enrolled_at, e.completed_at
        %s ORDER BY e.enrolled_at DESC LIMIT %d OFFSET %d`, base, size, models.PageOffset(page, size))

	var courses []models.EnrolledCourse
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list user enrollments: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count user enrollments: %w", err)
	}
	return courses, total, nil
}

// ListInProgress returns active, partially completed enrollments by most recent access.
func (r *EnrollmentRepository) ListInProgress(ctx context.Context, userID string, limit int) ([]models.EnrolledCourse, error) {
	const query = `SELECT e.id AS enrollment_id, e.course_id, c.title, c.slug, c.thumbnail, c.category, c.level, c.educator_id, c.total_lectures, c.total_duration,
        e.status, e.progress_percentage, e.total_watch_time, e.last_watched, e.enrolled_at, e.completed_at
        FROM enrollments e JOIN courses c ON c.id = e.course_id
        WHERE e.user_id = $1 AND e.status = 'active' AND e.progress_percentage > 0 AND e.progress_percentage < 100
        ORDER BY (e.last_watched->>'lastAccessedAt') DESC NULLS LAST LIMIT $2`
	var courses []models.EnrolledCourse
	if err := r.db.SelectContext(ctx, &courses, query, userID, limit); err != nil {
		return nil, fmt.Errorf("list in-progress enrollments: %w", err)
	}
	return courses, nil
}

// ListRoster returns the students of a course with their enrollment progress.
// size <= 0 returns the whole roster.
func (r *EnrollmentRepository) ListRoster(ctx context.Context, courseID string, page, size int) ([]models.RosterEntry, int, error) {
	base := `FROM enrollments e JOIN users u ON u.id = e.user_id WHERE e.course_id = $1 AND e.status <> 'dropped'`
	query := `SELECT u.id AS user_id, u.first_name, u.last_name, u.email, u.profile_image, e.status, e.progress_percentage, e.total_watch_time, e.enrolled_at, e.completed_at ` +
		base + ` ORDER BY e.enrolled_at DESC`
	if size > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", size, models.PageOffset(page, size))
	}

	var roster []models.RosterEntry
	if err := r.db.SelectContext(ctx, &roster, query, courseID); err != nil {
		return nil, 0, fmt.Errorf("list roster: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, courseID); err != nil {
		return nil, 0, fmt.Errorf("count roster: %w", err)
	}
	return roster, total, nil
}

// Summary counts the user's enrollments by status.
func (r *EnrollmentRepository) Summary(ctx context.Context, userID string) (models.EnrollmentSummary, error) {
	const query = `SELECT COUNT(*) AS total,
       COUNT(*) FILTER (WHERE status = 'active') AS active,
       COUNT(*) FILTER (WHERE status = 'completed') AS completed,
       COUNT(*) FILTER (WHERE status = 'dropped') AS dropped,
       COALESCE(SUM(total_watch_time), 0) AS total_watch_time
FROM enrollments WHERE user_id = $1`
	var summary models.EnrollmentSummary
	if err := r.db.GetContext(ctx, &summary, query, userID); err != nil {
		return models.EnrollmentSummary{}, fmt.Errorf("enrollment summary: %w", err)
	}
	return summary, nil
}

// CountByCourse counts all enrollments of a course, dropped included.
func (r *EnrollmentRepository) CountByCourse(ctx context.Context, courseID string) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM enrollments WHERE course_id = $1`, courseID); err != nil {
		return 0, fmt.Errorf("count course enrollments: %w", err)
	}
	return total, nil
}
