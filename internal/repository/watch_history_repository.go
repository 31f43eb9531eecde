package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
)

const watchHistoryColumns = `id, user_id, course_id, chapter_id, lecture_id, watch_sessions, total_watch_time, last_watch_position, completion_percentage, is_completed, completed_at, watch_quality, playback_speed, interactions, last_watched_at, created_at, updated_at`

// LectureKey addresses the watch history of one user on one lecture.
type LectureKey struct {
	UserID    string
	CourseID  string
	ChapterID string
	LectureID string
}

// WatchHistoryRepository persists per-lecture playback history.
type WatchHistoryRepository struct {
	db *sqlx.DB
}

// NewWatchHistoryRepository constructs the repository.
func NewWatchHistoryRepository(db *sqlx.DB) *WatchHistoryRepository {
	return &WatchHistoryRepository{db: db}
}

// Mutate locks the history for key, creating it first when missing, applies fn
// and saves it in one transaction.
func (r *WatchHistoryRepository) Mutate(ctx context.Context, key LectureKey, fn func(*models.WatchHistory) error) (*models.WatchHistory, error) {
	var history models.WatchHistory
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		fresh := models.NewWatchHistory(key.UserID, key.CourseID, key.ChapterID, key.LectureID, time.Now().UTC())
		const insert = `INSERT INTO watch_histories (id, user_id, course_id, chapter_id, lecture_id, watch_sessions, total_watch_time, last_watch_position, completion_percentage, is_completed, completed_at, watch_quality, playback_speed, interactions, last_watched_at, created_at, updated_at)
VALUES (:id, :user_id, :course_id, :chapter_id, :lecture_id, :watch_sessions, :total_watch_time, :last_watch_position, :completion_percentage, :is_completed, :completed_at, :watch_quality, :playback_speed, :interactions, :last_watched_at, :created_at, :updated_at)
ON CONFLICT (user_id, course_id, chapter_id, lecture_id) DO NOTHING`
		if _, err := tx.NamedExecContext(ctx, insert, fresh); err != nil {
			return fmt.Errorf("ensure watch history: %w", err)
		}

		query := `SELECT ` + watchHistoryColumns + ` FROM watch_histories WHERE user_id = $1 AND course_id = $2 AND chapter_id = $3 AND lecture_id = $4 FOR UPDATE`
		if err := tx.GetContext(ctx, &history, query, key.UserID, key.CourseID, key.ChapterID, key.LectureID); err != nil {
			return fmt.Errorf("lock watch history: %w", err)
		}
		if err := fn(&history); err != nil {
			return err
		}

		const update = `UPDATE watch_histories SET watch_sessions = :watch_sessions, total_watch_time = :total_watch_time, last_watch_position = :last_watch_position, completion_percentage = :completion_percentage, is_completed = :is_completed, completed_at = :completed_at, watch_quality = :watch_quality, playback_speed = :playback_speed, interactions = :interactions, last_watched_at = :last_watched_at, updated_at = :updated_at WHERE id = :id`
		if _, err := tx.NamedExecContext(ctx, update, &history); err != nil {
			return fmt.Errorf("update watch history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &history, nil
}

// Find returns the history for key.
func (r *WatchHistoryRepository) Find(ctx context.Context, key LectureKey) (*models.WatchHistory, error) {
	query := `SELECT ` + watchHistoryColumns + ` FROM watch_histories WHERE user_id = $1 AND course_id = $2 AND chapter_id = $3 AND lecture_id = $4`
	var history models.WatchHistory
	if err := r.db.GetContext(ctx, &history, query, key.UserID, key.CourseID, key.ChapterID, key.LectureID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find watch history: %w", err)
	}
	return &history, nil
}

// MarkCompleted flags an existing history as completed. Missing rows are left alone.
func (r *WatchHistoryRepository) MarkCompleted(ctx context.Context, key LectureKey, at time.Time) error {
	const query = `UPDATE watch_histories SET is_completed = TRUE, completed_at = COALESCE(completed_at, $5), updated_at = $5
WHERE user_id = $1 AND course_id = $2 AND chapter_id = $3 AND lecture_id = $4`
	if _, err := r.db.ExecContext(ctx, query, key.UserID, key.CourseID, key.ChapterID, key.LectureID, at); err != nil {
		return fmt.Errorf("mark watch history completed: %w", err)
	}
	return nil
}

// ListByCourse returns the user's histories in a course, most recently watched first.
func (r *WatchHistoryRepository) ListByCourse(ctx context.Context, userID, courseID string, page, size int) ([]models.WatchHistory, int, error) {
	if size <= 0 || size > 100 {
		size = 20
	}
	base := `FROM watch_histories WHERE user_id = $1 AND course_id = $2`
	query := fmt.Sprintf("SELECT %s %s ORDER BY last_watched_at DESC LIMIT %d OFFSET %d", watchHistoryColumns, base, size, models.PageOffset(page, size))

	var histories []models.WatchHistory
	if err := r.db.SelectContext(ctx, &histories, query, userID, courseID); err != nil {
		return nil, 0, fmt.Errorf("list watch history: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, userID, courseID); err != nil {
		return nil, 0, fmt.Errorf("count watch history: %w", err)
	}
	return histories, total, nil
}

// UserTotals aggregates all histories of a user.
func (r *WatchHistoryRepository) UserTotals(ctx context.Context, userID string) (models.WatchTotals, error) {
	const query = `SELECT COALESCE(SUM(total_watch_time), 0) AS total_watch_time,
       COUNT(*) AS total_lectures,
       COUNT(*) FILTER (WHERE is_completed) AS completed_lectures,
       COUNT(DISTINCT course_id) AS unique_courses,
       COUNT(DISTINCT user_id) AS unique_viewers
FROM watch_histories WHERE user_id = $1`
	var totals models.WatchTotals
	if err := r.db.GetContext(ctx, &totals, query, userID); err != nil {
		return models.WatchTotals{}, fmt.Errorf("user watch totals: %w", err)
	}
	return totals, nil
}

// CourseTotals aggregates all histories of a course.
func (r *WatchHistoryRepository) CourseTotals(ctx context.Context, courseID string) (models.WatchTotals, error) {
	const query = `SELECT COALESCE(SUM(total_watch_time), 0) AS total_watch_time,
       COUNT(*) AS total_lectures,
       COUNT(*) FILTER (WHERE is_completed) AS completed_lectures,
       COUNT(DISTINCT course_id) AS unique_courses,
       COUNT(DISTINCT user_id) AS unique_viewers
FROM watch_histories WHERE course_id = $1`
	var totals models.WatchTotals
	if err := r.db.GetContext(ctx, &totals, query, courseID); err != nil {
		return models.WatchTotals{}, fmt.Errorf("course watch totals: %w", err)
	}
	return totals, nil
}
