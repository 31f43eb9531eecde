package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
)

const courseColumns = `id, title, slug, description, short_description, category, level, language, thumbnail, thumbnail_public_id, preview_video, educator_id, content, tags, requirements, learning_outcomes, status, featured, published_at, created_at, updated_at, price_amount, price_currency, price_discount, is_free, total_students, total_lectures, total_duration, average_rating, total_reviews`

const countRosterQuery = `SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status <> 'dropped'`

var courseSorts = map[string]string{
	"createdAt":     "created_at",
	"created_at":    "created_at",
	"updatedAt":     "updated_at",
	"publishedAt":   "published_at",
	"title":         "title",
	"price":         "price_amount",
	"price.amount":  "price_amount",
	"rating":        "average_rating",
	"averageRating": "average_rating",
	"students":      "total_students",
	"totalStudents": "total_students",
	"duration":      "total_duration",
}

// CourseRepository persists courses and their ratings.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// List returns courses matching filter and the total count before pagination.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	base := `FROM courses`
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.EducatorID != "" {
		conditions = append(conditions, fmt.Sprintf("educator_id = $%d", len(args)+1))
		args = append(args, filter.EducatorID)
	}
	if filter.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)+1))
		args = append(args, filter.Category)
	}
	if len(filter.Categories) > 0 {
		conditions = append(conditions, fmt.Sprintf("category = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(filter.Categories))
	}
	if filter.Level != "" {
		conditions = append(conditions, fmt.Sprintf("level = $%d", len(args)+1))
		args = append(args, filter.Level)
	}
	if filter.IsFree != nil {
		conditions = append(conditions, fmt.Sprintf("is_free = $%d", len(args)+1))
		args = append(args, *filter.IsFree)
	}
	if filter.Featured != nil {
		conditions = append(conditions, fmt.Sprintf("featured = $%d", len(args)+1))
		args = append(args, *filter.Featured)
	}
	if filter.MinPrice != nil {
		conditions = append(conditions, fmt.Sprintf("price_amount >= $%d", len(args)+1))
		args = append(args, *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		conditions = append(conditions, fmt.Sprintf("price_amount <= $%d", len(args)+1))
		args = append(args, *filter.MaxPrice)
	}
	if len(filter.Tags) > 0 {
		conditions = append(conditions, fmt.Sprintf("tags && $%d", len(args)+1))
		args = append(args, pq.Array(filter.Tags))
	}
	if filter.Search != "" {
		n := len(args) + 1
		conditions = append(conditions, fmt.Sprintf(`(title ILIKE $%d ESCAPE '\' OR description ILIKE $%d ESCAPE '\' OR array_to_string(tags, ' ') ILIKE $%d ESCAPE '\')`, n, n, n))
		args = append(args, "%"+escapeLike(filter.Search)+"%")
	}
	if len(filter.ExcludeIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("NOT (id = ANY($%d))", len(args)+1))
		args = append(args, pq.Array(filter.ExcludeIDs))
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 12
	}
	offset := models.PageOffset(filter.Page, size)

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s LIMIT %d OFFSET %d", courseColumns, base+clause, courseOrderClause(filter.SortBy, filter.SortOrder), size, offset)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes term match literally inside an ILIKE pattern.
func escapeLike(term string) string {
	return likeEscaper.Replace(term)
}

func courseOrderClause(sortBy, sortOrder string) string {
	if sortBy == models.SortRelevance {
		return "average_rating DESC, total_students DESC, created_at DESC"
	}
	column, ok := courseSorts[sortBy]
	if !ok {
		column = "created_at"
	}
	order := strings.ToUpper(sortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	return column + " " + order
}

// FindByID returns a course by id.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course: %w", err)
	}
	return &course, nil
}

// Create inserts a course with freshly computed stats. A taken slug yields ErrDuplicate.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now
	course.RecalculateStats(nil, 0)

	const query = `INSERT INTO courses (id, title, slug, description, short_description, category, level, language, thumbnail, thumbnail_public_id, preview_video, educator_id, content, tags, requirements, learning_outcomes, status, featured, published_at, created_at, updated_at, price_amount, price_currency, price_discount, is_free, total_students, total_lectures, total_duration, average_rating, total_reviews)
VALUES (:id, :title, :slug, :description, :short_description, :category, :level, :language, :thumbnail, :thumbnail_public_id, :preview_video, :educator_id, :content, :tags, :requirements, :learning_outcomes, :status, :featured, :published_at, :created_at, :updated_at, :price_amount, :price_currency, :price_discount, :is_free, :total_students, :total_lectures, :total_duration, :average_rating, :total_reviews)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", mapWriteError(err))
	}
	return nil
}

// Mutate locks the course row, applies fn, recomputes stats from content, ratings
// and the roster, then saves, all in one transaction. An error from fn aborts.
func (r *CourseRepository) Mutate(ctx context.Context, id string, fn func(*models.Course) error) (*models.Course, error) {
	var course models.Course
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockCourse(ctx, tx, id, &course); err != nil {
			return err
		}
		if fn != nil {
			if err := fn(&course); err != nil {
				return err
			}
		}
		return saveCourseTx(ctx, tx, &course)
	})
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// Rate upserts a user's rating and recomputes the course stats in the same transaction.
func (r *CourseRepository) Rate(ctx context.Context, rating models.CourseRating) (*models.Course, error) {
	if rating.CreatedAt.IsZero() {
		rating.CreatedAt = time.Now().UTC()
	}
	var course models.Course
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockCourse(ctx, tx, rating.CourseID, &course); err != nil {
			return err
		}
		const upsert = `INSERT INTO course_ratings (course_id, user_id, rating, review, created_at) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (course_id, user_id) DO UPDATE SET rating = EXCLUDED.rating, review = EXCLUDED.review, created_at = EXCLUDED.created_at`
		if _, err := tx.ExecContext(ctx, upsert, rating.CourseID, rating.UserID, rating.Rating, rating.Review, rating.CreatedAt); err != nil {
			return fmt.Errorf("upsert rating: %w", err)
		}
		return saveCourseTx(ctx, tx, &course)
	})
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// RefreshStats recomputes and stores the stats of one course.
func (r *CourseRepository) RefreshStats(ctx context.Context, id string) (*models.Course, error) {
	return r.Mutate(ctx, id, nil)
}

func lockCourse(ctx context.Context, tx *sqlx.Tx, id string, course *models.Course) error {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, course, query, id); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("lock course: %w", err)
	}
	return nil
}

func saveCourseTx(ctx context.Context, tx *sqlx.Tx, course *models.Course) error {
	var ratings []models.CourseRating
	const ratingsQuery = `SELECT course_id, user_id, rating, review, created_at FROM course_ratings WHERE course_id = $1`
	if err := tx.SelectContext(ctx, &ratings, ratingsQuery, course.ID); err != nil {
		return fmt.Errorf("load ratings: %w", err)
	}
	var students int
	if err := tx.GetContext(ctx, &students, countRosterQuery, course.ID); err != nil {
		return fmt.Errorf("count roster: %w", err)
	}
	course.RecalculateStats(ratings, students)
	course.UpdatedAt = time.Now().UTC()

	const update = `UPDATE courses SET title = :title, description = :description, short_description = :short_description, category = :category, level = :level, language = :language, thumbnail = :thumbnail, thumbnail_public_id = :thumbnail_public_id, preview_video = :preview_video, content = :content, tags = :tags, requirements = :requirements, learning_outcomes = :learning_outcomes, status = :status, featured = :featured, published_at = :published_at, updated_at = :updated_at, price_amount = :price_amount, price_currency = :price_currency, price_discount = :price_discount, is_free = :is_free, total_students = :total_students, total_lectures = :total_lectures, total_duration = :total_duration, average_rating = :average_rating, total_reviews = :total_reviews WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, update, course); err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return nil
}

// Delete removes a course; ratings cascade.
func (r *CourseRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM courses WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	return nil
}

// ListIDs returns every course id, oldest first.
func (r *CourseRepository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM courses ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("list course ids: %w", err)
	}
	return ids, nil
}

// Recommend returns published courses in categories the user studies that the
// user is not enrolled in, best rated first.
func (r *CourseRepository) Recommend(ctx context.Context, userID string, limit int) ([]models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses
WHERE status = 'published'
  AND category IN (SELECT c.category FROM enrollments e JOIN courses c ON c.id = e.course_id WHERE e.user_id = $1)
  AND id NOT IN (SELECT course_id FROM enrollments WHERE user_id = $1)
ORDER BY average_rating DESC, total_students DESC
LIMIT $2`
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, userID, limit); err != nil {
		return nil, fmt.Errorf("recommend courses: %w", err)
	}
	return courses, nil
}

// EducatorSummary aggregates the courses authored by educatorID.
func (r *CourseRepository) EducatorSummary(ctx context.Context, educatorID string) (models.EducatorSummary, error) {
	const query = `SELECT COUNT(*) AS total_courses,
       COUNT(*) FILTER (WHERE status = 'published') AS published_courses,
       COALESCE(SUM(total_students), 0) AS total_students,
       COALESCE(ROUND(AVG(average_rating) FILTER (WHERE total_reviews > 0)::numeric, 1), 0) AS average_rating
FROM courses WHERE educator_id = $1`
	var summary models.EducatorSummary
	if err := r.db.GetContext(ctx, &summary, query, educatorID); err != nil {
		return models.EducatorSummary{}, fmt.Errorf("educator summary: %w", err)
	}
	return summary, nil
}
