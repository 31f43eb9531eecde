package models

import (
	"database/sql/driver"
	"errors"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CourseStatus is the publication state of a course.
type CourseStatus string

const (
	CourseStatusDraft     CourseStatus = "draft"
	CourseStatusPublished CourseStatus = "published"
	CourseStatusArchived  CourseStatus = "archived"
	CourseStatusReview    CourseStatus = "review"
)

// DefaultThumbnailURL is used when a course is created without a thumbnail upload.
const DefaultThumbnailURL = "https://via.placeholder.com/800x600/4F46E5/FFFFFF?text=Course+Thumbnail"

// CourseCategories lists the accepted course categories.
var CourseCategories = []string{
	"Programming",
	"Design",
	"Business",
	"Marketing",
	"Data Science",
	"Photography",
	"Music",
	"Language",
	"Health & Fitness",
	"Personal Development",
}

// CourseLevels lists the accepted difficulty levels.
var CourseLevels = []string{"Beginner", "Intermediate", "Advanced", "All Levels"}

var (
	ErrCourseNoChapters     = errors.New("course must have at least one chapter")
	ErrCourseNoLectures     = errors.New("course must have at least one lecture")
	ErrCourseNotPublishable = errors.New("course cannot be published from its current status")
	ErrChapterNotFound      = errors.New("chapter not found")
)

// Course is the catalog record. Stats are derived and must be recomputed through
// RecalculateStats before every write that touches content, ratings or enrollments.
type Course struct {
	ID                string         `db:"id" json:"id"`
	Title             string         `db:"title" json:"title"`
	Slug              string         `db:"slug" json:"slug"`
	Description       string         `db:"description" json:"description"`
	ShortDescription  string         `db:"short_description" json:"shortDescription"`
	Category          string         `db:"category" json:"category"`
	Level             string         `db:"level" json:"level"`
	Language          string         `db:"language" json:"language"`
	Thumbnail         string         `db:"thumbnail" json:"thumbnail"`
	ThumbnailPublicID string         `db:"thumbnail_public_id" json:"thumbnailPublicId,omitempty"`
	PreviewVideo      string         `db:"preview_video" json:"previewVideo,omitempty"`
	EducatorID        string         `db:"educator_id" json:"educatorId"`
	Content           Chapters       `db:"content" json:"courseContent"`
	Tags              pq.StringArray `db:"tags" json:"tags"`
	Requirements      pq.StringArray `db:"requirements" json:"requirements"`
	LearningOutcomes  pq.StringArray `db:"learning_outcomes" json:"learningOutcomes"`
	Status            CourseStatus   `db:"status" json:"status"`
	Featured          bool           `db:"featured" json:"featured"`
	PublishedAt       *time.Time     `db:"published_at" json:"publishedAt,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updatedAt"`
	Price             `json:"price"`
	CourseStats       `json:"stats"`
}

// Price holds the course pricing columns.
type Price struct {
	Amount        float64  `db:"price_amount" json:"amount"`
	Currency      string   `db:"price_currency" json:"currency"`
	DiscountPrice *float64 `db:"price_discount" json:"discountPrice,omitempty"`
	IsFree        bool     `db:"is_free" json:"isFree"`
}

// Normalize applies defaults; a zero amount always means free.
func (p *Price) Normalize() {
	if p.Currency == "" {
		p.Currency = "USD"
	}
	if p.Amount < 0 {
		p.Amount = 0
	}
	if p.Amount == 0 {
		p.IsFree = true
	}
}

// CourseStats is the derived aggregate stored alongside the course.
type CourseStats struct {
	TotalStudents int     `db:"total_students" json:"totalStudents"`
	TotalLectures int     `db:"total_lectures" json:"totalLectures"`
	TotalDuration int     `db:"total_duration" json:"totalDuration"`
	AverageRating float64 `db:"average_rating" json:"averageRating"`
	TotalReviews  int     `db:"total_reviews" json:"totalReviews"`
}

// Chapter is an ordered grouping of lectures.
type Chapter struct {
	ChapterID   string    `json:"chapterId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Lectures    []Lecture `json:"lectures"`
	Order       int       `json:"order"`
}

// Lecture is a single playable unit.
type Lecture struct {
	LectureID     string     `json:"lectureId"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	VideoURL      string     `json:"videoUrl,omitempty"`
	VideoPublicID string     `json:"videoPublicId,omitempty"`
	Duration      int        `json:"duration"`
	IsPreview     bool       `json:"isPreview"`
	Order         int        `json:"order"`
	Resources     []Resource `json:"resources,omitempty"`
}

// Resource is a downloadable attachment of a lecture.
type Resource struct {
	Title string `json:"title"`
	Type  string `json:"type" validate:"omitempty,oneof=pdf doc link image code"`
	URL   string `json:"url"`
}

// Chapters is the JSONB content tree.
type Chapters []Chapter

// Value implements driver.Valuer. A nil tree is stored as an empty array.
func (c Chapters) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	return valueJSON([]Chapter(c))
}

// Scan implements sql.Scanner.
func (c *Chapters) Scan(src interface{}) error { return scanJSON(src, c) }

// CourseRating is one user's rating of a course. At most one exists per (course, user).
type CourseRating struct {
	CourseID  string    `db:"course_id" json:"courseId"`
	UserID    string    `db:"user_id" json:"userId"`
	Rating    int       `db:"rating" json:"rating"`
	Review    string    `db:"review" json:"review,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

var (
	slugInvalid    = regexp.MustCompile(`[^a-z0-9 -]`)
	slugWhitespace = regexp.MustCompile(`\s+`)
	slugDashes     = regexp.MustCompile(`-+`)
)

// Slugify lowercases title, strips everything but letters, digits, spaces and
// dashes, then turns whitespace runs into single dashes.
func Slugify(title string) string {
	slug := strings.ToLower(title)
	slug = slugInvalid.ReplaceAllString(slug, "")
	slug = slugWhitespace.ReplaceAllString(slug, "-")
	slug = slugDashes.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// EnsureSlug sets the slug from the title once.
func (c *Course) EnsureSlug() {
	if c.Slug == "" {
		c.Slug = Slugify(c.Title)
	}
}

// LectureCount sums lectures across chapters.
func (c *Course) LectureCount() int {
	total := 0
	for _, ch := range c.Content {
		total += len(ch.Lectures)
	}
	return total
}

// RecalculateStats derives stats from the content tree, the ratings and the active roster size.
func (c *Course) RecalculateStats(ratings []CourseRating, students int) {
	seconds := 0
	for _, ch := range c.Content {
		for _, l := range ch.Lectures {
			seconds += l.Duration
		}
	}

	c.TotalLectures = c.LectureCount()
	c.TotalDuration = int(math.Ceil(float64(seconds) / 60))
	c.TotalStudents = students
	c.TotalReviews = len(ratings)
	c.AverageRating = 0
	if len(ratings) > 0 {
		sum := 0
		for _, r := range ratings {
			sum += r.Rating
		}
		c.AverageRating = math.Round(float64(sum)/float64(len(ratings))*10) / 10
	}
}

// AssignContentIDs replaces every chapter and lecture id with a fresh UUID and
// fills missing orders with the position in the tree.
func (c *Course) AssignContentIDs() {
	for i := range c.Content {
		ch := &c.Content[i]
		ch.ChapterID = uuid.NewString()
		if ch.Order == 0 {
			ch.Order = i + 1
		}
		for j := range ch.Lectures {
			l := &ch.Lectures[j]
			l.LectureID = uuid.NewString()
			if l.Order == 0 {
				l.Order = j + 1
			}
		}
	}
}

// ReplaceContent swaps the content tree. Ids that match an existing node are
// kept once; everything else gets a fresh UUID.
func (c *Course) ReplaceContent(content Chapters) {
	knownChapters := make(map[string]bool, len(c.Content))
	knownLectures := make(map[string]bool)
	for _, ch := range c.Content {
		knownChapters[ch.ChapterID] = true
		for _, l := range ch.Lectures {
			knownLectures[l.LectureID] = true
		}
	}

	for i := range content {
		ch := &content[i]
		if !knownChapters[ch.ChapterID] {
			ch.ChapterID = uuid.NewString()
		}
		delete(knownChapters, ch.ChapterID)
		if ch.Order == 0 {
			ch.Order = i + 1
		}
		if ch.Lectures == nil {
			ch.Lectures = []Lecture{}
		}
		for j := range ch.Lectures {
			l := &ch.Lectures[j]
			if !knownLectures[l.LectureID] {
				l.LectureID = uuid.NewString()
			}
			delete(knownLectures, l.LectureID)
			if l.Order == 0 {
				l.Order = j + 1
			}
		}
	}
	c.Content = content
}

// AppendChapter adds chapter at the end of the tree. order nil means append
// position (current length + 1).
func (c *Course) AppendChapter(ch Chapter, order *int) Chapter {
	ch.ChapterID = uuid.NewString()
	ch.Order = len(c.Content) + 1
	if order != nil {
		ch.Order = *order
	}
	if ch.Lectures == nil {
		ch.Lectures = []Lecture{}
	}
	for j := range ch.Lectures {
		ch.Lectures[j].LectureID = uuid.NewString()
		if ch.Lectures[j].Order == 0 {
			ch.Lectures[j].Order = j + 1
		}
	}
	c.Content = append(c.Content, ch)
	return ch
}

// AppendLecture adds lecture to the chapter identified by chapterID.
func (c *Course) AppendLecture(chapterID string, lecture Lecture, order *int) (Lecture, error) {
	ch := c.Chapter(chapterID)
	if ch == nil {
		return Lecture{}, ErrChapterNotFound
	}
	lecture.LectureID = uuid.NewString()
	lecture.Order = len(ch.Lectures) + 1
	if order != nil {
		lecture.Order = *order
	}
	ch.Lectures = append(ch.Lectures, lecture)
	return lecture, nil
}

// Chapter returns a pointer into the content tree, or nil.
func (c *Course) Chapter(chapterID string) *Chapter {
	for i := range c.Content {
		if c.Content[i].ChapterID == chapterID {
			return &c.Content[i]
		}
	}
	return nil
}

// Lecture looks up a lecture by chapter and lecture id.
func (c *Course) Lecture(chapterID, lectureID string) *Lecture {
	ch := c.Chapter(chapterID)
	if ch == nil {
		return nil
	}
	for i := range ch.Lectures {
		if ch.Lectures[i].LectureID == lectureID {
			return &ch.Lectures[i]
		}
	}
	return nil
}

// Publish moves a draft or in-review course to published. Publishing an
// already published course is a no-op.
func (c *Course) Publish(now time.Time) error {
	switch c.Status {
	case CourseStatusPublished:
		return nil
	case CourseStatusDraft, CourseStatusReview, "":
	default:
		return ErrCourseNotPublishable
	}
	if len(c.Content) == 0 {
		return ErrCourseNoChapters
	}
	if c.LectureCount() == 0 {
		return ErrCourseNoLectures
	}
	c.Status = CourseStatusPublished
	published := now
	c.PublishedAt = &published
	return nil
}

// StripProtectedMedia removes playable media from every non-preview lecture.
// The content tree is copied so shared slices are left intact.
func (c *Course) StripProtectedMedia() {
	content := make(Chapters, len(c.Content))
	for i, ch := range c.Content {
		lectures := make([]Lecture, len(ch.Lectures))
		for j, l := range ch.Lectures {
			if !l.IsPreview {
				l.VideoURL = ""
				l.VideoPublicID = ""
			}
			lectures[j] = l
		}
		ch.Lectures = lectures
		content[i] = ch
	}
	c.Content = content
}

// IsOwnedBy reports whether userID authored the course.
func (c *Course) IsOwnedBy(userID string) bool {
	return userID != "" && c.EducatorID == userID
}
