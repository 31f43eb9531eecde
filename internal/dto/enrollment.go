package dto

import (
	"time"

	"github.com/noah-isme/lms-api/internal/models"
)

// EnrollRequest enrolls the caller in a course.
type EnrollRequest struct {
	CourseID       string                `json:"courseId" validate:"required"`
	EnrollmentType models.EnrollmentType `json:"enrollmentType" validate:"omitempty,oneof=free paid preview"`
}

// LectureRef addresses a lecture inside a course.
type LectureRef struct {
	CourseID  string `json:"courseId" validate:"required"`
	ChapterID string `json:"chapterId" validate:"required"`
	LectureID string `json:"lectureId" validate:"required"`
}

// WatchProgressRequest records a resume point.
type WatchProgressRequest struct {
	LectureRef
	Timestamp float64 `json:"timestamp" validate:"gte=0"`
}

// CompleteLectureRequest marks a lecture as completed. WatchTime is in seconds.
type CompleteLectureRequest struct {
	LectureRef
	WatchTime int `json:"watchTime" validate:"gte=0"`
}

// NoteRequest adds a note at a video position.
type NoteRequest struct {
	LectureRef
	Content   string  `json:"content" validate:"required,max=1000"`
	Timestamp float64 `json:"timestamp" validate:"gte=0"`
}

// UpdateNoteRequest edits a note.
type UpdateNoteRequest struct {
	CourseID string `json:"courseId" validate:"required"`
	Content  string `json:"content" validate:"required,max=1000"`
}

// BookmarkRequest adds a bookmark at a video position.
type BookmarkRequest struct {
	LectureRef
	Title     string  `json:"title" validate:"required,max=100"`
	Timestamp float64 `json:"timestamp" validate:"gte=0"`
}

// StartSessionRequest opens a watch session.
type StartSessionRequest struct {
	LectureRef
	StartPosition float64           `json:"startPosition" validate:"gte=0"`
	DeviceInfo    models.DeviceInfo `json:"deviceInfo"`
}

// EndSessionRequest closes the open watch session. Positions and duration are in seconds.
type EndSessionRequest struct {
	LectureRef
	EndPosition     float64 `json:"endPosition" validate:"gte=0"`
	LectureDuration float64 `json:"lectureDuration" validate:"gte=0"`
}

// InteractionRequest records one player event.
type InteractionRequest struct {
	LectureRef
	Type      models.InteractionType `json:"type" validate:"required,oneof=play pause seek skip rewind speed_change quality_change"`
	Timestamp float64                `json:"timestamp" validate:"gte=0"`
	Value     string                 `json:"value" validate:"max=50"`
}

// AnnotationQuery filters notes and bookmarks.
type AnnotationQuery struct {
	ChapterID string
	LectureID string
	Page      int
	Limit     int
}

// EnrollmentStatusResponse tells whether the caller is enrolled.
type EnrollmentStatusResponse struct {
	IsEnrolled bool               `json:"isEnrolled"`
	Enrollment *models.Enrollment `json:"enrollment,omitempty"`
}

// OverallProgress is the course-level progress of an enrollment.
type OverallProgress struct {
	Percentage        int                     `json:"percentage"`
	CompletedLectures int                     `json:"completedLectures"`
	TotalLectures     int                     `json:"totalLectures"`
	TotalWatchTime    int                     `json:"totalWatchTime"`
	Status            models.EnrollmentStatus `json:"status"`
}

// ChapterProgress is the progress within one chapter.
type ChapterProgress struct {
	ChapterID         string `json:"chapterId"`
	Title             string `json:"title"`
	TotalLectures     int    `json:"totalLectures"`
	CompletedLectures int    `json:"completedLectures"`
	Percentage        int    `json:"percentage"`
}

// ProgressResponse breaks an enrollment's progress down per chapter.
type ProgressResponse struct {
	Overall     OverallProgress     `json:"overall"`
	Chapters    []ChapterProgress   `json:"chapters"`
	LastWatched *models.LastWatched `json:"lastWatched,omitempty"`
}

// NoteList is a page of notes.
type NoteList struct {
	Notes      []models.Note      `json:"notes"`
	Pagination *models.Pagination `json:"pagination"`
}

// BookmarkList is a page of bookmarks.
type BookmarkList struct {
	Bookmarks  []models.Bookmark  `json:"bookmarks"`
	Pagination *models.Pagination `json:"pagination"`
}

// CertificateResponse is an issued certificate with a short-lived download link.
type CertificateResponse struct {
	Certificate models.Certificate `json:"certificate"`
	DownloadURL string             `json:"downloadUrl,omitempty"`
	ExpiresAt   *time.Time         `json:"expiresAt,omitempty"`
}
