package dto

import (
	"github.com/noah-isme/lms-api/internal/models"
)

// PriceRequest is the pricing block of a course payload.
type PriceRequest struct {
	Amount        float64  `json:"amount" validate:"gte=0"`
	Currency      string   `json:"currency" validate:"omitempty,len=3"`
	DiscountPrice *float64 `json:"discountPrice" validate:"omitempty,gte=0"`
	IsFree        *bool    `json:"isFree"`
}

// LectureRequest describes a lecture in a course payload. LectureID is only
// honoured on update when it matches an existing lecture.
type LectureRequest struct {
	LectureID     string            `json:"lectureId"`
	Title         string            `json:"title" validate:"required,max=200"`
	Description   string            `json:"description" validate:"max=1000"`
	VideoURL      string            `json:"videoUrl" validate:"omitempty,url"`
	VideoPublicID string            `json:"videoPublicId"`
	Duration      int               `json:"duration" validate:"gte=0"`
	IsPreview     bool              `json:"isPreview"`
	Order         *int              `json:"order" validate:"omitempty,gte=1"`
	Resources     []models.Resource `json:"resources" validate:"omitempty,dive"`
}

// ChapterRequest describes a chapter in a course payload.
type ChapterRequest struct {
	ChapterID   string           `json:"chapterId"`
	Title       string           `json:"title" validate:"required,max=200"`
	Description string           `json:"description" validate:"max=1000"`
	Order       *int             `json:"order" validate:"omitempty,gte=1"`
	Lectures    []LectureRequest `json:"lectures" validate:"omitempty,dive"`
}

// CreateCourseRequest is the payload for creating a course.
type CreateCourseRequest struct {
	Title            string           `json:"title" validate:"required,min=5,max=100"`
	Description      string           `json:"description" validate:"required,min=20,max=2000"`
	ShortDescription string           `json:"shortDescription" validate:"max=200"`
	Category         string           `json:"category" validate:"required"`
	Level            string           `json:"level" validate:"required"`
	Language         string           `json:"language" validate:"max=50"`
	Price            *PriceRequest    `json:"price" validate:"omitempty"`
	PreviewVideo     string           `json:"previewVideo" validate:"omitempty,url"`
	Tags             []string         `json:"tags" validate:"max=20,dive,max=30"`
	Requirements     []string         `json:"requirements" validate:"max=20,dive,max=200"`
	LearningOutcomes []string         `json:"learningOutcomes" validate:"max=20,dive,max=200"`
	Chapters         []ChapterRequest `json:"courseContent" validate:"omitempty,dive"`
}

// UpdateCourseRequest carries the fields to change; nil fields are left as is.
// A non-nil Chapters replaces the whole content tree.
type UpdateCourseRequest struct {
	Title            *string           `json:"title" validate:"omitempty,min=5,max=100"`
	Description      *string           `json:"description" validate:"omitempty,min=20,max=2000"`
	ShortDescription *string           `json:"shortDescription" validate:"omitempty,max=200"`
	Category         *string           `json:"category"`
	Level            *string           `json:"level"`
	Language         *string           `json:"language" validate:"omitempty,max=50"`
	Price            *PriceRequest     `json:"price" validate:"omitempty"`
	PreviewVideo     *string           `json:"previewVideo" validate:"omitempty,url"`
	Tags             *[]string         `json:"tags" validate:"omitempty,max=20,dive,max=30"`
	Requirements     *[]string         `json:"requirements" validate:"omitempty,max=20,dive,max=200"`
	LearningOutcomes *[]string         `json:"learningOutcomes" validate:"omitempty,max=20,dive,max=200"`
	Chapters         *[]ChapterRequest `json:"courseContent" validate:"omitempty,dive"`
	Featured         *bool             `json:"featured"`
}

// RatingRequest is a student's rating of a course.
type RatingRequest struct {
	Rating int    `json:"rating" validate:"required,min=1,max=5"`
	Review string `json:"review" validate:"max=500"`
}

// CourseDetailResponse is a course with the viewer's relation to it.
type CourseDetailResponse struct {
	Course     *models.Course `json:"course"`
	IsEnrolled bool           `json:"isEnrolled"`
	IsOwner    bool           `json:"isOwner"`
}

// CourseListResponse is one catalog page.
type CourseListResponse struct {
	Courses    []models.Course    `json:"courses"`
	Pagination *models.Pagination `json:"pagination"`
}

// CourseWatchStats summarises how a course is being watched.
type CourseWatchStats struct {
	TotalViewers            int     `json:"totalViewers"`
	TotalWatchTimeHours     float64 `json:"totalWatchTimeHours"`
	AverageWatchTimeMinutes float64 `json:"averageWatchTimeMinutes"`
	CompletionRate          float64 `json:"completionRate"`
}

// ToChapter converts the payload into a model chapter. Ids are assigned by the model.
func (r ChapterRequest) ToChapter() models.Chapter {
	ch := models.Chapter{
		ChapterID:   r.ChapterID,
		Title:       r.Title,
		Description: r.Description,
		Lectures:    make([]models.Lecture, 0, len(r.Lectures)),
	}
	if r.Order != nil {
		ch.Order = *r.Order
	}
	for _, l := range r.Lectures {
		ch.Lectures = append(ch.Lectures, l.ToLecture())
	}
	return ch
}

// ToLecture converts the payload into a model lecture.
func (r LectureRequest) ToLecture() models.Lecture {
	l := models.Lecture{
		LectureID:     r.LectureID,
		Title:         r.Title,
		Description:   r.Description,
		VideoURL:      r.VideoURL,
		VideoPublicID: r.VideoPublicID,
		Duration:      r.Duration,
		IsPreview:     r.IsPreview,
		Resources:     r.Resources,
	}
	if r.Order != nil {
		l.Order = *r.Order
	}
	return l
}

// ToChapters converts a list of chapter payloads.
func ToChapters(in []ChapterRequest) models.Chapters {
	out := make(models.Chapters, 0, len(in))
	for _, ch := range in {
		out = append(out, ch.ToChapter())
	}
	return out
}
