package models

import (
	"database/sql/driver"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusDropped   EnrollmentStatus = "dropped"
	EnrollmentStatusSuspended EnrollmentStatus = "suspended"
)

// EnrollmentType describes how the student got access.
type EnrollmentType string

const (
	EnrollmentTypeFree    EnrollmentType = "free"
	EnrollmentTypePaid    EnrollmentType = "paid"
	EnrollmentTypePreview EnrollmentType = "preview"
)

// PaymentStatus tracks the payment attached to an enrollment.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

var (
	ErrNoteNotFound     = errors.New("note not found")
	ErrBookmarkNotFound = errors.New("bookmark not found")
)

// Enrollment is the single source of truth for a student's progress in a course.
type Enrollment struct {
	ID             string           `db:"id" json:"id"`
	UserID         string           `db:"user_id" json:"userId"`
	CourseID       string           `db:"course_id" json:"courseId"`
	EnrollmentType EnrollmentType   `db:"enrollment_type" json:"enrollmentType"`
	Status         EnrollmentStatus `db:"status" json:"status"`
	PaymentStatus  PaymentStatus    `db:"payment_status" json:"paymentStatus"`
	PaymentDetails *PaymentDetails  `db:"payment_details" json:"paymentDetails,omitempty"`
	Notes          Notes            `db:"notes" json:"notes"`
	Bookmarks      Bookmarks        `db:"bookmarks" json:"bookmarks"`
	Certificate    *Certificate     `db:"certificate" json:"certificate,omitempty"`
	EnrolledAt     time.Time        `db:"enrolled_at" json:"enrolledAt"`
	CompletedAt    *time.Time       `db:"completed_at" json:"completedAt,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updatedAt"`
	Progress       `json:"progress"`
}

// Progress is the derived completion state of an enrollment. TotalWatchTime is in minutes.
type Progress struct {
	Percentage        int               `db:"progress_percentage" json:"percentage"`
	CompletedLectures CompletedLectures `db:"completed_lectures" json:"completedLectures"`
	TotalWatchTime    int               `db:"total_watch_time" json:"totalWatchTime"`
	LastWatched       *LastWatched      `db:"last_watched" json:"lastWatched,omitempty"`
}

// CompletedLecture records one finished lecture. WatchTime is in seconds.
type CompletedLecture struct {
	ChapterID   string    `json:"chapterId"`
	LectureID   string    `json:"lectureId"`
	CompletedAt time.Time `json:"completedAt"`
	WatchTime   int       `json:"watchTime"`
}

// CompletedLectures is stored as JSONB.
type CompletedLectures []CompletedLecture

func (c CompletedLectures) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	return valueJSON([]CompletedLecture(c))
}

func (c *CompletedLectures) Scan(src interface{}) error { return scanJSON(src, c) }

// LastWatched is the resume point of an enrollment.
type LastWatched struct {
	ChapterID      string    `json:"chapterId"`
	LectureID      string    `json:"lectureId"`
	Timestamp      float64   `json:"timestamp"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

func (l LastWatched) Value() (driver.Value, error) { return valueJSON(l) }

func (l *LastWatched) Scan(src interface{}) error { return scanJSON(src, l) }

// Note is a free-form annotation pinned to a video position.
type Note struct {
	ID        string    `json:"id"`
	ChapterID string    `json:"chapterId"`
	LectureID string    `json:"lectureId"`
	Content   string    `json:"content"`
	Timestamp float64   `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Notes []Note

func (n Notes) Value() (driver.Value, error) {
	if n == nil {
		return "[]", nil
	}
	return valueJSON([]Note(n))
}

func (n *Notes) Scan(src interface{}) error { return scanJSON(src, n) }

// Bookmark marks a video position. Unique by (chapterId, lectureId, timestamp).
type Bookmark struct {
	ID        string    `json:"id"`
	ChapterID string    `json:"chapterId"`
	LectureID string    `json:"lectureId"`
	Title     string    `json:"title"`
	Timestamp float64   `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

type Bookmarks []Bookmark

func (b Bookmarks) Value() (driver.Value, error) {
	if b == nil {
		return "[]", nil
	}
	return valueJSON([]Bookmark(b))
}

func (b *Bookmarks) Scan(src interface{}) error { return scanJSON(src, b) }

// PaymentDetails records the amount paid for an enrollment.
type PaymentDetails struct {
	Amount        float64    `json:"amount"`
	Currency      string     `json:"currency"`
	PaymentMethod string     `json:"paymentMethod,omitempty"`
	TransactionID string     `json:"transactionId,omitempty"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
}

func (p PaymentDetails) Value() (driver.Value, error) { return valueJSON(p) }

func (p *PaymentDetails) Scan(src interface{}) error { return scanJSON(src, p) }

// Certificate is stamped once when a completion certificate is generated.
type Certificate struct {
	Issued         bool       `json:"issued"`
	IssuedAt       *time.Time `json:"issuedAt,omitempty"`
	CertificateURL string     `json:"certificateUrl,omitempty"`
	CertificateID  string     `json:"certificateId,omitempty"`
}

func (c Certificate) Value() (driver.Value, error) { return valueJSON(c) }

func (c *Certificate) Scan(src interface{}) error { return scanJSON(src, c) }

// NewEnrollment builds an active enrollment. Free courses and free enrollments are
// settled immediately with a zero amount payment.
func NewEnrollment(userID string, course *Course, enrollmentType EnrollmentType, now time.Time) *Enrollment {
	if enrollmentType == "" {
		enrollmentType = EnrollmentTypeFree
		if !course.IsFree {
			enrollmentType = EnrollmentTypePaid
		}
	}

	e := &Enrollment{
		ID:             uuid.NewString(),
		UserID:         userID,
		CourseID:       course.ID,
		EnrollmentType: enrollmentType,
		Status:         EnrollmentStatusActive,
		PaymentStatus:  PaymentStatusPending,
		Notes:          Notes{},
		Bookmarks:      Bookmarks{},
		EnrolledAt:     now,
		CreatedAt:      now,
		UpdatedAt:      now,
		Progress:       Progress{CompletedLectures: CompletedLectures{}},
	}
	if enrollmentType == EnrollmentTypeFree || course.IsFree {
		paidAt := now
		e.PaymentStatus = PaymentStatusCompleted
		e.PaymentDetails = &PaymentDetails{Amount: 0, Currency: "USD", PaidAt: &paidAt}
	}
	return e
}

// ProgressPercentage returns round(100*completed/total), 0 when total is 0, capped at 100.
func ProgressPercentage(completed, total int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	pct := int(math.Round(float64(completed) * 100 / float64(total)))
	if pct > 100 {
		return 100
	}
	return pct
}

// RecalculateProgress refreshes the percentage and flips an active enrollment to
// completed once it reaches 100. The flip is never reverted.
func (e *Enrollment) RecalculateProgress(totalLectures int, now time.Time) {
	e.Percentage = ProgressPercentage(len(e.CompletedLectures), totalLectures)
	if e.Percentage >= 100 && e.Status == EnrollmentStatusActive {
		e.Status = EnrollmentStatusCompleted
		completed := now
		e.CompletedAt = &completed
	}
}

// IsLectureCompleted reports whether the lecture is already in the completed list.
func (e *Enrollment) IsLectureCompleted(chapterID, lectureID string) bool {
	for _, cl := range e.CompletedLectures {
		if cl.ChapterID == chapterID && cl.LectureID == lectureID {
			return true
		}
	}
	return false
}

// CompleteLecture appends a completion record and adds the watch time in whole
// minutes. It returns false, changing nothing, when the lecture was already completed.
func (e *Enrollment) CompleteLecture(chapterID, lectureID string, watchTime, totalLectures int, now time.Time) bool {
	if e.IsLectureCompleted(chapterID, lectureID) {
		return false
	}
	if watchTime < 0 {
		watchTime = 0
	}
	e.CompletedLectures = append(e.CompletedLectures, CompletedLecture{
		ChapterID:   chapterID,
		LectureID:   lectureID,
		CompletedAt: now,
		WatchTime:   watchTime,
	})
	e.TotalWatchTime += int(math.Ceil(float64(watchTime) / 60))
	e.RecalculateProgress(totalLectures, now)
	e.UpdatedAt = now
	return true
}

// SetLastWatched overwrites the resume point.
func (e *Enrollment) SetLastWatched(chapterID, lectureID string, timestamp float64, now time.Time) {
	e.LastWatched = &LastWatched{
		ChapterID:      chapterID,
		LectureID:      lectureID,
		Timestamp:      timestamp,
		LastAccessedAt: now,
	}
	e.UpdatedAt = now
}

// Drop marks the enrollment as dropped. Completed enrollments keep their status.
func (e *Enrollment) Drop(now time.Time) {
	if e.Status == EnrollmentStatusCompleted {
		return
	}
	e.Status = EnrollmentStatusDropped
	e.UpdatedAt = now
}

// AddNote appends a note with a fresh id.
func (e *Enrollment) AddNote(chapterID, lectureID, content string, timestamp float64, now time.Time) Note {
	note := Note{
		ID:        uuid.NewString(),
		ChapterID: chapterID,
		LectureID: lectureID,
		Content:   content,
		Timestamp: timestamp,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.Notes = append(e.Notes, note)
	e.UpdatedAt = now
	return note
}

// UpdateNote replaces the content of an existing note.
func (e *Enrollment) UpdateNote(noteID, content string, now time.Time) (Note, error) {
	for i := range e.Notes {
		if e.Notes[i].ID == noteID {
			e.Notes[i].Content = content
			e.Notes[i].UpdatedAt = now
			e.UpdatedAt = now
			return e.Notes[i], nil
		}
	}
	return Note{}, ErrNoteNotFound
}

// DeleteNote removes a note by id.
func (e *Enrollment) DeleteNote(noteID string, now time.Time) error {
	for i := range e.Notes {
		if e.Notes[i].ID == noteID {
			e.Notes = append(e.Notes[:i], e.Notes[i+1:]...)
			e.UpdatedAt = now
			return nil
		}
	}
	return ErrNoteNotFound
}

// FilterNotes returns notes matching the optional chapter and lecture, newest first.
func (e *Enrollment) FilterNotes(chapterID, lectureID string) []Note {
	out := make([]Note, 0, len(e.Notes))
	for _, n := range e.Notes {
		if chapterID != "" && n.ChapterID != chapterID {
			continue
		}
		if lectureID != "" && n.LectureID != lectureID {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// AddBookmark appends a bookmark unless one already exists for the same
// (chapter, lecture, timestamp). The existing bookmark is returned in that case.
func (e *Enrollment) AddBookmark(chapterID, lectureID, title string, timestamp float64, now time.Time) (Bookmark, bool) {
	for _, b := range e.Bookmarks {
		if b.ChapterID == chapterID && b.LectureID == lectureID && b.Timestamp == timestamp {
			return b, false
		}
	}
	bookmark := Bookmark{
		ID:        uuid.NewString(),
		ChapterID: chapterID,
		LectureID: lectureID,
		Title:     title,
		Timestamp: timestamp,
		CreatedAt: now,
	}
	e.Bookmarks = append(e.Bookmarks, bookmark)
	e.UpdatedAt = now
	return bookmark, true
}

// DeleteBookmark removes a bookmark by id.
func (e *Enrollment) DeleteBookmark(bookmarkID string, now time.Time) error {
	for i := range e.Bookmarks {
		if e.Bookmarks[i].ID == bookmarkID {
			e.Bookmarks = append(e.Bookmarks[:i], e.Bookmarks[i+1:]...)
			e.UpdatedAt = now
			return nil
		}
	}
	return ErrBookmarkNotFound
}

// FilterBookmarks returns bookmarks matching the optional chapter and lecture, newest first.
func (e *Enrollment) FilterBookmarks(chapterID, lectureID string) []Bookmark {
	out := make([]Bookmark, 0, len(e.Bookmarks))
	for _, b := range e.Bookmarks {
		if chapterID != "" && b.ChapterID != chapterID {
			continue
		}
		if lectureID != "" && b.LectureID != lectureID {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// IssueCertificate stamps the certificate once. It returns false if one was already issued.
func (e *Enrollment) IssueCertificate(certificateID, url string, now time.Time) bool {
	if e.Certificate != nil && e.Certificate.Issued {
		return false
	}
	issuedAt := now
	e.Certificate = &Certificate{
		Issued:         true,
		IssuedAt:       &issuedAt,
		CertificateURL: url,
		CertificateID:  certificateID,
	}
	e.UpdatedAt = now
	return true
}

// CountsTowardRoster reports whether the enrollment is included in course totals.
func (e *Enrollment) CountsTowardRoster() bool {
	return e.Status != EnrollmentStatusDropped
}
