package models

import "time"

// EnrolledCourse is an enrollment joined with the course it references.
type EnrolledCourse struct {
	EnrollmentID   string           `db:"enrollment_id" json:"enrollmentId"`
	CourseID       string           `db:"course_id" json:"courseId"`
	Title          string           `db:"title" json:"title"`
	Slug           string           `db:"slug" json:"slug"`
	Thumbnail      string           `db:"thumbnail" json:"thumbnail"`
	Category       string           `db:"category" json:"category"`
	Level          string           `db:"level" json:"level"`
	EducatorID     string           `db:"educator_id" json:"educatorId"`
	TotalLectures  int              `db:"total_lectures" json:"totalLectures"`
	TotalDuration  int              `db:"total_duration" json:"totalDuration"`
	Status         EnrollmentStatus `db:"status" json:"status"`
	Progress       int              `db:"progress_percentage" json:"progress"`
	TotalWatchTime int              `db:"total_watch_time" json:"totalWatchTime"`
	LastWatched    *LastWatched     `db:"last_watched" json:"lastWatched,omitempty"`
	EnrolledAt     time.Time        `db:"enrolled_at" json:"enrolledAt"`
	CompletedAt    *time.Time       `db:"completed_at" json:"completedAt,omitempty"`
}

// RosterEntry is one student on a course roster with progress resolved from the enrollment.
type RosterEntry struct {
	UserID         string           `db:"user_id" json:"userId"`
	FirstName      string           `db:"first_name" json:"firstName"`
	LastName       string           `db:"last_name" json:"lastName"`
	Email          string           `db:"email" json:"email"`
	ProfileImage   string           `db:"profile_image" json:"profileImage,omitempty"`
	Status         EnrollmentStatus `db:"status" json:"status"`
	Progress       int              `db:"progress_percentage" json:"progress"`
	TotalWatchTime int              `db:"total_watch_time" json:"totalWatchTime"`
	EnrolledAt     time.Time        `db:"enrolled_at" json:"enrolledAt"`
	CompletedAt    *time.Time       `db:"completed_at" json:"completedAt,omitempty"`
}

// FullName joins first and last name.
func (r RosterEntry) FullName() string {
	return joinName(r.FirstName, r.LastName)
}

// EnrollmentSummary counts a user's enrollments by status. TotalWatchTime is in minutes.
type EnrollmentSummary struct {
	Total          int `db:"total" json:"totalEnrollments"`
	Active         int `db:"active" json:"activeCourses"`
	Completed      int `db:"completed" json:"completedCourses"`
	Dropped        int `db:"dropped" json:"droppedCourses"`
	TotalWatchTime int `db:"total_watch_time" json:"totalWatchTime"`
}

// WatchTotals is the raw aggregate over watch histories. TotalWatchTime is in seconds.
type WatchTotals struct {
	TotalWatchTime    float64 `db:"total_watch_time"`
	TotalLectures     int     `db:"total_lectures"`
	CompletedLectures int     `db:"completed_lectures"`
	UniqueCourses     int     `db:"unique_courses"`
	UniqueViewers     int     `db:"unique_viewers"`
}

// EducatorSummary aggregates an educator's catalog.
type EducatorSummary struct {
	TotalCourses     int     `db:"total_courses" json:"totalCourses"`
	PublishedCourses int     `db:"published_courses" json:"publishedCourses"`
	TotalStudents    int     `db:"total_students" json:"totalStudents"`
	AverageRating    float64 `db:"average_rating" json:"averageRating"`
}
