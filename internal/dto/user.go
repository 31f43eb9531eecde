package dto

import (
	"time"

	"github.com/noah-isme/lms-api/internal/models"
)

// UpdateProfileRequest carries the profile fields to change.
type UpdateProfileRequest struct {
	FirstName   *string             `json:"firstName" validate:"omitempty,min=2,max=50"`
	LastName    *string             `json:"lastName" validate:"omitempty,min=2,max=50"`
	Bio         *string             `json:"bio" validate:"omitempty,max=500"`
	Website     *string             `json:"website" validate:"omitempty,url"`
	SocialLinks *models.SocialLinks `json:"socialLinks"`
}

// UpdatePreferencesRequest carries the preference fields to change.
type UpdatePreferencesRequest struct {
	Notifications *models.NotificationPreferences `json:"notifications"`
	Language      *string                         `json:"language" validate:"omitempty,min=2,max=10"`
	Timezone      *string                         `json:"timezone" validate:"omitempty,timezone"`
}

// Achievement is a milestone shown on the dashboard.
type Achievement struct {
	Type     string    `json:"type"`
	Title    string    `json:"title"`
	CourseID string    `json:"courseId"`
	EarnedAt time.Time `json:"earnedAt"`
}

// DashboardStats is the headline block of the student dashboard.
type DashboardStats struct {
	TotalEnrollments int `json:"totalEnrollments"`
	CompletedCourses int `json:"completedCourses"`
	TotalWatchTime   int `json:"totalWatchTime"`
}

// DashboardResponse is the student dashboard.
type DashboardResponse struct {
	RecentEnrollments  []models.EnrolledCourse `json:"recentEnrollments"`
	ContinueWatching   []models.EnrolledCourse `json:"continueWatching"`
	RecommendedCourses []models.Course         `json:"recommendedCourses"`
	Achievements       []Achievement           `json:"achievements"`
	Stats              DashboardStats          `json:"stats"`
}

// WatchStats summarises a user's viewing across all lectures.
type WatchStats struct {
	TotalWatchTimeHours float64 `json:"totalWatchTimeHours"`
	TotalLectures       int     `json:"totalLectures"`
	CompletedLectures   int     `json:"completedLectures"`
	CompletionRate      float64 `json:"completionRate"`
	UniqueCourses       int     `json:"uniqueCourses"`
}

// UserStatsResponse aggregates learning and, for educators, teaching stats.
type UserStatsResponse struct {
	Enrollments models.EnrollmentSummary `json:"enrollments"`
	Watch       WatchStats               `json:"watch"`
	Educator    *models.EducatorSummary  `json:"educator,omitempty"`
}

// EnrolledCourseList is a page of the user's enrollments.
type EnrolledCourseList struct {
	Courses    []models.EnrolledCourse `json:"courses"`
	Pagination *models.Pagination      `json:"pagination"`
}
