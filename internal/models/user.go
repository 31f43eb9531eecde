package models

import (
	"database/sql/driver"
	"strings"
	"time"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleStudent  UserRole = "student"
	RoleEducator UserRole = "educator"
	RoleAdmin    UserRole = "admin"
)

// SelfAssignable reports whether users may switch themselves into the role.
func (r UserRole) SelfAssignable() bool {
	return r == RoleStudent || r == RoleEducator
}

// User represents an application user stored in the users table.
// Enrolled and authored courses are not stored here; they are resolved from
// enrollments and courses.educator_id.
type User struct {
	ID                     string      `db:"id" json:"id"`
	FirstName              string      `db:"first_name" json:"firstName"`
	LastName               string      `db:"last_name" json:"lastName"`
	Email                  string      `db:"email" json:"email"`
	PasswordHash           string      `db:"password_hash" json:"-"`
	Role                   UserRole    `db:"role" json:"role"`
	ProfileImage           string      `db:"profile_image" json:"profileImage"`
	ProfileImagePublicID   string      `db:"profile_image_public_id" json:"-"`
	Bio                    string      `db:"bio" json:"bio"`
	Website                string      `db:"website" json:"website"`
	SocialLinks            SocialLinks `db:"social_links" json:"socialLinks"`
	Preferences            Preferences `db:"preferences" json:"preferences"`
	Active                 bool        `db:"active" json:"active"`
	LastLogin              *time.Time  `db:"last_login" json:"lastLogin,omitempty"`
	ResetPasswordTokenHash *string     `db:"reset_password_token_hash" json:"-"`
	ResetPasswordExpiresAt *time.Time  `db:"reset_password_expires_at" json:"-"`
	CreatedAt              time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt              time.Time   `db:"updated_at" json:"updatedAt"`
}

// FullName joins first and last name.
func (u *User) FullName() string {
	return joinName(u.FirstName, u.LastName)
}

func joinName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}

// NormalizeEmail lowercases and trims an address; emails are unique case-insensitively.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SocialLinks lists a user's public profiles.
type SocialLinks struct {
	LinkedIn string `json:"linkedin,omitempty"`
	Twitter  string `json:"twitter,omitempty"`
	GitHub   string `json:"github,omitempty"`
}

// Value implements driver.Valuer.
func (s SocialLinks) Value() (driver.Value, error) { return valueJSON(s) }

// Scan implements sql.Scanner.
func (s *SocialLinks) Scan(src interface{}) error { return scanJSON(src, s) }

// NotificationPreferences toggles notification channels.
type NotificationPreferences struct {
	Email     bool `json:"email"`
	Push      bool `json:"push"`
	Marketing bool `json:"marketing"`
}

// Preferences stores user-level settings.
type Preferences struct {
	Notifications NotificationPreferences `json:"notifications"`
	Language      string                  `json:"language"`
	Timezone      string                  `json:"timezone"`
}

// DefaultPreferences returns the settings new accounts start with.
func DefaultPreferences() Preferences {
	return Preferences{
		Notifications: NotificationPreferences{Email: true, Push: true, Marketing: false},
		Language:      "en",
		Timezone:      "UTC",
	}
}

// Value implements driver.Valuer.
func (p Preferences) Value() (driver.Value, error) { return valueJSON(p) }

// Scan implements sql.Scanner.
func (p *Preferences) Scan(src interface{}) error { return scanJSON(src, p) }

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

// NewPagination derives page counts; returned is the number of items on this page.
func NewPagination(page, limit, total, returned int) *Pagination {
	if limit <= 0 {
		limit = 1
	}
	skip := (page - 1) * limit
	return &Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
		HasMore:    skip+returned < total,
	}
}

// MaxPage bounds offset pagination so OFFSET never overflows.
const MaxPage = 10000

// NormalizePage clamps page and limit to sane bounds.
func NormalizePage(page, limit, defaultLimit, maxLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

// PageOffset returns the row offset of page, clamping page into [1, MaxPage].
func PageOffset(page, size int) int {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	return (page - 1) * size
}

// Paginate returns the page slice of items using offset pagination.
func Paginate[T any](items []T, page, limit int) []T {
	skip := (page - 1) * limit
	if skip >= len(items) || skip < 0 {
		return []T{}
	}
	end := skip + limit
	if end > len(items) {
		end = len(items)
	}
	return items[skip:end]
}
