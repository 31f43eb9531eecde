package models

import (
	"database/sql/driver"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// MaxInteractions bounds the interaction log kept per watch history.
const MaxInteractions = 50

// CompletionThreshold is the completion percentage at which a lecture counts as watched.
const CompletionThreshold = 80

// InteractionType enumerates player events.
type InteractionType string

const (
	InteractionPlay          InteractionType = "play"
	InteractionPause         InteractionType = "pause"
	InteractionSeek          InteractionType = "seek"
	InteractionSkip          InteractionType = "skip"
	InteractionRewind        InteractionType = "rewind"
	InteractionSpeedChange   InteractionType = "speed_change"
	InteractionQualityChange InteractionType = "quality_change"
)

// WatchQualities lists accepted player quality values.
var WatchQualities = []string{"auto", "240p", "360p", "480p", "720p", "1080p"}

// WatchHistory holds the playback trail of one user on one lecture.
// TotalWatchTime is in seconds.
type WatchHistory struct {
	ID                   string        `db:"id" json:"id"`
	UserID               string        `db:"user_id" json:"userId"`
	CourseID             string        `db:"course_id" json:"courseId"`
	ChapterID            string        `db:"chapter_id" json:"chapterId"`
	LectureID            string        `db:"lecture_id" json:"lectureId"`
	Sessions             WatchSessions `db:"watch_sessions" json:"watchSessions"`
	TotalWatchTime       float64       `db:"total_watch_time" json:"totalWatchTime"`
	LastWatchPosition    float64       `db:"last_watch_position" json:"lastWatchPosition"`
	CompletionPercentage int           `db:"completion_percentage" json:"completionPercentage"`
	IsCompleted          bool          `db:"is_completed" json:"isCompleted"`
	CompletedAt          *time.Time    `db:"completed_at" json:"completedAt,omitempty"`
	WatchQuality         string        `db:"watch_quality" json:"watchQuality"`
	PlaybackSpeed        float64       `db:"playback_speed" json:"playbackSpeed"`
	Interactions         Interactions  `db:"interactions" json:"interactions"`
	LastWatchedAt        time.Time     `db:"last_watched_at" json:"lastWatchedAt"`
	CreatedAt            time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time     `db:"updated_at" json:"updatedAt"`
}

// DeviceInfo identifies the client of a watch session.
type DeviceInfo struct {
	UserAgent string `json:"userAgent,omitempty"`
	IP        string `json:"ip,omitempty"`
	Platform  string `json:"platform,omitempty"`
}

// WatchSession is one contiguous playback interval. It is open while EndTime is nil.
type WatchSession struct {
	StartTime     time.Time  `json:"startTime"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	StartPosition float64    `json:"startPosition"`
	EndPosition   float64    `json:"endPosition"`
	Duration      float64    `json:"duration"`
	Completed     bool       `json:"completed"`
	DeviceInfo    DeviceInfo `json:"deviceInfo"`
}

// Open reports whether the session has not been ended yet.
func (s WatchSession) Open() bool { return s.EndTime == nil }

type WatchSessions []WatchSession

func (w WatchSessions) Value() (driver.Value, error) {
	if w == nil {
		return "[]", nil
	}
	return valueJSON([]WatchSession(w))
}

func (w *WatchSessions) Scan(src interface{}) error { return scanJSON(src, w) }

// Interaction is one player event.
type Interaction struct {
	Type       InteractionType `json:"type"`
	Timestamp  float64         `json:"timestamp"`
	Value      string          `json:"value,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

type Interactions []Interaction

func (i Interactions) Value() (driver.Value, error) {
	if i == nil {
		return "[]", nil
	}
	return valueJSON([]Interaction(i))
}

func (i *Interactions) Scan(src interface{}) error { return scanJSON(src, i) }

// NewWatchHistory creates an empty history for the lecture.
func NewWatchHistory(userID, courseID, chapterID, lectureID string, now time.Time) *WatchHistory {
	return &WatchHistory{
		ID:            uuid.NewString(),
		UserID:        userID,
		CourseID:      courseID,
		ChapterID:     chapterID,
		LectureID:     lectureID,
		Sessions:      WatchSessions{},
		Interactions:  Interactions{},
		WatchQuality:  "auto",
		PlaybackSpeed: 1,
		LastWatchedAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// SetPosition records the latest known playback position.
func (w *WatchHistory) SetPosition(position float64, now time.Time) {
	w.LastWatchPosition = position
	w.LastWatchedAt = now
	w.UpdatedAt = now
}

// StartSession appends an open session. Earlier open sessions are left untouched.
func (w *WatchHistory) StartSession(startPosition float64, device DeviceInfo, now time.Time) WatchSession {
	session := WatchSession{
		StartTime:     now,
		StartPosition: startPosition,
		DeviceInfo:    device,
	}
	w.Sessions = append(w.Sessions, session)
	w.LastWatchedAt = now
	w.UpdatedAt = now
	return session
}

// CurrentSession returns the most recent session when it is still open.
func (w *WatchHistory) CurrentSession() *WatchSession {
	if len(w.Sessions) == 0 {
		return nil
	}
	last := &w.Sessions[len(w.Sessions)-1]
	if !last.Open() {
		return nil
	}
	return last
}

// EndSession closes the most recent session if it is open and returns whether
// anything changed. lectureDuration is in seconds; non-positive values skip the
// completion update.
func (w *WatchHistory) EndSession(endPosition, lectureDuration float64, now time.Time) bool {
	session := w.CurrentSession()
	if session == nil {
		return false
	}

	end := now
	session.EndTime = &end
	session.EndPosition = endPosition
	session.Duration = math.Max(0, endPosition-session.StartPosition)

	w.TotalWatchTime += session.Duration
	w.LastWatchPosition = endPosition
	w.LastWatchedAt = now
	w.UpdatedAt = now

	wasCompleted := w.IsCompleted
	w.UpdateCompletion(endPosition, lectureDuration, now)
	session.Completed = !wasCompleted && w.IsCompleted
	return true
}

// UpdateCompletion recomputes the completion percentage against the lecture
// duration. IsCompleted is set once the threshold is reached and never cleared.
func (w *WatchHistory) UpdateCompletion(position, lectureDuration float64, now time.Time) {
	if lectureDuration <= 0 {
		return
	}
	pct := int(math.Round(position * 100 / lectureDuration))
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	w.CompletionPercentage = pct
	if pct >= CompletionThreshold && !w.IsCompleted {
		w.MarkCompleted(now)
	}
}

// MarkCompleted flags the lecture as watched.
func (w *WatchHistory) MarkCompleted(now time.Time) {
	if w.IsCompleted {
		return
	}
	w.IsCompleted = true
	completed := now
	w.CompletedAt = &completed
	w.UpdatedAt = now
}

// RecordInteraction appends an event, evicting the oldest once MaxInteractions is
// exceeded. Quality and speed changes also update the player settings.
func (w *WatchHistory) RecordInteraction(interaction Interaction) {
	if interaction.OccurredAt.IsZero() {
		interaction.OccurredAt = time.Now().UTC()
	}
	if len(w.Interactions) >= MaxInteractions {
		drop := len(w.Interactions) - MaxInteractions + 1
		copy(w.Interactions, w.Interactions[drop:])
		w.Interactions = w.Interactions[:len(w.Interactions)-drop]
	}
	w.Interactions = append(w.Interactions, interaction)

	switch interaction.Type {
	case InteractionQualityChange:
		for _, q := range WatchQualities {
			if q == interaction.Value {
				w.WatchQuality = q
				break
			}
		}
	case InteractionSpeedChange:
		if speed, err := strconv.ParseFloat(interaction.Value, 64); err == nil && speed >= 0.25 && speed <= 2 {
			w.PlaybackSpeed = speed
		}
	}
	w.UpdatedAt = interaction.OccurredAt
}
