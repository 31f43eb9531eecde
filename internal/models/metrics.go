package models

import "time"

// SystemMetrics is a point-in-time view of process instrumentation.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	Enrollments              uint64    `json:"enrollments"`
	LectureCompletions       uint64    `json:"lectureCompletions"`
	WatchSessions            uint64    `json:"watchSessions"`
	UploadedBytes            uint64    `json:"uploadedBytes"`
	JobRuns                  uint64    `json:"jobRuns"`
	JobFailures              uint64    `json:"jobFailures"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}
