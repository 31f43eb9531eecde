package models

// CourseFilter captures catalog query parameters. All fields are optional and ANDed.
type CourseFilter struct {
	Category   string
	Categories []string
	Level      string
	IsFree     *bool
	MinPrice   *float64
	MaxPrice   *float64
	Tags       []string
	Search     string
	Status     CourseStatus
	Featured   *bool
	EducatorID string
	ExcludeIDs []string
	SortBy     string
	SortOrder  string
	Page       int
	PageSize   int
}

// Sort keys accepted by the catalog. SortRelevance orders by rating then popularity.
const (
	SortRelevance = "relevance"
	SortCreatedAt = "createdAt"
)
