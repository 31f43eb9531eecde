package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/middleware"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type apiEnvelope struct {
	Status     string                 `json:"status"`
	Message    string                 `json:"message"`
	Data       json.RawMessage        `json:"data"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
	Error      *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) apiEnvelope {
	t.Helper()
	var env apiEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

type fakeCourseService struct {
	courseService
	lastFilter    models.CourseFilter
	lastQuery     string
	lastCreate    dto.CreateCourseRequest
	lastThumbnail *dto.FileUpload
	thumbnailBody string
	lastViewer    *models.JWTClaims
	archived      bool
	err           error
}

func (f *fakeCourseService) List(_ context.Context, filter models.CourseFilter) (*dto.CourseListResponse, bool, error) {
	f.lastFilter = filter
	return &dto.CourseListResponse{
		Courses:    []models.Course{{ID: "c1", Title: "Go in Practice"}},
		Pagination: models.NewPagination(1, 12, 1, 1),
	}, true, f.err
}

func (f *fakeCourseService) Search(_ context.Context, query string, filter models.CourseFilter) (*dto.CourseListResponse, bool, error) {
	f.lastQuery = query
	if query == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "search query is required")
	}
	return &dto.CourseListResponse{Courses: []models.Course{}, Pagination: models.NewPagination(1, 12, 0, 0)}, false, nil
}

func (f *fakeCourseService) Get(_ context.Context, id string, viewer *models.JWTClaims) (*dto.CourseDetailResponse, bool, error) {
	f.lastViewer = viewer
	if f.err != nil {
		return nil, false, f.err
	}
	return &dto.CourseDetailResponse{Course: &models.Course{ID: id}}, false, nil
}

func (f *fakeCourseService) Create(_ context.Context, _ *models.JWTClaims, req dto.CreateCourseRequest, thumbnail *dto.FileUpload) (*models.Course, error) {
	f.lastCreate = req
	f.lastThumbnail = thumbnail
	if thumbnail != nil {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(thumbnail.Body)
		f.thumbnailBody = buf.String()
	}
	return &models.Course{ID: "c-new", Title: req.Title}, nil
}

func (f *fakeCourseService) Delete(context.Context, *models.JWTClaims, string) (bool, error) {
	return f.archived, f.err
}

func (f *fakeCourseService) ExportStudents(context.Context, *models.JWTClaims, string) ([]byte, string, error) {
	return []byte("Name,Email\nAda Lovelace,ada@example.com\n"), "go-in-practice-students.csv", nil
}

func withPrincipal(claims *models.JWTClaims) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims != nil {
			c.Set(middleware.ContextUserKey, claims)
		}
		c.Next()
	}
}

func newCourseRouter(svc *fakeCourseService, claims *models.JWTClaims) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewCourseHandler(svc)
	r := gin.New()
	r.Use(middleware.WithResponseMeta(), withPrincipal(claims))
	r.GET("/courses", h.List)
	r.GET("/courses/search", h.Search)
	r.GET("/courses/:id", h.Get)
	r.POST("/courses", h.Create)
	r.DELETE("/courses/:id", h.Delete)
	r.GET("/courses/:id/students/export", h.ExportStudents)
	return r
}

func TestCourseHandlerListParsesFilters(t *testing.T) {
	svc := &fakeCourseService{}
	r := newCourseRouter(svc, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/courses?category=Programming&isFree=true&minPrice=5&tags=go,%20api&sort=title&order=asc&page=2&limit=6", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Programming", svc.lastFilter.Category)
	require.NotNil(t, svc.lastFilter.IsFree)
	assert.True(t, *svc.lastFilter.IsFree)
	require.NotNil(t, svc.lastFilter.MinPrice)
	assert.Equal(t, 5.0, *svc.lastFilter.MinPrice)
	assert.Equal(t, []string{"go", "api"}, svc.lastFilter.Tags)
	assert.Equal(t, "title", svc.lastFilter.SortBy)
	assert.Equal(t, "asc", svc.lastFilter.SortOrder)
	assert.Equal(t, 2, svc.lastFilter.Page)
	assert.Equal(t, 6, svc.lastFilter.PageSize)

	env := decodeEnvelope(t, rec)
	assert.Equal(t, true, env.Meta["cache_hit"])
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 1, env.Pagination.Total)
}

func TestCourseHandlerListPaidAndLegacyNames(t *testing.T) {
	svc := &fakeCourseService{}
	r := newCourseRouter(svc, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/courses?isFree=false", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.lastFilter.IsFree)
	assert.False(t, *svc.lastFilter.IsFree)
	assert.Empty(t, svc.lastFilter.SortBy)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/courses?price=free&sortBy=averageRating&sortOrder=desc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.lastFilter.IsFree)
	assert.True(t, *svc.lastFilter.IsFree)
	assert.Equal(t, "averageRating", svc.lastFilter.SortBy)
	assert.Equal(t, "desc", svc.lastFilter.SortOrder)
}

func TestCourseHandlerListRejectsBadPrice(t *testing.T) {
	r := newCourseRouter(&fakeCourseService{}, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/courses?isFree=maybe", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/courses?price=cheap", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/courses?maxPrice=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCourseHandlerSearchRequiresQuery(t *testing.T) {
	svc := &fakeCourseService{}
	r := newCourseRouter(svc, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/courses/search", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/courses/search?q=golang", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "golang", svc.lastQuery)
}

func TestCourseHandlerGetPassesViewer(t *testing.T) {
	svc := &fakeCourseService{}
	viewer := &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent}
	r := newCourseRouter(svc, viewer)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/courses/c1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, viewer, svc.lastViewer)

	svc.err = appErrors.Clone(appErrors.ErrNotFound, "course not found")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/courses/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, appErrors.ErrNotFound.Code, decodeEnvelope(t, rec).Error.Code)
}

func TestCourseHandlerCreateJSON(t *testing.T) {
	svc := &fakeCourseService{}
	r := newCourseRouter(svc, &models.JWTClaims{UserID: "edu-1", Role: models.RoleEducator})

	body := `{"title":"Data Science 101","description":"A long enough description of the course","category":"Data Science","level":"Beginner"}`
	req := httptest.NewRequest(http.MethodPost, "/courses", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Data Science 101", svc.lastCreate.Title)
	assert.Nil(t, svc.lastThumbnail)
}

func TestCourseHandlerCreateMultipart(t *testing.T) {
	svc := &fakeCourseService{}
	r := newCourseRouter(svc, &models.JWTClaims{UserID: "edu-1", Role: models.RoleEducator})

	buf := new(bytes.Buffer)
	writer := multipart.NewWriter(buf)
	require.NoError(t, writer.WriteField("courseData", `{"title":"Design Basics","category":"Design","level":"Beginner"}`))
	partHeader := textproto.MIMEHeader{}
	partHeader.Set("Content-Disposition", `form-data; name="image"; filename="cover.png"`)
	partHeader.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(partHeader)
	require.NoError(t, err)
	_, _ = part.Write([]byte("png-bytes"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/courses", buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Design Basics", svc.lastCreate.Title)
	require.NotNil(t, svc.lastThumbnail)
	assert.Equal(t, "cover.png", svc.lastThumbnail.Filename)
	assert.Equal(t, "image/png", svc.lastThumbnail.ContentType)
	assert.Equal(t, "png-bytes", svc.thumbnailBody)
}

func TestCourseHandlerCreateRequiresPrincipal(t *testing.T) {
	r := newCourseRouter(&fakeCourseService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/courses", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCourseHandlerDeleteReportsArchive(t *testing.T) {
	svc := &fakeCourseService{archived: true}
	r := newCourseRouter(svc, &models.JWTClaims{UserID: "edu-1", Role: models.RoleEducator})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/courses/c1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeEnvelope(t, rec).Message, "archived")
}

func TestCourseHandlerExportStudentsCSV(t *testing.T) {
	r := newCourseRouter(&fakeCourseService{}, &models.JWTClaims{UserID: "edu-1", Role: models.RoleEducator})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/courses/c1/students/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "go-in-practice-students.csv")
	assert.Contains(t, rec.Body.String(), "Ada Lovelace")
}
