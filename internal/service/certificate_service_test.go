package service

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/storage"
)

type mockUserLookup struct {
	users map[string]*models.User
}

func (m *mockUserLookup) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func newCertificateFixture(t *testing.T, status models.EnrollmentStatus) (*CertificateService, *mockEnrollmentStore) {
	t.Helper()
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	completedAt := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	repo := &mockEnrollmentStore{enrollments: map[string]*models.Enrollment{
		enrollmentKey("stu-1", "c1"): {ID: "e1", UserID: "stu-1", CourseID: "c1", Status: status, CompletedAt: &completedAt},
	}}
	courses := &mockCourseLookup{courses: map[string]*models.Course{"c1": publishedCourse()}}
	users := &mockUserLookup{users: map[string]*models.User{
		"stu-1": {ID: "stu-1", FirstName: "Ada", LastName: "Lovelace"},
		"edu-1": {ID: "edu-1", FirstName: "Grace", LastName: "Hopper"},
	}}
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	svc := NewCertificateService(repo, courses, users, files, signer, nil, zap.NewNop(), CertificateConfig{APIPrefix: "/api/v1/"})
	return svc, repo
}

func TestCertificateServiceGenerateAndDownload(t *testing.T) {
	svc, repo := newCertificateFixture(t, models.EnrollmentStatusCompleted)

	resp, err := svc.Generate(context.Background(), student("stu-1"), "c1")
	require.NoError(t, err)
	assert.True(t, resp.Certificate.Issued)
	assert.NotEmpty(t, resp.Certificate.CertificateID)
	assert.Equal(t, "/api/v1/enrollments/certificate/c1", resp.Certificate.CertificateURL)
	require.True(t, strings.HasPrefix(resp.DownloadURL, "/api/v1/enrollments/certificate/download/"))

	stored := repo.enrollments[enrollmentKey("stu-1", "c1")].Certificate
	require.NotNil(t, stored)
	assert.Equal(t, resp.Certificate.CertificateID, stored.CertificateID)

	again, err := svc.Generate(context.Background(), student("stu-1"), "c1")
	require.NoError(t, err)
	assert.Equal(t, resp.Certificate.CertificateID, again.Certificate.CertificateID)

	token := strings.TrimPrefix(resp.DownloadURL, "/api/v1/enrollments/certificate/download/")
	file, name, err := svc.Open(token)
	require.NoError(t, err)
	defer file.Close()
	head := make([]byte, 4)
	_, err = io.ReadFull(file, head)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(head))
	assert.Equal(t, "certificate-"+resp.Certificate.CertificateID+".pdf", name)
}

func TestCertificateServiceRequiresCompletion(t *testing.T) {
	svc, _ := newCertificateFixture(t, models.EnrollmentStatusActive)

	_, err := svc.Generate(context.Background(), student("stu-1"), "c1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)

	_, err = svc.Get(context.Background(), student("stu-1"), "c1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.Generate(context.Background(), student("stu-9"), "c1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCertificateServiceRejectsTamperedToken(t *testing.T) {
	svc, _ := newCertificateFixture(t, models.EnrollmentStatusCompleted)

	_, _, err := svc.Open("abc.123.cGF0aA.deadbeef")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
