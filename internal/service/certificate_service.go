package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/export"
	"github.com/noah-isme/lms-api/pkg/storage"
	"github.com/noah-isme/lms-api/pkg/tracing"
)

type certificateEnrollments interface {
	FindByUserAndCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error)
	Mutate(ctx context.Context, userID, courseID string, fn func(*models.Enrollment) error) (*models.Enrollment, error)
}

type certificateUsers interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Exists(filename string) bool
}

type certificateRenderer interface {
	Render(cert export.Certificate) ([]byte, error)
}

// CertificateConfig tunes certificate links.
type CertificateConfig struct {
	APIPrefix string
}

// CertificateService renders completion certificates and hands out signed download links.
type CertificateService struct {
	enrollments certificateEnrollments
	courses     enrollmentCourseReader
	users       certificateUsers
	storage     fileStorage
	renderer    certificateRenderer
	signer      *storage.SignedURLSigner
	logger      *zap.Logger
	cfg         CertificateConfig
}

// NewCertificateService constructs a CertificateService.
func NewCertificateService(enrollments certificateEnrollments, courses enrollmentCourseReader, users certificateUsers, files fileStorage, signer *storage.SignedURLSigner, renderer certificateRenderer, logger *zap.Logger, cfg CertificateConfig) *CertificateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if renderer == nil {
		renderer = export.NewCertificateRenderer("")
	}
	cfg.APIPrefix = strings.TrimRight(cfg.APIPrefix, "/")
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	return &CertificateService{
		enrollments: enrollments,
		courses:     courses,
		users:       users,
		storage:     files,
		renderer:    renderer,
		signer:      signer,
		logger:      logger,
		cfg:         cfg,
	}
}

// Generate issues the certificate for a completed enrollment. Issuing is
// idempotent: an existing certificate is returned with a fresh link.
func (s *CertificateService) Generate(ctx context.Context, principal *models.JWTClaims, courseID string) (*dto.CertificateResponse, error) {
	ctx, span := tracing.Start(ctx, "certificate.generate", attribute.String("course.id", courseID))
	defer span.End()

	enrollment, err := s.loadEnrollment(ctx, principal, courseID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course must be completed to generate a certificate")
	}
	if enrollment.Certificate != nil && enrollment.Certificate.Issued && s.storage.Exists(certificatePath(enrollment.Certificate.CertificateID)) {
		return s.respond(*enrollment.Certificate)
	}

	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	student, err := s.users.FindByID(ctx, principal.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	educatorName := ""
	if educator, err := s.users.FindByID(ctx, course.EducatorID); err == nil {
		educatorName = educator.FullName()
	} else {
		s.logger.Warn("certificate educator lookup failed", zap.String("educator_id", course.EducatorID), zap.Error(err))
	}

	certificateID := uuid.NewString()
	if enrollment.Certificate != nil && enrollment.Certificate.CertificateID != "" {
		certificateID = enrollment.Certificate.CertificateID
	}
	issuedAt := time.Now().UTC()
	completedAt := issuedAt
	if enrollment.CompletedAt != nil {
		completedAt = *enrollment.CompletedAt
	}
	payload, err := s.renderer.Render(export.Certificate{
		ID:           certificateID,
		StudentName:  student.FullName(),
		CourseTitle:  course.Title,
		EducatorName: educatorName,
		CompletedAt:  completedAt,
		IssuedAt:     issuedAt,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render certificate")
	}
	if _, err := s.storage.Save(certificatePath(certificateID), payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store certificate")
	}

	url := fmt.Sprintf("%s/enrollments/certificate/%s", s.cfg.APIPrefix, courseID)
	updated, err := s.enrollments.Mutate(ctx, principal.UserID, courseID, func(e *models.Enrollment) error {
		e.IssueCertificate(certificateID, url, issuedAt)
		return nil
	})
	if err != nil {
		return nil, mapEnrollmentError(err, "failed to issue certificate")
	}
	s.logger.Info("certificate issued", zap.String("user_id", principal.UserID), zap.String("course_id", courseID), zap.String("certificate_id", updated.Certificate.CertificateID))
	return s.respond(*updated.Certificate)
}

// Get returns the issued certificate with a fresh download link.
func (s *CertificateService) Get(ctx context.Context, principal *models.JWTClaims, courseID string) (*dto.CertificateResponse, error) {
	enrollment, err := s.loadEnrollment(ctx, principal, courseID)
	if err != nil {
		return nil, err
	}
	if enrollment.Certificate == nil || !enrollment.Certificate.Issued {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not issued")
	}
	return s.respond(*enrollment.Certificate)
}

// Open validates a download token and opens the certificate file it references.
func (s *CertificateService) Open(token string) (*os.File, string, error) {
	certificateID, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired download link")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "certificate file not found")
	}
	return file, fmt.Sprintf("certificate-%s.pdf", certificateID), nil
}

func (s *CertificateService) respond(cert models.Certificate) (*dto.CertificateResponse, error) {
	token, expiresAt, err := s.signer.Generate(cert.CertificateID, certificatePath(cert.CertificateID))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign certificate link")
	}
	return &dto.CertificateResponse{
		Certificate: cert,
		DownloadURL: fmt.Sprintf("%s/enrollments/certificate/download/%s", s.cfg.APIPrefix, token),
		ExpiresAt:   &expiresAt,
	}, nil
}

func (s *CertificateService) loadEnrollment(ctx context.Context, principal *models.JWTClaims, courseID string) (*models.Enrollment, error) {
	enrollment, err := s.enrollments.FindByUserAndCourse(ctx, principal.UserID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "not enrolled in this course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

func certificatePath(certificateID string) string {
	return "certificates/" + certificateID + ".pdf"
}
