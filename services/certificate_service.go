package services

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spacehub/spacehub-api/apperr"
	"github.com/spacehub/spacehub-api/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

//go:embed templates/certificate.html
var certificateHTML string

var certificateTemplate = template.Must(template.New("certificate").Parse(certificateHTML))

type PDFRenderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

type FileUploader interface {
	Upload(ctx context.Context, data []byte, publicID string) (string, error)
}

type CertificateService struct {
	db       *gorm.DB
	renderer PDFRenderer
	uploader FileUploader
	logger   *slog.Logger
}

func NewCertificateService(db *gorm.DB, renderer PDFRenderer, uploader FileUploader, logger *slog.Logger) *CertificateService {
	return &CertificateService{db: db, renderer: renderer, uploader: uploader, logger: logger}
}

// Issue creates the certificate for a paid enrollment at 100% progress.
// Calling it again returns the existing certificate.
func (s *CertificateService) Issue(ctx context.Context, enrollmentID uuid.UUID) (*models.Certificate, error) {
	var existing models.Certificate
	err := s.db.WithContext(ctx).Where("enrollment_id = ?", enrollmentID).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Internal(err, "failed to load certificate")
	}

	var enrollment models.Enrollment
	err = s.db.WithContext(ctx).
		Preload("Student").
		Preload("Course").
		Preload("Course.Instructor").
		First(&enrollment, "id = ?", enrollmentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("enrollment not found")
		}
		return nil, apperr.Internal(err, "failed to load enrollment")
	}
	if enrollment.PaymentStatus != models.PaymentCompleted || enrollment.Progress < 100 {
		return nil, apperr.Conflict("enrollment is not complete")
	}
	if s.renderer == nil || s.uploader == nil {
		return nil, apperr.New(apperr.KindInternal, "certificate rendering is not configured")
	}

	issuedAt := time.Now().UTC()
	html, err := renderCertificateHTML(&enrollment, issuedAt)
	if err != nil {
		return nil, apperr.Internal(err, "failed to render certificate")
	}

	pdf, err := s.renderer.RenderPDF(ctx, html)
	if err != nil {
		return nil, apperr.Internal(err, "failed to render certificate")
	}

	publicID := fmt.Sprintf("%s_%s", enrollment.StudentID, enrollment.ID)
	certURL, err := s.uploader.Upload(ctx, pdf, publicID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to upload certificate")
	}

	cert := models.Certificate{
		EnrollmentID:   enrollment.ID,
		StudentID:      enrollment.StudentID,
		CourseID:       enrollment.CourseID,
		CourseTitle:    enrollment.Course.Title,
		CertificateURL: certURL,
		IssuedAt:       issuedAt,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&cert).Error; err != nil {
		return nil, apperr.Internal(err, "failed to save certificate")
	}

	// A concurrent issuer may have won the insert; return the stored row.
	if err := s.db.WithContext(ctx).Where("enrollment_id = ?", enrollment.ID).First(&existing).Error; err != nil {
		return nil, apperr.Internal(err, "failed to load certificate")
	}

	s.logger.InfoContext(ctx, "certificate issued", "enrollment_id", enrollment.ID, "certificate_id", existing.ID)
	return &existing, nil
}

func (s *CertificateService) List(ctx context.Context, studentID uuid.UUID) ([]models.Certificate, error) {
	certs := []models.Certificate{}
	err := s.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("issued_at DESC").
		Find(&certs).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to list certificates")
	}
	return certs, nil
}

func renderCertificateHTML(e *models.Enrollment, issuedAt time.Time) (string, error) {
	data := struct {
		StudentName    string
		CourseTitle    string
		InstructorName string
		IssuedOn       string
		CertificateNo  string
	}{
		StudentName:    e.Student.FullName(),
		CourseTitle:    e.Course.Title,
		InstructorName: e.Course.Instructor.FullName(),
		IssuedOn:       issuedAt.Format("January 2, 2006"),
		CertificateNo:  strings.ToUpper(e.ID.String()[:8]),
	}

	var buf bytes.Buffer
	if err := certificateTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
