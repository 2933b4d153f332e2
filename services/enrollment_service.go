package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spacehub/spacehub-api/apperr"
	"github.com/spacehub/spacehub-api/events"
	"github.com/spacehub/spacehub-api/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// createAttempts bounds the insert/lookup loop in Create. A retry is only
// needed when the blocking row turned failed between the two statements.
const createAttempts = 3

// EnrollmentView is an enrollment joined with the course fields a dashboard
// needs.
type EnrollmentView struct {
	ID               uuid.UUID            `json:"id"`
	CourseID         uuid.UUID            `json:"course_id"`
	PaymentReference *string              `json:"payment_reference"`
	PaymentStatus    models.PaymentStatus `json:"payment_status"`
	PaymentState     models.PaymentState  `json:"payment_state" gorm:"-"`
	Progress         int                  `json:"progress"`
	Amount           int64                `json:"amount"`
	EnrollmentDate   time.Time            `json:"enrollment_date"`
	CompletedAt      *time.Time           `json:"completed_at"`
	CourseTitle      string               `json:"course_title"`
	CourseSlug       string               `json:"course_slug"`
	CourseThumbnail  *string              `json:"course_thumbnail"`
	CoursePrice      int64                `json:"course_price"`
	Currency         string               `json:"currency"`
	InstructorName   string               `json:"instructor_name"`
}

type EnrollmentService struct {
	db     *gorm.DB
	events events.Publisher
	logger *slog.Logger
}

func NewEnrollmentService(db *gorm.DB, publisher events.Publisher, logger *slog.Logger) *EnrollmentService {
	return &EnrollmentService{db: db, events: publisher, logger: logger}
}

// Create inserts a pending enrollment. The insert and the duplicate check are
// one statement: ux_enrollments_active turns a second active row into a
// no-op insert. A pending row that already exists is handed back so the
// student can resume checkout; a completed one is a DuplicateEnrollment.
func (s *EnrollmentService) Create(ctx context.Context, studentID, courseID uuid.UUID) (*models.Enrollment, error) {
	var course models.Course
	err := s.db.WithContext(ctx).Where("id = ? AND is_published = ?", courseID, true).First(&course).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("course not found")
		}
		return nil, apperr.Internal(err, "failed to load course")
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		enrollment := models.Enrollment{
			StudentID: studentID,
			CourseID:  courseID,
			Amount:    course.Price,
		}
		res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&enrollment)
		if res.Error != nil {
			return nil, apperr.Internal(res.Error, "failed to create enrollment")
		}
		if res.RowsAffected == 1 {
			s.logger.InfoContext(ctx, "enrollment created", "enrollment_id", enrollment.ID, "course_id", courseID)
			return &enrollment, nil
		}

		var existing models.Enrollment
		err := s.db.WithContext(ctx).
			Where("student_id = ? AND course_id = ? AND payment_status <> ?", studentID, courseID, models.PaymentFailed).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, apperr.Internal(err, "failed to load enrollment")
		}
		if existing.PaymentStatus == models.PaymentCompleted {
			return nil, apperr.ErrDuplicateEnrollment
		}
		return &existing, nil
	}
	return nil, apperr.Conflict("enrollment is changing state, retry")
}

func (s *EnrollmentService) List(ctx context.Context, studentID uuid.UUID) ([]EnrollmentView, error) {
	views := []EnrollmentView{}
	err := s.db.WithContext(ctx).
		Table("enrollments AS e").
		Select(`e.id, e.course_id, e.payment_reference, e.payment_status, e.progress, e.amount,
			e.enrollment_date, e.completed_at,
			c.title AS course_title, c.slug AS course_slug, c.thumbnail_url AS course_thumbnail,
			c.price AS course_price, c.currency,
			u.first_name || ' ' || u.last_name AS instructor_name`).
		Joins("JOIN courses c ON c.id = e.course_id").
		Joins("JOIN users u ON u.id = c.instructor_id").
		Where("e.student_id = ?", studentID).
		Order("e.enrollment_date DESC").
		Scan(&views).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to list enrollments")
	}

	for i := range views {
		views[i].PaymentState = models.Enrollment{
			PaymentStatus:    views[i].PaymentStatus,
			PaymentReference: views[i].PaymentReference,
		}.PaymentState()
	}
	return views, nil
}

// Get returns NotFound for enrollments owned by someone else.
func (s *EnrollmentService) Get(ctx context.Context, studentID, enrollmentID uuid.UUID) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := s.db.WithContext(ctx).
		Where("id = ? AND student_id = ?", enrollmentID, studentID).
		First(&enrollment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("enrollment not found")
		}
		return nil, apperr.Internal(err, "failed to load enrollment")
	}
	return &enrollment, nil
}

// UpdateProgress only moves forward. The guard lives in the UPDATE itself so
// two concurrent writers cannot lower the stored value.
func (s *EnrollmentService) UpdateProgress(ctx context.Context, studentID, enrollmentID uuid.UUID, progress int) (*models.Enrollment, error) {
	if progress < 0 || progress > 100 {
		return nil, apperr.Wrap(apperr.ErrInvalidProgress, fmt.Errorf("progress %d outside [0,100]", progress))
	}

	enrollment, err := s.Get(ctx, studentID, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.PaymentStatus != models.PaymentCompleted {
		return nil, apperr.Conflict("enrollment is not paid")
	}

	now := time.Now().UTC()
	q := s.db.WithContext(ctx).Model(&models.Enrollment{}).Where("id = ?", enrollment.ID)
	if progress == 100 {
		// Only the writer that crosses into 100 announces completion.
		q = q.Where("progress < ?", 100)
	} else {
		q = q.Where("progress <= ?", progress)
	}
	res := q.Updates(map[string]interface{}{"progress": progress, "updated_at": now})
	if res.Error != nil {
		return nil, apperr.Internal(res.Error, "failed to update progress")
	}

	if res.RowsAffected == 0 && progress < 100 {
		return nil, apperr.Wrap(apperr.ErrInvalidProgress, fmt.Errorf("progress %d is below the stored value", progress))
	}

	updated, err := s.Get(ctx, studentID, enrollmentID)
	if err != nil {
		return nil, err
	}

	if res.RowsAffected == 1 && progress == 100 {
		s.publish(ctx, events.EnrollmentProgressCompleted, updated)
	}
	return updated, nil
}

func (s *EnrollmentService) publish(ctx context.Context, eventType string, e *models.Enrollment) {
	payload := events.EnrollmentEvent{
		EnrollmentID: e.ID,
		StudentID:    e.StudentID,
		CourseID:     e.CourseID,
		Amount:       e.Amount,
		Status:       string(e.PaymentStatus),
		Progress:     e.Progress,
	}
	if e.PaymentReference != nil {
		payload.Reference = *e.PaymentReference
	}
	if err := s.events.Publish(ctx, eventType, payload); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish event", "event", eventType, "enrollment_id", e.ID, "error", err)
	}
}
