package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentState is the reconciliation view of an enrollment, derived from
// payment_status and whether a reference has been assigned.
type PaymentState string

const (
	StateAwaitingPayment      PaymentState = "AWAITING_PAYMENT"
	StateAwaitingConfirmation PaymentState = "AWAITING_CONFIRMATION"
	StateConfirmed            PaymentState = "CONFIRMED"
	StateRejected             PaymentState = "REJECTED"
)

type Enrollment struct {
	ID               uuid.UUID     `gorm:"type:uuid;primary_key" json:"id"`
	StudentID        uuid.UUID     `gorm:"type:uuid;not null;index" json:"student_id"`
	CourseID         uuid.UUID     `gorm:"type:uuid;not null;index" json:"course_id"`
	PaymentReference *string       `gorm:"size:100;unique" json:"payment_reference"`
	Amount           int64         `gorm:"not null;default:0" json:"amount"`
	PaymentStatus    PaymentStatus `gorm:"size:20;not null;default:'pending';index" json:"payment_status"`
	Progress         int           `gorm:"not null;default:0" json:"progress"`
	EnrollmentDate   time.Time     `gorm:"not null" json:"enrollment_date"`
	CompletedAt      *time.Time    `json:"completed_at"`

	Student User   `gorm:"foreignkey:StudentID" json:"-"`
	Course  Course `gorm:"foreignkey:CourseID" json:"-"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (e *Enrollment) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.PaymentStatus == "" {
		e.PaymentStatus = PaymentPending
	}
	if e.EnrollmentDate.IsZero() {
		e.EnrollmentDate = time.Now().UTC()
	}
	return nil
}

func (e Enrollment) PaymentState() PaymentState {
	switch e.PaymentStatus {
	case PaymentCompleted:
		return StateConfirmed
	case PaymentFailed:
		return StateRejected
	}
	if e.PaymentReference == nil {
		return StateAwaitingPayment
	}
	return StateAwaitingConfirmation
}

func (e Enrollment) Terminal() bool {
	return e.PaymentStatus == PaymentCompleted || e.PaymentStatus == PaymentFailed
}
