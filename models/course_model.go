package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Course struct {
	ID              uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	InstructorID    uuid.UUID `gorm:"type:uuid;not null;index" json:"instructor_id"`
	Title           string    `gorm:"size:255;not null" json:"title"`
	Slug            string    `gorm:"size:255;not null;unique" json:"slug"`
	Description     string    `gorm:"type:text" json:"description"`
	ThumbnailURL    *string   `gorm:"size:500" json:"thumbnail_url"`
	Price           int64     `gorm:"not null" json:"price"` // minor units
	Currency        string    `gorm:"size:3;not null;default:'NGN'" json:"currency"`
	IsPublished     bool      `gorm:"not null;default:false" json:"is_published"`
	EnrollmentCount int64     `gorm:"not null;default:0" json:"enrollment_count"`

	Instructor User `gorm:"foreignkey:InstructorID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Course) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Currency == "" {
		c.Currency = "NGN"
	}
	return nil
}

type Lead struct {
	ID      uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Email   string    `gorm:"size:255;not null;unique" json:"email"`
	Name    string    `gorm:"size:255" json:"name"`
	Source  string    `gorm:"size:100" json:"source"`
	Message string    `gorm:"type:text" json:"message"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (l *Lead) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
