package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spacehub/spacehub-api/apperr"
	"github.com/spacehub/spacehub-api/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LeadInput struct {
	Email   string
	Name    string
	Source  string
	Message string
}

type LeadService struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewLeadService(db *gorm.DB, logger *slog.Logger) *LeadService {
	return &LeadService{db: db, logger: logger}
}

// Capture stores a lead. Submitting the same email again refreshes the
// existing row instead of failing.
func (s *LeadService) Capture(ctx context.Context, in LeadInput) (*models.Lead, error) {
	lead := models.Lead{
		Email:   strings.ToLower(strings.TrimSpace(in.Email)),
		Name:    in.Name,
		Source:  in.Source,
		Message: in.Message,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "source", "message", "updated_at"}),
	}).Create(&lead).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to save lead")
	}

	var stored models.Lead
	if err := s.db.WithContext(ctx).Where("email = ?", lead.Email).First(&stored).Error; err != nil {
		return nil, apperr.Internal(err, "failed to load lead")
	}

	s.logger.InfoContext(ctx, "lead captured", "lead_id", stored.ID, "source", stored.Source)
	return &stored, nil
}

func (s *LeadService) List(ctx context.Context, limit, offset int) ([]models.Lead, int64, error) {
	var (
		leads []models.Lead
		total int64
	)
	if err := s.db.WithContext(ctx).Model(&models.Lead{}).Count(&total).Error; err != nil {
		return nil, 0, apperr.Internal(err, "failed to count leads")
	}
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&leads).Error
	if err != nil {
		return nil, 0, apperr.Internal(err, "failed to list leads")
	}
	return leads, total, nil
}
