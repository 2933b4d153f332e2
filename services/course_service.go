package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/spacehub/spacehub-api/apperr"
	"github.com/spacehub/spacehub-api/cache"
	"github.com/spacehub/spacehub-api/models"
	"gorm.io/gorm"
)

const (
	catalogListKey   = "list:published"
	maxSlugAttempts  = 20
	defaultCurrency  = "NGN"
	catalogKeyPrefix = "catalog:"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

type CourseInput struct {
	Title        string
	Description  string
	ThumbnailURL *string
	Price        int64
	Currency     string
	IsPublished  bool
}

// CoursePatch holds optional edits; nil fields are left unchanged.
type CoursePatch struct {
	Title        *string
	Description  *string
	ThumbnailURL *string
	Price        *int64
	IsPublished  *bool
}

type CourseService struct {
	db     *gorm.DB
	cache  *cache.Helper
	logger *slog.Logger
}

func NewCourseService(db *gorm.DB, catalog *cache.Helper, logger *slog.Logger) *CourseService {
	if catalog == nil {
		catalog = cache.NewHelper(nil, catalogKeyPrefix)
	}
	return &CourseService{db: db, cache: catalog, logger: logger}
}

// List returns published courses, newest first, through the catalog cache.
func (s *CourseService) List(ctx context.Context) ([]models.Course, error) {
	var courses []models.Course
	err := s.cache.GetOrLoad(ctx, catalogListKey, &courses, cache.CatalogTTL, func() (interface{}, error) {
		var fresh []models.Course
		err := s.db.WithContext(ctx).
			Where("is_published = ?", true).
			Order("created_at DESC").
			Find(&fresh).Error
		return fresh, err
	})
	if err != nil {
		return nil, apperr.Internal(err, "failed to list courses")
	}
	return courses, nil
}

// Get accepts a UUID or a slug and only returns published courses.
func (s *CourseService) Get(ctx context.Context, idOrSlug string) (*models.Course, error) {
	q := s.db.WithContext(ctx).Where("is_published = ?", true)
	if id, err := uuid.Parse(idOrSlug); err == nil {
		q = q.Where("id = ?", id)
	} else {
		q = q.Where("slug = ?", idOrSlug)
	}

	var course models.Course
	if err := q.First(&course).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("course not found")
		}
		return nil, apperr.Internal(err, "failed to load course")
	}
	return &course, nil
}

func (s *CourseService) Create(ctx context.Context, instructorID uuid.UUID, in CourseInput) (*models.Course, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperr.Validation("title is required")
	}
	if in.Price < 0 {
		return nil, apperr.Validation("price must not be negative")
	}
	if in.Currency == "" {
		in.Currency = defaultCurrency
	}

	base := Slugify(in.Title)
	if base == "" {
		return nil, apperr.Validation("title must contain letters or digits")
	}

	// The unique index on slug settles races between concurrent creates;
	// a collision just moves on to the next suffix.
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		slug := base
		if attempt > 0 {
			slug = fmt.Sprintf("%s-%d", base, attempt+1)
		}

		course := models.Course{
			InstructorID: instructorID,
			Title:        strings.TrimSpace(in.Title),
			Slug:         slug,
			Description:  in.Description,
			ThumbnailURL: in.ThumbnailURL,
			Price:        in.Price,
			Currency:     strings.ToUpper(in.Currency),
			IsPublished:  in.IsPublished,
		}
		err := s.db.WithContext(ctx).Create(&course).Error
		if err == nil {
			s.invalidateCatalog(ctx)
			s.logger.InfoContext(ctx, "course created", "course_id", course.ID, "slug", course.Slug)
			return &course, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Internal(err, "failed to create course")
		}
	}
	return nil, apperr.Conflict("could not derive a unique slug for this title")
}

// Update lets the owning instructor or any admin edit a course. The slug is
// stable once assigned so shared links keep working.
func (s *CourseService) Update(ctx context.Context, caller Identity, courseID uuid.UUID, patch CoursePatch) (*models.Course, error) {
	var course models.Course
	if err := s.db.WithContext(ctx).First(&course, "id = ?", courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("course not found")
		}
		return nil, apperr.Internal(err, "failed to load course")
	}
	if !caller.IsAdmin() && course.InstructorID != caller.UserID {
		return nil, apperr.ErrForbidden
	}

	updates := map[string]interface{}{}
	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return nil, apperr.Validation("title is required")
		}
		updates["title"] = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.ThumbnailURL != nil {
		updates["thumbnail_url"] = *patch.ThumbnailURL
	}
	if patch.Price != nil {
		if *patch.Price < 0 {
			return nil, apperr.Validation("price must not be negative")
		}
		updates["price"] = *patch.Price
	}
	if patch.IsPublished != nil {
		updates["is_published"] = *patch.IsPublished
	}
	if len(updates) == 0 {
		return &course, nil
	}

	if err := s.db.WithContext(ctx).Model(&course).Updates(updates).Error; err != nil {
		return nil, apperr.Internal(err, "failed to update course")
	}
	if err := s.db.WithContext(ctx).First(&course, "id = ?", courseID).Error; err != nil {
		return nil, apperr.Internal(err, "failed to reload course")
	}

	s.invalidateCatalog(ctx)
	return &course, nil
}

// InvalidateCatalog drops cached listings, e.g. after a confirmed payment
// moved an enrollment counter.
func (s *CourseService) InvalidateCatalog(ctx context.Context) {
	s.invalidateCatalog(ctx)
}

func (s *CourseService) invalidateCatalog(ctx context.Context) {
	cache.SafeInvalidate(ctx, s.cache, "list:*")
}

// Slugify lowercases and collapses every run of non-alphanumerics to "-".
func Slugify(title string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(title), "-")
	return strings.Trim(slug, "-")
}
