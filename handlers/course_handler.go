package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/spacehub/spacehub-api/services"
)

type CreateCourseRequest struct {
	Title        string  `json:"title" validate:"required,max=255"`
	Description  string  `json:"description"`
	ThumbnailURL *string `json:"thumbnail_url" validate:"omitempty,url"`
	Price        int64   `json:"price" validate:"gte=0"`
	Currency     string  `json:"currency" validate:"omitempty,len=3"`
	IsPublished  bool    `json:"is_published"`
}

type UpdateCourseRequest struct {
	Title        *string `json:"title" validate:"omitempty,max=255"`
	Description  *string `json:"description"`
	ThumbnailURL *string `json:"thumbnail_url" validate:"omitempty,url"`
	Price        *int64  `json:"price" validate:"omitempty,gte=0"`
	IsPublished  *bool   `json:"is_published"`
}

type CourseHandler struct {
	courses *services.CourseService
}

func NewCourseHandler(courses *services.CourseService) *CourseHandler {
	return &CourseHandler{courses: courses}
}

func (h *CourseHandler) List(c *fiber.Ctx) error {
	courses, err := h.courses.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(courses)
}

// Get accepts either the course UUID or its slug.
func (h *CourseHandler) Get(c *fiber.Ctx) error {
	course, err := h.courses.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(course)
}

func (h *CourseHandler) Create(c *fiber.Ctx) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	var req CreateCourseRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	course, err := h.courses.Create(c.UserContext(), identity.UserID, services.CourseInput{
		Title:        req.Title,
		Description:  req.Description,
		ThumbnailURL: req.ThumbnailURL,
		Price:        req.Price,
		Currency:     req.Currency,
		IsPublished:  req.IsPublished,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(course)
}

func (h *CourseHandler) Update(c *fiber.Ctx) error {
	identity, err := caller(c)
	if err != nil {
		return err
	}
	courseID, err := paramUUID(c, "id")
	if err != nil {
		return err
	}
	var req UpdateCourseRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	course, err := h.courses.Update(c.UserContext(), *identity, courseID, services.CoursePatch{
		Title:        req.Title,
		Description:  req.Description,
		ThumbnailURL: req.ThumbnailURL,
		Price:        req.Price,
		IsPublished:  req.IsPublished,
	})
	if err != nil {
		return err
	}
	return c.JSON(course)
}
