package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

type userService interface {
	Profile(ctx context.Context, principal *models.JWTClaims) (*models.User, error)
	UpdateProfile(ctx context.Context, principal *models.JWTClaims, req dto.UpdateProfileRequest) (*models.User, error)
	UpdatePreferences(ctx context.Context, principal *models.JWTClaims, req dto.UpdatePreferencesRequest) (*models.Preferences, error)
	Dashboard(ctx context.Context, principal *models.JWTClaims) (*dto.DashboardResponse, error)
	Stats(ctx context.Context, principal *models.JWTClaims) (*dto.UserStatsResponse, error)
	Enrollments(ctx context.Context, principal *models.JWTClaims, status models.EnrollmentStatus, page, limit int) (*dto.EnrolledCourseList, error)
}

type roleSwitcher interface {
	SwitchRole(ctx context.Context, principal *models.JWTClaims, req models.SwitchRoleRequest) (*models.LoginResponse, error)
}

// UserHandler serves the signed-in user's profile endpoints.
type UserHandler struct {
	service userService
	roles   roleSwitcher
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc userService, roles roleSwitcher) *UserHandler {
	return &UserHandler{service: svc, roles: roles}
}

// Profile godoc
// @Summary Get profile
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /users/profile [get]
func (h *UserHandler) Profile(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	user, err := h.service.Profile(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// UpdateProfile godoc
// @Summary Update profile
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.UpdateProfileRequest true "Profile fields"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /users/profile [put]
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid profile payload"))
		return
	}
	user, err := h.service.UpdateProfile(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// UpdatePreferences godoc
// @Summary Update preferences
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.UpdatePreferencesRequest true "Preference fields"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /users/preferences [put]
func (h *UserHandler) UpdatePreferences(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.UpdatePreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid preferences payload"))
		return
	}
	prefs, err := h.service.UpdatePreferences(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, prefs, nil)
}

// SwitchRole godoc
// @Summary Switch between student and educator
// @Description Returns a fresh token carrying the new role
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.SwitchRoleRequest true "Target role"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /users/switch-role [post]
func (h *UserHandler) SwitchRole(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req models.SwitchRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid role payload"))
		return
	}
	res, err := h.roles.SwitchRole(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Dashboard godoc
// @Summary Student dashboard
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /users/dashboard [get]
func (h *UserHandler) Dashboard(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	dashboard, err := h.service.Dashboard(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dashboard, nil)
}

// Stats godoc
// @Summary Learning stats
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /users/stats [get]
func (h *UserHandler) Stats(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Enrollments godoc
// @Summary Enrolled courses
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Param status query string false "active, completed, dropped or suspended"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /users/enrollments [get]
func (h *UserHandler) Enrollments(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	status := models.EnrollmentStatus(c.Query("status"))
	switch status {
	case "", models.EnrollmentStatusActive, models.EnrollmentStatusCompleted, models.EnrollmentStatusDropped, models.EnrollmentStatusSuspended:
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid enrollment status"))
		return
	}
	list, err := h.service.Enrollments(c.Request.Context(), claims, status, queryInt(c, "page", 1), queryInt(c, "limit", 10))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list.Courses, list.Pagination)
}
