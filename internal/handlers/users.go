package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/nexocrm/authsvc/internal/auth"
	"github.com/nexocrm/authsvc/internal/services"
	"github.com/nexocrm/authsvc/types"
)

// UserHandler provides user administration endpoints.
type UserHandler struct {
	userService *services.UserService
}

func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// UserRouter registers user routes on r. Avatar routes are only mounted when
// avatars is non-nil.
func UserRouter(r chi.Router, guard *Guard, h *UserHandler, avatars *AvatarHandler) {
	admins := guard.Require(auth.RoleSuperadmin, auth.RoleAdmin)
	superadmins := guard.Require(auth.RoleSuperadmin)

	r.Method(http.MethodGet, "/", admins(h.List))
	r.Method(http.MethodPost, "/", admins(h.Create))
	r.Method(http.MethodGet, "/me", guard.Authenticate(h.Me))
	r.Method(http.MethodGet, "/{id}", admins(h.Get))
	r.Method(http.MethodPut, "/{id}", admins(h.Update))
	r.Method(http.MethodDelete, "/{id}", superadmins(h.ToggleActive))

	if avatars != nil {
		r.Method(http.MethodPut, "/me/avatar", guard.Authenticate(avatars.Upload))
		r.Method(http.MethodGet, "/me/avatar", guard.Authenticate(avatars.DownloadOwn))
		r.Method(http.MethodGet, "/{id}/avatar", guard.Authenticate(avatars.Download))
	}
}

type CreateUserRequest struct {
	FirstName   string   `json:"firstName" validate:"required,max=100"`
	LastName    string   `json:"lastName" validate:"required,max=100"`
	Email       string   `json:"email" validate:"required,email,max=255"`
	Password    string   `json:"password" validate:"required,maxbytes=72"`
	Position    *string  `json:"position" validate:"omitempty,max=100"`
	PhoneNumber *string  `json:"phoneNumber" validate:"omitempty,max=30"`
	Roles       []string `json:"roles" validate:"required,min=1,dive,required"`
}

func (req *CreateUserRequest) normalize() {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = services.NormalizeEmail(req.Email)
}

// UpdateUserRequest leaves optional fields nil when absent from the body.
type UpdateUserRequest struct {
	FirstName   string    `json:"firstName" validate:"required,max=100"`
	LastName    string    `json:"lastName" validate:"required,max=100"`
	Email       string    `json:"email" validate:"required,email,max=255"`
	Position    *string   `json:"position" validate:"omitempty,max=100"`
	PhoneNumber *string   `json:"phoneNumber" validate:"omitempty,max=30"`
	IsActive    *bool     `json:"isActive"`
	Roles       *[]string `json:"roles" validate:"omitempty,dive,required"`
}

func (req *UpdateUserRequest) normalize() {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = services.NormalizeEmail(req.Email)
}

type UserResponse struct {
	Message string              `json:"message"`
	User    types.UserWithRoles `json:"user"`
}

type ToggleActiveResponse struct {
	Message  string `json:"message"`
	IsActive bool   `json:"is_active"`
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request, _ *auth.Claims) {
	users, err := h.userService.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// Me returns the caller's own profile.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	user, err := h.userService.GetByID(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request, _ *auth.Claims) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	user, err := h.userService.GetWithRoles(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req CreateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.userService.Create(r.Context(), claims, services.CreateUserInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		Password:    req.Password,
		Position:    req.Position,
		PhoneNumber: req.PhoneNumber,
		Roles:       req.Roles,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, UserResponse{Message: "user created successfully", User: user})
}

// Update writes the profile. Only a Superadmin's roles field is applied.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req UpdateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.userService.Update(r.Context(), claims, services.UpdateUserInput{
		ID:          id,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		Position:    req.Position,
		PhoneNumber: req.PhoneNumber,
		IsActive:    req.IsActive,
		Roles:       req.Roles,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{Message: "user updated successfully", User: user})
}

// ToggleActive flips the user's active flag. Users are never deleted.
func (h *UserHandler) ToggleActive(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	active, err := h.userService.ToggleActive(r.Context(), claims, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	message := "user deactivated"
	if active {
		message = "user activated"
	}
	writeJSON(w, http.StatusOK, ToggleActiveResponse{Message: message, IsActive: active})
}
