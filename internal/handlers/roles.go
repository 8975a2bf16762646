package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nexocrm/authsvc/internal/auth"
	"github.com/nexocrm/authsvc/internal/services"
)

type RoleHandler struct {
	roleService *services.RoleService
}

func NewRoleHandler(roleService *services.RoleService) *RoleHandler {
	return &RoleHandler{roleService: roleService}
}

// RoleRouter registers role routes on r; all of them need an administrator.
func RoleRouter(r chi.Router, guard *Guard, h *RoleHandler) {
	r.Method(http.MethodGet, "/", guard.Require(auth.RoleSuperadmin, auth.RoleAdmin)(h.List))
}

func (h *RoleHandler) List(w http.ResponseWriter, r *http.Request, _ *auth.Claims) {
	roles, err := h.roleService.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}
