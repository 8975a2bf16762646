package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/nexocrm/authsvc/internal/services"
	"github.com/nexocrm/authsvc/internal/store"
	"github.com/rs/zerolog/log"
)

const maxJSONBody = 1 << 20

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Message string `json:"message"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	// bcrypt rejects passwords over 72 bytes; max counts runes.
	if err := v.RegisterValidation("maxbytes", maxBytes); err != nil {
		panic(err)
	}
	return v
}

func maxBytes(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return len(fl.Field().String()) <= limit
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Message: message})
}

// decodeJSON reads a JSON body into dst and validates it. It writes a 400 and
// returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if normalizer, ok := dst.(interface{ normalize() }); ok {
		normalizer.normalize()
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "email":
			parts = append(parts, field+" must be a valid email")
		case "min":
			parts = append(parts, fmt.Sprintf("%s must have at least %s item(s) or characters", field, fe.Param()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		case "maxbytes":
			parts = append(parts, fmt.Sprintf("%s must be at most %s bytes", field, fe.Param()))
		default:
			parts = append(parts, field+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}

// idParam parses the {id} URL parameter. It writes a 400 and returns false
// when the id is not a positive integer.
func idParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

// writeServiceError maps service and store errors to HTTP responses.
// Unclassified errors are logged and reported as a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var unknownRoles *services.UnknownRolesError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "email is already registered")
	case errors.As(err, &unknownRoles):
		writeError(w, http.StatusBadRequest, unknownRoles.Error())
	case errors.Is(err, services.ErrRolesRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, services.ErrAvatarTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "avatar must be at most 5 MiB")
	case errors.Is(err, services.ErrUnsupportedAvatarType):
		writeError(w, http.StatusUnsupportedMediaType, "avatar must be a png, jpeg, gif or webp image")
	default:
		log.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
