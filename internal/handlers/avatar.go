package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/nexocrm/authsvc/internal/auth"
	"github.com/nexocrm/authsvc/internal/services"
	"github.com/nexocrm/authsvc/internal/store"
	"github.com/rs/zerolog/log"
)

const avatarFormField = "avatar"

// AvatarHandler uploads and serves profile pictures.
type AvatarHandler struct {
	avatarService *services.AvatarService
}

func NewAvatarHandler(avatarService *services.AvatarService) *AvatarHandler {
	return &AvatarHandler{avatarService: avatarService}
}

type AvatarResponse struct {
	Message   string `json:"message"`
	AvatarKey string `json:"avatar_key"`
}

// Upload stores the multipart "avatar" file as the caller's avatar.
func (h *AvatarHandler) Upload(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	r.Body = http.MaxBytesReader(w, r.Body, services.MaxAvatarSize+(1<<20))
	if err := r.ParseMultipartForm(services.MaxAvatarSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeServiceError(w, r, services.ErrAvatarTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, _, err := r.FormFile(avatarFormField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "avatar is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, services.MaxAvatarSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read avatar")
		return
	}

	key, err := h.avatarService.Upload(r.Context(), claims.UserID, data)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AvatarResponse{Message: "avatar updated", AvatarKey: key})
}

// Download streams a user's avatar.
func (h *AvatarHandler) Download(w http.ResponseWriter, r *http.Request, _ *auth.Claims) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	h.stream(w, r, id)
}

// DownloadOwn streams the caller's avatar.
func (h *AvatarHandler) DownloadOwn(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	h.stream(w, r, claims.UserID)
}

func (h *AvatarHandler) stream(w http.ResponseWriter, r *http.Request, id int) {
	reader, contentType, err := h.avatarService.Open(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "avatar not found")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil {
		log.Warn().Err(err).Int("user_id", id).Msg("avatar stream interrupted")
	}
}
