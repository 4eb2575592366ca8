package http

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/session"
)

const maxPictureBytes = 5 << 20

// GetProfile refreshes the cached profile from the backend.
func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())
	p, err := h.backend.GetProfile(r.Context(), s.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.storeProfile(r, s, p)
	writeJSON(w, http.StatusOK, toProfileJSON(p))
}

type updateProfileRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())
	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	upd := domain.ProfileUpdate{FirstName: req.FirstName, LastName: req.LastName, Email: req.Email, Password: req.Password}
	if err := upd.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.backend.UpdateProfile(r.Context(), s.UserID, upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.storeProfile(r, s, p)
	writeJSON(w, http.StatusOK, toProfileJSON(p))
}

// UpdateProfilePicture accepts a multipart "file" field with a JPEG.
func (h *Handlers) UpdateProfilePicture(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxPictureBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, errors.Mark(errors.Wrap(err, "read picture"), domain.ErrInvalidInput))
		return
	}
	defer file.Close()

	if err := h.backend.UpdateProfilePicture(r.Context(), s.UserID, file); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.backend.GetProfile(r.Context(), s.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.storeProfile(r, s, p)
	writeJSON(w, http.StatusOK, toProfileJSON(p))
}

func (h *Handlers) storeProfile(r *http.Request, s *session.Session, p domain.Profile) {
	s.Profile = p
	if err := h.sessions.Save(r.Context(), s); err != nil {
		LoggerFrom(r.Context()).Warn("save session profile: ", err)
	}
}
