package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/eims-app/apiserver/internal/apperr"
	"github.com/eims-app/apiserver/internal/auth"
	"github.com/eims-app/apiserver/internal/services"
	"github.com/eims-app/apiserver/internal/storage"
	"github.com/eims-app/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

const formFieldPhoto = "photo"

// UserHandler serves self-service and admin user endpoints.
type UserHandler struct {
	userService *services.UserService
	photos      *storage.PhotoStore
}

// NewUserHandler constructs a UserHandler. photos may be nil when no object
// storage is configured.
func NewUserHandler(userService *services.UserService, photos *storage.PhotoStore) *UserHandler {
	return &UserHandler{userService: userService, photos: photos}
}

type UpdateMeRequest struct {
	Name            *string `json:"name"`
	Email           *string `json:"email"`
	MobileNo        *string `json:"mobileNo"`
	Role            *string `json:"role"`
	Password        *string `json:"password"`
	PasswordConfirm *string `json:"passwordConfirm"`
}

type UpdateUserRequest struct {
	Name     *string     `json:"name"`
	Email    *string     `json:"email"`
	MobileNo *string     `json:"mobileNo"`
	Role     *types.Role `json:"role"`
}

type usersData struct {
	Users []types.User `json:"users"`
	Total int          `json:"total"`
	Page  int          `json:"page"`
}

// GetMe returns the logged-in user.
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identity(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, userData{User: &user})
}

// UpdateMe changes the caller's profile. Password and role changes are
// rejected here.
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	current, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req UpdateMeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if req.Password != nil || req.PasswordConfirm != nil {
		WriteError(w, r, apperr.Validation("This route is not for password updates. Please use /updateMyPassword."))
		return
	}
	if req.Role != nil {
		WriteError(w, r, apperr.Validation("This route is not for role changes."))
		return
	}

	user, err := h.userService.UpdateProfile(r.Context(), current.ID, services.ProfileUpdate{
		Name:     req.Name,
		Email:    req.Email,
		MobileNo: req.MobileNo,
	}, false)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, userData{User: &user})
}

// DeleteMe deactivates the caller's account and ends the session.
func (h *UserHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	current, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := h.userService.Deactivate(r.Context(), current.ID); err != nil {
		WriteError(w, r, err)
		return
	}
	auth.ClearSessionCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// UploadPhoto stores a new profile photo for the caller.
func (h *UserHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	current, ok := h.identity(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxPhotoSize+(1<<20))
	file, header, err := r.FormFile(formFieldPhoto)
	if err != nil {
		WriteError(w, r, apperr.Validation("Please upload an image in the photo field"))
		return
	}
	defer file.Close()

	key, err := h.photos.Save(r.Context(), current.ID, file, header.Size, header.Header.Get("Content-Type"))
	switch {
	case errors.Is(err, storage.ErrUnsupportedType):
		WriteError(w, r, apperr.Validation("Not an image! Please upload only jpeg, png or webp images."))
		return
	case errors.Is(err, storage.ErrTooLarge):
		WriteError(w, r, apperr.Validation("Photo must be at most 5 MB"))
		return
	case err != nil:
		WriteError(w, r, err)
		return
	}

	user, err := h.userService.SetPhoto(r.Context(), current.ID, key)
	if err != nil {
		_ = h.photos.Remove(r.Context(), key)
		WriteError(w, r, err)
		return
	}
	if current.Photo != nil && *current.Photo != key {
		if err := h.photos.Remove(r.Context(), *current.Photo); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Str("key", *current.Photo).Msg("failed to remove old photo")
		}
	}
	writeData(w, http.StatusOK, userData{User: &user})
}

// GetPhoto streams the caller's profile photo.
func (h *UserHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	current, ok := h.identity(w, r)
	if !ok {
		return
	}
	if current.Photo == nil {
		WriteError(w, r, apperr.NotFound("No photo uploaded"))
		return
	}

	rc, err := h.photos.Open(r.Context(), *current.Photo)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			WriteError(w, r, apperr.NotFound("No photo uploaded"))
			return
		}
		WriteError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", storage.ContentType(*current.Photo))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// ListUsers returns a page of users, optionally filtered by role.
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	users, total, err := h.userService.List(r.Context(), types.UserFilter{
		Role:   types.Role(strings.TrimSpace(r.URL.Query().Get("role"))),
		Sort:   strings.TrimSpace(r.URL.Query().Get("sort")),
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if users == nil {
		users = []types.User{}
	}

	results := len(users)
	writeJSON(w, http.StatusOK, SuccessResponse{
		Status:  "success",
		Results: &results,
		Data:    usersData{Users: users, Total: total, Page: page},
	})
}

// GetUser returns one user by id.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.GetByID(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, userData{User: &user})
}

// UpdateUser changes a user's profile or role. Passwords cannot be set here.
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	user, err := h.userService.UpdateProfile(r.Context(), chi.URLParam(r, "userID"), services.ProfileUpdate{
		Name:     req.Name,
		Email:    req.Email,
		MobileNo: req.MobileNo,
		Role:     req.Role,
	}, true)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, userData{User: &user})
}

// DeleteUser removes a user permanently.
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.userService.Delete(r.Context(), chi.URLParam(r, "userID")); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) identity(w http.ResponseWriter, r *http.Request) (types.User, bool) {
	user, ok := IdentityFromContext(r.Context())
	if !ok {
		WriteError(w, r, apperr.Unauthenticated("You are not logged in! Please log in to get access."))
	}
	return user, ok
}
