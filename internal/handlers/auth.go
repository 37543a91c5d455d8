package handlers

import (
	"net/http"

	"github.com/eims-app/apiserver/internal/apperr"
	"github.com/eims-app/apiserver/internal/auth"
	"github.com/eims-app/apiserver/internal/services"
	"github.com/eims-app/apiserver/types"
	"github.com/go-chi/chi/v5"
)

// AuthHandler provides signup, login and password endpoints.
type AuthHandler struct {
	authService *services.AuthService
	baseURL     string
}

// NewAuthHandler constructs an AuthHandler. baseURL overrides the origin used
// in emailed links; when empty it is taken from the request.
func NewAuthHandler(authService *services.AuthService, baseURL string) *AuthHandler {
	return &AuthHandler{authService: authService, baseURL: baseURL}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

type UpdatePasswordRequest struct {
	PasswordCurrent string `json:"passwordCurrent"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

type userData struct {
	User *types.User `json:"user"`
}

// Signup creates an account and starts a session.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req services.SignupInput
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	user, token, err := h.authService.Signup(r.Context(), req, baseURL(h.baseURL, r)+"/api/v1/users/me")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.sendToken(w, r, http.StatusOK, user, token)
}

// Login verifies credentials and starts a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	user, token, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.sendToken(w, r, http.StatusOK, user, token)
}

// Logout overwrites the session cookie. Tokens held elsewhere stay valid
// until they expire.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, SuccessResponse{Status: "success"})
}

// ForgotPassword mails a one-time reset link.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	resetURL := baseURL(h.baseURL, r) + "/api/v1/users/resetPassword"
	if err := h.authService.RequestPasswordReset(r.Context(), req.Email, resetURL); err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Status: "success", Message: "Token sent to email!"})
}

// ResetPassword consumes a reset token and starts a session.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	user, token, err := h.authService.ResetPassword(r.Context(), chi.URLParam(r, "token"), req.Password, req.PasswordConfirm)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.sendToken(w, r, http.StatusOK, user, token)
}

// UpdatePassword changes the password of the logged-in user.
func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	current, ok := IdentityFromContext(r.Context())
	if !ok {
		WriteError(w, r, apperr.Unauthenticated("You are not logged in! Please log in to get access."))
		return
	}
	var req UpdatePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	user, token, err := h.authService.UpdatePassword(r.Context(), current, req.PasswordCurrent, req.Password, req.PasswordConfirm)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.sendToken(w, r, http.StatusOK, user, token)
}

// Session reports the caller's identity, or a null user for anonymous callers.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	var data userData
	if user, ok := IdentityFromContext(r.Context()); ok {
		data.User = &user
	}
	writeData(w, http.StatusOK, data)
}

func (h *AuthHandler) sendToken(w http.ResponseWriter, r *http.Request, status int, user types.User, token auth.IssuedToken) {
	auth.SetSessionCookie(w, r, token)
	writeJSON(w, status, SuccessResponse{
		Status: "success",
		Token:  token.Value,
		Data:   userData{User: &user},
	})
}
