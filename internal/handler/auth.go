package handler

import (
	"net/http"

	"github.com/msomdec/daily-report/internal/service"
)

// AuthHandler handles authentication-related HTTP requests.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token   string `json:"token"`
	UserID  int64  `json:"userId"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func toAuthResponse(res *service.AuthResult) authResponse {
	return authResponse{
		Token:   res.Token,
		UserID:  res.UserID,
		Email:   res.Email,
		Message: res.Message,
	}
}

// HandleRegister processes a JSON registration request.
// POST /api/auth/register
// Request:  {"email":"...","password":"..."}
// Response: {"token":"...","userId":1,"email":"...","message":"..."}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	res, err := h.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, "register user", err)
		return
	}

	writeJSON(w, http.StatusCreated, toAuthResponse(res))
}

// HandleLogin processes a JSON login request.
// POST /api/auth/login
// Request:  {"email":"...","password":"..."}
// Response: {"token":"...","userId":1,"email":"...","message":"..."}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, "login user", err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(res))
}

// HandleForgotPassword starts the reset flow. The ticket goes out of band.
// POST /api/auth/forgot-password
// Request:  {"email":"..."}
// Response: {"message":"..."}
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	msg, err := h.auth.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, r, "forgot password", err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

// HandleResetPassword completes the reset flow.
// POST /api/auth/reset-password
// Request:  {"token":"...","newPassword":"..."}
// Response: {"message":"..."}
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	msg, err := h.auth.ResetPassword(r.Context(), req.Token, req.NewPassword)
	if err != nil {
		writeServiceError(w, r, "reset password", err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

// HandleMe returns the identity attached to the request.
// GET /api/auth/me
// Response: {"userId":1,"email":"..."} or 401
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userId": id.UserID,
		"email":  id.Email,
	})
}
