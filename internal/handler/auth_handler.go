package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"identity-service/internal/models"
	"identity-service/internal/service"
	"identity-service/internal/util"
)

// AuthHandler exposes signup, OTP verification and login over HTTP.
type AuthHandler struct {
	auth   *service.AuthService
	logger *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		logger: logger,
	}
}

// Response is the uniform envelope for every endpoint.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

func errorResponse(message string) Response {
	return Response{Success: false, Error: message}
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

type SignupRequest struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     models.Role `json:"role,omitempty"`
}

type VerifyOTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.Signup)
		r.Post("/verify-otp", h.VerifyOTP)
		r.Post("/login", h.Login)
	})
}

// RegisterProtectedRoutes mounts the routes that need a valid access token.
func (h *AuthHandler) RegisterProtectedRoutes(r chi.Router) {
	r.Get("/auth/sessions", h.Sessions)

	r.Group(func(r chi.Router) {
		r.Use(RequireRole(models.RoleAdmin))
		r.Get("/auth/stats", h.Stats)
	})
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	if !validEmail(req.Email) || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("email and password required"))
		return
	}

	result, err := h.auth.Signup(r.Context(), req.Email, req.Password, req.Role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, successResponse(result, result.Message))
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	if !validEmail(req.Email) || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("email and OTP code required"))
		return
	}

	result, err := h.auth.VerifyOTP(r.Context(), req.Email, req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse(result, result.Message))
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	if !validEmail(req.Email) || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("email and password required"))
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse(result, result.Message))
}

// Sessions lists the caller's recorded sessions.
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("missing bearer token"))
		return
	}

	accountID, err := claims.AccountID()
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse("invalid or expired token"))
		return
	}

	sessions, err := h.auth.TokenService().SessionsForAccount(r.Context(), accountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	type sessionView struct {
		SessionID string `json:"sessionId"`
		ExpiresAt string `json:"expiresAt"`
		CreatedAt string `json:"createdAt"`
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			SessionID: s.SessionID,
			ExpiresAt: s.ExpiresAt.UTC().Format(time.RFC3339),
			CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, successResponse(views, ""))
}

func (h *AuthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.auth.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(stats, ""))
}

// writeError maps service error kinds to HTTP statuses. Anything unmapped
// is an infrastructure failure: logged in full, surfaced opaquely.
func (h *AuthHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse(service.ErrInvalidInput.Error()))
	case errors.Is(err, service.ErrAccountExists):
		writeJSON(w, http.StatusConflict, errorResponse(service.ErrAccountExists.Error()))
	case errors.Is(err, service.ErrAccountNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse(service.ErrAccountNotFound.Error()))
	case errors.Is(err, service.ErrAccountUnverified):
		writeJSON(w, http.StatusForbidden, errorResponse(service.ErrAccountUnverified.Error()))
	case errors.Is(err, service.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorResponse(service.ErrInvalidCredentials.Error()))
	case errors.Is(err, service.ErrOTPNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse(service.ErrOTPNotFound.Error()))
	case errors.Is(err, service.ErrOTPMismatch):
		writeJSON(w, http.StatusBadRequest, errorResponse(service.ErrOTPMismatch.Error()))
	default:
		h.logger.Error("request failed",
			util.String("method", r.Method),
			util.String("path", r.URL.Path),
			util.ErrorField(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
	}
}

func validEmail(email string) bool {
	if email == "" || strings.ContainsAny(email, " \t") {
		return false
	}
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1
}
