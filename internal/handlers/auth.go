package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/minewatch/minewatch/internal/api"
	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/middleware"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	db      *gorm.DB
	jwtAuth *middleware.JWTAuthMiddleware
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(db *gorm.DB, jwtAuth *middleware.JWTAuthMiddleware) *AuthHandler {
	return &AuthHandler{db: db, jwtAuth: jwtAuth}
}

// SetupRoutes sets up authentication routes
func (h *AuthHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("GET /auth/verify", h.handleVerify)
}

// handleLogin handles POST /auth/login
func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var user database.User
	err := h.db.WithContext(r.Context()).Where("email = ?", email).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		api.RespondServiceError(w, err)
		return
	}
	if err != nil || !user.Active || !middleware.CheckPassword(req.Password, user.PasswordHash) {
		log.Printf("AuthHandler: Failed login attempt for '%s' from %s", email, r.RemoteAddr)
		api.RespondErrorWithCode(w, http.StatusUnauthorized, api.CodeUnauthorized, "Invalid email or password")
		return
	}

	token, err := h.jwtAuth.GenerateToken(&user)
	if err != nil {
		log.Printf("AuthHandler: Failed to generate token for '%s': %v", email, err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	now := time.Now()
	if err := h.db.WithContext(r.Context()).Model(&user).Update("last_login_at", now).Error; err != nil {
		log.Printf("AuthHandler: Failed to record login for '%s': %v", email, err)
	}
	user.LastLoginAt = &now

	log.Printf("AuthHandler: User '%s' (%s) logged in from %s", email, user.Role, r.RemoteAddr)
	api.RespondJSON(w, http.StatusOK, api.LoginResponse{
		Token:     token,
		ExpiresIn: h.jwtAuth.ExpiresIn(),
		User:      &user,
	})
}

// handleVerify handles GET /auth/verify and returns the current user
func (h *AuthHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		api.RespondErrorWithCode(w, http.StatusUnauthorized, api.CodeUnauthorized, "Not authenticated")
		return
	}

	var user database.User
	if err := h.db.WithContext(r.Context()).First(&user, p.UserID).Error; err != nil || !user.Active {
		api.RespondErrorWithCode(w, http.StatusUnauthorized, api.CodeUnauthorized, "Not authenticated")
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"valid": true,
		"user":  &user,
	})
}
