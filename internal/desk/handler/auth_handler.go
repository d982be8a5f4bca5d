package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/bitfantasy/repairdesk/internal/desk/session"
	"github.com/bitfantasy/repairdesk/internal/shared/backend"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type cookieJar struct {
	name   string
	secure bool
}

func (j *cookieJar) set(c *gin.Context, value string, expires time.Time) {
	maxAge := -1
	if value != "" {
		maxAge = int(time.Until(expires).Seconds())
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(j.name, value, maxAge, "/", "", j.secure, true)
}

type AuthHandler struct {
	mgr     *session.Manager
	cookies *cookieJar
	logger  *zap.Logger
}

func NewAuthHandler(mgr *session.Manager, cookies *cookieJar, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{mgr: mgr, cookies: cookies, logger: logger}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	sess, err := h.mgr.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Info("login failed", zap.String("email", req.Email), zap.Error(err))
		respondLoginError(c, err)
		return
	}

	h.cookies.set(c, sess.ID, sess.ExpiresAt)
	Success(c, gin.H{
		"user":      sess.User,
		"expiresAt": sess.ExpiresAt,
	})
}

// A rejected login is not an expired session: the backend's own message
// is shown as is.
func respondLoginError(c *gin.Context, err error) {
	var se *backend.ServerError
	if errors.As(err, &se) && se.Status == http.StatusUnauthorized {
		Unauthorized(c, se.Message)
		return
	}
	if errors.Is(err, session.ErrInvalidRole) {
		Forbidden(c, "Invalid user role")
		return
	}
	respondError(c, err)
}

// Logout POST /auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	if sess := sessionOf(c); sess != nil {
		h.mgr.Logout(c.Request.Context(), sess.ID)
	}
	h.cookies.set(c, "", time.Time{})
	Success(c, nil)
}

// Me GET /auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	sess := sessionOf(c)
	Success(c, gin.H{
		"user":      sess.User,
		"expiresAt": sess.ExpiresAt,
	})
}
