package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/tommyeight8/wms-prod/internal/auth"
	"github.com/tommyeight8/wms-prod/internal/rate"
	"github.com/tommyeight8/wms-prod/internal/session"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type AuthHandler struct {
	Sessions     *session.Service
	Logger       *slog.Logger
	Metrics      *Metrics
	RateLimiter  rate.Limiter
	AccessSecret []byte
	Clock        Clock
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type loginResponse struct {
	AccessToken  string               `json:"accessToken"`
	RefreshToken string               `json:"refreshToken"`
	ExpiresIn    int64                `json:"expiresIn"`
	User         *session.UserSummary `json:"user"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewAuthHandler(sessions *session.Service, logger *slog.Logger, metrics *Metrics, limiter rate.Limiter, accessSecret []byte) *AuthHandler {
	return &AuthHandler{
		Sessions:     sessions,
		Logger:       logger,
		Metrics:      metrics,
		RateLimiter:  limiter,
		AccessSecret: accessSecret,
		Clock:        systemClock{},
	}
}

func (h *AuthHandler) RegisterRoutes(r *gin.Engine) {
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh", h.Refresh)
	r.POST("/auth/logout", h.Logout)

	authed := r.Group("/auth", auth.Middleware(h.AccessSecret))
	authed.GET("/me", h.Me)
	authed.POST("/logout-all", h.LogoutAll)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "email and password are required"})
		return
	}

	allowed, retryAfter, err := h.RateLimiter.Allow(c.Request.Context(), c.ClientIP(), h.Clock.Now())
	if err != nil {
		h.Logger.Error("rate limiter failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}
	if !allowed {
		c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
		c.JSON(http.StatusTooManyRequests, errorResponse{Code: "RATE_LIMITED", Message: "too many login attempts"})
		return
	}

	pair, user, err := h.Sessions.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.Metrics.Logins.WithLabelValues("failure").Inc()
		h.writeServiceError(c, err)
		return
	}

	h.Metrics.Logins.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, loginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		User:         user,
	})
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "refreshToken is required"})
		return
	}

	pair, err := h.Sessions.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.Metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		h.writeServiceError(c, err)
		return
	}

	h.Metrics.TokenRefreshes.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "refreshToken is required"})
		return
	}

	if err := h.Sessions.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		h.Logger.Error("logout failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	h.Metrics.Logouts.Inc()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *AuthHandler) LogoutAll(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing token"})
		return
	}

	if err := h.Sessions.LogoutAll(c.Request.Context(), userID); err != nil {
		h.Logger.Error("logout-all failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing token"})
		return
	}

	user, err := h.Sessions.UserByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "invalid token"})
			return
		}
		h.Logger.Error("user lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// writeServiceError maps the session service's error taxonomy to the fixed
// wire codes. Anything outside the taxonomy is logged and surfaced as an
// opaque internal error.
func (h *AuthHandler) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "INVALID_CREDENTIALS", Message: "invalid email or password"})
	case errors.Is(err, session.ErrAccountDisabled):
		c.JSON(http.StatusForbidden, errorResponse{Code: "ACCOUNT_DISABLED", Message: "account is disabled"})
	case errors.Is(err, session.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "INVALID_TOKEN", Message: "invalid or expired token"})
	default:
		h.Logger.Error("session operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
	}
}
