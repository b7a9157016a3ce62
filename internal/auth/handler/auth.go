package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"funnel-server/internal/auth/processor"
	"funnel-server/internal/observability"
)

// Context keys set by the JWT middleware for downstream handlers.
const (
	ContextAdminID    = "Admin-ID"
	ContextAdminEmail = "Admin-Email"
)

type Handler struct {
	authProcessor processor.AuthProcessor
	logger        *observability.Logger
}

func New(authProcessor processor.AuthProcessor, logger *observability.Logger) Handler {
	return Handler{authProcessor: authProcessor, logger: logger}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// HandleLogin handles POST /api/auth/login. Every rejection is the same 401
// so the endpoint reveals nothing about whitelist membership.
func (h *Handler) HandleLogin(c *gin.Context) {
	ctx := c.Request.Context()

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, err := h.authProcessor.Login(ctx, req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// HandleJWTMiddleware gates the admin console routes. A valid token whose
// email has dropped off the whitelist is still rejected; the 403 carries no
// reason.
func (h *Handler) HandleJWTMiddleware(c *gin.Context) {
	ctx := c.Request.Context()

	tokenHeader := c.GetHeader("Authorization")
	if tokenHeader == "" || !strings.HasPrefix(tokenHeader, "Bearer ") {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
		c.Abort()
		return
	}
	tokenString := strings.TrimPrefix(tokenHeader, "Bearer ")

	claims, err := h.authProcessor.ValidateJWTToken(ctx, tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		c.Abort()
		return
	}

	if !h.authProcessor.IsAdminEmail(claims.Email) {
		h.logger.Warn(ctx, "token presented by non-whitelisted email",
			observability.Field{Key: "email", Value: claims.Email},
		)
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		c.Abort()
		return
	}

	c.Set(ContextAdminID, claims.Subject)
	c.Set(ContextAdminEmail, claims.Email)
	c.Next()
}

// HandleMe handles GET /api/admin/me.
func (h *Handler) HandleMe(c *gin.Context) {
	email := c.GetString(ContextAdminEmail)
	if email == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":    c.GetString(ContextAdminID),
		"email": email,
	})
}

// AdminEmail returns the authenticated operator's email from the request
// context.
func AdminEmail(c *gin.Context) string {
	return c.GetString(ContextAdminEmail)
}
