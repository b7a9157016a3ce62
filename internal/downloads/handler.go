package downloads

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"funnel-server/internal/observability"
)

// Handler exposes the lead-magnet download endpoints.
type Handler struct {
	service *Service
	logger  *observability.Logger
}

func NewHandler(service *Service, logger *observability.Logger) Handler {
	return Handler{
		service: service,
		logger:  logger,
	}
}

// DownloadLinkRequest asks for a fresh signed link.
type DownloadLinkRequest struct {
	Email string `json:"email" binding:"required"`
}

// HandleCreateLink handles POST /api/downloads/link.
func (h *Handler) HandleCreateLink(c *gin.Context) {
	var req DownloadLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Email is required",
			"code":  "missing_email",
		})
		return
	}

	link, err := h.service.IssueLink(c.Request.Context(), req.Email)
	if err != nil {
		var limitErr *LimitError
		switch {
		case errors.Is(err, ErrLeadNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Lead not found",
				"code":  "lead_not_found",
			})
		case errors.As(err, &limitErr):
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": fmt.Sprintf("Download limit reached. Try again in %d hours.", limitErr.RetryAfterHours()),
				"code":  "download_limit_exceeded",
			})
		case errors.Is(err, ErrStorageUnconfigured):
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Download temporarily unavailable",
				"code":  "storage_not_configured",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate download link",
				"code":  "internal_error",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":                 true,
		"downloadUrl":        link.URL,
		"expiresIn":          link.ExpiresIn,
		"remainingDownloads": link.RemainingDownloads,
	})
}

// HandleServeFile handles GET /downloads/file. The token carries the storage
// path, so the route itself never exposes it.
func (h *Handler) HandleServeFile(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "Missing token", "code": "invalid_token"})
		return
	}

	path, err := h.service.ResolveToken(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			c.JSON(http.StatusGone, gin.H{"error": "Download link expired", "code": "link_expired"})
			return
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid token", "code": "invalid_token"})
		return
	}

	c.FileAttachment(path, filepath.Base(path))
}
