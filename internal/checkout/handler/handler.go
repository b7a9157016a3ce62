package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"funnel-server/internal/attribution"
	"funnel-server/internal/checkout"
	"funnel-server/internal/observability"
)

// Handler exposes the checkout wizard over HTTP. Every response carries the
// full session so the client never tracks wizard state on its own.
type Handler struct {
	manager *checkout.Manager
	logger  *observability.Logger
}

func New(manager *checkout.Manager, logger *observability.Logger) Handler {
	return Handler{
		manager: manager,
		logger:  logger,
	}
}

// BeginSessionRequest starts a session from the product page's buy button.
type BeginSessionRequest struct {
	ProductID          uuid.UUID `json:"product_id" binding:"required"`
	PriceID            uuid.UUID `json:"price_id" binding:"required"`
	MentorshipSelected bool      `json:"mentorship_selected"`
	AffiliateCode      string    `json:"affiliate_code"`
}

// ContactRequest carries the contact-step fields. Name and email are left to
// the manager's validation so problems come back per field.
type ContactRequest struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	AffiliateCode string `json:"affiliate_code"`
}

// SelectPriceRequest switches the session to another price of the same
// product on the explicit payment-method page.
type SelectPriceRequest struct {
	PriceID            uuid.UUID `json:"price_id" binding:"required"`
	MentorshipSelected bool      `json:"mentorship_selected"`
}

// OverrideRequest presents a manual-override token.
type OverrideRequest struct {
	Token         string `json:"token" binding:"required"`
	ApproverEmail string `json:"approver_email" binding:"required"`
}

// HandleBeginSession handles POST /api/checkout/sessions.
func (h *Handler) HandleBeginSession(c *gin.Context) {
	var req BeginSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.manager.Begin(c.Request.Context(), checkout.BeginParams{
		ProductID:          req.ProductID,
		PriceID:            req.PriceID,
		MentorshipSelected: req.MentorshipSelected,
		AffiliateCode:      affiliateFrom(c, req.AffiliateCode),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

// HandleGetSession handles GET /api/checkout/sessions/:id.
func (h *Handler) HandleGetSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	session, err := h.manager.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// HandleAdvance handles POST /api/checkout/sessions/:id/advance.
func (h *Handler) HandleAdvance(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	session, err := h.manager.Next(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// HandleBack handles POST /api/checkout/sessions/:id/back.
func (h *Handler) HandleBack(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	session, err := h.manager.Prev(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// HandleSetContact handles PUT /api/checkout/sessions/:id/contact.
func (h *Handler) HandleSetContact(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, fieldErrs, err := h.manager.SetUserInfo(c.Request.Context(), id, req.Name, req.Email, req.Phone)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if len(fieldErrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation_failed",
			"fields": fieldErrs,
		})
		return
	}

	if code := affiliateFrom(c, req.AffiliateCode); code != "" {
		session, err = h.manager.SetAffiliateCode(c.Request.Context(), id, code)
		if err != nil {
			h.respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, session)
}

// HandleSelectPrice handles PUT /api/checkout/sessions/:id/price.
func (h *Handler) HandleSelectPrice(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req SelectPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.manager.SelectPrice(c.Request.Context(), id, req.PriceID, req.MentorshipSelected)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// HandleSetOverride handles PUT /api/checkout/sessions/:id/override. The
// response is identical whether the token was accepted or discarded.
func (h *Handler) HandleSetOverride(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.manager.SetOverride(c.Request.Context(), id, req.Token, req.ApproverEmail)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, checkout.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
	case errors.Is(err, checkout.ErrProductUnavailable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "product_unavailable"})
	case errors.Is(err, checkout.ErrPriceUnavailable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "price_unavailable"})
	default:
		h.logger.Error(c.Request.Context(), "checkout session operation failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_session_id"})
		return uuid.Nil, false
	}
	return id, true
}

func affiliateFrom(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return attribution.FromContext(c).AffiliateCode()
}
