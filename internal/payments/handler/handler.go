package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"funnel-server/internal/checkout"
	"funnel-server/internal/observability"
	"funnel-server/internal/payments/processor"
	"funnel-server/internal/store"
)

// Handler exposes payment dispatch and the polling endpoints.
type Handler struct {
	processor processor.PaymentProcessor
	manager   *checkout.Manager
	logger    *observability.Logger
}

func New(paymentProcessor processor.PaymentProcessor, manager *checkout.Manager, logger *observability.Logger) Handler {
	return Handler{
		processor: paymentProcessor,
		manager:   manager,
		logger:    logger,
	}
}

// PartnerOfferRequest mirrors the claim captured with the checkout lead.
type PartnerOfferRequest struct {
	Partner  string `json:"partner" binding:"required"`
	ProofURL string `json:"proof_url"`
}

// PayRequest carries the fields the wizard state does not hold. The body is
// optional; a bare POST dispatches from session state alone.
type PayRequest struct {
	LeadID              *uuid.UUID           `json:"lead_id"`
	ManualOverrideToken string               `json:"manual_override_token"`
	PartnerOffer        *PartnerOfferRequest `json:"partner_offer"`
}

// HandlePay handles POST /api/checkout/sessions/:id/pay. The session must be
// complete; on success it is discarded so a refresh cannot double-dispatch.
func (h *Handler) HandlePay(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_session_id"})
		return
	}

	var req PayRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.manager.Get(ctx, id)
	if err != nil {
		if errors.Is(err, checkout.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
			return
		}
		h.logger.Error(ctx, "failed to load checkout session for payment", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if !session.IsComplete() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "incomplete_checkout"})
		return
	}

	overrideToken := session.ManualOverrideToken
	if req.ManualOverrideToken != "" {
		overrideToken = req.ManualOverrideToken
	}
	var partnerOffer *processor.PartnerOffer
	if req.PartnerOffer != nil {
		partnerOffer = &processor.PartnerOffer{
			Partner:  req.PartnerOffer.Partner,
			ProofURL: req.PartnerOffer.ProofURL,
		}
	}

	result, err := h.processor.Dispatch(ctx, processor.PaymentRequest{
		PriceID:             *session.PriceID,
		Email:               session.Email,
		Name:                session.Name,
		Phone:               session.Phone,
		MentorshipSelected:  session.MentorshipSelected,
		AffiliateCode:       session.AffiliateCode,
		ManualOverrideToken: overrideToken,
		LeadID:              req.LeadID,
		PartnerOffer:        partnerOffer,
	})
	if err != nil {
		h.respondDispatchError(c, err)
		return
	}

	if err := h.manager.Finish(ctx, id); err != nil {
		h.logger.Error(ctx, "failed to discard checkout session after dispatch", err)
	}

	resp := gin.H{
		"success":         true,
		"subscription_id": result.SubscriptionID,
		"provider":        result.Provider,
	}
	if result.CheckoutURL != "" {
		resp["checkout_url"] = result.CheckoutURL
	}
	if result.InvoiceID != "" {
		resp["invoice_id"] = result.InvoiceID
	}
	c.JSON(http.StatusOK, resp)
}

// HandlePaymentStatus handles GET /api/payments/status?subscription_id=.
func (h *Handler) HandlePaymentStatus(c *gin.Context) {
	raw := c.Query("subscription_id")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subscription_id required"})
		return
	}
	subscriptionID, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_subscription_id"})
		return
	}

	status, err := h.processor.Status(c.Request.Context(), subscriptionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription_not_found"})
			return
		}
		h.logger.Error(c.Request.Context(), "failed to load payment status", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscription_id":     status.SubscriptionID,
		"subscription_status": status.SubscriptionStatus,
		"payment_status":      status.PaymentStatus,
		"provider":            status.Provider,
		"access_granted_at":   status.AccessGrantedAt,
	})
}

// HandleSubscriptionStatus handles GET /api/subscriptions/:id/status, the
// thank-you page's polling surface.
func (h *Handler) HandleSubscriptionStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_subscription_id"})
		return
	}

	sub, err := h.processor.GetSubscription(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription_not_found"})
			return
		}
		h.logger.Error(c.Request.Context(), "failed to load subscription", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"subscription": gin.H{
			"id":                sub.ID,
			"status":            sub.Status,
			"customer_id":       sub.CustomerID,
			"product_id":        sub.ProductID,
			"access_granted_at": sub.AccessGrantedAt,
			"payment_method":    sub.PaymentMethod,
			"payment_provider":  sub.PaymentProvider,
		},
	})
}

func (h *Handler) respondDispatchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, processor.ErrIncompleteRequest):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "incomplete_checkout"})
	case errors.Is(err, processor.ErrPriceUnavailable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "price_unavailable"})
	case errors.Is(err, processor.ErrProductUnavailable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "product_unavailable"})
	case errors.Is(err, processor.ErrPixDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "pix_unavailable",
			"message": "PIX temporariamente indisponível. Use cartão ou Bitcoin.",
		})
	case errors.Is(err, processor.ErrProviderFailure):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "payment_service_error",
			"message": "Não foi possível iniciar o pagamento. Tente novamente.",
		})
	default:
		h.logger.Error(c.Request.Context(), "payment dispatch failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
