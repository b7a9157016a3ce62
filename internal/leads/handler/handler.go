package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"funnel-server/internal/apierrors"
	"funnel-server/internal/attribution"
	"funnel-server/internal/leads/processor"
	"funnel-server/internal/observability"
	"funnel-server/internal/ratelimit"
)

// EmailLimiter enforces the per-email submission budget. The per-IP budget
// runs as route middleware; email needs the parsed body, so the handler
// checks it.
type EmailLimiter interface {
	CheckEmail(ctx context.Context, email string) (ratelimit.RateLimitResult, error)
}

type Handler struct {
	processor processor.LeadProcessor
	limiter   EmailLimiter
	logger    *observability.Logger
}

func New(processor processor.LeadProcessor, limiter EmailLimiter, logger *observability.Logger) Handler {
	return Handler{
		processor: processor,
		limiter:   limiter,
		logger:    logger,
	}
}

// LandingLeadRequest represents the landing-page lead form payload.
type LandingLeadRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	LGPDConsent bool   `json:"lgpd_consent"`

	// Website is the honeypot field; the form hides it from humans.
	Website      string `json:"website"`
	ElapsedMs    int64  `json:"elapsed_ms"`
	CaptchaToken string `json:"captcha_token"`

	UTM           *attribution.Record `json:"utm"`
	AffiliateCode string              `json:"affiliate_code"`
}

// PartnerOfferRequest is a claimed partner discount pending manual review.
type PartnerOfferRequest struct {
	Partner  string `json:"partner" binding:"required"`
	ProofURL string `json:"proof_url"`
}

// CheckoutLeadRequest represents the checkout contact-step payload.
type CheckoutLeadRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	LGPDConsent bool   `json:"lgpd_consent"`

	ProductID uuid.UUID `json:"product_id" binding:"required"`
	PriceID   uuid.UUID `json:"price_id" binding:"required"`

	AffiliateCode string               `json:"affiliate_code"`
	PartnerOffer  *PartnerOfferRequest `json:"partner_offer"`
	UTM           *attribution.Record  `json:"utm"`
}

// HandleCreateLead handles POST /api/leads
func (h *Handler) HandleCreateLead(c *gin.Context) {
	ctx := c.Request.Context()

	var req LandingLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error(ctx, "failed to bind lead request", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if !h.allowEmail(c, req.Email) {
		return
	}

	sub := processor.LandingSubmission{
		Name:          req.Name,
		Email:         req.Email,
		Phone:         req.Phone,
		LGPDConsent:   req.LGPDConsent,
		Honeypot:      req.Website,
		ElapsedMs:     req.ElapsedMs,
		CaptchaToken:  req.CaptchaToken,
		Attribution:   attributionFrom(c, req.UTM),
		AffiliateCode: affiliateFrom(c, req.AffiliateCode),
		IPAddress:     observability.GetRealClientIP(c),
		UserAgent:     observability.GetRealUserAgent(c),
		DeviceType:    observability.GetDeviceType(c),
	}

	result, fieldErrs, err := h.processor.CaptureLandingLead(ctx, sub)
	if err != nil {
		if errors.Is(err, processor.ErrCaptchaFailed) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "captcha_failed"})
			return
		}
		h.logger.Error(ctx, "failed to capture landing lead", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if len(fieldErrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": fieldErrs})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "leadId": result.LeadID})
}

// HandleCreateCheckoutLead handles POST /api/checkout/leads
func (h *Handler) HandleCreateCheckoutLead(c *gin.Context) {
	ctx := c.Request.Context()

	var req CheckoutLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error(ctx, "failed to bind checkout lead request", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_fields"})
		return
	}

	if !h.allowEmail(c, req.Email) {
		return
	}

	sub := processor.CheckoutSubmission{
		Name:          req.Name,
		Email:         req.Email,
		Phone:         req.Phone,
		LGPDConsent:   req.LGPDConsent,
		ProductID:     req.ProductID,
		PriceID:       req.PriceID,
		AffiliateCode: affiliateFrom(c, req.AffiliateCode),
		Attribution:   attributionFrom(c, req.UTM),
		IPAddress:     observability.GetRealClientIP(c),
		UserAgent:     observability.GetRealUserAgent(c),
		DeviceType:    observability.GetDeviceType(c),
	}
	if req.PartnerOffer != nil {
		sub.PartnerOffer = &processor.PartnerOffer{
			Partner:  req.PartnerOffer.Partner,
			ProofURL: req.PartnerOffer.ProofURL,
		}
	}

	result, fieldErrs, err := h.processor.CaptureCheckoutLead(ctx, sub)
	if err != nil {
		if errors.Is(err, processor.ErrProductRequired) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_fields"})
			return
		}
		h.logger.Error(ctx, "failed to capture checkout lead", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if len(fieldErrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": fieldErrs})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":                      true,
		"lead_id":                      result.LeadID,
		"requires_manual_verification": result.RequiresManualVerification,
	})
}

// allowEmail checks the per-email budget and writes the 429 when exhausted.
// Limiter failures let the request through; throttling must never take the
// funnel down.
func (h *Handler) allowEmail(c *gin.Context, email string) bool {
	if email == "" {
		// Validation rejects it downstream.
		return true
	}
	ctx := c.Request.Context()
	result, err := h.limiter.CheckEmail(ctx, email)
	if err != nil {
		h.logger.Error(ctx, "email rate limit check failed", err)
		return true
	}
	if result.Allowed {
		return true
	}
	h.logger.Warn(ctx, "email rate limit exceeded",
		observability.Field{Key: "retry_after_ms", Value: result.RetryAfterMs},
	)
	apierrors.TooManyRequests(c, "EMAIL_RATE_LIMIT",
		"Too many submissions for this email. Please try again tomorrow.",
		result.RetryAfterSeconds())
	c.Abort()
	return false
}

// attributionFrom prefers the snapshot posted by the client and falls back to
// the visitor's tracker cookies when the body carries none.
func attributionFrom(c *gin.Context, fromBody *attribution.Record) attribution.Record {
	if fromBody != nil && !fromBody.IsZero() {
		return *fromBody
	}
	return attribution.FromContext(c).Attribution()
}

func affiliateFrom(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return attribution.FromContext(c).AffiliateCode()
}
