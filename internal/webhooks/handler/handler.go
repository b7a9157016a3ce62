// Package handler terminates provider webhook deliveries. Signature
// verification happens here, against the raw body, before any JSON is
// trusted.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79/webhook"

	"funnel-server/internal/observability"
	"funnel-server/internal/webhooks/processor"
)

type Handler struct {
	processor processor.WebhookProcessor
	logger    *observability.Logger
}

func New(webhookProcessor processor.WebhookProcessor, logger *observability.Logger) Handler {
	return Handler{processor: webhookProcessor, logger: logger}
}

// HandleProviderWebhook handles POST /webhooks/payments/:provider. Unverified
// deliveries get 401 and are never recorded; processing failures get 500 so
// the provider redelivers.
func (h *Handler) HandleProviderWebhook(c *gin.Context) {
	provider := c.Param("provider")
	ctx := observability.WithFields(c.Request.Context(),
		observability.Field{Key: "webhook_provider", Value: provider},
	)
	c.Request = c.Request.WithContext(ctx)

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error(ctx, "failed to read webhook body", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if len(payload) == 0 {
		h.logger.Warn(ctx, "empty webhook payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty payload"})
		return
	}

	switch provider {
	case "stripe":
		h.handleStripe(c, payload)
	case "btcpay", "btcpayserver":
		h.handleBTCPay(c, payload)
	default:
		h.logger.Warn(ctx, "webhook for unknown provider")
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
	}
}

func (h *Handler) handleStripe(c *gin.Context, payload []byte) {
	ctx := c.Request.Context()

	signature := c.GetHeader("Stripe-Signature")
	if signature == "" {
		h.logger.Warn(ctx, "missing Stripe-Signature header")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing signature"})
		return
	}

	event, err := webhook.ConstructEvent(payload, signature, h.processor.StripeWebhookSecret)
	if err != nil {
		h.logger.Error(ctx, "stripe signature verification failed", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	h.respond(c, h.processor.ProcessStripeEvent(ctx, event, payload, signature))
}

func (h *Handler) handleBTCPay(c *gin.Context, payload []byte) {
	ctx := c.Request.Context()

	signature := c.GetHeader("BTCPay-Sig")
	if signature == "" {
		h.logger.Warn(ctx, "missing BTCPay-Sig header")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing signature"})
		return
	}
	if !h.processor.VerifyBTCPaySignature(payload, signature) {
		h.logger.Warn(ctx, "btcpay signature verification failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var event processor.BTCPayEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error(ctx, "failed to unmarshal btcpay event", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	h.respond(c, h.processor.ProcessBTCPayEvent(ctx, event, payload, signature))
}

func (h *Handler) respond(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, processor.ErrAlreadyProcessed):
		c.JSON(http.StatusOK, gin.H{"already_processed": true})
	default:
		h.logger.Error(c.Request.Context(), "webhook processing failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
	}
}
