// Package handler exposes the admin console API. Every route behind it is
// gated by the auth JWT middleware plus the email whitelist; unauthorized
// access fails closed without detail.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"funnel-server/internal/admin/processor"
	"funnel-server/internal/apierrors"
	authHandler "funnel-server/internal/auth/handler"
	"funnel-server/internal/observability"
	"funnel-server/internal/store"
)

type Handler struct {
	processor processor.AdminProcessor
	uploads   processor.UploadSlots
	logger    *observability.Logger
}

func New(adminProcessor processor.AdminProcessor, uploads processor.UploadSlots, logger *observability.Logger) Handler {
	return Handler{
		processor: adminProcessor,
		uploads:   uploads,
		logger:    logger,
	}
}

// ---------------------------------------------------------------------------
// Manual verifications
// ---------------------------------------------------------------------------

// HandleListVerifications handles GET /api/admin/verifications.
func (h *Handler) HandleListVerifications(c *gin.Context) {
	params := store.ListManualVerificationsParams{
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	if status := c.Query("status"); status != "" {
		params.Status = &status
	}

	verifications, total, err := h.processor.ListVerifications(c.Request.Context(), params)
	if err != nil {
		h.internalError(c, "failed to list verifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verifications": verifications, "total": total})
}

type ReviewRequest struct {
	Notes string `json:"notes"`
}

// HandleApproveVerification handles POST /api/admin/verifications/:id/approve.
func (h *Handler) HandleApproveVerification(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ReviewRequest
	_ = c.ShouldBindJSON(&req)

	result, err := h.processor.ApproveVerification(c.Request.Context(), id, authHandler.AdminEmail(c), req.Notes)
	if err != nil {
		h.respondVerificationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"subscription_id": result.SubscriptionID,
		"provisioned":     result.Provisioned,
	})
}

// HandleRejectVerification handles POST /api/admin/verifications/:id/reject.
func (h *Handler) HandleRejectVerification(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ReviewRequest
	_ = c.ShouldBindJSON(&req)

	verification, err := h.processor.RejectVerification(c.Request.Context(), id, authHandler.AdminEmail(c), req.Notes)
	if err != nil {
		h.respondVerificationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "verification": verification})
}

type BulkApproveRequest struct {
	VerificationIDs []uuid.UUID `json:"verification_ids" binding:"required,min=1"`
}

// HandleBulkApprove handles POST /api/admin/verifications/bulk-approve.
func (h *Handler) HandleBulkApprove(c *gin.Context) {
	var req BulkApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	results := h.processor.BulkApproveVerifications(c.Request.Context(), req.VerificationIDs, authHandler.AdminEmail(c))
	approved := 0
	for _, r := range results {
		if r.Error == "" {
			approved++
		}
	}
	c.JSON(http.StatusOK, gin.H{"approved": approved, "results": results})
}

func (h *Handler) respondVerificationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, processor.ErrVerificationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "verification_not_found"})
	case errors.Is(err, processor.ErrVerificationNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": "verification_already_reviewed"})
	default:
		h.internalError(c, "verification operation failed", err)
	}
}

// ---------------------------------------------------------------------------
// Proof upload slots (public, pre-auth: buyers attach proof during checkout)
// ---------------------------------------------------------------------------

// HandleProofSlot handles GET /api/uploads/proof-slot.
func (h *Handler) HandleProofSlot(c *gin.Context) {
	fileName := c.Query("file_name")
	contentType := c.Query("content_type")
	fileSize, err := strconv.ParseInt(c.Query("file_size"), 10, 64)
	if fileName == "" || contentType == "" || err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	slot, err := h.uploads.Issue(fileName, fileSize, contentType)
	if err != nil {
		switch {
		case errors.Is(err, processor.ErrFileTooLarge):
			c.JSON(http.StatusBadRequest, gin.H{"error": "file_too_large"})
		case errors.Is(err, processor.ErrUnsupportedFile):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_file_type"})
		default:
			h.internalError(c, "failed to issue upload slot", err)
		}
		return
	}
	c.JSON(http.StatusOK, slot)
}

// ---------------------------------------------------------------------------
// Subscriptions and customers
// ---------------------------------------------------------------------------

type ExtendEntitlementRequest struct {
	EntitlementType string `json:"entitlement_type" binding:"required"`
	Days            int    `json:"days" binding:"required,min=1"`
}

// HandleExtendEntitlement handles POST /api/admin/subscriptions/:id/extend-entitlement.
func (h *Handler) HandleExtendEntitlement(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ExtendEntitlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	sub, err := h.processor.ExtendEntitlement(c.Request.Context(), id, req.EntitlementType, req.Days, authHandler.AdminEmail(c))
	if err != nil {
		switch {
		case errors.Is(err, processor.ErrSubscriptionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription_not_found"})
		case errors.Is(err, processor.ErrInvalidEntitlement):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_entitlement_type"})
		default:
			h.internalError(c, "failed to extend entitlement", err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "subscription": sub})
}

// HandleListSubscriptions handles GET /api/admin/subscriptions.
func (h *Handler) HandleListSubscriptions(c *gin.Context) {
	params := store.ListSubscriptionsParams{
		Search: c.Query("search"),
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	if status := c.Query("status"); status != "" {
		params.Status = &status
	}

	subs, total, err := h.processor.ListSubscriptions(c.Request.Context(), params)
	if err != nil {
		h.internalError(c, "failed to list subscriptions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "total": total})
}

// HandleRetryProvisioning handles POST /api/admin/subscriptions/:id/provision.
func (h *Handler) HandleRetryProvisioning(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.processor.RetryProvisioning(c.Request.Context(), id, authHandler.AdminEmail(c)); err != nil {
		if errors.Is(err, processor.ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription_not_found"})
			return
		}
		h.internalError(c, "provisioning retry failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// HandleListCustomers handles GET /api/admin/customers.
func (h *Handler) HandleListCustomers(c *gin.Context) {
	params := store.ListCustomersParams{
		Search: c.Query("search"),
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}

	customers, total, err := h.processor.ListCustomers(c.Request.Context(), params)
	if err != nil {
		h.internalError(c, "failed to list customers", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": customers, "total": total})
}

// HandleRegeneratePassword handles POST /api/admin/customers/:id/regenerate-password.
func (h *Handler) HandleRegeneratePassword(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	password, err := h.processor.RegeneratePassword(c.Request.Context(), id, authHandler.AdminEmail(c))
	if err != nil {
		if errors.Is(err, processor.ErrCustomerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "customer_not_found"})
			return
		}
		h.internalError(c, "failed to regenerate password", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "password": password})
}

// HandleRegenerateMagicLink handles POST /api/admin/customers/:id/regenerate-magic-link.
func (h *Handler) HandleRegenerateMagicLink(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	loginURL, err := h.processor.RegenerateMagicLink(c.Request.Context(), id, authHandler.AdminEmail(c))
	if err != nil {
		if errors.Is(err, processor.ErrCustomerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "customer_not_found"})
			return
		}
		h.internalError(c, "failed to regenerate magic link", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "magic_login_url": loginURL})
}

// ---------------------------------------------------------------------------
// Error logs
// ---------------------------------------------------------------------------

// HandleListErrors handles GET /api/admin/errors. Raw messages and stack
// traces are admin-only by construction: this route sits behind the
// whitelist middleware.
func (h *Handler) HandleListErrors(c *gin.Context) {
	params := store.ListErrorLogsParams{
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	if source := c.Query("source"); source != "" {
		params.Source = &source
	}
	if raw := c.Query("resolved"); raw != "" {
		resolved := raw == "true"
		params.Resolved = &resolved
	}

	logs, total, err := h.processor.ListErrors(c.Request.Context(), params)
	if err != nil {
		h.internalError(c, "failed to list error logs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"errors": logs, "total": total})
}

// HandleResolveError handles POST /api/admin/errors/:id/resolve.
func (h *Handler) HandleResolveError(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.processor.ResolveError(c.Request.Context(), id, authHandler.AdminEmail(c)); err != nil {
		if errors.Is(err, processor.ErrErrorLogNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "error_log_not_found"})
			return
		}
		h.internalError(c, "failed to resolve error log", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ---------------------------------------------------------------------------
// Settings and pages
// ---------------------------------------------------------------------------

// HandleGetSettings handles GET /api/admin/settings.
func (h *Handler) HandleGetSettings(c *gin.Context) {
	settings, err := h.processor.GetSettings(c.Request.Context())
	if err != nil {
		h.internalError(c, "failed to load settings", err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

type UpdateSettingsRequest struct {
	AutoProvisioningEnabled *bool   `json:"auto_provisioning_enabled"`
	ManualPurchasesEnabled  *bool   `json:"manual_purchases_enabled"`
	AbandonedTagName        *string `json:"abandoned_tag_name"`
	SupportEntitlementDays  *int    `json:"support_entitlement_days"`
	EbookStoragePath        *string `json:"ebook_storage_path"`
}

// HandleUpdateSettings handles PUT /api/admin/settings; absent fields keep
// their current values.
func (h *Handler) HandleUpdateSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	settings, err := h.processor.UpdateSettings(c.Request.Context(), store.UpdateSettingsParams{
		AutoProvisioningEnabled: req.AutoProvisioningEnabled,
		ManualPurchasesEnabled:  req.ManualPurchasesEnabled,
		AbandonedTagName:        req.AbandonedTagName,
		SupportEntitlementDays:  req.SupportEntitlementDays,
		EbookStoragePath:        req.EbookStoragePath,
	}, authHandler.AdminEmail(c))
	if err != nil {
		h.internalError(c, "failed to update settings", err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

type UpsertPageRequest struct {
	Title     string `json:"title" binding:"required"`
	Content   string `json:"content" binding:"required"`
	Published bool   `json:"published"`
}

// HandleUpsertPage handles PUT /api/admin/pages/:slug.
func (h *Handler) HandleUpsertPage(c *gin.Context) {
	var req UpsertPageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	page, err := h.processor.UpsertPage(c.Request.Context(), store.UpsertPageParams{
		Slug:      c.Param("slug"),
		Title:     req.Title,
		Content:   req.Content,
		Published: req.Published,
	}, authHandler.AdminEmail(c))
	if err != nil {
		h.internalError(c, "failed to upsert page", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ---------------------------------------------------------------------------
// Reporting
// ---------------------------------------------------------------------------

// HandleMetrics handles GET /api/admin/metrics.
func (h *Handler) HandleMetrics(c *gin.Context) {
	metrics, err := h.processor.Metrics(c.Request.Context(), queryInt(c, "window_days", 30))
	if err != nil {
		h.internalError(c, "failed to aggregate metrics", err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}

// HandleListLeads handles GET /api/admin/leads.
func (h *Handler) HandleListLeads(c *gin.Context) {
	params := leadListParams(c)
	leads, total, err := h.processor.ListLeads(c.Request.Context(), params)
	if err != nil {
		h.internalError(c, "failed to list leads", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leads": leads, "total": total})
}

// HandleExportLeads handles GET /api/admin/leads/export.
func (h *Handler) HandleExportLeads(c *gin.Context) {
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="leads.csv"`)

	if err := h.processor.ExportLeadsCSV(c.Request.Context(), c.Writer, leadListParams(c)); err != nil {
		// Headers may already be out; log and cut the stream.
		h.logger.Error(c.Request.Context(), "lead export failed", err)
		c.Abort()
	}
}

// HandleListWebhookEvents handles GET /api/admin/webhook-events.
func (h *Handler) HandleListWebhookEvents(c *gin.Context) {
	params := store.ListWebhookEventsParams{
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	if provider := c.Query("provider"); provider != "" {
		params.Provider = &provider
	}
	if raw := c.Query("processed"); raw != "" {
		processed := raw == "true"
		params.Processed = &processed
	}

	events, total, err := h.processor.ListWebhookEvents(c.Request.Context(), params)
	if err != nil {
		h.internalError(c, "failed to list webhook events", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "total": total})
}

// HandleListActions handles GET /api/admin/actions.
func (h *Handler) HandleListActions(c *gin.Context) {
	actions, err := h.processor.ListActions(c.Request.Context(), queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		h.internalError(c, "failed to list admin actions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

// HandleMintOverrideToken handles POST /api/admin/override-tokens.
func (h *Handler) HandleMintOverrideToken(c *gin.Context) {
	token := h.processor.MintOverrideToken(c.Request.Context(), authHandler.AdminEmail(c))
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func leadListParams(c *gin.Context) store.ListLeadsParams {
	params := store.ListLeadsParams{
		Search:    c.Query("search"),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
		Limit:     queryInt(c, "limit", 50),
		Offset:    queryInt(c, "offset", 0),
	}
	if status := c.Query("status"); status != "" {
		params.Status = &status
	}
	if source := c.Query("source"); source != "" {
		params.Source = &source
	}
	return params
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func (h *Handler) internalError(c *gin.Context, msg string, err error) {
	h.logger.Error(c.Request.Context(), msg, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
