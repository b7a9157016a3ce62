// Package api wires the HTTP routes: the public funnel surface, the
// provider webhooks and the JWT-protected admin console.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	adminHandler "funnel-server/internal/admin/handler"
	"funnel-server/internal/attribution"
	authHandler "funnel-server/internal/auth/handler"
	catalogHandler "funnel-server/internal/catalog/handler"
	checkoutHandler "funnel-server/internal/checkout/handler"
	"funnel-server/internal/downloads"
	leadsHandler "funnel-server/internal/leads/handler"
	paymentsHandler "funnel-server/internal/payments/handler"
	"funnel-server/internal/ratelimit"
	webhooksHandler "funnel-server/internal/webhooks/handler"
)

type API struct {
	router *gin.RouterGroup

	auth      authHandler.Handler
	leads     leadsHandler.Handler
	checkout  checkoutHandler.Handler
	payments  paymentsHandler.Handler
	webhooks  webhooksHandler.Handler
	downloads downloads.Handler
	catalog   catalogHandler.Handler
	admin     adminHandler.Handler

	limiter *ratelimit.Service
}

type Handlers struct {
	Auth      authHandler.Handler
	Leads     leadsHandler.Handler
	Checkout  checkoutHandler.Handler
	Payments  paymentsHandler.Handler
	Webhooks  webhooksHandler.Handler
	Downloads downloads.Handler
	Catalog   catalogHandler.Handler
	Admin     adminHandler.Handler
}

func New(router *gin.RouterGroup, handlers Handlers, limiter *ratelimit.Service) API {
	return API{
		router:    router,
		auth:      handlers.Auth,
		leads:     handlers.Leads,
		checkout:  handlers.Checkout,
		payments:  handlers.Payments,
		webhooks:  handlers.Webhooks,
		downloads: handlers.Downloads,
		catalog:   handlers.Catalog,
		admin:     handlers.Admin,
		limiter:   limiter,
	}
}

func (a *API) RegisterRoutes() {
	a.Health()

	// Provider webhooks sit outside /api and outside the rate limiter:
	// signatures gate them and providers retry at their own pace.
	a.router.POST("/webhooks/payments/:provider", a.webhooks.HandleProviderWebhook)
	a.router.GET("/downloads/file", a.downloads.HandleServeFile)

	apiGroup := a.router.Group("/api", a.limiter.GlobalMiddleware(), attribution.Middleware())
	{
		apiGroup.POST("/leads", a.limiter.IPMiddleware(), a.leads.HandleCreateLead)

		checkoutGroup := apiGroup.Group("/checkout")
		checkoutGroup.POST("/leads", a.limiter.IPMiddleware(), a.leads.HandleCreateCheckoutLead)
		checkoutGroup.POST("/sessions", a.checkout.HandleBeginSession)
		checkoutGroup.GET("/sessions/:id", a.checkout.HandleGetSession)
		checkoutGroup.POST("/sessions/:id/advance", a.checkout.HandleAdvance)
		checkoutGroup.POST("/sessions/:id/back", a.checkout.HandleBack)
		checkoutGroup.PUT("/sessions/:id/contact", a.checkout.HandleSetContact)
		checkoutGroup.PUT("/sessions/:id/price", a.checkout.HandleSelectPrice)
		checkoutGroup.PUT("/sessions/:id/override", a.checkout.HandleSetOverride)
		checkoutGroup.POST("/sessions/:id/pay", a.payments.HandlePay)

		apiGroup.GET("/payments/status", a.payments.HandlePaymentStatus)
		apiGroup.GET("/subscriptions/:id/status", a.payments.HandleSubscriptionStatus)

		apiGroup.POST("/downloads/link", a.limiter.IPMiddleware(), a.downloads.HandleCreateLink)
		apiGroup.GET("/uploads/proof-slot", a.admin.HandleProofSlot)

		apiGroup.GET("/products", a.catalog.HandleListProducts)
		apiGroup.GET("/products/:slug", a.catalog.HandleGetProduct)
		apiGroup.GET("/pages/:slug", a.catalog.HandleGetPage)

		apiGroup.POST("/auth/login", a.auth.HandleLogin)
	}

	adminGroup := a.router.Group("/api/admin", a.auth.HandleJWTMiddleware)
	{
		adminGroup.GET("/me", a.auth.HandleMe)

		adminGroup.GET("/verifications", a.admin.HandleListVerifications)
		adminGroup.POST("/verifications/bulk-approve", a.admin.HandleBulkApprove)
		adminGroup.POST("/verifications/:id/approve", a.admin.HandleApproveVerification)
		adminGroup.POST("/verifications/:id/reject", a.admin.HandleRejectVerification)

		adminGroup.GET("/subscriptions", a.admin.HandleListSubscriptions)
		adminGroup.POST("/subscriptions/:id/extend-entitlement", a.admin.HandleExtendEntitlement)
		adminGroup.POST("/subscriptions/:id/provision", a.admin.HandleRetryProvisioning)

		adminGroup.GET("/customers", a.admin.HandleListCustomers)
		adminGroup.POST("/customers/:id/regenerate-password", a.admin.HandleRegeneratePassword)
		adminGroup.POST("/customers/:id/regenerate-magic-link", a.admin.HandleRegenerateMagicLink)

		adminGroup.GET("/errors", a.admin.HandleListErrors)
		adminGroup.POST("/errors/:id/resolve", a.admin.HandleResolveError)

		adminGroup.GET("/settings", a.admin.HandleGetSettings)
		adminGroup.PUT("/settings", a.admin.HandleUpdateSettings)
		adminGroup.PUT("/pages/:slug", a.admin.HandleUpsertPage)

		adminGroup.GET("/metrics", a.admin.HandleMetrics)
		adminGroup.GET("/leads", a.admin.HandleListLeads)
		adminGroup.GET("/leads/export", a.admin.HandleExportLeads)
		adminGroup.GET("/webhook-events", a.admin.HandleListWebhookEvents)
		adminGroup.GET("/actions", a.admin.HandleListActions)
		adminGroup.POST("/override-tokens", a.admin.HandleMintOverrideToken)
	}
}

func (a *API) Health() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
}
