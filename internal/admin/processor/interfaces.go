package processor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"funnel-server/internal/store"
)

// AdminStore is the slice of the store the console needs.
type AdminStore interface {
	GetManualVerificationByID(ctx context.Context, verificationID uuid.UUID) (store.ManualVerification, error)
	ReviewManualVerification(ctx context.Context, verificationID uuid.UUID, params store.ReviewManualVerificationParams) (store.ManualVerification, error)
	ListManualVerifications(ctx context.Context, params store.ListManualVerificationsParams) ([]store.ManualVerification, int, error)
	CountPendingVerifications(ctx context.Context) (int, error)

	GetProductBySlug(ctx context.Context, slug string) (store.Product, error)
	ListPricesByProduct(ctx context.Context, productID uuid.UUID, activeOnly bool) ([]store.ProductPrice, error)
	CreateSubscription(ctx context.Context, params store.CreateSubscriptionParams) (store.Subscription, error)
	GetSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (store.Subscription, error)
	UpdateSubscription(ctx context.Context, subscriptionID uuid.UUID, params store.UpdateSubscriptionParams) (store.Subscription, error)
	ListSubscriptions(ctx context.Context, params store.ListSubscriptionsParams) ([]store.Subscription, int, error)
	CountSubscriptionsByStatus(ctx context.Context) (map[string]int, error)

	ListLeads(ctx context.Context, params store.ListLeadsParams) ([]store.Lead, int, error)
	CountLeadsByStatus(ctx context.Context) (map[string]int, error)
	TopUTMSources(ctx context.Context, since time.Time, limit int) ([]store.UTMSourceCount, error)
	SumConfirmedRevenue(ctx context.Context, since time.Time) (int64, error)

	ListCustomers(ctx context.Context, params store.ListCustomersParams) ([]store.Customer, int, error)
	GetCustomerByID(ctx context.Context, customerID uuid.UUID) (store.Customer, error)

	ListErrorLogs(ctx context.Context, params store.ListErrorLogsParams) ([]store.ErrorLog, int, error)
	ResolveErrorLog(ctx context.Context, errorLogID uuid.UUID, resolvedBy string) error
	CountUnresolvedErrors(ctx context.Context) (int, error)

	GetSettings(ctx context.Context) (store.Settings, error)
	UpdateSettings(ctx context.Context, params store.UpdateSettingsParams) (store.Settings, error)

	UpsertPage(ctx context.Context, params store.UpsertPageParams) (store.Page, error)
	ListPages(ctx context.Context) ([]store.Page, error)

	ListWebhookEvents(ctx context.Context, params store.ListWebhookEventsParams) ([]store.WebhookEvent, int, error)

	RecordAdminAction(ctx context.Context, params store.RecordAdminActionParams) (store.AdminAction, error)
	ListAdminActions(ctx context.Context, limit, offset int) ([]store.AdminAction, error)
}

// Provisioner grants access after an approval and refreshes credentials.
type Provisioner interface {
	Provision(ctx context.Context, subscriptionID uuid.UUID) error
	RegeneratePassword(ctx context.Context, customerID uuid.UUID) (string, error)
	RegenerateMagicLink(ctx context.Context, customerID uuid.UUID) (string, error)
}

// OverrideMinter issues manual-override tokens for the checkout wizard.
type OverrideMinter interface {
	Mint(approverEmail string) string
}
