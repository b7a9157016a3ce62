// Package bootstrap builds the dependency graph: clients, processors,
// handlers and background jobs, in one place.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"funnel-server/internal/config"
	"funnel-server/internal/observability"
	"funnel-server/internal/store"

	adminHandler "funnel-server/internal/admin/handler"
	adminProcessor "funnel-server/internal/admin/processor"
	"funnel-server/internal/api"
	authHandler "funnel-server/internal/auth/handler"
	authProcessor "funnel-server/internal/auth/processor"
	catalogHandler "funnel-server/internal/catalog/handler"
	catalogProcessor "funnel-server/internal/catalog/processor"
	"funnel-server/internal/checkout"
	checkoutHandler "funnel-server/internal/checkout/handler"
	"funnel-server/internal/clients/btcpay"
	"funnel-server/internal/clients/crm"
	"funnel-server/internal/clients/mail"
	"funnel-server/internal/clients/members"
	redisclient "funnel-server/internal/clients/redis"
	"funnel-server/internal/clients/turnstile"
	"funnel-server/internal/downloads"
	"funnel-server/internal/email"
	"funnel-server/internal/events"
	"funnel-server/internal/jobs/scheduler"
	schedulerJobs "funnel-server/internal/jobs/scheduler/jobs"
	"funnel-server/internal/kafka"
	leadsHandler "funnel-server/internal/leads/handler"
	leadsProcessor "funnel-server/internal/leads/processor"
	"funnel-server/internal/payments/handler"
	paymentsProcessor "funnel-server/internal/payments/processor"
	"funnel-server/internal/provisioning"
	"funnel-server/internal/ratelimit"
	webhooksHandler "funnel-server/internal/webhooks/handler"
	webhooksProcessor "funnel-server/internal/webhooks/processor"
)

// Dependencies holds all initialized application dependencies
type Dependencies struct {
	Store  *store.Store
	Logger *observability.Logger

	Handlers api.Handlers
	Limiter  *ratelimit.Service

	// Background jobs
	Scheduler *scheduler.Scheduler

	// Kafka clients (for cleanup)
	KafkaProducer *kafka.Producer
}

// Initialize sets up all application dependencies
func Initialize(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Logger: logger,
	}

	// Database store
	st, err := store.New(cfg.Database.ConnectionString(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	deps.Store = &st

	// Redis backs the rate limiter; when it is unreachable the limiter
	// falls back to Postgres windows, so startup continues.
	redisClient, err := redisclient.NewClient(cfg.Redis, logger)
	if err != nil {
		logger.Error(ctx, "redis unavailable, rate limiting falls back to postgres", err)
		redisClient = nil
	}
	deps.Limiter = ratelimit.NewService(redisClient, deps.Store, logger)

	// External clients
	turnstileClient := turnstile.NewClient(cfg.Services.TurnstileSecretKey, logger)
	btcpayClient := btcpay.NewClient(cfg.BTCPay.BaseURL, cfg.BTCPay.StoreID, cfg.BTCPay.APIKey, cfg.BTCPay.WebhookSecret, logger)
	membersClient := members.NewClient(
		cfg.Services.MembersBaseURL,
		cfg.Services.MembersAPIKey,
		cfg.Services.MembersAPISecret,
		cfg.Services.MembersClubID,
		cfg.Services.MembersSubdomain,
		logger,
	)
	crmClient := crm.NewClient(cfg.Services.CRMBaseURL, cfg.Services.CRMAPIKey, logger)

	mailClient, err := mail.NewResendClient(cfg.Services.ResendAPIKey, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create resend client: %w", err)
	}
	emailService := email.New(mailClient, cfg.Services.DefaultEmailSender, logger)

	// Kafka producer for marketing events; without brokers the publisher
	// degrades to a no-op.
	if cfg.Kafka.Brokers != "" {
		deps.KafkaProducer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers: strings.Split(cfg.Kafka.Brokers, ","),
			Topic:   cfg.Kafka.Topic,
		}, logger)
	}
	publisher := events.NewPublisher(deps.KafkaProducer, logger)

	// Checkout wizard
	sessionTTL := time.Duration(cfg.Checkout.SessionTTLMinutes) * time.Minute
	sessions := checkout.NewMemorySessionStore(sessionTTL, logger)
	overrides := checkout.NewOverrideTokens(cfg.Auth.JWTSecret, cfg.Auth.IsAdminEmail)
	manager := checkout.NewManager(sessions, deps.Store, overrides, cfg.Checkout.ExplicitMethodStep, logger)

	// Provisioning
	provisioner := provisioning.New(deps.Store, membersClient, crmClient, emailService, cfg.Services.PasswordSecret, logger)

	// Leads
	leadsProc := leadsProcessor.New(deps.Store, turnstileClient, publisher, cfg.IsProduction(), logger)

	// Payments
	stripeGateway := paymentsProcessor.NewStripeGateway(cfg.Stripe.SecretKey)
	paymentsProc := paymentsProcessor.New(deps.Store, stripeGateway, btcpayClient, overrides, cfg.Stripe.PixEnabled, cfg.Services.SiteBaseURL, logger)

	// Webhooks
	webhooksProc := webhooksProcessor.New(deps.Store, &provisioner, publisher, btcpayClient, cfg.Stripe.WebhookSecret, logger)

	// Downloads
	downloadTokens := downloads.NewTokens(cfg.Services.DownloadTokenSecret)
	downloadService := downloads.NewService(deps.Store, downloadTokens, cfg.Services.SiteBaseURL, logger)

	// Catalog
	catalogProc := catalogProcessor.New(deps.Store, logger)

	// Admin console
	authProc := authProcessor.New(deps.Store, cfg.Auth, logger)
	adminProc := adminProcessor.New(deps.Store, &provisioner, overrides, logger)
	uploadSlots := adminProcessor.NewUploadSlots(cfg.Services.DownloadTokenSecret, cfg.Services.SiteBaseURL)

	deps.Handlers = api.Handlers{
		Auth:      authHandler.New(authProc, logger),
		Leads:     leadsHandler.New(leadsProc, deps.Limiter, logger),
		Checkout:  checkoutHandler.New(manager, logger),
		Payments:  handler.New(paymentsProc, manager, logger),
		Webhooks:  webhooksHandler.New(webhooksProc, logger),
		Downloads: downloads.NewHandler(downloadService, logger),
		Catalog:   catalogHandler.New(catalogProc, logger),
		Admin:     adminHandler.New(adminProc, uploadSlots, logger),
	}

	// Scheduled jobs
	deps.Scheduler = scheduler.New(logger)
	deps.Scheduler.Register(schedulerJobs.NewAbandonedLeadsJob(deps.Store, publisher, 24*time.Hour, 24*time.Hour, logger))

	return deps, nil
}

// Cleanup closes all resources that need cleanup
func (d *Dependencies) Cleanup() {
	if d.KafkaProducer != nil {
		d.KafkaProducer.Close()
	}
}
