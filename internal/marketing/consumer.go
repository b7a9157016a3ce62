// Package marketing syncs funnel events into the CRM: contact upserts,
// lifecycle tags and purchase fields. It runs as a Kafka consumer so a slow
// or flaky CRM never sits inside a request.
package marketing

import (
	"context"
	"fmt"
	"strings"

	kafkago "github.com/segmentio/kafka-go"

	"funnel-server/internal/clients/crm"
	"funnel-server/internal/events"
	"funnel-server/internal/kafka"
	"funnel-server/internal/observability"
	"funnel-server/internal/store"
)

// Tags mirror the automation triggers configured in the CRM account.
const (
	tagEbookDownloaded = "Ebook Downloaded"
	tagCustomer        = "Customer"
	tagLead            = "Lead"
	tagTriggerWelcome  = "Trigger_Welcome_Email"
	purchasedTagPrefix = "Purchased_"
)

// CRMClient is the slice of the CRM API the consumer needs.
type CRMClient interface {
	IsEnabled() bool
	SyncContact(ctx context.Context, params crm.SyncContactParams) (string, error)
	UpdateContactFields(ctx context.Context, contactID string, fields map[string]string) error
	ApplyTag(ctx context.Context, contactID, tagName string) error
	RemoveTag(ctx context.Context, contactID, tagName string) error
}

// SettingsStore reads the operational settings row.
type SettingsStore interface {
	GetSettings(ctx context.Context) (store.Settings, error)
}

type Consumer struct {
	crm      CRMClient
	settings SettingsStore
	logger   *observability.Logger
}

func NewConsumer(crmClient CRMClient, settings SettingsStore, logger *observability.Logger) Consumer {
	return Consumer{
		crm:      crmClient,
		settings: settings,
		logger:   logger,
	}
}

// Handle is the kafka.MessageHandler for the marketing topic. Returned
// errors push the message to the DLQ.
func (c *Consumer) Handle(ctx context.Context, msg kafkago.Message) error {
	var event events.Event
	if err := kafka.UnmarshalMessage(msg, &event); err != nil {
		return fmt.Errorf("failed to unmarshal marketing event: %w", err)
	}
	if event.Email == "" {
		return fmt.Errorf("marketing event %s has no email", event.ID)
	}

	ctx = observability.WithFields(ctx,
		observability.Field{Key: "event_id", Value: event.ID},
		observability.Field{Key: "event_type", Value: event.Type},
	)

	if !c.crm.IsEnabled() {
		c.logger.Info(ctx, "crm disabled, dropping marketing event")
		return nil
	}

	switch event.Type {
	case events.EventLeadCaptured:
		return c.handleLeadCaptured(ctx, event)
	case events.EventLeadAbandoned:
		return c.handleLeadAbandoned(ctx, event)
	case events.EventPaymentConfirmed:
		return c.handlePaymentConfirmed(ctx, event)
	default:
		c.logger.Warn(ctx, "ignoring unknown marketing event type")
		return nil
	}
}

func (c *Consumer) handleLeadCaptured(ctx context.Context, event events.Event) error {
	contactID, err := c.syncContact(ctx, event)
	if err != nil {
		return err
	}
	if err := c.crm.ApplyTag(ctx, contactID, tagEbookDownloaded); err != nil {
		return fmt.Errorf("failed to tag captured lead: %w", err)
	}
	c.logger.Info(ctx, "lead synced to crm",
		observability.Field{Key: "crm_contact_id", Value: contactID},
	)
	return nil
}

func (c *Consumer) handleLeadAbandoned(ctx context.Context, event events.Event) error {
	settings, err := c.settings.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if settings.AbandonedTagName == nil || *settings.AbandonedTagName == "" {
		c.logger.Info(ctx, "no abandoned tag configured, skipping")
		return nil
	}

	contactID, err := c.syncContact(ctx, event)
	if err != nil {
		return err
	}
	if err := c.crm.ApplyTag(ctx, contactID, *settings.AbandonedTagName); err != nil {
		return fmt.Errorf("failed to tag abandoned lead: %w", err)
	}
	return nil
}

func (c *Consumer) handlePaymentConfirmed(ctx context.Context, event events.Event) error {
	contactID, err := c.syncContact(ctx, event)
	if err != nil {
		return err
	}

	fields := map[string]string{
		"subscription_status": "active",
	}
	productName := dataString(event.Data, "product_name")
	if productName != "" {
		fields["product_purchased"] = productName
	}
	if expires := dataString(event.Data, "support_expires_at"); expires != "" {
		fields["support_expires_at"] = expires
	}
	if mentorship, ok := event.Data["mentorship_included"].(bool); ok {
		fields["mentorship_included"] = fmt.Sprintf("%t", mentorship)
	}
	if err := c.crm.UpdateContactFields(ctx, contactID, fields); err != nil {
		return fmt.Errorf("failed to update purchase fields: %w", err)
	}

	if productName != "" {
		if err := c.crm.ApplyTag(ctx, contactID, purchasedTag(productName)); err != nil {
			return fmt.Errorf("failed to apply product tag: %w", err)
		}
	}
	if err := c.crm.ApplyTag(ctx, contactID, tagCustomer); err != nil {
		return fmt.Errorf("failed to apply customer tag: %w", err)
	}
	if err := c.crm.RemoveTag(ctx, contactID, tagLead); err != nil {
		return fmt.Errorf("failed to remove lead tag: %w", err)
	}
	if err := c.crm.ApplyTag(ctx, contactID, tagTriggerWelcome); err != nil {
		return fmt.Errorf("failed to trigger welcome automation: %w", err)
	}

	c.logger.Info(ctx, "purchase synced to crm",
		observability.Field{Key: "crm_contact_id", Value: contactID},
		observability.Field{Key: "product_name", Value: productName},
	)
	return nil
}

func (c *Consumer) syncContact(ctx context.Context, event events.Event) (string, error) {
	first, last := splitName(dataString(event.Data, "name"))
	contactID, err := c.crm.SyncContact(ctx, crm.SyncContactParams{
		Email:     event.Email,
		FirstName: first,
		LastName:  last,
		Phone:     dataString(event.Data, "phone"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sync contact: %w", err)
	}
	return contactID, nil
}

// purchasedTag builds the per-product purchase tag, "Purchased_Curso_Completo"
// style.
func purchasedTag(productName string) string {
	return purchasedTagPrefix + strings.ReplaceAll(strings.TrimSpace(productName), " ", "_")
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func dataString(data map[string]interface{}, key string) string {
	value, _ := data[key].(string)
	return value
}
