package events

import (
	"context"
	"fmt"
	"time"

	"funnel-server/internal/kafka"
	"funnel-server/internal/observability"
	"funnel-server/internal/store"

	"github.com/google/uuid"
)

// Marketing event types consumed by the CRM sync worker.
const (
	EventLeadCaptured     = "lead.captured"
	EventLeadAbandoned    = "lead.abandoned"
	EventPaymentConfirmed = "payment.confirmed"
)

// Event is the envelope shared by every marketing event on the topic.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Email     string                 `json:"email"`
	Data      map[string]interface{} `json:"data"`
	Timestamp string                 `json:"timestamp"`
}

// Publisher handles publishing marketing events to Kafka. Every method is
// best-effort: failures are logged and swallowed, because a Kafka outage must
// never fail lead capture or a checkout.
type Publisher struct {
	producer *kafka.Producer
	logger   *observability.Logger
}

// NewPublisher creates a new event publisher. A nil producer yields a
// publisher that drops everything, which keeps local setups Kafka-free.
func NewPublisher(producer *kafka.Producer, logger *observability.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		logger:   logger,
	}
}

// PublishLeadCaptured publishes a lead.captured event
func (p *Publisher) PublishLeadCaptured(ctx context.Context, lead store.Lead) {
	p.publish(ctx, EventLeadCaptured, lead.Email, leadData(lead))
}

// PublishLeadAbandoned publishes a lead.abandoned event
func (p *Publisher) PublishLeadAbandoned(ctx context.Context, lead store.Lead) {
	p.publish(ctx, EventLeadAbandoned, lead.Email, leadData(lead))
}

// PublishLeadsAbandoned publishes lead.abandoned events for a whole sweep in
// one batch write.
func (p *Publisher) PublishLeadsAbandoned(ctx context.Context, leads []store.Lead) {
	if p.producer == nil || len(leads) == 0 {
		return
	}

	messages := make([]kafka.Message, 0, len(leads))
	for _, lead := range leads {
		messages = append(messages, kafka.Message{
			Key:   lead.Email,
			Value: newEvent(EventLeadAbandoned, lead.Email, leadData(lead)),
		})
	}
	if err := p.producer.ProduceBatch(ctx, messages); err != nil {
		p.logger.Error(ctx, "failed to publish lead.abandoned batch", err,
			observability.Field{Key: "lead_count", Value: len(leads)},
		)
	}
}

// PaymentConfirmedParams carries the purchase fields the CRM records when a
// payment settles.
type PaymentConfirmedParams struct {
	Lead               store.Lead
	ProductName        string
	AmountCents        int64
	PaymentMethod      string
	MentorshipIncluded bool
	SupportExpiresAt   *time.Time
}

// PublishPaymentConfirmed publishes a payment.confirmed event
func (p *Publisher) PublishPaymentConfirmed(ctx context.Context, params PaymentConfirmedParams) {
	data := leadData(params.Lead)
	data["product_name"] = params.ProductName
	data["amount_cents"] = params.AmountCents
	data["payment_method"] = params.PaymentMethod
	data["mentorship_included"] = params.MentorshipIncluded
	if params.SupportExpiresAt != nil {
		data["support_expires_at"] = params.SupportExpiresAt.UTC().Format(time.RFC3339)
	}
	p.publish(ctx, EventPaymentConfirmed, params.Lead.Email, data)
}

// leadData builds the contact payload shared by every event type. The lead
// may be synthesized from subscription fields when no captured lead exists,
// in which case it has no ID.
func leadData(lead store.Lead) map[string]interface{} {
	data := map[string]interface{}{
		"name":   lead.Name,
		"email":  lead.Email,
		"source": lead.Source,
	}
	if lead.ID != uuid.Nil {
		data["lead_id"] = lead.ID.String()
	}
	if lead.Phone != nil {
		data["phone"] = *lead.Phone
	}
	if lead.AffiliateCode != nil {
		data["affiliate_code"] = *lead.AffiliateCode
	}
	if lead.UTM.LastTouch != nil {
		data["utm_source"] = lead.UTM.LastTouch.Source
		data["utm_campaign"] = lead.UTM.LastTouch.Campaign
	}
	return data
}

func newEvent(eventType, email string, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Email:     email,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func (p *Publisher) publish(ctx context.Context, eventType, email string, data map[string]interface{}) {
	if p.producer == nil {
		return
	}

	err := p.producer.ProduceMessage(ctx, kafka.Message{
		Key:   email,
		Value: newEvent(eventType, email, data),
	})
	if err != nil {
		p.logger.Error(ctx, fmt.Sprintf("failed to publish %s event", eventType), err)
	}
}
