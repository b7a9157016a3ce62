package processor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"funnel-server/internal/observability"
	"funnel-server/internal/store"
)

// BTCPayEvent is the webhook delivery BTCPay Server posts. Metadata echoes
// whatever the invoice was created with, which for checkout invoices is the
// subscription ID.
type BTCPayEvent struct {
	DeliveryID string              `json:"deliveryId"`
	Type       string              `json:"type"`
	InvoiceID  string              `json:"invoiceId"`
	OrderID    string              `json:"orderId"`
	Metadata   BTCPayEventMetadata `json:"metadata"`
	CryptoInfo []BTCPayCryptoInfo  `json:"cryptoInfo"`
}

type BTCPayEventMetadata struct {
	SubscriptionID string `json:"subscriptionId"`
	OrderID        string `json:"orderId"`
}

// BTCPayCryptoInfo carries the on-chain details of a settled invoice.
type BTCPayCryptoInfo struct {
	Address       string `json:"address"`
	Confirmations int    `json:"confirmations"`
	TxID          string `json:"txId"`
}

// ProcessBTCPayEvent applies a signature-verified BTCPay webhook delivery.
// BTCPay events have no stable ID of their own, so replays are keyed on
// invoice ID plus event type.
func (p *WebhookProcessor) ProcessBTCPayEvent(ctx context.Context, event BTCPayEvent, payload []byte, signature string) error {
	invoiceID := event.InvoiceID
	if invoiceID == "" {
		invoiceID = "unknown"
	}
	eventType := event.Type
	if eventType == "" {
		eventType = "unknown"
	}
	eventID := invoiceID + "_" + eventType

	ctx = observability.WithFields(ctx,
		observability.Field{Key: "webhook_provider", Value: store.PaymentProviderBTCPay},
		observability.Field{Key: "event_id", Value: eventID},
		observability.Field{Key: "event_type", Value: eventType},
	)

	row, err := p.eventRecord(ctx, store.PaymentProviderBTCPay, eventID, eventType, payload, signature)
	if err != nil {
		return err
	}

	switch event.Type {
	case "InvoiceSettled":
		return p.finishEvent(ctx, row, p.invoiceSettled(ctx, event))
	case "InvoiceExpired":
		// The subscription stays payment_pending; the buyer can request a
		// fresh invoice from the same checkout.
		p.logger.Warn(ctx, "btcpay invoice expired",
			observability.Field{Key: "invoice_id", Value: event.InvoiceID},
		)
	case "InvoiceInvalid":
		p.logger.Error(ctx, "btcpay invoice marked invalid, left for admin review",
			errors.New("invoice invalid"),
			observability.Field{Key: "invoice_id", Value: event.InvoiceID},
		)
	default:
		p.logger.Info(ctx, "ignoring unhandled btcpay event type")
	}

	return p.finishEvent(ctx, row, nil)
}

// invoiceSettled reconciles a settled invoice. The settled amount is taken
// from the subscription rather than the event: BTCPay reports display units
// and the subscription already holds the authoritative centavos.
func (p *WebhookProcessor) invoiceSettled(ctx context.Context, event BTCPayEvent) error {
	rawID := event.Metadata.SubscriptionID
	if rawID == "" {
		rawID = event.Metadata.OrderID
	}
	if rawID == "" {
		rawID = event.OrderID
	}
	subscriptionID, err := uuid.Parse(rawID)
	if err != nil {
		p.logger.Error(ctx, "btcpay invoice carries no usable subscription id", err,
			observability.Field{Key: "invoice_id", Value: event.InvoiceID},
		)
		return nil
	}
	ctx = observability.WithFields(ctx, observability.Field{Key: "subscription_id", Value: subscriptionID.String()})

	var btcData store.JSONB
	if len(event.CryptoInfo) > 0 {
		info := event.CryptoInfo[0]
		btcData = store.JSONB{
			"address":       info.Address,
			"confirmations": info.Confirmations,
			"txid":          info.TxID,
			"confirmed_at":  p.now().UTC().Format(time.RFC3339),
		}
	}

	return p.reconcileConfirmed(ctx, subscriptionID, settlement{
		ProviderPaymentID: event.InvoiceID,
		ProviderMetadata:  store.JSONB{"invoice_id": event.InvoiceID},
		BTCData:           btcData,
	})
}
