package processor

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
)

// StripeCheckoutParams describes a hosted checkout session. Amounts are
// centavos; Stripe receives them unchanged.
type StripeCheckoutParams struct {
	ProductName        string
	ProductDescription string
	AmountCents        int64
	Currency           string
	PaymentMethodTypes []string
	Metadata           map[string]string
	SuccessURL         string
	CancelURL          string
	ExpiresAt          time.Time
}

// StripeCheckoutSession is the reference the client is redirected to.
type StripeCheckoutSession struct {
	ID  string
	URL string
}

type stripeGateway struct{}

// NewStripeGateway configures the global Stripe client and returns the
// gateway the dispatcher uses for card and PIX payments.
func NewStripeGateway(secretKey string) StripeGateway {
	stripe.Key = secretKey
	return stripeGateway{}
}

func (stripeGateway) CreateCheckoutSession(ctx context.Context, params StripeCheckoutParams) (StripeCheckoutSession, error) {
	productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(params.ProductName),
	}
	if params.ProductDescription != "" {
		productData.Description = stripe.String(params.ProductDescription)
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice(params.PaymentMethodTypes),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(params.Currency),
					UnitAmount:  stripe.Int64(params.AmountCents),
					ProductData: productData,
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		ExpiresAt:  stripe.Int64(params.ExpiresAt.Unix()),
		Locale:     stripe.String("pt-BR"),
	}
	sessionParams.Context = ctx
	for key, value := range params.Metadata {
		sessionParams.AddMetadata(key, value)
	}

	session, err := checkoutsession.New(sessionParams)
	if err != nil {
		return StripeCheckoutSession{}, err
	}
	return StripeCheckoutSession{ID: session.ID, URL: session.URL}, nil
}
