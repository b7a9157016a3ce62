package processor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"funnel-server/internal/attribution"
	"funnel-server/internal/leads"
	"funnel-server/internal/observability"
	"funnel-server/internal/store"
)

// minFillTime is the fastest a human plausibly fills the lead form. Anything
// quicker is treated as automated and dropped without telling the caller.
const minFillTime = 3 * time.Second

// consentTextVersion identifies the privacy-policy text the visitor accepted.
const consentTextVersion = "v1.0"

// LeadStore defines the database operations required by LeadProcessor
type LeadStore interface {
	CreateLead(ctx context.Context, params store.CreateLeadParams) (store.Lead, error)
	GetLeadByEmail(ctx context.Context, email string) (store.Lead, error)
	GetLatestInitiatedCheckoutLead(ctx context.Context, email string) (store.Lead, error)
	UpdateLead(ctx context.Context, leadID uuid.UUID, params store.UpdateLeadParams) (store.Lead, error)
}

// CaptchaVerifier defines the captcha verification operations
type CaptchaVerifier interface {
	Verify(ctx context.Context, token string, remoteIP string) error
	IsEnabled() bool
}

// EventPublisher emits marketing events after a lead is stored. Publishing is
// best-effort: implementations log their own failures and never propagate them
// into the capture path.
type EventPublisher interface {
	PublishLeadCaptured(ctx context.Context, lead store.Lead)
}

var (
	ErrCaptchaFailed   = errors.New("captcha verification failed")
	ErrProductRequired = errors.New("product and price are required")
)

type LeadProcessor struct {
	store           LeadStore
	captchaVerifier CaptchaVerifier
	events          EventPublisher
	enforceCaptcha  bool
	logger          *observability.Logger
	now             func() time.Time
}

// New creates a LeadProcessor. enforceCaptcha turns captcha failures into hard
// rejections; outside production they only log.
func New(store LeadStore, captchaVerifier CaptchaVerifier, events EventPublisher, enforceCaptcha bool, logger *observability.Logger) LeadProcessor {
	return LeadProcessor{
		store:           store,
		captchaVerifier: captchaVerifier,
		events:          events,
		enforceCaptcha:  enforceCaptcha,
		logger:          logger,
		now:             time.Now,
	}
}

// LandingSubmission represents one landing-page lead form post together with
// the signals the bot checks consume.
type LandingSubmission struct {
	Name        string
	Email       string
	Phone       string
	LGPDConsent bool

	// Honeypot carries the hidden form field humans never fill.
	Honeypot string
	// ElapsedMs is the time between form render and submit, reported by the client.
	ElapsedMs    int64
	CaptchaToken string

	Attribution   attribution.Record
	AffiliateCode string

	IPAddress  string
	UserAgent  string
	DeviceType string
}

// LandingResult reports a lead capture outcome. Dropped submissions still
// carry a generated LeadID so the response body is indistinguishable from a
// stored lead.
type LandingResult struct {
	LeadID  uuid.UUID
	Created bool
	Dropped bool
}

// PartnerOffer is a discounted-offer claim that needs manual proof review
// before the purchase provisions.
type PartnerOffer struct {
	Partner  string
	ProofURL string
}

// CheckoutSubmission represents the contact step of the checkout wizard.
type CheckoutSubmission struct {
	Name        string
	Email       string
	Phone       string
	LGPDConsent bool

	ProductID uuid.UUID
	PriceID   uuid.UUID

	AffiliateCode string
	PartnerOffer  *PartnerOffer

	Attribution attribution.Record

	IPAddress  string
	UserAgent  string
	DeviceType string
}

// CheckoutResult reports a stored checkout lead.
type CheckoutResult struct {
	LeadID                     uuid.UUID
	RequiresManualVerification bool
}

// CaptureLandingLead stores a landing-page lead. Bot submissions are dropped
// before any store write while still returning a success-shaped result.
// Validation failures come back as field errors, not as an error.
func (p *LeadProcessor) CaptureLandingLead(ctx context.Context, sub LandingSubmission) (LandingResult, []leads.ValidationError, error) {
	email := leads.NormalizeEmail(sub.Email)
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "email", Value: email},
		observability.Field{Key: "lead_source", Value: store.LeadSourceLandingPage},
	)

	if reason, bot := p.detectBot(sub); bot {
		p.logger.Info(ctx, "dropping automated lead submission",
			observability.Field{Key: "drop_reason", Value: reason},
			observability.Field{Key: "elapsed_ms", Value: sub.ElapsedMs},
		)
		return LandingResult{LeadID: uuid.New(), Dropped: true}, nil, nil
	}

	validationErrs := leads.ValidateContact(leads.ContactInput{
		Name:        sub.Name,
		Email:       sub.Email,
		Phone:       sub.Phone,
		LGPDConsent: sub.LGPDConsent,
	})
	if len(validationErrs) > 0 {
		return LandingResult{}, validationErrs, nil
	}

	if err := p.verifyCaptcha(ctx, sub.CaptchaToken, sub.IPAddress); err != nil {
		return LandingResult{}, nil, err
	}

	existing, err := p.store.GetLeadByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		p.logger.Error(ctx, "failed to look up existing lead", err)
		return LandingResult{}, nil, err
	}
	if err == nil {
		lead, uerr := p.refreshLandingLead(ctx, existing, sub)
		if uerr != nil {
			return LandingResult{}, nil, uerr
		}
		p.events.PublishLeadCaptured(ctx, lead)
		return LandingResult{LeadID: lead.ID}, nil, nil
	}

	params := store.CreateLeadParams{
		Name:   leads.CleanName(sub.Name),
		Email:  email,
		Phone:  optional(sub.Phone),
		Source: store.LeadSourceLandingPage,
		Status: store.LeadStatusNew,
		UTM:    sub.Attribution,
		Consent: store.Consent{
			LGPDConsent: true,
			TextVersion: consentTextVersion,
			AcceptedAt:  p.now().UTC(),
		},
		AffiliateCode: optional(sub.AffiliateCode),
		IPAddress:     optional(sub.IPAddress),
		UserAgent:     optional(sub.UserAgent),
		DeviceType:    optional(sub.DeviceType),
	}
	lead, err := p.store.CreateLead(ctx, params)
	if err != nil {
		p.logger.Error(ctx, "failed to create lead", err)
		return LandingResult{}, nil, err
	}

	utmSource := ""
	if sub.Attribution.LastTouch != nil {
		utmSource = sub.Attribution.LastTouch.Source
	}
	p.logger.Info(ctx, "lead captured",
		observability.Field{Key: "lead_id", Value: lead.ID.String()},
		observability.Field{Key: "utm_source", Value: utmSource},
	)
	p.events.PublishLeadCaptured(ctx, lead)
	return LandingResult{LeadID: lead.ID, Created: true}, nil, nil
}

// refreshLandingLead overwrites the contact fields and last-touch attribution
// of a lead that submitted the form again. Download history and status are
// preserved.
func (p *LeadProcessor) refreshLandingLead(ctx context.Context, existing store.Lead, sub LandingSubmission) (store.Lead, error) {
	name := leads.CleanName(sub.Name)
	utm := sub.Attribution
	params := store.UpdateLeadParams{
		Name:          &name,
		Phone:         optional(sub.Phone),
		UTM:           &utm,
		AffiliateCode: optional(sub.AffiliateCode),
	}
	lead, err := p.store.UpdateLead(ctx, existing.ID, params)
	if err != nil {
		p.logger.Error(ctx, "failed to refresh existing lead", err)
		return store.Lead{}, err
	}
	p.logger.Info(ctx, "existing lead refreshed",
		observability.Field{Key: "lead_id", Value: lead.ID.String()},
	)
	return lead, nil
}

// CaptureCheckoutLead stores the checkout contact step as an initiated lead.
// A second submission for the same email upserts over the earlier initiated
// lead instead of creating a duplicate.
func (p *LeadProcessor) CaptureCheckoutLead(ctx context.Context, sub CheckoutSubmission) (CheckoutResult, []leads.ValidationError, error) {
	email := leads.NormalizeEmail(sub.Email)
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "email", Value: email},
		observability.Field{Key: "lead_source", Value: store.LeadSourceCheckout},
	)

	if sub.ProductID == uuid.Nil || sub.PriceID == uuid.Nil {
		return CheckoutResult{}, nil, ErrProductRequired
	}

	validationErrs := leads.ValidateContact(leads.ContactInput{
		Name:        sub.Name,
		Email:       sub.Email,
		Phone:       sub.Phone,
		LGPDConsent: sub.LGPDConsent,
	})
	if len(validationErrs) > 0 {
		return CheckoutResult{}, validationErrs, nil
	}

	requiresManual := sub.PartnerOffer != nil
	var partnerOffer store.JSONB
	if sub.PartnerOffer != nil {
		partnerOffer = store.JSONB{
			"partner":   sub.PartnerOffer.Partner,
			"proof_url": sub.PartnerOffer.ProofURL,
		}
	}

	productID := sub.ProductID
	priceID := sub.PriceID

	existing, err := p.store.GetLatestInitiatedCheckoutLead(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		p.logger.Error(ctx, "failed to look up initiated checkout lead", err)
		return CheckoutResult{}, nil, err
	}
	if err == nil {
		name := leads.CleanName(sub.Name)
		utm := sub.Attribution
		lead, uerr := p.store.UpdateLead(ctx, existing.ID, store.UpdateLeadParams{
			Name:                       &name,
			Phone:                      optional(sub.Phone),
			UTM:                        &utm,
			AffiliateCode:              optional(sub.AffiliateCode),
			ProductID:                  &productID,
			PriceID:                    &priceID,
			PartnerOffer:               partnerOffer,
			RequiresManualVerification: &requiresManual,
		})
		if uerr != nil {
			p.logger.Error(ctx, "failed to upsert checkout lead", uerr)
			return CheckoutResult{}, nil, uerr
		}
		p.logger.Info(ctx, "checkout lead upserted",
			observability.Field{Key: "lead_id", Value: lead.ID.String()},
		)
		return CheckoutResult{LeadID: lead.ID, RequiresManualVerification: requiresManual}, nil, nil
	}

	lead, err := p.store.CreateLead(ctx, store.CreateLeadParams{
		Name:   leads.CleanName(sub.Name),
		Email:  email,
		Phone:  optional(sub.Phone),
		Source: store.LeadSourceCheckout,
		Status: store.LeadStatusInitiated,
		UTM:    sub.Attribution,
		Consent: store.Consent{
			LGPDConsent: true,
			TextVersion: consentTextVersion,
			AcceptedAt:  p.now().UTC(),
		},
		AffiliateCode:              optional(sub.AffiliateCode),
		ProductID:                  &productID,
		PriceID:                    &priceID,
		PartnerOffer:               partnerOffer,
		RequiresManualVerification: requiresManual,
		IPAddress:                  optional(sub.IPAddress),
		UserAgent:                  optional(sub.UserAgent),
		DeviceType:                 optional(sub.DeviceType),
	})
	if err != nil {
		p.logger.Error(ctx, "failed to create checkout lead", err)
		return CheckoutResult{}, nil, err
	}

	p.logger.Info(ctx, "checkout lead captured",
		observability.Field{Key: "lead_id", Value: lead.ID.String()},
		observability.Field{Key: "requires_manual_verification", Value: requiresManual},
	)
	return CheckoutResult{LeadID: lead.ID, RequiresManualVerification: requiresManual}, nil, nil
}

// detectBot applies the honeypot and minimum-fill-time checks. It reports the
// drop reason for logging; callers must not leak it to the client.
func (p *LeadProcessor) detectBot(sub LandingSubmission) (string, bool) {
	if sub.Honeypot != "" {
		return "honeypot", true
	}
	if time.Duration(sub.ElapsedMs)*time.Millisecond < minFillTime {
		return "min_fill_time", true
	}
	return "", false
}

// verifyCaptcha checks the Turnstile token. Failures reject only when
// enforcement is on; otherwise the submission proceeds and the failure is
// logged for tuning.
func (p *LeadProcessor) verifyCaptcha(ctx context.Context, token, ipAddress string) error {
	if p.captchaVerifier == nil || !p.captchaVerifier.IsEnabled() {
		return nil
	}
	if err := p.captchaVerifier.Verify(ctx, token, ipAddress); err != nil {
		if p.enforceCaptcha {
			p.logger.Info(ctx, "captcha verification failed")
			return ErrCaptchaFailed
		}
		p.logger.Warn(ctx, "captcha verification failed, accepting submission outside production")
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
