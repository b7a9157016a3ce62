package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"funnel-server/internal/leads"
	"funnel-server/internal/observability"
	"funnel-server/internal/pricing"
	"funnel-server/internal/store"

	"github.com/google/uuid"
)

var (
	ErrProductUnavailable = errors.New("product is not available for purchase")
	ErrPriceUnavailable   = errors.New("price is not available for purchase")
)

// Catalog loads the products and prices a session can select. *store.Store
// satisfies it.
type Catalog interface {
	GetProductByID(ctx context.Context, productID uuid.UUID) (store.Product, error)
	GetProductPriceByID(ctx context.Context, priceID uuid.UUID) (store.ProductPrice, error)
}

// Manager owns the session lifecycle. It resolves catalog rows and validates
// override tokens, then drives all state changes through Apply so the
// transition rules stay in one place.
type Manager struct {
	sessions           SessionStore
	catalog            Catalog
	overrides          *OverrideTokens
	explicitMethodStep bool
	logger             *observability.Logger
	now                func() time.Time
}

// NewManager creates a checkout session manager. When explicitMethodStep is
// false the payment-method page is skipped, since the preselected price
// already fixes the processor.
func NewManager(sessions SessionStore, catalog Catalog, overrides *OverrideTokens, explicitMethodStep bool, logger *observability.Logger) *Manager {
	return &Manager{
		sessions:           sessions,
		catalog:            catalog,
		overrides:          overrides,
		explicitMethodStep: explicitMethodStep,
		logger:             logger,
		now:                time.Now,
	}
}

// BeginParams starts a session from the product page's buy button.
type BeginParams struct {
	ProductID          uuid.UUID
	PriceID            uuid.UUID
	MentorshipSelected bool
	AffiliateCode      string
}

// Begin creates a session for a product and price. Both must be active and
// the price must belong to the product.
func (m *Manager) Begin(ctx context.Context, params BeginParams) (Session, error) {
	product, err := m.catalog.GetProductByID(ctx, params.ProductID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, ErrProductUnavailable
		}
		return Session{}, fmt.Errorf("failed to load product: %w", err)
	}
	if !product.Active {
		return Session{}, ErrProductUnavailable
	}

	price, err := m.loadPrice(ctx, params.PriceID, product.ID)
	if err != nil {
		return Session{}, err
	}

	now := m.now().UTC()
	session := Session{ID: uuid.New(), CreatedAt: now, UpdatedAt: now}
	session.State = Apply(session.State, SetProductAndPrice{
		ProductID:          product.ID,
		PriceID:            price.ID,
		PaymentMethod:      price.PaymentMethod,
		AmountCents:        pricing.FinalPrice(price.AmountCents, price.IncludesMentorship, params.MentorshipSelected),
		MentorshipSelected: params.MentorshipSelected,
		CollapseMethodStep: !m.explicitMethodStep,
	})
	if params.AffiliateCode != "" {
		session.State = Apply(session.State, SetAffiliateCode{Code: params.AffiliateCode})
	}

	if err := m.sessions.Save(ctx, session); err != nil {
		return Session{}, err
	}

	m.logger.Info(ctx, "checkout session started",
		observability.Field{Key: "session_id", Value: session.ID.String()},
		observability.Field{Key: "product_id", Value: product.ID.String()},
		observability.Field{Key: "price_id", Value: price.ID.String()},
		observability.Field{Key: "payment_method", Value: price.PaymentMethod},
		observability.Field{Key: "method_step_collapsed", Value: session.MethodStepCollapsed},
	)
	return session, nil
}

// Get loads a session by ID.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (Session, error) {
	return m.sessions.Get(ctx, id)
}

// SetUserInfo validates and stores the contact fields. Field-level problems
// come back in the second return value; the session is only updated when all
// fields pass.
func (m *Manager) SetUserInfo(ctx context.Context, id uuid.UUID, name, email, phone string) (Session, []leads.ValidationError, error) {
	session, err := m.sessions.Get(ctx, id)
	if err != nil {
		return Session{}, nil, err
	}

	var fieldErrs []leads.ValidationError
	if verr := leads.ValidateName(name); verr != nil {
		fieldErrs = append(fieldErrs, *verr)
	}
	if verr := leads.ValidateEmail(email); verr != nil {
		fieldErrs = append(fieldErrs, *verr)
	}
	if phone != "" {
		if verr := leads.ValidatePhone(phone); verr != nil {
			fieldErrs = append(fieldErrs, *verr)
		}
	}
	if len(fieldErrs) > 0 {
		return session, fieldErrs, nil
	}

	session.State = Apply(session.State, SetUserInfo{
		Name:  leads.CleanName(name),
		Email: leads.NormalizeEmail(email),
		Phone: strings.TrimSpace(phone),
	})
	session, err = m.save(ctx, session)
	return session, nil, err
}

// SelectPrice switches the session to another price of the same product,
// recomputing the payment method and amount. Used by the explicit
// payment-method page.
func (m *Manager) SelectPrice(ctx context.Context, id, priceID uuid.UUID, mentorshipSelected bool) (Session, error) {
	session, err := m.sessions.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if session.ProductID == nil {
		return Session{}, ErrPriceUnavailable
	}

	price, err := m.loadPrice(ctx, priceID, *session.ProductID)
	if err != nil {
		return Session{}, err
	}

	session.State = Apply(session.State, SetProductAndPrice{
		ProductID:          *session.ProductID,
		PriceID:            price.ID,
		PaymentMethod:      price.PaymentMethod,
		AmountCents:        pricing.FinalPrice(price.AmountCents, price.IncludesMentorship, mentorshipSelected),
		MentorshipSelected: mentorshipSelected,
		CollapseMethodStep: session.MethodStepCollapsed,
	})
	return m.save(ctx, session)
}

// SetAffiliateCode overwrites the session's referral snapshot, matching the
// cookie's last-write-wins behavior. An empty code is ignored.
func (m *Manager) SetAffiliateCode(ctx context.Context, id uuid.UUID, code string) (Session, error) {
	session, err := m.sessions.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if code == "" {
		return session, nil
	}
	session.State = Apply(session.State, SetAffiliateCode{Code: code})
	return m.save(ctx, session)
}

// SetOverride accepts a manual-override token. Invalid or unauthorized
// tokens leave the session untouched and report success, so the mechanism
// never reveals itself to the end user.
func (m *Manager) SetOverride(ctx context.Context, id uuid.UUID, token, approverEmail string) (Session, error) {
	session, err := m.sessions.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}

	email, ok := m.overrides.Validate(token)
	if !ok || !strings.EqualFold(email, strings.TrimSpace(approverEmail)) {
		m.logger.Warn(ctx, "ignoring invalid manual override token",
			observability.Field{Key: "session_id", Value: session.ID.String()},
		)
		return session, nil
	}

	session.State = Apply(session.State, SetManualOverride{Token: token, ApproverEmail: email})
	return m.save(ctx, session)
}

// Next advances the wizard one step.
func (m *Manager) Next(ctx context.Context, id uuid.UUID) (Session, error) {
	return m.step(ctx, id, Next{})
}

// Prev retreats the wizard one step.
func (m *Manager) Prev(ctx context.Context, id uuid.UUID) (Session, error) {
	return m.step(ctx, id, Prev{})
}

// Finish discards the session after a successful payment dispatch. Failed
// dispatches keep the session so the shopper retries without re-entering
// anything.
func (m *Manager) Finish(ctx context.Context, id uuid.UUID) error {
	return m.sessions.Delete(ctx, id)
}

func (m *Manager) step(ctx context.Context, id uuid.UUID, e Event) (Session, error) {
	session, err := m.sessions.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	session.State = Apply(session.State, e)
	return m.save(ctx, session)
}

func (m *Manager) loadPrice(ctx context.Context, priceID, productID uuid.UUID) (store.ProductPrice, error) {
	price, err := m.catalog.GetProductPriceByID(ctx, priceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ProductPrice{}, ErrPriceUnavailable
		}
		return store.ProductPrice{}, fmt.Errorf("failed to load price: %w", err)
	}
	if !price.Active || price.ProductID != productID {
		return store.ProductPrice{}, ErrPriceUnavailable
	}
	return price, nil
}

func (m *Manager) save(ctx context.Context, session Session) (Session, error) {
	session.UpdatedAt = m.now().UTC()
	if err := m.sessions.Save(ctx, session); err != nil {
		return Session{}, err
	}
	return session, nil
}
