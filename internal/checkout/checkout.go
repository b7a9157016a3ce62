// Package checkout implements the multi-step purchase wizard as a state
// machine. State changes are expressed as events applied by a pure function,
// so every transition is testable without a store or catalog. Catalog
// lookups and override-token validation happen in the Manager before an
// event is emitted; events themselves carry plain data.
package checkout

import (
	"time"

	"github.com/google/uuid"
)

// Step indexes the wizard pages in order.
type Step int

const (
	StepProductConfirmation Step = iota
	StepContactInfo
	StepPaymentMethodSelection
	StepPaymentExecution
)

const maxStep = StepPaymentExecution

func (s Step) String() string {
	switch s {
	case StepProductConfirmation:
		return "product_confirmation"
	case StepContactInfo:
		return "contact_info"
	case StepPaymentMethodSelection:
		return "payment_method_selection"
	case StepPaymentExecution:
		return "payment_execution"
	default:
		return "unknown"
	}
}

// State is the accumulated wizard data for one shopper.
type State struct {
	Step      Step       `json:"step"`
	ProductID *uuid.UUID `json:"product_id,omitempty"`
	PriceID   *uuid.UUID `json:"price_id,omitempty"`

	// PaymentMethod is derived from the selected price, never chosen
	// directly by the client.
	PaymentMethod string `json:"payment_method,omitempty"`
	AmountCents   int64  `json:"amount_cents"`

	MentorshipSelected bool `json:"mentorship_selected"`

	// MethodStepCollapsed skips the payment-method page when the selected
	// price already fixes the processor.
	MethodStepCollapsed bool `json:"method_step_collapsed"`

	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`

	AffiliateCode string `json:"affiliate_code,omitempty"`

	// ManualOverrideBy holds the admin email a validated override token was
	// minted for. Neither field is ever echoed to the client.
	ManualOverrideBy    string `json:"-"`
	ManualOverrideToken string `json:"-"`
}

// IsComplete gates payment dispatch: product, price, email and name must all
// be populated.
func (s State) IsComplete() bool {
	return s.ProductID != nil && s.PriceID != nil && s.Email != "" && s.Name != ""
}

// Event is a single change to checkout state.
type Event interface {
	apply(State) State
}

// Apply returns the state after the event. Pure; the input state is never
// mutated.
func Apply(s State, e Event) State {
	return e.apply(s)
}

// SetProductAndPrice populates the product and price selection along with
// the amount derived from them.
type SetProductAndPrice struct {
	ProductID          uuid.UUID
	PriceID            uuid.UUID
	PaymentMethod      string
	AmountCents        int64
	MentorshipSelected bool
	CollapseMethodStep bool
}

func (e SetProductAndPrice) apply(s State) State {
	productID := e.ProductID
	priceID := e.PriceID
	s.ProductID = &productID
	s.PriceID = &priceID
	s.PaymentMethod = e.PaymentMethod
	s.AmountCents = e.AmountCents
	s.MentorshipSelected = e.MentorshipSelected
	s.MethodStepCollapsed = e.CollapseMethodStep
	return s
}

// SetUserInfo populates the contact fields collected at the contact step.
type SetUserInfo struct {
	Name  string
	Email string
	Phone string
}

func (e SetUserInfo) apply(s State) State {
	s.Name = e.Name
	s.Email = e.Email
	s.Phone = e.Phone
	return s
}

// SetAffiliateCode snapshots the referral code independently of step
// progression.
type SetAffiliateCode struct {
	Code string
}

func (e SetAffiliateCode) apply(s State) State {
	s.AffiliateCode = e.Code
	return s
}

// SetManualOverride records a validated override token. The Manager only
// emits this event after the token has been verified against the admin
// whitelist.
type SetManualOverride struct {
	Token         string
	ApproverEmail string
}

func (e SetManualOverride) apply(s State) State {
	s.ManualOverrideToken = e.Token
	s.ManualOverrideBy = e.ApproverEmail
	return s
}

// Next advances the step index by one, skipping the payment-method page when
// it is collapsed. Clamped at the final step.
type Next struct{}

func (Next) apply(s State) State {
	next := s.Step + 1
	if next == StepPaymentMethodSelection && s.MethodStepCollapsed {
		next++
	}
	if next > maxStep {
		next = maxStep
	}
	s.Step = next
	return s
}

// Prev retreats the step index by one, mirroring Next's skip. Clamped at the
// first step.
type Prev struct{}

func (Prev) apply(s State) State {
	prev := s.Step - 1
	if prev == StepPaymentMethodSelection && s.MethodStepCollapsed {
		prev--
	}
	if prev < StepProductConfirmation {
		prev = StepProductConfirmation
	}
	s.Step = prev
	return s
}

// Session is a State with identity and timestamps, held by a SessionStore
// for the duration of one checkout.
type Session struct {
	ID uuid.UUID `json:"id"`
	State
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
