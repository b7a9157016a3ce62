package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"funnel-server/internal/attribution"
	"funnel-server/internal/observability"
	"funnel-server/internal/store"
)

// MockLeadStore is a mock implementation of LeadStore
type MockLeadStore struct {
	mock.Mock
}

func (m *MockLeadStore) CreateLead(ctx context.Context, params store.CreateLeadParams) (store.Lead, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(store.Lead), args.Error(1)
}

func (m *MockLeadStore) GetLeadByEmail(ctx context.Context, email string) (store.Lead, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(store.Lead), args.Error(1)
}

func (m *MockLeadStore) GetLatestInitiatedCheckoutLead(ctx context.Context, email string) (store.Lead, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(store.Lead), args.Error(1)
}

func (m *MockLeadStore) UpdateLead(ctx context.Context, leadID uuid.UUID, params store.UpdateLeadParams) (store.Lead, error) {
	args := m.Called(ctx, leadID, params)
	return args.Get(0).(store.Lead), args.Error(1)
}

// MockCaptchaVerifier is a mock implementation of CaptchaVerifier
type MockCaptchaVerifier struct {
	mock.Mock
}

func (m *MockCaptchaVerifier) Verify(ctx context.Context, token string, remoteIP string) error {
	args := m.Called(ctx, token, remoteIP)
	return args.Error(0)
}

func (m *MockCaptchaVerifier) IsEnabled() bool {
	args := m.Called()
	return args.Bool(0)
}

// MockEventPublisher is a mock implementation of EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishLeadCaptured(ctx context.Context, lead store.Lead) {
	m.Called(ctx, lead)
}

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestProcessor(leadStore *MockLeadStore, captcha *MockCaptchaVerifier, events *MockEventPublisher, enforceCaptcha bool) LeadProcessor {
	p := New(leadStore, captcha, events, enforceCaptcha, observability.NewLogger())
	p.now = func() time.Time { return fixedNow }
	return p
}

func disabledCaptcha() *MockCaptchaVerifier {
	captcha := new(MockCaptchaVerifier)
	captcha.On("IsEnabled").Return(false)
	return captcha
}

func validLandingSubmission() LandingSubmission {
	return LandingSubmission{
		Name:        "Maria Silva",
		Email:       "Maria@Example.com",
		Phone:       "+55 11 91234-5678",
		LGPDConsent: true,
		ElapsedMs:   8000,
		Attribution: attribution.Record{
			LastTouch: &attribution.Touch{Source: "instagram", CapturedAt: fixedNow},
		},
		AffiliateCode: "AFF123",
		IPAddress:     "203.0.113.9",
		UserAgent:     "Mozilla/5.0",
		DeviceType:    "mobile",
	}
}

func TestCaptureLandingLeadCreatesNewLead(t *testing.T) {
	mockStore := new(MockLeadStore)
	events := new(MockEventPublisher)
	proc := newTestProcessor(mockStore, disabledCaptcha(), events, false)

	sub := validLandingSubmission()
	leadID := uuid.New()
	created := store.Lead{ID: leadID, Name: "Maria Silva", Email: "maria@example.com"}

	mockStore.On("GetLeadByEmail", mock.Anything, "maria@example.com").
		Return(store.Lead{}, store.ErrNotFound)
	mockStore.On("CreateLead", mock.Anything, store.CreateLeadParams{
		Name:   "Maria Silva",
		Email:  "maria@example.com",
		Phone:  strPtr("+55 11 91234-5678"),
		Source: store.LeadSourceLandingPage,
		Status: store.LeadStatusNew,
		UTM:    sub.Attribution,
		Consent: store.Consent{
			LGPDConsent: true,
			TextVersion: "v1.0",
			AcceptedAt:  fixedNow,
		},
		AffiliateCode: strPtr("AFF123"),
		IPAddress:     strPtr("203.0.113.9"),
		UserAgent:     strPtr("Mozilla/5.0"),
		DeviceType:    strPtr("mobile"),
	}).Return(created, nil)
	events.On("PublishLeadCaptured", mock.Anything, created).Return()

	result, fieldErrs, err := proc.CaptureLandingLead(context.Background(), sub)

	assert.NoError(t, err)
	assert.Empty(t, fieldErrs)
	assert.Equal(t, leadID, result.LeadID)
	assert.True(t, result.Created)
	assert.False(t, result.Dropped)
	mockStore.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestCaptureLandingLeadRefreshesExistingLead(t *testing.T) {
	mockStore := new(MockLeadStore)
	events := new(MockEventPublisher)
	proc := newTestProcessor(mockStore, disabledCaptcha(), events, false)

	sub := validLandingSubmission()
	existingID := uuid.New()
	existing := store.Lead{ID: existingID, Name: "Maria", Email: "maria@example.com", DownloadCount: 2}
	refreshed := store.Lead{ID: existingID, Name: "Maria Silva", Email: "maria@example.com", DownloadCount: 2}

	utm := sub.Attribution
	mockStore.On("GetLeadByEmail", mock.Anything, "maria@example.com").Return(existing, nil)
	mockStore.On("UpdateLead", mock.Anything, existingID, store.UpdateLeadParams{
		Name:          strPtr("Maria Silva"),
		Phone:         strPtr("+55 11 91234-5678"),
		UTM:           &utm,
		AffiliateCode: strPtr("AFF123"),
	}).Return(refreshed, nil)
	events.On("PublishLeadCaptured", mock.Anything, refreshed).Return()

	result, fieldErrs, err := proc.CaptureLandingLead(context.Background(), sub)

	assert.NoError(t, err)
	assert.Empty(t, fieldErrs)
	assert.Equal(t, existingID, result.LeadID)
	assert.False(t, result.Created)
	mockStore.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestCaptureLandingLeadHoneypotDropsSilently(t *testing.T) {
	// No expectations on the mocks: any store or event call fails the test.
	mockStore := new(MockLeadStore)
	events := new(MockEventPublisher)
	proc := newTestProcessor(mockStore, disabledCaptcha(), events, true)

	sub := validLandingSubmission()
	sub.Honeypot = "https://spam.example"

	result, fieldErrs, err := proc.CaptureLandingLead(context.Background(), sub)

	assert.NoError(t, err)
	assert.Empty(t, fieldErrs)
	assert.True(t, result.Dropped)
	assert.NotEqual(t, uuid.Nil, result.LeadID)
	mockStore.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestCaptureLandingLeadFastSubmitDropsSilently(t *testing.T) {
	mockStore := new(MockLeadStore)
	events := new(MockEventPublisher)
	proc := newTestProcessor(mockStore, disabledCaptcha(), events, true)

	sub := validLandingSubmission()
	sub.ElapsedMs = 1500

	result, fieldErrs, err := proc.CaptureLandingLead(context.Background(), sub)

	assert.NoError(t, err)
	assert.Empty(t, fieldErrs)
	assert.True(t, result.Dropped)
	assert.NotEqual(t, uuid.Nil, result.LeadID)
	mockStore.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestCaptureLandingLeadValidationNeverReachesStore(t *testing.T) {
	mockStore := new(MockLeadStore)
	events := new(MockEventPublisher)
	proc := newTestProcessor(mockStore, disabledCaptcha(), events, false)

	sub := validLandingSubmission()
	sub.Name = "Jo"
	sub.Email = "not-an-email"
	sub.LGPDConsent = false

	result, fieldErrs, err := proc.CaptureLandingLead(context.Background(), sub)

	assert.NoError(t, err)
	assert.False(t, result.Dropped)
	assert.Len(t, fieldErrs, 3)
	fields := make(map[string]string)
	for _, fe := range fieldErrs {
		fields[fe.Field] = fe.Code
	}
	assert.Equal(t, "too_short", fields["name"])
	assert.Equal(t, "invalid_email", fields["email"])
	assert.Equal(t, "consent_required", fields["lgpd_consent"])
	mockStore.AssertExpectations(t)
}

func TestCaptureLandingLeadCaptchaBlocksWhenEnforced(t *testing.T) {
	mockStore := new(MockLeadStore)
	events := new(MockEventPublisher)
	captcha := new(MockCaptchaVerifier)
	captcha.On("IsEnabled").Return(true)
	captcha.On("Verify", mock.Anything, "bad-token", "203.0.113.9").
		Return(errors.New("verification failed"))
	proc := newTestProcessor(mockStore, captcha, events, true)

	sub := validLandingSubmission()
	sub.CaptchaToken = "bad-token"

	_, fieldErrs, err := proc.CaptureLandingLead(context.Background(), sub)

	assert.ErrorIs(t, err, ErrCaptchaFailed)
	assert.Empty(t, fieldErrs)
	captcha.AssertExpectations(t)
	mockStore.AssertExpectations(t)
}

func TestCaptureLandingLeadCaptchaFailureAcceptedOutsideProduction(t *testing.T) {
	mockStore := new(MockLeadStore)
	events := new(MockEventPublisher)
	captcha := new(MockCaptchaVerifier)
	captcha.On("IsEnabled").Return(true)
	captcha.On("Verify", mock.Anything, "bad-token", "203.0.113.9").
		Return(errors.New("verification failed"))
	proc := newTestProcessor(mockStore, captcha, events, false)

	sub := validLandingSubmission()
	sub.CaptchaToken = "bad-token"
	created := store.Lead{ID: uuid.New(), Email: "maria@example.com"}

	mockStore.On("GetLeadByEmail", mock.Anything, "maria@example.com").
		Return(store.Lead{}, store.ErrNotFound)
	mockStore.On("CreateLead", mock.Anything, mock.Anything).Return(created, nil)
	events.On("PublishLeadCaptured", mock.Anything, created).Return()

	result, fieldErrs, err := proc.CaptureLandingLead(context.Background(), sub)

	assert.NoError(t, err)
	assert.Empty(t, fieldErrs)
	assert.True(t, result.Created)
	mockStore.AssertExpectations(t)
}

func TestCaptureLandingLeadLookupFailurePropagates(t *testing.T) {
	mockStore := new(MockLeadStore)
	events := new(MockEventPublisher)
	proc := newTestProcessor(mockStore, disabledCaptcha(), events, false)

	boom := errors.New("connection refused")
	mockStore.On("GetLeadByEmail", mock.Anything, "maria@example.com").
		Return(store.Lead{}, boom)

	_, _, err := proc.CaptureLandingLead(context.Background(), validLandingSubmission())

	assert.ErrorIs(t, err, boom)
	mockStore.AssertExpectations(t)
}

func validCheckoutSubmission() CheckoutSubmission {
	return CheckoutSubmission{
		Name:        "João Pedro",
		Email:       "joao@example.com",
		Phone:       "11912345678",
		LGPDConsent: true,
		ProductID:   uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		PriceID:     uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8"),
		Attribution: attribution.Record{
			LastTouch: &attribution.Touch{Source: "youtube", CapturedAt: fixedNow},
		},
		IPAddress:  "198.51.100.7",
		UserAgent:  "Mozilla/5.0",
		DeviceType: "desktop",
	}
}

func TestCaptureCheckoutLeadCreatesInitiatedLead(t *testing.T) {
	mockStore := new(MockLeadStore)
	proc := newTestProcessor(mockStore, disabledCaptcha(), new(MockEventPublisher), false)

	sub := validCheckoutSubmission()
	leadID := uuid.New()
	created := store.Lead{ID: leadID, Email: "joao@example.com", Status: store.LeadStatusInitiated}

	mockStore.On("GetLatestInitiatedCheckoutLead", mock.Anything, "joao@example.com").
		Return(store.Lead{}, store.ErrNotFound)
	mockStore.On("CreateLead", mock.Anything, store.CreateLeadParams{
		Name:   "João Pedro",
		Email:  "joao@example.com",
		Phone:  strPtr("11912345678"),
		Source: store.LeadSourceCheckout,
		Status: store.LeadStatusInitiated,
		UTM:    sub.Attribution,
		Consent: store.Consent{
			LGPDConsent: true,
			TextVersion: "v1.0",
			AcceptedAt:  fixedNow,
		},
		ProductID:  &sub.ProductID,
		PriceID:    &sub.PriceID,
		IPAddress:  strPtr("198.51.100.7"),
		UserAgent:  strPtr("Mozilla/5.0"),
		DeviceType: strPtr("desktop"),
	}).Return(created, nil)

	result, fieldErrs, err := proc.CaptureCheckoutLead(context.Background(), sub)

	assert.NoError(t, err)
	assert.Empty(t, fieldErrs)
	assert.Equal(t, leadID, result.LeadID)
	assert.False(t, result.RequiresManualVerification)
	mockStore.AssertExpectations(t)
}

func TestCaptureCheckoutLeadUpsertsOverInitiated(t *testing.T) {
	mockStore := new(MockLeadStore)
	proc := newTestProcessor(mockStore, disabledCaptcha(), new(MockEventPublisher), false)

	sub := validCheckoutSubmission()
	sub.AffiliateCode = "AFF123"
	existingID := uuid.New()
	existing := store.Lead{ID: existingID, Email: "joao@example.com", Status: store.LeadStatusInitiated}
	updated := store.Lead{ID: existingID, Email: "joao@example.com", Status: store.LeadStatusInitiated}

	utm := sub.Attribution
	requiresManual := false
	mockStore.On("GetLatestInitiatedCheckoutLead", mock.Anything, "joao@example.com").
		Return(existing, nil)
	mockStore.On("UpdateLead", mock.Anything, existingID, store.UpdateLeadParams{
		Name:                       strPtr("João Pedro"),
		Phone:                      strPtr("11912345678"),
		UTM:                        &utm,
		AffiliateCode:              strPtr("AFF123"),
		ProductID:                  &sub.ProductID,
		PriceID:                    &sub.PriceID,
		RequiresManualVerification: &requiresManual,
	}).Return(updated, nil)

	result, fieldErrs, err := proc.CaptureCheckoutLead(context.Background(), sub)

	assert.NoError(t, err)
	assert.Empty(t, fieldErrs)
	assert.Equal(t, existingID, result.LeadID)
	mockStore.AssertExpectations(t)
}

func TestCaptureCheckoutLeadPartnerOfferNeedsManualReview(t *testing.T) {
	mockStore := new(MockLeadStore)
	proc := newTestProcessor(mockStore, disabledCaptcha(), new(MockEventPublisher), false)

	sub := validCheckoutSubmission()
	sub.PartnerOffer = &PartnerOffer{Partner: "clube-do-livro", ProofURL: "https://proof.example/receipt.png"}
	created := store.Lead{ID: uuid.New(), RequiresManualVerification: true}

	mockStore.On("GetLatestInitiatedCheckoutLead", mock.Anything, "joao@example.com").
		Return(store.Lead{}, store.ErrNotFound)
	mockStore.On("CreateLead", mock.Anything, mock.MatchedBy(func(params store.CreateLeadParams) bool {
		return params.RequiresManualVerification &&
			params.PartnerOffer["partner"] == "clube-do-livro" &&
			params.PartnerOffer["proof_url"] == "https://proof.example/receipt.png"
	})).Return(created, nil)

	result, fieldErrs, err := proc.CaptureCheckoutLead(context.Background(), sub)

	assert.NoError(t, err)
	assert.Empty(t, fieldErrs)
	assert.True(t, result.RequiresManualVerification)
	mockStore.AssertExpectations(t)
}

func TestCaptureCheckoutLeadRequiresProductAndPrice(t *testing.T) {
	mockStore := new(MockLeadStore)
	proc := newTestProcessor(mockStore, disabledCaptcha(), new(MockEventPublisher), false)

	sub := validCheckoutSubmission()
	sub.PriceID = uuid.Nil

	_, fieldErrs, err := proc.CaptureCheckoutLead(context.Background(), sub)

	assert.ErrorIs(t, err, ErrProductRequired)
	assert.Empty(t, fieldErrs)
	mockStore.AssertExpectations(t)
}

func TestCaptureCheckoutLeadValidationNeverReachesStore(t *testing.T) {
	mockStore := new(MockLeadStore)
	proc := newTestProcessor(mockStore, disabledCaptcha(), new(MockEventPublisher), false)

	sub := validCheckoutSubmission()
	sub.Email = "joao@yopmail.com"

	_, fieldErrs, err := proc.CaptureCheckoutLead(context.Background(), sub)

	assert.NoError(t, err)
	assert.Len(t, fieldErrs, 1)
	assert.Equal(t, "disposable_email", fieldErrs[0].Code)
	mockStore.AssertExpectations(t)
}

func strPtr(s string) *string {
	return &s
}
