package processor

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"funnel-server/internal/observability"
	"funnel-server/internal/store"
)

// MockCatalogStore is a mock implementation of CatalogStore
type MockCatalogStore struct {
	mock.Mock
}

func (m *MockCatalogStore) ListProducts(ctx context.Context, activeOnly bool) ([]store.Product, error) {
	args := m.Called(ctx, activeOnly)
	return args.Get(0).([]store.Product), args.Error(1)
}

func (m *MockCatalogStore) GetProductBySlug(ctx context.Context, slug string) (store.Product, error) {
	args := m.Called(ctx, slug)
	return args.Get(0).(store.Product), args.Error(1)
}

func (m *MockCatalogStore) ListPricesByProduct(ctx context.Context, productID uuid.UUID, activeOnly bool) ([]store.ProductPrice, error) {
	args := m.Called(ctx, productID, activeOnly)
	return args.Get(0).([]store.ProductPrice), args.Error(1)
}

func (m *MockCatalogStore) GetPageBySlug(ctx context.Context, slug string, publishedOnly bool) (store.Page, error) {
	args := m.Called(ctx, slug, publishedOnly)
	return args.Get(0).(store.Page), args.Error(1)
}

func TestListProductsFormatsPrices(t *testing.T) {
	catalogStore := new(MockCatalogStore)
	p := New(catalogStore, observability.NewLogger())

	product := store.Product{
		ID:       uuid.New(),
		Slug:     "curso-bitcoin",
		Name:     "Curso de Bitcoin",
		Features: store.StringArray{"Acesso vitalício", "Suporte por 1 ano"},
		Active:   true,
	}
	installments := 10
	installmentCents := int64(19990)
	prices := []store.ProductPrice{
		{
			ID:            uuid.New(),
			ProductID:     product.ID,
			Label:         "À vista",
			PaymentMethod: "pix",
			Currency:      "BRL",
			AmountCents:   30000,
			Active:        true,
		},
		{
			ID:                     uuid.New(),
			ProductID:              product.ID,
			Label:                  "Parcelado",
			PaymentMethod:          "credit_card",
			Currency:               "BRL",
			AmountCents:            199900,
			Installments:           &installments,
			InstallmentAmountCents: &installmentCents,
			Active:                 true,
		},
	}

	catalogStore.On("ListProducts", mock.Anything, true).Return([]store.Product{product}, nil)
	catalogStore.On("ListPricesByProduct", mock.Anything, product.ID, true).Return(prices, nil)

	views, err := p.ListProducts(context.Background())

	assert.NoError(t, err)
	assert.Len(t, views, 1)
	assert.Equal(t, "curso-bitcoin", views[0].Slug)
	assert.Equal(t, []string{"Acesso vitalício", "Suporte por 1 ano"}, views[0].Features)
	assert.Len(t, views[0].Prices, 2)
	assert.Equal(t, "R$ 300,00", views[0].Prices[0].AmountDisplay)
	assert.Equal(t, "10x de R$ 199,90", views[0].Prices[1].InstallmentDisplay)
}

func TestGetProductHidesInactive(t *testing.T) {
	catalogStore := new(MockCatalogStore)
	p := New(catalogStore, observability.NewLogger())

	catalogStore.On("GetProductBySlug", mock.Anything, "descontinuado").Return(store.Product{
		ID:     uuid.New(),
		Slug:   "descontinuado",
		Active: false,
	}, nil)

	_, err := p.GetProduct(context.Background(), "descontinuado")

	assert.ErrorIs(t, err, ErrProductNotFound)
	catalogStore.AssertNotCalled(t, "ListPricesByProduct", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetProductUnknownSlug(t *testing.T) {
	catalogStore := new(MockCatalogStore)
	p := New(catalogStore, observability.NewLogger())

	catalogStore.On("GetProductBySlug", mock.Anything, "nope").Return(store.Product{}, store.ErrNotFound)

	_, err := p.GetProduct(context.Background(), "nope")

	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestGetPagePublishedOnly(t *testing.T) {
	catalogStore := new(MockCatalogStore)
	p := New(catalogStore, observability.NewLogger())

	catalogStore.On("GetPageBySlug", mock.Anything, "privacidade", true).Return(store.Page{
		Slug:      "privacidade",
		Title:     "Política de Privacidade",
		Published: true,
	}, nil)

	page, err := p.GetPage(context.Background(), "privacidade")

	assert.NoError(t, err)
	assert.Equal(t, "Política de Privacidade", page.Title)
}

func TestGetPageNotFound(t *testing.T) {
	catalogStore := new(MockCatalogStore)
	p := New(catalogStore, observability.NewLogger())

	catalogStore.On("GetPageBySlug", mock.Anything, "rascunho", true).Return(store.Page{}, store.ErrNotFound)

	_, err := p.GetPage(context.Background(), "rascunho")

	assert.ErrorIs(t, err, ErrPageNotFound)
}
