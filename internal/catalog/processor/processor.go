// Package processor serves the public catalog: products with their active
// prices, and admin-managed content pages.
package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"funnel-server/internal/observability"
	"funnel-server/internal/pricing"
	"funnel-server/internal/store"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrPageNotFound    = errors.New("page not found")
)

// CatalogStore is the slice of the store the public catalog needs.
type CatalogStore interface {
	ListProducts(ctx context.Context, activeOnly bool) ([]store.Product, error)
	GetProductBySlug(ctx context.Context, slug string) (store.Product, error)
	ListPricesByProduct(ctx context.Context, productID uuid.UUID, activeOnly bool) ([]store.ProductPrice, error)
	GetPageBySlug(ctx context.Context, slug string, publishedOnly bool) (store.Page, error)
}

// PriceView is a ProductPrice shaped for the pricing table, with BRL amounts
// pre-formatted for display.
type PriceView struct {
	ID                 uuid.UUID `json:"id"`
	Label              string    `json:"label"`
	PaymentMethod      string    `json:"payment_method"`
	Currency           string    `json:"currency"`
	AmountCents        int64     `json:"amount_cents"`
	AmountDisplay      string    `json:"amount_display"`
	Installments       *int      `json:"installments,omitempty"`
	InstallmentDisplay string    `json:"installment_display"`
	IncludesMentorship bool      `json:"includes_mentorship"`
}

// ProductView is a product with its active prices attached.
type ProductView struct {
	ID           uuid.UUID   `json:"id"`
	Slug         string      `json:"slug"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Features     []string    `json:"features"`
	DisplayOrder int         `json:"display_order"`
	Prices       []PriceView `json:"prices"`
}

type CatalogProcessor struct {
	store  CatalogStore
	logger *observability.Logger
}

func New(catalogStore CatalogStore, logger *observability.Logger) CatalogProcessor {
	return CatalogProcessor{
		store:  catalogStore,
		logger: logger,
	}
}

// ListProducts returns the active products with active prices, in display
// order.
func (p *CatalogProcessor) ListProducts(ctx context.Context) ([]ProductView, error) {
	products, err := p.store.ListProducts(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	views := make([]ProductView, 0, len(products))
	for _, product := range products {
		view, err := p.buildView(ctx, product)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// GetProduct returns one active product by slug.
func (p *CatalogProcessor) GetProduct(ctx context.Context, slug string) (ProductView, error) {
	product, err := p.store.GetProductBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ProductView{}, ErrProductNotFound
		}
		return ProductView{}, fmt.Errorf("failed to load product: %w", err)
	}
	if !product.Active {
		return ProductView{}, ErrProductNotFound
	}
	return p.buildView(ctx, product)
}

// GetPage returns a published content page by slug.
func (p *CatalogProcessor) GetPage(ctx context.Context, slug string) (store.Page, error) {
	page, err := p.store.GetPageBySlug(ctx, slug, true)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Page{}, ErrPageNotFound
		}
		return store.Page{}, fmt.Errorf("failed to load page: %w", err)
	}
	return page, nil
}

func (p *CatalogProcessor) buildView(ctx context.Context, product store.Product) (ProductView, error) {
	prices, err := p.store.ListPricesByProduct(ctx, product.ID, true)
	if err != nil {
		return ProductView{}, fmt.Errorf("failed to list prices for product %s: %w", product.Slug, err)
	}

	view := ProductView{
		ID:           product.ID,
		Slug:         product.Slug,
		Name:         product.Name,
		Description:  product.Description,
		Features:     []string(product.Features),
		DisplayOrder: product.DisplayOrder,
		Prices:       make([]PriceView, 0, len(prices)),
	}
	for _, price := range prices {
		view.Prices = append(view.Prices, priceView(price))
	}
	return view, nil
}

func priceView(price store.ProductPrice) PriceView {
	view := PriceView{
		ID:                 price.ID,
		Label:              price.Label,
		PaymentMethod:      price.PaymentMethod,
		Currency:           price.Currency,
		AmountCents:        price.AmountCents,
		AmountDisplay:      pricing.FormatBRL(price.AmountCents),
		Installments:       price.Installments,
		IncludesMentorship: price.IncludesMentorship,
	}

	installments := 0
	installmentCents := int64(0)
	if price.Installments != nil {
		installments = *price.Installments
	}
	if price.InstallmentAmountCents != nil {
		installmentCents = *price.InstallmentAmountCents
	}
	view.InstallmentDisplay = pricing.FormatInstallments(price.AmountCents, installments, installmentCents)
	return view
}
