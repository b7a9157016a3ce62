package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const productColumns = `id, slug, name, description, features, display_order, active, created_at, updated_at`

// CreateProductParams represents parameters for creating a product
type CreateProductParams struct {
	Slug         string
	Name         string
	Description  string
	Features     StringArray
	DisplayOrder int
	Active       bool
}

const sqlCreateProduct = `
INSERT INTO products (slug, name, description, features, display_order, active)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + productColumns

// CreateProduct inserts a new product
func (s *Store) CreateProduct(ctx context.Context, params CreateProductParams) (Product, error) {
	var product Product
	err := s.db.GetContext(ctx, &product, sqlCreateProduct,
		params.Slug,
		params.Name,
		params.Description,
		params.Features,
		params.DisplayOrder,
		params.Active,
	)
	if err != nil {
		return Product{}, fmt.Errorf("failed to create product: %w", err)
	}
	return product, nil
}

const sqlGetProductByID = `
SELECT ` + productColumns + `
FROM products
WHERE id = $1
`

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, productID uuid.UUID) (Product, error) {
	var product Product
	err := s.db.GetContext(ctx, &product, sqlGetProductByID, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("failed to get product: %w", err)
	}
	return product, nil
}

const sqlGetProductBySlug = `
SELECT ` + productColumns + `
FROM products
WHERE slug = $1
`

// GetProductBySlug retrieves a product by its public slug
func (s *Store) GetProductBySlug(ctx context.Context, slug string) (Product, error) {
	var product Product
	err := s.db.GetContext(ctx, &product, sqlGetProductBySlug, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("failed to get product by slug: %w", err)
	}
	return product, nil
}

const sqlListProducts = `
SELECT ` + productColumns + `
FROM products
ORDER BY display_order ASC, created_at ASC
`

const sqlListActiveProducts = `
SELECT ` + productColumns + `
FROM products
WHERE active = true
ORDER BY display_order ASC, created_at ASC
`

// ListProducts retrieves all products, optionally restricted to active ones
func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]Product, error) {
	query := sqlListProducts
	if activeOnly {
		query = sqlListActiveProducts
	}

	var products []Product
	err := s.db.SelectContext(ctx, &products, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// UpdateProductParams represents parameters for updating a product. Nil
// fields are left unchanged.
type UpdateProductParams struct {
	Name         *string
	Description  *string
	Features     StringArray
	DisplayOrder *int
	Active       *bool
}

const sqlUpdateProduct = `
UPDATE products
SET name = COALESCE($2, name),
    description = COALESCE($3, description),
    features = COALESCE($4, features),
    display_order = COALESCE($5, display_order),
    active = COALESCE($6, active),
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1
RETURNING ` + productColumns

// UpdateProduct updates a product
func (s *Store) UpdateProduct(ctx context.Context, productID uuid.UUID, params UpdateProductParams) (Product, error) {
	var product Product
	err := s.db.GetContext(ctx, &product, sqlUpdateProduct,
		productID,
		params.Name,
		params.Description,
		params.Features,
		params.DisplayOrder,
		params.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("failed to update product: %w", err)
	}
	return product, nil
}

// ============================================================================
// PRODUCT PRICE OPERATIONS
// ============================================================================

const productPriceColumns = `id, product_id, label, payment_method, currency, amount_cents,
	installments, installment_amount_cents, includes_mentorship, active, created_at, updated_at`

// CreateProductPriceParams represents parameters for creating a price option
type CreateProductPriceParams struct {
	ProductID              uuid.UUID
	Label                  string
	PaymentMethod          string
	Currency               string
	AmountCents            int64
	Installments           *int
	InstallmentAmountCents *int64
	IncludesMentorship     bool
	Active                 bool
}

const sqlCreateProductPrice = `
INSERT INTO product_prices (
	product_id, label, payment_method, currency, amount_cents,
	installments, installment_amount_cents, includes_mentorship, active
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + productPriceColumns

// CreateProductPrice inserts a new price option for a product
func (s *Store) CreateProductPrice(ctx context.Context, params CreateProductPriceParams) (ProductPrice, error) {
	var price ProductPrice
	err := s.db.GetContext(ctx, &price, sqlCreateProductPrice,
		params.ProductID,
		params.Label,
		params.PaymentMethod,
		params.Currency,
		params.AmountCents,
		params.Installments,
		params.InstallmentAmountCents,
		params.IncludesMentorship,
		params.Active,
	)
	if err != nil {
		return ProductPrice{}, fmt.Errorf("failed to create product price: %w", err)
	}
	return price, nil
}

const sqlGetProductPriceByID = `
SELECT ` + productPriceColumns + `
FROM product_prices
WHERE id = $1
`

// GetProductPriceByID retrieves a price option by ID
func (s *Store) GetProductPriceByID(ctx context.Context, priceID uuid.UUID) (ProductPrice, error) {
	var price ProductPrice
	err := s.db.GetContext(ctx, &price, sqlGetProductPriceByID, priceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProductPrice{}, ErrNotFound
		}
		return ProductPrice{}, fmt.Errorf("failed to get product price: %w", err)
	}
	return price, nil
}

const sqlListPricesByProduct = `
SELECT ` + productPriceColumns + `
FROM product_prices
WHERE product_id = $1
ORDER BY amount_cents ASC
`

const sqlListActivePricesByProduct = `
SELECT ` + productPriceColumns + `
FROM product_prices
WHERE product_id = $1 AND active = true
ORDER BY amount_cents ASC
`

// ListPricesByProduct retrieves the price options of a product, optionally
// restricted to active ones
func (s *Store) ListPricesByProduct(ctx context.Context, productID uuid.UUID, activeOnly bool) ([]ProductPrice, error) {
	query := sqlListPricesByProduct
	if activeOnly {
		query = sqlListActivePricesByProduct
	}

	var prices []ProductPrice
	err := s.db.SelectContext(ctx, &prices, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list product prices: %w", err)
	}
	return prices, nil
}

// UpdateProductPriceParams represents parameters for updating a price
// option. Nil fields are left unchanged.
type UpdateProductPriceParams struct {
	Label                  *string
	AmountCents            *int64
	Installments           *int
	InstallmentAmountCents *int64
	IncludesMentorship     *bool
	Active                 *bool
}

const sqlUpdateProductPrice = `
UPDATE product_prices
SET label = COALESCE($2, label),
    amount_cents = COALESCE($3, amount_cents),
    installments = COALESCE($4, installments),
    installment_amount_cents = COALESCE($5, installment_amount_cents),
    includes_mentorship = COALESCE($6, includes_mentorship),
    active = COALESCE($7, active),
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1
RETURNING ` + productPriceColumns

// UpdateProductPrice updates a price option
func (s *Store) UpdateProductPrice(ctx context.Context, priceID uuid.UUID, params UpdateProductPriceParams) (ProductPrice, error) {
	var price ProductPrice
	err := s.db.GetContext(ctx, &price, sqlUpdateProductPrice,
		priceID,
		params.Label,
		params.AmountCents,
		params.Installments,
		params.InstallmentAmountCents,
		params.IncludesMentorship,
		params.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProductPrice{}, ErrNotFound
		}
		return ProductPrice{}, fmt.Errorf("failed to update product price: %w", err)
	}
	return price, nil
}
