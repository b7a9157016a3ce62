// Package handler exposes the public catalog endpoints.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"funnel-server/internal/catalog/processor"
	"funnel-server/internal/observability"
)

type Handler struct {
	processor processor.CatalogProcessor
	logger    *observability.Logger
}

func New(catalogProcessor processor.CatalogProcessor, logger *observability.Logger) Handler {
	return Handler{
		processor: catalogProcessor,
		logger:    logger,
	}
}

// HandleListProducts handles GET /api/products.
func (h *Handler) HandleListProducts(c *gin.Context) {
	products, err := h.processor.ListProducts(c.Request.Context())
	if err != nil {
		h.logger.Error(c.Request.Context(), "failed to list products", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// HandleGetProduct handles GET /api/products/:slug.
func (h *Handler) HandleGetProduct(c *gin.Context) {
	product, err := h.processor.GetProduct(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, processor.ErrProductNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product_not_found"})
			return
		}
		h.logger.Error(c.Request.Context(), "failed to load product", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, product)
}

// HandleGetPage handles GET /api/pages/:slug.
func (h *Handler) HandleGetPage(c *gin.Context) {
	page, err := h.processor.GetPage(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, processor.ErrPageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "page_not_found"})
			return
		}
		h.logger.Error(c.Request.Context(), "failed to load page", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, page)
}
