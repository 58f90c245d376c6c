package productsvc

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/example/ec-platform/internal/auth"
	"github.com/example/ec-platform/internal/domain/inventory"
	"github.com/example/ec-platform/internal/domain/product"
)

// Handlers exposes the product service HTTP API. Reads are public; catalog
// and ledger mutation is admin-only.
type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

func (h *Handlers) Register(r gin.IRouter, jwtService *auth.JWTService) {
	products := r.Group("/api/products")
	{
		products.GET("", h.list)
		products.GET("/:id", h.get)
		products.GET("/sku/:sku", h.getBySKU)
		products.GET("/:id/inventory", h.inventory)
		products.GET("/categories", h.categories)

		admin := products.Group("", auth.Middleware(jwtService), auth.RequireAdmin())
		{
			admin.POST("", h.create)
			admin.PATCH("/:id", h.update)
			admin.DELETE("/:id", h.delete)
			admin.POST("/:id/inventory/restock", h.restock)
			admin.POST("/categories", h.saveCategory)
		}
	}
}

func (h *Handlers) list(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	products, err := h.svc.List(c.Request.Context(), c.Query("categoryId"), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": products})
}

func (h *Handlers) get(c *gin.Context) {
	snap, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": snap})
}

func (h *Handlers) getBySKU(c *gin.Context) {
	snap, err := h.svc.GetBySKU(c.Request.Context(), c.Param("sku"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": snap})
}

func (h *Handlers) inventory(c *gin.Context) {
	inv, err := h.svc.Inventory(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": inv})
}

func (h *Handlers) create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "validation failed", "errors": err.Error()})
		return
	}
	p, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": p})
}

func (h *Handlers) update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "validation failed", "errors": err.Error()})
		return
	}
	p, err := h.svc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": p})
}

func (h *Handlers) delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handlers) restock(c *gin.Context) {
	var req struct {
		Amount int `json:"amount" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "validation failed", "errors": err.Error()})
		return
	}
	inv, err := h.svc.Restock(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": inv})
}

func (h *Handlers) categories(c *gin.Context) {
	_, cats, err := h.svc.Categories(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": cats})
}

func (h *Handlers) saveCategory(c *gin.Context) {
	var cat product.Category
	if err := c.ShouldBindJSON(&cat); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "validation failed", "errors": err.Error()})
		return
	}
	saved, err := h.svc.SaveCategory(c.Request.Context(), cat)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": saved})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, product.ErrNotFound), errors.Is(err, product.ErrCategoryNotFound),
		errors.Is(err, inventory.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, product.ErrDuplicateSKU):
		status = http.StatusConflict
	case errors.Is(err, product.ErrInvalidPrice), errors.Is(err, product.ErrCategoryCycle),
		errors.Is(err, inventory.ErrInvalidQuantity), errors.Is(err, inventory.ErrInsufficientStock):
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"status": "error", "message": err.Error()})
}
