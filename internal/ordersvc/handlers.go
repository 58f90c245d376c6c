package ordersvc

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/ec-platform/internal/auth"
	"github.com/example/ec-platform/internal/breaker"
	"github.com/example/ec-platform/internal/domain/order"
	"github.com/example/ec-platform/internal/domain/product"
)

// Handlers exposes the order service HTTP API.
type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// Register mounts the routes. Everything requires authentication; admin
// routes additionally require the admin role.
func (h *Handlers) Register(r gin.IRouter, jwtService *auth.JWTService) {
	orders := r.Group("/api/orders", auth.Middleware(jwtService))
	{
		orders.POST("", h.create)
		orders.GET("", h.list)
		orders.GET("/:id", h.get)
		orders.GET("/number/:orderNumber", h.getByNumber)
		orders.POST("/:id/items", h.addItem)
		orders.DELETE("/:id/items/:productId", h.removeItem)
		orders.POST("/:id/discounts", h.applyDiscount)
		orders.POST("/:id/cancel", h.cancel)

		admin := orders.Group("", auth.RequireAdmin())
		{
			admin.PATCH("/:id/status", h.updateStatus)
			admin.PATCH("/:id/payment", h.updatePayment)
			admin.PATCH("/:id/shipping", h.updateShipping)
			admin.POST("/:id/refund", h.refund)
		}
	}
}

func (h *Handlers) create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := h.svc.Create(c.Request.Context(), auth.CallerPrincipal(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": o})
}

func (h *Handlers) list(c *gin.Context) {
	p := auth.CallerPrincipal(c)
	userID := p.ID
	if p.IsAdmin() && c.Query("userId") != "" {
		userID = c.Query("userId")
	}
	orders, err := h.svc.ListForUser(c.Request.Context(), userID, 0)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": orders})
}

func (h *Handlers) get(c *gin.Context) {
	o, err := h.svc.Get(c.Request.Context(), auth.CallerPrincipal(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": o})
}

func (h *Handlers) getByNumber(c *gin.Context) {
	o, err := h.svc.GetByNumber(c.Request.Context(), auth.CallerPrincipal(c), c.Param("orderNumber"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": o})
}

func (h *Handlers) addItem(c *gin.Context) {
	var req CreateItem
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := h.svc.AddItem(c.Request.Context(), auth.CallerPrincipal(c), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": o})
}

func (h *Handlers) removeItem(c *gin.Context) {
	o, err := h.svc.RemoveItem(c.Request.Context(), auth.CallerPrincipal(c), c.Param("id"), c.Param("productId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": o})
}

func (h *Handlers) applyDiscount(c *gin.Context) {
	var req struct {
		Code  string  `json:"code" binding:"required"`
		Type  string  `json:"type" binding:"required,oneof=percentage fixed free_shipping"`
		Value float64 `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := h.svc.ApplyDiscount(c.Request.Context(), auth.CallerPrincipal(c), c.Param("id"),
		req.Code, order.DiscountType(req.Type), req.Value)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": o})
}

func (h *Handlers) cancel(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	o, err := h.svc.Cancel(c.Request.Context(), auth.CallerPrincipal(c), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": o})
}

func (h *Handlers) updateStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
		Note   string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := h.svc.UpdateStatus(c.Request.Context(), c.Param("id"), order.Status(req.Status), req.Note)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": o})
}

func (h *Handlers) updatePayment(c *gin.Context) {
	var req struct {
		Status        string `json:"status" binding:"required"`
		TransactionID string `json:"transactionId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := h.svc.UpdatePayment(c.Request.Context(), c.Param("id"), order.PaymentStatus(req.Status), req.TransactionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": o})
}

func (h *Handlers) updateShipping(c *gin.Context) {
	var req order.Shipping
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := h.svc.UpdateShipping(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": o})
}

func (h *Handlers) refund(c *gin.Context) {
	var req struct {
		Amount float64 `json:"amount" binding:"required,gt=0"`
		Reason string  `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := h.svc.Refund(c.Request.Context(), c.Param("id"), req.Amount, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": o})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "validation failed", "errors": err.Error()})
}

// writeError maps domain errors onto HTTP responses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, order.ErrOrderNotFound), errors.Is(err, order.ErrItemNotFound),
		errors.Is(err, product.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, order.ErrOrderLocked),
		errors.Is(err, order.ErrNotRefundable):
		status = http.StatusConflict
	case errors.Is(err, order.ErrCancelNotAllowed):
		status = http.StatusForbidden
	case errors.Is(err, order.ErrEmptyOrder), errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, order.ErrInvalidAmount), errors.Is(err, ErrOutOfStock):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, breaker.ErrOpen), errors.Is(err, breaker.ErrTimeout):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": "error", "message": err.Error()})
}
