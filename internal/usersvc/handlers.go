package usersvc

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/ec-platform/internal/auth"
	"github.com/example/ec-platform/internal/domain/user"
	"github.com/example/ec-platform/internal/principal"
)

type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

func (h *Handlers) Register(r gin.IRouter, jwtService *auth.JWTService) {
	users := r.Group("/api/users", auth.Middleware(jwtService))
	{
		users.GET("/me", h.me)
		users.PATCH("/me", h.updateMe)

		admin := users.Group("", auth.RequireAdmin())
		{
			admin.GET("/:id", h.get)
			admin.PATCH("/:id/active", h.setActive)
			admin.PATCH("/:id/role", h.setRole)
		}
	}
}

func (h *Handlers) me(c *gin.Context) {
	u, err := h.svc.Get(c.Request.Context(), auth.CallerPrincipal(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": u})
}

func (h *Handlers) updateMe(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "validation failed", "errors": err.Error()})
		return
	}
	u, err := h.svc.Update(c.Request.Context(), auth.CallerPrincipal(c).ID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": u})
}

func (h *Handlers) get(c *gin.Context) {
	u, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": u})
}

func (h *Handlers) setActive(c *gin.Context) {
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "validation failed", "errors": err.Error()})
		return
	}
	u, err := h.svc.SetActive(c.Request.Context(), c.Param("id"), *req.Active)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": u})
}

func (h *Handlers) setRole(c *gin.Context) {
	var req struct {
		Role string `json:"role" binding:"required,oneof=customer admin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "validation failed", "errors": err.Error()})
		return
	}
	u, err := h.svc.SetRole(c.Request.Context(), c.Param("id"), principal.Role(req.Role))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": u})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, user.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, auth.ErrPasswordTooShort):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, user.ErrDuplicateEmail):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"status": "error", "message": err.Error()})
}
