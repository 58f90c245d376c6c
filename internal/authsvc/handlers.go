package authsvc

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/ec-platform/internal/auth"
	"github.com/example/ec-platform/internal/domain/user"
)

type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

func (h *Handlers) Register(r gin.IRouter) {
	grp := r.Group("/api/auth")
	{
		grp.POST("/register", h.register)
		grp.POST("/login", h.login)
		grp.POST("/refresh", h.refresh)
	}
}

func (h *Handlers) register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=8"`
		Name     string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "validation failed", "errors": err.Error()})
		return
	}
	u, pair, err := h.svc.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": gin.H{"user": u, "tokens": pair}})
}

func (h *Handlers) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "validation failed", "errors": err.Error()})
		return
	}
	u, pair, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{"user": u, "tokens": pair}})
}

func (h *Handlers) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "validation failed", "errors": err.Error()})
		return
	}
	pair, err := h.svc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{"tokens": pair}})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		status = http.StatusUnauthorized
	case errors.Is(err, user.ErrDeactivated):
		status = http.StatusForbidden
	case errors.Is(err, user.ErrDuplicateEmail):
		status = http.StatusConflict
	case errors.Is(err, auth.ErrPasswordTooShort):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, user.ErrNotFound):
		status = http.StatusUnauthorized
	}
	c.JSON(status, gin.H{"status": "error", "message": err.Error()})
}
