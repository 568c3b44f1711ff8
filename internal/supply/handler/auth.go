package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/GreenLedger/internal/catalog"
	"github.com/jmerrifield20/GreenLedger/internal/session"
	"go.uber.org/zap"
)

// AuthHandler issues actor and administrator session tokens.
type AuthHandler struct {
	tokens *session.Issuer
	admin  *session.Admin
	logger *zap.Logger
}

// NewAuthHandler creates an AuthHandler. admin may be nil to disable
// administrator login.
func NewAuthHandler(tokens *session.Issuer, admin *session.Admin, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, admin: admin, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/auth")
	{
		a.POST("/login", h.Login)
		a.POST("/admin", h.AdminLogin)
	}
}

type loginRequest struct {
	Category string `json:"category" binding:"required"`
	Role     string `json:"role"     binding:"required"`
}

type adminLoginRequest struct {
	Email    string `json:"email"    binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is returned by both login endpoints.
type TokenResponse struct {
	Token     string `json:"token"`
	Type      string `json:"type"`
	ExpiresIn int    `json:"expiresIn"` // seconds
	Category  string `json:"category,omitempty"`
	Role      string `json:"role,omitempty"`
}

// Login handles POST /auth/login. The role must belong to the category.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.tokens.IssueActor(req.Category, req.Role)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownCategory) || errors.Is(err, catalog.ErrUnknownRole) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("issue actor token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	claims, err := h.tokens.Verify(token)
	if err != nil {
		h.logger.Error("verify freshly issued token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	h.logger.Info("actor login", zap.String("category", claims.Category), zap.String("role", claims.Role))
	c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		Type:      session.TypeActor,
		ExpiresIn: int(h.tokens.TTL().Seconds()),
		Category:  claims.Category,
		Role:      claims.Role,
	})
}

// AdminLogin handles POST /auth/admin.
func (h *AuthHandler) AdminLogin(c *gin.Context) {
	if h.admin == nil || !h.admin.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "administrator login is not configured"})
		return
	}

	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.admin.Authenticate(req.Email, req.Password); err != nil {
		h.logger.Warn("admin login rejected", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}

	token, err := h.tokens.IssueAdmin(req.Email)
	if err != nil {
		h.logger.Error("issue admin token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	h.logger.Info("admin login")
	c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		Type:      session.TypeAdmin,
		ExpiresIn: int(h.tokens.TTL().Seconds()),
	})
}
