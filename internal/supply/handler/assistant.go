package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/GreenLedger/internal/session"
	"github.com/jmerrifield20/GreenLedger/internal/trust"
	"go.uber.org/zap"
)

const maxAssistantHistory = 20

// asker is satisfied by *trust.GeminiAnalyzer.
type asker interface {
	Ask(ctx context.Context, message string, history []trust.Turn, who trust.AssistantContext) string
}

// AssistantHandler serves the EcoAssistant chat.
type AssistantHandler struct {
	assistant asker
	tokens    *session.Issuer
	logger    *zap.Logger
}

// NewAssistantHandler creates an AssistantHandler.
func NewAssistantHandler(assistant asker, tokens *session.Issuer, logger *zap.Logger) *AssistantHandler {
	return &AssistantHandler{assistant: assistant, tokens: tokens, logger: logger}
}

// Register mounts the assistant route on the given router group.
func (h *AssistantHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/assistant", session.RequireActor(h.tokens), h.Ask)
}

type askRequest struct {
	Message string       `json:"message" binding:"required"`
	History []trust.Turn `json:"history"`
}

// Ask handles POST /assistant. Only the most recent turns of history are
// forwarded.
func (h *AssistantHandler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if n := len(req.History); n > maxAssistantHistory {
		req.History = req.History[n-maxAssistantHistory:]
	}

	claims := session.ClaimsFromCtx(c)
	who := trust.AssistantContext{Role: claims.Role, Category: claims.Category}
	if claims.IsAdmin() {
		who.Role = "Administrator"
	}

	reply := h.assistant.Ask(c.Request.Context(), req.Message, req.History, who)
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}
