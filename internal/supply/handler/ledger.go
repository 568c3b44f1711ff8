package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/GreenLedger/internal/catalog"
	"github.com/jmerrifield20/GreenLedger/internal/ledger"
	"github.com/jmerrifield20/GreenLedger/internal/session"
	"github.com/jmerrifield20/GreenLedger/internal/supply/service"
	"go.uber.org/zap"
)

// LedgerHandler serves stage submission and the chain read views.
type LedgerHandler struct {
	svc    ledgerSvc
	tokens *session.Issuer
	logger *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(svc ledgerSvc, tokens *session.Issuer, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{svc: svc, tokens: tokens, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/categories", h.ListCategories)

	auth := rg.Group("", session.RequireActor(h.tokens))
	{
		auth.POST("/stages", h.SubmitStage)
		auth.GET("/categories/:category/batches", h.ListBatches)
		auth.GET("/chains/:category/:batchId", h.GetChain)
		auth.GET("/chains/:category/:batchId/verify", h.VerifyChain)
	}
}

type stageBody struct {
	Category    string         `json:"category"`
	Role        string         `json:"role"`
	BatchID     string         `json:"batchId"`
	ProductCode int            `json:"productCode"`
	Data        ledger.Payload `json:"data"`
}

// ListCategories handles GET /categories.
func (h *LedgerHandler) ListCategories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": catalog.Categories()})
}

// SubmitStage handles POST /stages. Actors submit as the category and role
// of their session; administrators must name both.
func (h *LedgerHandler) SubmitStage(c *gin.Context) {
	var body stageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims := session.ClaimsFromCtx(c)
	req := service.StageRequest{
		Category:    body.Category,
		Role:        body.Role,
		BatchID:     body.BatchID,
		ProductCode: body.ProductCode,
		Data:        body.Data,
	}
	if !claims.IsAdmin() {
		if (body.Category != "" && !sameCategory(body.Category, claims.Category)) ||
			(body.Role != "" && body.Role != claims.Role) {
			c.JSON(http.StatusForbidden, gin.H{"error": "stage must be submitted as the session's category and role"})
			return
		}
		req.Category, req.Role = claims.Category, claims.Role
	}

	block, err := h.svc.SubmitStage(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidStage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("submit stage", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record stage"})
		return
	}

	c.JSON(http.StatusCreated, block)
}

// ListBatches handles GET /categories/:category/batches?role=.
func (h *LedgerHandler) ListBatches(c *gin.Context) {
	cat, ok := categoryParam(c)
	if !ok || !requireAccess(c, cat.ID) {
		return
	}

	batches, err := h.svc.ListBatches(c.Request.Context(), cat.ID, c.Query("role"))
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownRole) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("list batches", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list batches"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"category": cat.ID, "batches": batches, "count": len(batches)})
}

// GetChain handles GET /chains/:category/:batchId. An unknown batch returns
// an empty chain.
func (h *LedgerHandler) GetChain(c *gin.Context) {
	cat, ok := categoryParam(c)
	if !ok || !requireAccess(c, cat.ID) {
		return
	}
	c.JSON(http.StatusOK, h.svc.Chain(c.Request.Context(), cat.ID, c.Param("batchId")))
}

// VerifyChain handles GET /chains/:category/:batchId/verify.
func (h *LedgerHandler) VerifyChain(c *gin.Context) {
	cat, ok := categoryParam(c)
	if !ok || !requireAccess(c, cat.ID) {
		return
	}
	c.JSON(http.StatusOK, h.svc.VerifyBatch(c.Request.Context(), cat.ID, c.Param("batchId")))
}

func sameCategory(given, canonical string) bool {
	cat, err := catalog.Lookup(given)
	return err == nil && cat.ID == canonical
}
