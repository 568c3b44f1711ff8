package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/GreenLedger/internal/audit"
	"github.com/jmerrifield20/GreenLedger/internal/session"
	"github.com/jmerrifield20/GreenLedger/internal/supply/service"
	"go.uber.org/zap"
)

// auditRunner is satisfied by *audit.Auditor.
type auditRunner interface {
	Last() *audit.Result
	CheckAll(ctx context.Context) *audit.Result
}

// AdminHandler serves the administrator dashboard endpoints.
type AdminHandler struct {
	svc     ledgerSvc
	tokens  *session.Issuer
	auditor auditRunner // nil = audit endpoints return 503
	logger  *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(svc ledgerSvc, tokens *session.Issuer, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, tokens: tokens, logger: logger}
}

// SetAuditor enables the audit endpoints.
func (h *AdminHandler) SetAuditor(a auditRunner) { h.auditor = a }

// Register mounts the admin routes on the given router group.
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/admin", session.RequireAdmin(h.tokens))
	{
		a.GET("/chains", h.ListChains)
		a.DELETE("/chains/:category/:batchId", h.DeleteChain)
		a.POST("/chains/:category/:batchId/tamper-drill", h.TamperDrill)
		a.GET("/summary", h.Summary)
		a.GET("/audit", h.LastAudit)
		a.POST("/audit", h.RunAudit)
	}
}

// ListChains handles GET /admin/chains: every batch across all categories.
func (h *AdminHandler) ListChains(c *gin.Context) {
	chains := h.svc.ListAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"chains": chains, "count": len(chains)})
}

// DeleteChain handles DELETE /admin/chains/:category/:batchId.
func (h *AdminHandler) DeleteChain(c *gin.Context) {
	cat, ok := categoryParam(c)
	if !ok {
		return
	}
	batchID := c.Param("batchId")

	if err := h.svc.DeleteBatch(c.Request.Context(), cat.ID, batchID); err != nil {
		h.logger.Error("delete batch", zap.String("category", cat.ID), zap.String("batch_id", batchID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete batch"})
		return
	}
	c.Status(http.StatusNoContent)
}

// TamperDrill handles POST /admin/chains/:category/:batchId/tamper-drill?index=.
// It shows how verification reacts to an edited block without changing
// the stored chain. index defaults to 0.
func (h *AdminHandler) TamperDrill(c *gin.Context) {
	cat, ok := categoryParam(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.DefaultQuery("index", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be an integer"})
		return
	}

	view, err := h.svc.TamperDrill(c.Request.Context(), cat.ID, c.Param("batchId"), index)
	switch {
	case errors.Is(err, service.ErrBatchNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
	case errors.Is(err, service.ErrInvalidStage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.Error("tamper drill", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to run tamper drill"})
	default:
		c.JSON(http.StatusOK, view)
	}
}

// Summary handles GET /admin/summary.
func (h *AdminHandler) Summary(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Summary(c.Request.Context()))
}

// LastAudit handles GET /admin/audit: the most recent background pass.
func (h *AdminHandler) LastAudit(c *gin.Context) {
	if h.auditor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "background audit is disabled"})
		return
	}
	res := h.auditor.Last()
	if res == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no audit pass has completed yet"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// RunAudit handles POST /admin/audit and runs a pass immediately.
func (h *AdminHandler) RunAudit(c *gin.Context) {
	if h.auditor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "background audit is disabled"})
		return
	}
	res := h.auditor.CheckAll(c.Request.Context())
	if res == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit pass interrupted"})
		return
	}
	c.JSON(http.StatusOK, res)
}
