package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/GreenLedger/internal/supply/service"
	"go.uber.org/zap"
)

// PublicHandler serves the unauthenticated batch lookup used by consumers
// scanning a product label.
type PublicHandler struct {
	svc    ledgerSvc
	logger *zap.Logger
}

// NewPublicHandler creates a PublicHandler.
func NewPublicHandler(svc ledgerSvc, logger *zap.Logger) *PublicHandler {
	return &PublicHandler{svc: svc, logger: logger}
}

// Register mounts the public routes on the given router group.
func (h *PublicHandler) Register(rg *gin.RouterGroup) {
	p := rg.Group("/public")
	{
		p.GET("/batches/:batchId", h.GetBatch)
		p.GET("/lookup", h.Lookup)
	}
}

// GetBatch handles GET /public/batches/:batchId. ?mode=calc selects the
// calculator presentation.
func (h *PublicHandler) GetBatch(c *gin.Context) {
	id := c.Param("batchId")
	ref := "?verify=" + url.QueryEscape(id)
	if c.Query("mode") == "calc" {
		ref = "?calc=" + url.QueryEscape(id)
	}
	h.respond(c, ref)
}

// Lookup handles GET /public/lookup?ref=<reference>. Links of the form
// /public/lookup?verify=<id> or ?calc=<id> are accepted as-is.
func (h *PublicHandler) Lookup(c *gin.Context) {
	ref := c.Query("ref")
	if ref == "" {
		ref = "?" + c.Request.URL.RawQuery
	}
	h.respond(c, ref)
}

func (h *PublicHandler) respond(c *gin.Context, ref string) {
	report, err := h.svc.PublicLookup(c.Request.Context(), ref)
	if err != nil {
		if errors.Is(err, service.ErrBatchNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
			return
		}
		h.logger.Error("public lookup", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up batch"})
		return
	}
	c.JSON(http.StatusOK, report)
}
