// Package handler exposes the GreenLedger HTTP API on gin.
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/GreenLedger/internal/catalog"
	"github.com/jmerrifield20/GreenLedger/internal/ledger"
	"github.com/jmerrifield20/GreenLedger/internal/session"
	"github.com/jmerrifield20/GreenLedger/internal/supply/service"
)

// ledgerSvc is the interface expected by the handlers, satisfied by
// *service.LedgerService.
type ledgerSvc interface {
	SubmitStage(ctx context.Context, req service.StageRequest) (*ledger.Block, error)
	Chain(ctx context.Context, category, batchID string) *service.ChainView
	VerifyBatch(ctx context.Context, category, batchID string) *service.VerifyResult
	ListBatches(ctx context.Context, category, role string) ([]service.BatchSummary, error)
	ListAll(ctx context.Context) []service.BatchSummary
	DeleteBatch(ctx context.Context, category, batchID string) error
	PublicLookup(ctx context.Context, reference string) (*service.Report, error)
	Summary(ctx context.Context) *service.Summary
	TamperDrill(ctx context.Context, category, batchID string, index int) (*service.ChainView, error)
}

// categoryParam resolves the :category path parameter to its catalog entry,
// writing a 404 when it is unknown.
func categoryParam(c *gin.Context) (catalog.Category, bool) {
	cat, err := catalog.Lookup(c.Param("category"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return catalog.Category{}, false
	}
	return cat, true
}

// requireAccess writes a 403 unless the session may read category.
func requireAccess(c *gin.Context, category string) bool {
	claims := session.ClaimsFromCtx(c)
	if claims == nil || !claims.CanAccess(category) {
		c.JSON(http.StatusForbidden, gin.H{"error": "session is not authorised for category " + category})
		return false
	}
	return true
}
