package verifier

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// RegisterGateway mounts the REST routes on mux:
//
//	GET /v1/verify/{batch_id}   raw batch id
//	GET /v1/verify?ref=...      any batch reference
//	GET /v1/cache               cache statistics
func (s *Service) RegisterGateway(mux *runtime.ServeMux) error {
	if err := mux.HandlePath(http.MethodGet, "/v1/verify/{batch_id}", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		s.serveVerify(w, r, params["batch_id"])
	}); err != nil {
		return err
	}
	if err := mux.HandlePath(http.MethodGet, "/v1/verify", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		s.serveVerify(w, r, r.URL.Query().Get("ref"))
	}); err != nil {
		return err
	}
	return mux.HandlePath(http.MethodGet, "/v1/cache", func(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
		writeStruct(w, http.StatusOK, map[string]any{"entries": s.CacheStats()})
	})
}

func (s *Service) serveVerify(w http.ResponseWriter, r *http.Request, reference string) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	res, err := s.Verify(ctx, reference)
	switch {
	case errors.Is(err, ErrInvalidReference):
		writeStruct(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, ErrBatchNotFound):
		writeStruct(w, http.StatusNotFound, map[string]any{"error": "batch not found"})
	case err != nil:
		s.logger.Error("verify", zap.String("reference", reference), zap.Error(err))
		writeStruct(w, http.StatusBadGateway, map[string]any{"error": "ledgerd unavailable"})
	default:
		writeStruct(w, http.StatusOK, resultFields(res))
	}
}

// resultFields flattens a Result into the value types structpb accepts.
func resultFields(r *Result) map[string]any {
	validity := make([]any, len(r.Validity))
	for i, ok := range r.Validity {
		validity[i] = ok
	}
	m := map[string]any{
		"reference":       r.Reference,
		"category":        r.Category,
		"batchId":         r.BatchID,
		"chainId":         r.ChainID,
		"length":          r.Length,
		"validity":        validity,
		"valid":           r.Valid,
		"upstreamValid":   r.UpstreamValid,
		"agrees":          r.Agrees,
		"totalEmissions":  r.TotalEmissions,
		"efficiencyScore": r.EfficiencyScore,
		"certificateId":   r.CertificateID,
		"checkedAt":       r.CheckedAt.Format(time.RFC3339),
	}
	if r.FirstFailure != nil {
		m["firstFailure"] = map[string]any{
			"index":  r.FirstFailure.Index,
			"reason": r.FirstFailure.Reason,
		}
	}
	return m
}

func writeStruct(w http.ResponseWriter, code int, fields map[string]any) {
	st, err := structpb.NewStruct(fields)
	if err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	b, err := protojson.Marshal(st)
	if err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b) //nolint:errcheck
}
