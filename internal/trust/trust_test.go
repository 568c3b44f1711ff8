package trust

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmerrifield20/GreenLedger/internal/ledger"
	"go.uber.org/zap"
)

var ctx = context.Background()

func TestRuleAnalyzer_cleanStage(t *testing.T) {
	a := NewRuleAnalyzer()
	got, err := a.Analyze(ctx, "Roast Master", ledger.Payload{
		"batchId": "COF-1", "category": "thermal", "productCode": 101, "envScore": 85, "energyKwh": 40,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.TrustScore != 100 || !got.IsVerified || len(got.Anomalies) != 0 {
		t.Errorf("unexpected analysis: %+v", got)
	}
}

func TestRuleAnalyzer_findings(t *testing.T) {
	tests := []struct {
		name      string
		data      ledger.Payload
		wantScore int
		verified  bool
	}{
		{"product outside category", ledger.Payload{"batchId": "X", "category": "thermal", "productCode": 402}, 65, false},
		{"missing batch", ledger.Payload{"category": "mixing", "productCode": 201}, 60, false},
		{"env score out of range", ledger.Payload{"batchId": "X", "envScore": 140}, 80, true},
		{"two negative readings", ledger.Payload{"batchId": "X", "energyKwh": -1, "weight_kg": "-3"}, 70, false},
		{"everything wrong floors at zero", ledger.Payload{
			"category": "assembly", "productCode": 101, "envScore": -5,
			"energyKwh": -1, "hvac_usage": -1, "scrap_rate": -1,
		}, 0, false},
	}
	a := NewRuleAnalyzer()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := a.Analyze(ctx, "stage", tc.data)
			if err != nil {
				t.Fatal(err)
			}
			if got.TrustScore != tc.wantScore {
				t.Errorf("score: got %d, want %d (%v)", got.TrustScore, tc.wantScore, got.Anomalies)
			}
			if got.IsVerified != tc.verified {
				t.Errorf("verified: got %v, want %v", got.IsVerified, tc.verified)
			}
			if len(got.Anomalies) == 0 {
				t.Error("expected at least one anomaly")
			}
		})
	}
}

func TestGemini_simulationWithoutKey(t *testing.T) {
	g := NewGeminiAnalyzer(GeminiConfig{}, zap.NewNop())
	got, err := g.Analyze(ctx, "stage", ledger.Payload{})
	if err != nil {
		t.Fatal(err)
	}
	if got.TrustScore != 85 || !got.IsVerified || !strings.Contains(got.Anomalies[0], "simulation") {
		t.Errorf("unexpected simulation analysis: %+v", got)
	}
	if reply := g.Ask(ctx, "hi", nil, AssistantContext{}); !strings.HasPrefix(reply, "EcoAssistant (Simulation)") {
		t.Errorf("unexpected simulation reply: %q", reply)
	}
}

// modelServer answers generateContent calls with the given candidate text.
func modelServer(t *testing.T, status int, text string, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if !strings.HasSuffix(r.URL.Path, ":generateContent") || r.URL.Query().Get("key") != "test-key" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		body, _ := io.ReadAll(r.Body)
		var req generateRequest
		if err := json.Unmarshal(body, &req); err != nil || len(req.Contents) == 0 {
			t.Errorf("bad request body: %s", body)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"nope"}}`)) //nolint:errcheck
			return
		}
		resp := map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{map[string]any{"text": text}}},
			}},
		}
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))
}

func newTestGemini(endpoint string) *GeminiAnalyzer {
	return NewGeminiAnalyzer(GeminiConfig{
		APIKey:   "test-key",
		Endpoint: endpoint,
		Timeout:  2 * time.Second,
		Retries:  2,
	}, zap.NewNop())
}

func TestGemini_parsesModelAnswer(t *testing.T) {
	var calls int32
	srv := modelServer(t, http.StatusOK,
		`{"trustScore": 62, "anomalies": ["Energy spike"], "suggestions": ["Inspect roaster"], "isVerified": false}`, &calls)
	defer srv.Close()

	got, err := newTestGemini(srv.URL).Analyze(ctx, "Roast Master", ledger.Payload{"energyKwh": 9000})
	if err != nil {
		t.Fatal(err)
	}
	if got.TrustScore != 62 || got.IsVerified || len(got.Anomalies) != 1 || got.Suggestions[0] != "Inspect roaster" {
		t.Errorf("unexpected analysis: %+v", got)
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestGemini_retriesServerErrorsThenFallsBack(t *testing.T) {
	var calls int32
	srv := modelServer(t, http.StatusServiceUnavailable, "", &calls)
	defer srv.Close()

	got, err := newTestGemini(srv.URL).Analyze(ctx, "stage", ledger.Payload{})
	if err != nil {
		t.Fatal(err)
	}
	if got.TrustScore != 50 || got.IsVerified || got.Anomalies[0] != "Audit Logic Error" {
		t.Errorf("expected fallback analysis, got %+v", got)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3 (1 + 2 retries)", calls)
	}
}

func TestGemini_clientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := modelServer(t, http.StatusBadRequest, "", &calls)
	defer srv.Close()

	got, _ := newTestGemini(srv.URL).Analyze(ctx, "stage", ledger.Payload{})
	if got.TrustScore != 50 {
		t.Errorf("expected fallback, got %+v", got)
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestGemini_invalidModelJSONFallsBack(t *testing.T) {
	var calls int32
	srv := modelServer(t, http.StatusOK, "I think it looks fine", &calls)
	defer srv.Close()

	got, _ := newTestGemini(srv.URL).Analyze(ctx, "stage", ledger.Payload{})
	if got.TrustScore != 50 {
		t.Errorf("expected fallback, got %+v", got)
	}
}

func TestGemini_ask(t *testing.T) {
	var calls int32
	srv := modelServer(t, http.StatusOK, "Switch to renewable heat.", &calls)
	defer srv.Close()

	reply := newTestGemini(srv.URL).Ask(ctx, "How do I cut roasting emissions?",
		[]Turn{{Role: "user", Text: "hello"}, {Role: "model", Text: "hi"}},
		AssistantContext{Role: "Roast Master", Category: "thermal"})
	if reply != "Switch to renewable heat." {
		t.Errorf("reply: got %q", reply)
	}
}

func TestParseAnalysis_clampsScore(t *testing.T) {
	got, err := parseAnalysis(`{"trustScore": 140, "anomalies": [], "suggestions": []}`)
	if err != nil {
		t.Fatal(err)
	}
	if got.TrustScore != 100 || !got.IsVerified {
		t.Errorf("unexpected analysis: %+v", got)
	}
	if _, err := parseAnalysis(`{"anomalies": []}`); err == nil {
		t.Error("expected error for missing trustScore")
	}
}
