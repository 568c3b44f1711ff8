package handler_test

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/GreenLedger/internal/audit"
	"github.com/jmerrifield20/GreenLedger/internal/ledger"
	"github.com/jmerrifield20/GreenLedger/internal/session"
	"github.com/jmerrifield20/GreenLedger/internal/supply/handler"
	"github.com/jmerrifield20/GreenLedger/internal/supply/service"
	"github.com/jmerrifield20/GreenLedger/internal/trust"
	"go.uber.org/zap"
)

const (
	adminEmail    = "admin@greenledger.example"
	adminPassword = "correct horse battery"
)

var (
	fixtureOnce sync.Once
	fixtureKey  *rsa.PrivateKey
	fixtureHash string
)

// fixtures generates the signing key and admin hash once per test binary.
func fixtures(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	fixtureOnce.Do(func() {
		km := session.NewKeyManager(t.TempDir())
		if err := km.Create(); err != nil {
			t.Fatalf("create key: %v", err)
		}
		fixtureKey = km.Key()
		h, err := session.HashPassword(adminPassword)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		fixtureHash = h
	})
	if fixtureKey == nil {
		t.Fatal("fixtures unavailable")
	}
	return fixtureKey, fixtureHash
}

type testEnv struct {
	router *gin.Engine
	svc    *service.LedgerService
	store  *ledger.Store
	tokens *session.Issuer
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	key, hash := fixtures(t)
	log := zap.NewNop()

	store := ledger.Open(context.Background(), ledger.NewMemoryPersister(), log)
	svc := service.NewLedgerService(store, log)
	svc.SetAnalyzer(trust.NewRuleAnalyzer())
	tokens := session.NewIssuer(key, time.Hour)

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewAuthHandler(tokens, session.NewAdmin(adminEmail, hash), log).Register(v1)
	handler.NewLedgerHandler(svc, tokens, log).Register(v1)
	admin := handler.NewAdminHandler(svc, tokens, log)
	admin.SetAuditor(audit.New(store, audit.Config{}, log))
	admin.Register(v1)
	handler.NewPublicHandler(svc, log).Register(v1)
	handler.NewAssistantHandler(trust.NewGeminiAnalyzer(trust.GeminiConfig{}, log), tokens, log).Register(v1)

	return &testEnv{router: r, svc: svc, store: store, tokens: tokens}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) actor(t *testing.T, category, role string) string {
	t.Helper()
	tok, err := e.tokens.IssueActor(category, role)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (e *testEnv) admin(t *testing.T) string {
	t.Helper()
	tok, err := e.tokens.IssueAdmin(adminEmail)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

// ── Auth ──────────────────────────────────────────────────────────────────────

func TestLogin_200(t *testing.T) {
	env := setup(t)

	w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"category": "THERMAL", "role": "Roast Master",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp handler.TokenResponse
	decode(t, w, &resp)
	if resp.Category != "thermal" || resp.Role != "Roast Master" || resp.ExpiresIn != 3600 {
		t.Errorf("unexpected response: %+v", resp)
	}
	claims, err := env.tokens.Verify(resp.Token)
	if err != nil || claims.IsAdmin() {
		t.Errorf("token: %v %+v", err, claims)
	}
}

func TestLogin_400(t *testing.T) {
	env := setup(t)
	cases := []map[string]string{
		{"category": "thermal"},
		{"category": "thermal", "role": "Mix Operator"},
		{"category": "orbital", "role": "Roast Master"},
	}
	for _, body := range cases {
		if w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", body); w.Code != http.StatusBadRequest {
			t.Errorf("%v: expected 400, got %d", body, w.Code)
		}
	}
}

func TestAdminLogin(t *testing.T) {
	env := setup(t)

	w := env.do(t, http.MethodPost, "/api/v1/auth/admin", "", map[string]string{
		"email": "Admin@GreenLedger.example", "password": adminPassword,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp handler.TokenResponse
	decode(t, w, &resp)
	if resp.Type != session.TypeAdmin {
		t.Errorf("type: %q", resp.Type)
	}

	w = env.do(t, http.MethodPost, "/api/v1/auth/admin", "", map[string]string{
		"email": adminEmail, "password": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: expected 401, got %d", w.Code)
	}
}

func TestAdminLogin_503WhenUnconfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	key, _ := fixtures(t)
	r := gin.New()
	handler.NewAuthHandler(session.NewIssuer(key, time.Hour), nil, zap.NewNop()).Register(r.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/admin", strings.NewReader(`{"email":"a","password":"b"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

// ── Stages & chains ───────────────────────────────────────────────────────────

func TestSubmitStage_201(t *testing.T) {
	env := setup(t)
	tok := env.actor(t, "thermal", "Raw Material Sourcer")

	w := env.do(t, http.MethodPost, "/api/v1/stages", tok, map[string]any{
		"batchId": "COF-1", "productCode": 101, "data": map[string]any{"energyKwh": 10},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var block ledger.Block
	decode(t, w, &block)
	if block.Index != 0 || block.PreviousHash != "0" || block.ChainID != "100-101" || block.Emissions != 5.4 {
		t.Errorf("unexpected block: %+v", block)
	}
	if block.Actor != "Raw Material Sourcer" || block.TrustAnalysis == nil {
		t.Errorf("actor/trust: %q %+v", block.Actor, block.TrustAnalysis)
	}
}

func TestSubmitStage_401WithoutToken(t *testing.T) {
	env := setup(t)
	w := env.do(t, http.MethodPost, "/api/v1/stages", "", map[string]any{"batchId": "X"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestSubmitStage_403ForeignRole(t *testing.T) {
	env := setup(t)
	tok := env.actor(t, "thermal", "Roast Master")

	for _, body := range []map[string]any{
		{"batchId": "X", "category": "mixing"},
		{"batchId": "X", "role": "Quality Grader"},
	} {
		if w := env.do(t, http.MethodPost, "/api/v1/stages", tok, body); w.Code != http.StatusForbidden {
			t.Errorf("%v: expected 403, got %d", body, w.Code)
		}
	}
}

func TestSubmitStage_400InvalidBatch(t *testing.T) {
	env := setup(t)
	tok := env.actor(t, "thermal", "Roast Master")

	w := env.do(t, http.MethodPost, "/api/v1/stages", tok, map[string]any{"batchId": "a/b"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmitStage_adminNamesCategoryAndRole(t *testing.T) {
	env := setup(t)
	tok := env.admin(t)

	w := env.do(t, http.MethodPost, "/api/v1/stages", tok, map[string]any{"batchId": "X"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing category: expected 400, got %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/v1/stages", tok, map[string]any{
		"batchId": "X", "category": "mixing", "role": "Mix Operator",
	})
	if w.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestChainAndVerify(t *testing.T) {
	env := setup(t)
	for _, role := range []string{"Raw Material Sourcer", "Quality Grader"} {
		w := env.do(t, http.MethodPost, "/api/v1/stages", env.actor(t, "thermal", role), map[string]any{
			"batchId": "COF-2", "data": map[string]any{"energyKwh": 10},
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("submit %s: %d %s", role, w.Code, w.Body.String())
		}
	}
	tok := env.actor(t, "thermal", "Roast Master")

	w := env.do(t, http.MethodGet, "/api/v1/chains/thermal/COF-2", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("chain: %d %s", w.Code, w.Body.String())
	}
	var view service.ChainView
	decode(t, w, &view)
	if len(view.Blocks) != 2 || !view.Valid || view.TotalEmissions != 10.8 {
		t.Errorf("unexpected view: %+v", view)
	}
	if view.Blocks[1].PreviousHash != view.Blocks[0].Hash {
		t.Error("blocks not linked")
	}

	w = env.do(t, http.MethodGet, "/api/v1/chains/thermal/COF-2/verify", tok, nil)
	var res service.VerifyResult
	decode(t, w, &res)
	if !res.Valid || res.Length != 2 || res.FirstFailure != nil {
		t.Errorf("unexpected verify result: %+v", res)
	}

	w = env.do(t, http.MethodGet, "/api/v1/chains/thermal/unknown", tok, nil)
	decode(t, w, &view)
	if w.Code != http.StatusOK || len(view.Blocks) != 0 || !view.Valid {
		t.Errorf("unknown batch: %d %+v", w.Code, view)
	}
}

func TestChain_403OtherCategory(t *testing.T) {
	env := setup(t)
	tok := env.actor(t, "mixing", "Mix Operator")

	if w := env.do(t, http.MethodGet, "/api/v1/chains/thermal/COF-1", tok, nil); w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/chains/orbital/COF-1", tok, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown category: expected 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/chains/thermal/COF-1", env.admin(t), nil); w.Code != http.StatusOK {
		t.Errorf("admin: expected 200, got %d", w.Code)
	}
}

func TestListBatches_roleFilter(t *testing.T) {
	env := setup(t)
	sourcer := env.actor(t, "thermal", "Raw Material Sourcer")
	env.do(t, http.MethodPost, "/api/v1/stages", sourcer, map[string]any{"batchId": "A"})
	env.do(t, http.MethodPost, "/api/v1/stages", sourcer, map[string]any{"batchId": "B"})
	env.do(t, http.MethodPost, "/api/v1/stages", env.actor(t, "thermal", "Quality Grader"), map[string]any{"batchId": "B"})

	tok := env.actor(t, "thermal", "Quality Grader")
	w := env.do(t, http.MethodGet, "/api/v1/categories/thermal/batches?role=Quality+Grader", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Batches []service.BatchSummary `json:"batches"`
		Count   int                    `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 1 || resp.Batches[0].BatchID != "A" || resp.Batches[0].NextRole != "Quality Grader" {
		t.Errorf("unexpected batches: %+v", resp)
	}

	w = env.do(t, http.MethodGet, "/api/v1/categories/thermal/batches", tok, nil)
	decode(t, w, &resp)
	if resp.Count != 2 {
		t.Errorf("unfiltered: expected 2, got %d", resp.Count)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/categories/thermal/batches?role=Nobody", tok, nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown role: expected 400, got %d", w.Code)
	}
}

func TestListCategories_public(t *testing.T) {
	env := setup(t)
	w := env.do(t, http.MethodGet, "/api/v1/categories", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Categories []struct {
			ID    string   `json:"id"`
			Roles []string `json:"roles"`
		} `json:"categories"`
	}
	decode(t, w, &resp)
	if len(resp.Categories) != 5 || len(resp.Categories[0].Roles) != 7 {
		t.Errorf("unexpected catalog: %+v", resp)
	}
}

// ── Admin ─────────────────────────────────────────────────────────────────────

func TestAdmin_403ForActors(t *testing.T) {
	env := setup(t)
	tok := env.actor(t, "thermal", "Roast Master")
	for _, path := range []string{"/api/v1/admin/chains", "/api/v1/admin/summary", "/api/v1/admin/audit"} {
		if w := env.do(t, http.MethodGet, path, tok, nil); w.Code != http.StatusForbidden {
			t.Errorf("%s: expected 403, got %d", path, w.Code)
		}
	}
}

func TestAdmin_listDeleteSummary(t *testing.T) {
	env := setup(t)
	env.do(t, http.MethodPost, "/api/v1/stages", env.actor(t, "thermal", "Raw Material Sourcer"), map[string]any{
		"batchId": "A", "data": map[string]any{"energyKwh": 10},
	})
	env.do(t, http.MethodPost, "/api/v1/stages", env.actor(t, "mixing", "Ingredient Procurement Manager"), map[string]any{
		"batchId": "B", "data": map[string]any{"energyKwh": 10},
	})
	tok := env.admin(t)

	var list struct {
		Count int `json:"count"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/admin/chains", tok, nil), &list)
	if list.Count != 2 {
		t.Errorf("expected 2 chains, got %d", list.Count)
	}

	var sum service.Summary
	decode(t, env.do(t, http.MethodGet, "/api/v1/admin/summary", tok, nil), &sum)
	if sum.Batches != 2 || sum.TotalEmissions != 13.5 {
		t.Errorf("unexpected summary: %+v", sum)
	}

	if w := env.do(t, http.MethodDelete, "/api/v1/admin/chains/thermal/A", tok, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}
	if got := env.store.Get("thermal", "A"); len(got) != 0 {
		t.Errorf("batch still present: %d blocks", len(got))
	}
	if w := env.do(t, http.MethodDelete, "/api/v1/admin/chains/thermal/A", tok, nil); w.Code != http.StatusNoContent {
		t.Errorf("repeat delete: expected 204, got %d", w.Code)
	}
}

func TestAdmin_tamperDrill(t *testing.T) {
	env := setup(t)
	for _, role := range []string{"Raw Material Sourcer", "Quality Grader", "Roast Master"} {
		env.do(t, http.MethodPost, "/api/v1/stages", env.actor(t, "thermal", role), map[string]any{"batchId": "D"})
	}
	tok := env.admin(t)

	w := env.do(t, http.MethodPost, "/api/v1/admin/chains/thermal/D/tamper-drill?index=1", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var view service.ChainView
	decode(t, w, &view)
	if view.Valid || len(view.Validity) != 3 || view.Validity[1] || !view.Blocks[1].IsTampered {
		t.Errorf("unexpected drill: %+v", view.Validity)
	}
	if !ledger.AllValid(ledger.ValidateChain(env.store.Get("thermal", "D"))) {
		t.Error("drill modified the stored chain")
	}

	if w := env.do(t, http.MethodPost, "/api/v1/admin/chains/thermal/D/tamper-drill?index=x", tok, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad index: expected 400, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/admin/chains/thermal/D/tamper-drill?index=9", tok, nil); w.Code != http.StatusBadRequest {
		t.Errorf("out of range: expected 400, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/admin/chains/thermal/none/tamper-drill", tok, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing batch: expected 404, got %d", w.Code)
	}
}

func TestAdmin_audit(t *testing.T) {
	env := setup(t)
	env.do(t, http.MethodPost, "/api/v1/stages", env.actor(t, "thermal", "Raw Material Sourcer"), map[string]any{"batchId": "A"})
	tok := env.admin(t)

	if w := env.do(t, http.MethodGet, "/api/v1/admin/audit", tok, nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("before first pass: expected 503, got %d", w.Code)
	}

	var res audit.Result
	decode(t, env.do(t, http.MethodPost, "/api/v1/admin/audit", tok, nil), &res)
	if res.Chains != 1 || len(res.Tampered) != 0 {
		t.Errorf("unexpected pass: %+v", res)
	}

	w := env.do(t, http.MethodGet, "/api/v1/admin/audit", tok, nil)
	if w.Code != http.StatusOK {
		t.Errorf("after pass: expected 200, got %d", w.Code)
	}
}

// ── Public ────────────────────────────────────────────────────────────────────

func TestPublicLookup(t *testing.T) {
	env := setup(t)
	env.do(t, http.MethodPost, "/api/v1/stages", env.actor(t, "mixing", "Ingredient Procurement Manager"), map[string]any{
		"batchId": "PH-7", "data": map[string]any{"energyKwh": 100},
	})

	for _, path := range []string{
		"/api/v1/public/batches/PH-7",
		"/api/v1/public/batches/PH-7?mode=calc",
		"/api/v1/public/lookup?verify=PH-7",
		"/api/v1/public/lookup?ref=greenledger%3A%2F%2Fmixing%2FPH-7",
	} {
		w := env.do(t, http.MethodGet, path, "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", path, w.Code, w.Body.String())
		}
		var rep service.Report
		decode(t, w, &rep)
		if rep.Category != "mixing" || rep.TotalEmissions != 81 || rep.EfficiencyScore != 84 || !rep.Valid {
			t.Errorf("%s: unexpected report %+v", path, rep)
		}
	}

	var rep service.Report
	decode(t, env.do(t, http.MethodGet, "/api/v1/public/batches/PH-7?mode=calc", "", nil), &rep)
	if rep.Mode != "calc" {
		t.Errorf("mode: %q", rep.Mode)
	}
}

func TestPublicLookup_404(t *testing.T) {
	env := setup(t)
	for _, path := range []string{"/api/v1/public/batches/nope", "/api/v1/public/lookup"} {
		w := env.do(t, http.MethodGet, path, "", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
		var resp map[string]string
		decode(t, w, &resp)
		if resp["error"] != "batch not found" {
			t.Errorf("%s: error %q", path, resp["error"])
		}
	}
}

// ── Assistant ─────────────────────────────────────────────────────────────────

func TestAssistant_simulationWithoutKey(t *testing.T) {
	env := setup(t)
	tok := env.actor(t, "thermal", "Roast Master")

	w := env.do(t, http.MethodPost, "/api/v1/assistant", tok, map[string]any{"message": "How do I cut gas use?"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	decode(t, w, &resp)
	if !strings.HasPrefix(resp["reply"], "EcoAssistant (Simulation)") {
		t.Errorf("reply: %q", resp["reply"])
	}

	if w := env.do(t, http.MethodPost, "/api/v1/assistant", tok, map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty message: expected 400, got %d", w.Code)
	}
}
