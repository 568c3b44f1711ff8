package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/jmerrifield20/GreenLedger/internal/ledger"
	"github.com/jmerrifield20/GreenLedger/internal/supply/service"
	"github.com/jmerrifield20/GreenLedger/pkg/client"
	"go.uber.org/zap"
)

var ctx = context.Background()

// stubFetcher serves reports produced by a real LedgerService.
type stubFetcher struct {
	svc     *service.LedgerService
	tamper  bool
	fetches atomic.Int32
}

func (f *stubFetcher) LookupRaw(ctx context.Context, reference string) (json.RawMessage, error) {
	f.fetches.Add(1)
	rep, err := f.svc.PublicLookup(ctx, reference)
	if err != nil {
		return nil, &client.APIError{StatusCode: http.StatusNotFound, Message: "batch not found"}
	}
	if f.tamper {
		rep.Blocks = ledger.SimulateTamper(rep.Blocks, 0)
	}
	return json.Marshal(rep)
}

func (f *stubFetcher) Health(context.Context) error { return nil }

func newFixture(t *testing.T, ttl time.Duration) (*Service, *stubFetcher, *clock.Mock) {
	t.Helper()
	store := ledger.Open(ctx, ledger.NewMemoryPersister(), zap.NewNop())
	svc := service.NewLedgerService(store, zap.NewNop())
	for _, stage := range []struct {
		role string
		data ledger.Payload
	}{
		{"Raw Material Sourcer", ledger.Payload{"energyKwh": 10, "lot": 9007199254740993}},
		{"Quality Grader", ledger.Payload{"energyKwh": 2.5, "moisture": 0.11}},
	} {
		if _, err := svc.SubmitStage(ctx, service.StageRequest{
			Category: "thermal", Role: stage.role, BatchID: "COF-1", Data: stage.data,
		}); err != nil {
			t.Fatal(err)
		}
	}

	f := &stubFetcher{svc: svc}
	v := NewWithFetcher(f, ttl, zap.NewNop())
	mock := clock.NewMock()
	v.SetClock(mock)
	return v, f, mock
}

func TestVerify_recomputesAndAgrees(t *testing.T) {
	v, _, _ := newFixture(t, 0)

	res, err := v.Verify(ctx, "?verify=COF-1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || !res.UpstreamValid || !res.Agrees || res.Length != 2 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Category != "thermal" || res.ChainID != "100-101" || len(res.CertificateID) != 12 {
		t.Errorf("identity fields: %+v", res)
	}
	if res.FirstFailure != nil {
		t.Errorf("unexpected failure: %+v", res.FirstFailure)
	}
}

func TestVerify_detectsTamperedCopy(t *testing.T) {
	v, f, _ := newFixture(t, 0)
	f.tamper = true

	res, err := v.Verify(ctx, "COF-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || res.Agrees || !res.UpstreamValid {
		t.Errorf("tampered copy should fail locally: %+v", res)
	}
	if res.FirstFailure == nil || res.FirstFailure.Index != 0 {
		t.Errorf("first failure: %+v", res.FirstFailure)
	}
	if res.Validity[0] || !res.Validity[1] {
		t.Errorf("validity: %v", res.Validity)
	}
}

func TestVerify_errors(t *testing.T) {
	v, _, _ := newFixture(t, 0)

	if _, err := v.Verify(ctx, ""); !errors.Is(err, ErrInvalidReference) {
		t.Errorf("empty reference: %v", err)
	}
	if _, err := v.Verify(ctx, "nope"); err != ErrBatchNotFound {
		t.Errorf("missing batch: %v", err)
	}
}

func TestVerify_cacheTTL(t *testing.T) {
	v, f, mock := newFixture(t, time.Minute)

	for range 3 {
		if _, err := v.Verify(ctx, "COF-1"); err != nil {
			t.Fatal(err)
		}
	}
	if n := f.fetches.Load(); n != 1 {
		t.Errorf("expected 1 fetch while cached, got %d", n)
	}

	mock.Add(2 * time.Minute)
	if _, err := v.Verify(ctx, "COF-1"); err != nil {
		t.Fatal(err)
	}
	if n := f.fetches.Load(); n != 2 {
		t.Errorf("expected refetch after expiry, got %d fetches", n)
	}

	v.Invalidate("COF-1")
	if _, err := v.Verify(ctx, "COF-1"); err != nil {
		t.Fatal(err)
	}
	if n := f.fetches.Load(); n != 3 {
		t.Errorf("expected refetch after invalidate, got %d fetches", n)
	}
}

func TestCache_evict(t *testing.T) {
	mock := clock.NewMock()
	c := newResultCache(time.Minute, mock)
	c.set("a", &Result{})
	mock.Add(30 * time.Second)
	c.set("b", &Result{})
	mock.Add(45 * time.Second)

	if n := c.evict(); n != 1 {
		t.Errorf("expected 1 eviction, got %d", n)
	}
	if _, ok := c.get("b"); !ok || c.len() != 1 {
		t.Error("fresh entry should survive eviction")
	}
}

func TestGateway(t *testing.T) {
	v, _, _ := newFixture(t, time.Minute)
	mux := runtime.NewServeMux()
	if err := v.RegisterGateway(mux); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		path string
		code int
	}{
		{"/v1/verify/COF-1", http.StatusOK},
		{"/v1/verify?ref=greenledger%3A%2F%2Fthermal%2FCOF-1", http.StatusOK},
		{"/v1/verify/unknown", http.StatusNotFound},
		{"/v1/verify", http.StatusBadRequest},
		{"/v1/cache", http.StatusOK},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if w.Code != tc.code {
			t.Errorf("%s: expected %d, got %d: %s", tc.path, tc.code, w.Code, w.Body.String())
		}
	}

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/verify/COF-1", nil))
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["valid"] != true || body["agrees"] != true || body["length"] != float64(2) {
		t.Errorf("unexpected body: %v", body)
	}
}
