package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/jmerrifield20/GreenLedger/internal/ledger"
	"go.uber.org/zap"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type stubLister struct {
	mu   sync.Mutex
	refs []ledger.ChainRef
}

func (s *stubLister) ListAll() []ledger.ChainRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

func (s *stubLister) set(refs ...ledger.ChainRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = refs
}

type alerts struct {
	mu     sync.Mutex
	events []map[string]string
}

func (a *alerts) dispatch(_ context.Context, _ string, payload map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, payload)
}

func (a *alerts) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

func chain(t *testing.T, batchID string, n int) ledger.ChainRef {
	t.Helper()
	var blocks []ledger.Block
	for i := 0; i < n; i++ {
		b, err := ledger.CreateBlock(blocks, "actor", ledger.Payload{"step": i}, float64(i+1), "thermal", batchID)
		if err != nil {
			t.Fatal(err)
		}
		blocks = append(blocks, *b)
	}
	return ledger.ChainRef{Category: "thermal", BatchID: batchID, Blocks: blocks}
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestCheckAll_reportsTamperedOnce(t *testing.T) {
	good := chain(t, "GOOD", 3)
	bad := chain(t, "BAD", 3)
	bad.Blocks = ledger.SimulateTamper(bad.Blocks, 2)

	lister := &stubLister{}
	lister.set(good, bad)
	al := &alerts{}
	var gotChains, gotTampered int

	a := New(lister, Config{Concurrency: 2}, zap.NewNop())
	a.SetWebhookDispatch(al.dispatch)
	a.SetMetricsRecord(func(c, tampered int) { gotChains, gotTampered = c, tampered })

	res := a.CheckAll(context.Background())
	if res.Chains != 2 || len(res.Tampered) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	f := res.Tampered[0]
	if f.BatchID != "BAD" || f.FirstIndex != 2 || f.Reason != ledger.ReasonBadHash {
		t.Errorf("unexpected finding: %+v", f)
	}
	if gotChains != 2 || gotTampered != 1 {
		t.Errorf("metrics: %d/%d", gotChains, gotTampered)
	}
	if al.count() != 1 || al.events[0]["batchId"] != "BAD" {
		t.Errorf("alerts: %v", al.events)
	}

	// A second pass over the same state must not alert again.
	a.CheckAll(context.Background())
	if al.count() != 1 {
		t.Errorf("alerted %d times, want 1", al.count())
	}

	// Once the chain disappears and comes back tampered it alerts again.
	lister.set(good)
	a.CheckAll(context.Background())
	lister.set(good, bad)
	a.CheckAll(context.Background())
	if al.count() != 2 {
		t.Errorf("alerts after reappearance: got %d, want 2", al.count())
	}
	if a.Last() == nil || len(a.Last().Tampered) != 1 {
		t.Errorf("Last: %+v", a.Last())
	}
}

func TestCheckAll_interruptedPassKeepsState(t *testing.T) {
	bad := chain(t, "BAD", 3)
	bad.Blocks = ledger.SimulateTamper(bad.Blocks, 1)
	lister := &stubLister{}
	lister.set(chain(t, "GOOD", 2), bad)
	al := &alerts{}
	metricsCalls := 0

	a := New(lister, Config{Concurrency: 2}, zap.NewNop())
	a.SetWebhookDispatch(al.dispatch)
	a.SetMetricsRecord(func(int, int) { metricsCalls++ })

	first := a.CheckAll(context.Background())
	if al.count() != 1 || metricsCalls != 1 {
		t.Fatalf("first pass: %d alerts, %d metric updates", al.count(), metricsCalls)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if got := a.CheckAll(cancelled); got != first {
		t.Errorf("interrupted pass returned %+v, want the previous result", got)
	}
	if a.Last() != first {
		t.Error("interrupted pass replaced the last result")
	}
	if metricsCalls != 1 {
		t.Errorf("interrupted pass updated metrics")
	}

	a.CheckAll(context.Background())
	if al.count() != 1 {
		t.Errorf("tampered chain alerted %d times, want 1", al.count())
	}
}

func TestCheckAll_empty(t *testing.T) {
	a := New(&stubLister{}, Config{}, zap.NewNop())
	res := a.CheckAll(context.Background())
	if res.Chains != 0 || len(res.Tampered) != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestStart_runsOnEachTick(t *testing.T) {
	lister := &stubLister{}
	lister.set(chain(t, "A", 2))
	mock := clock.NewMock()

	passes := make(chan int, 10)
	a := New(lister, Config{Interval: time.Minute}, zap.NewNop())
	a.SetClock(mock)
	a.SetMetricsRecord(func(c, _ int) { passes <- c })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Start(ctx)
		close(done)
	}()

	<-passes // immediate pass
	mock.Add(time.Minute)
	select {
	case <-passes:
	case <-time.After(2 * time.Second):
		t.Fatal("no pass after ticker fired")
	}
	cancel()
	<-done
}
