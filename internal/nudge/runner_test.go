package nudge

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/sapliy/loyalty-platform/internal/loyalty"
)

// stubEvaluator returns a fixed candidate list regardless of tenant.
type stubEvaluator struct {
	typ        Type
	candidates []Candidate
	err        error
}

func (s *stubEvaluator) Type() Type { return s.typ }

func (s *stubEvaluator) Evaluate(_ context.Context, _ string, _ *Config) ([]Candidate, error) {
	return s.candidates, s.err
}

func candidatesFor(ids ...string) []Candidate {
	out := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		out = append(out, Candidate{
			Member:  loyalty.Member{ID: id, Email: id + "@example.com", Name: "Member " + id},
			Context: map[string]string{"name": "Member " + id, "expiring_points": "100", "days_until_expiry": "3", "expires_at": "2026-08-10"},
		})
	}
	return out
}

type runnerFixture struct {
	runner    *Runner
	history   *memHistory
	configs   *memConfigs
	transport *mockTransport
	guard     *CooldownGuard
	disp      *Dispatcher
}

func newRunnerFixture(candidates []Candidate, at time.Time) *runnerFixture {
	history := newMemHistory()
	configs := newMemConfigs()
	transport := &mockTransport{}
	logger := slog.New(slog.DiscardHandler)

	guard := NewCooldownGuard(history, nil, logger)
	guard.now = func() time.Time { return at }
	disp := NewDispatcher(history, transport, nil, logger)
	disp.now = func() time.Time { return at }

	eval := &stubEvaluator{typ: PointsExpiring, candidates: candidates}
	return &runnerFixture{
		runner:    NewRunner(configs, []Evaluator{eval}, guard, disp, logger),
		history:   history,
		configs:   configs,
		transport: transport,
		guard:     guard,
		disp:      disp,
	}
}

func (f *runnerFixture) setClock(at time.Time) {
	f.guard.now = func() time.Time { return at }
	f.disp.now = func() time.Time { return at }
}

func TestRunnerSecondRunIsIdempotent(t *testing.T) {
	at := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	f := newRunnerFixture(candidatesFor("m1", "m2", "m3"), at)

	first, err := f.runner.Process(context.Background(), "t1", PointsExpiring, 0)
	if err != nil {
		t.Fatalf("first Process() error = %v", err)
	}
	if first.Sent != 3 || first.Skipped != 0 || len(first.Errors) != 0 {
		t.Fatalf("first run = %+v, want 3 sent", first)
	}

	second, err := f.runner.Process(context.Background(), "t1", PointsExpiring, 0)
	if err != nil {
		t.Fatalf("second Process() error = %v", err)
	}
	if second.Sent != 0 {
		t.Errorf("second run sent %d, want 0", second.Sent)
	}
	if second.Skipped != 3 {
		t.Errorf("second run skipped %d, want 3", second.Skipped)
	}
	if f.transport.count() != 3 {
		t.Errorf("transport saw %d sends across both runs, want 3", f.transport.count())
	}
}

func TestRunnerCooldownExpiryAllowsResend(t *testing.T) {
	start := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	f := newRunnerFixture(candidatesFor("m1"), start)

	if res, _ := f.runner.Process(context.Background(), "t1", PointsExpiring, 0); res.Sent != 1 {
		t.Fatalf("initial run sent %d, want 1", res.Sent)
	}

	// Six days later the 7-day cooldown still covers the member.
	f.setClock(start.AddDate(0, 0, 6))
	res, err := f.runner.Process(context.Background(), "t1", PointsExpiring, 0)
	if err != nil {
		t.Fatalf("Process() at day 6 error = %v", err)
	}
	if res.Sent != 0 || res.Skipped != 1 {
		t.Errorf("day 6 run = %+v, want skip", res)
	}

	// Two more days and the window has lapsed.
	f.setClock(start.AddDate(0, 0, 8))
	res, err = f.runner.Process(context.Background(), "t1", PointsExpiring, 0)
	if err != nil {
		t.Fatalf("Process() at day 8 error = %v", err)
	}
	if res.Sent != 1 {
		t.Errorf("day 8 run sent %d, want 1", res.Sent)
	}
}

func TestRunnerHonorsSendCap(t *testing.T) {
	at := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	f := newRunnerFixture(candidatesFor("m1", "m2", "m3", "m4", "m5"), at)

	res, err := f.runner.Process(context.Background(), "t1", PointsExpiring, 2)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Sent != 2 {
		t.Errorf("sent %d, want cap of 2", res.Sent)
	}
	if f.transport.count() != 2 {
		t.Errorf("transport saw %d sends, want 2", f.transport.count())
	}
}

func TestRunnerTransportFailuresCollected(t *testing.T) {
	at := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	f := newRunnerFixture(candidatesFor("m1", "m2"), at)
	f.transport.fail = true

	res, err := f.runner.Process(context.Background(), "t1", PointsExpiring, 0)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Sent != 0 {
		t.Errorf("sent %d, want 0", res.Sent)
	}
	if len(res.Errors) != 2 {
		t.Fatalf("errors = %v, want one per member", res.Errors)
	}

	// No history record exists, so the next run retries both members.
	f.transport.fail = false
	res, err = f.runner.Process(context.Background(), "t1", PointsExpiring, 0)
	if err != nil {
		t.Fatalf("retry Process() error = %v", err)
	}
	if res.Sent != 2 {
		t.Errorf("retry sent %d, want 2", res.Sent)
	}
}

func TestRunnerSkipsDisabledConfig(t *testing.T) {
	at := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	f := newRunnerFixture(candidatesFor("m1"), at)
	cfg := DefaultConfig("t1", PointsExpiring)
	cfg.Enabled = false
	f.configs.put(cfg)

	res, err := f.runner.Process(context.Background(), "t1", PointsExpiring, 0)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Sent != 0 || res.Skipped != 0 || len(res.Errors) != 0 {
		t.Errorf("disabled config produced work: %+v", res)
	}
	if f.transport.count() != 0 {
		t.Error("transport must not be reached when the type is disabled")
	}
}

func TestRunnerProcessAllSweepsEnabledPairs(t *testing.T) {
	at := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	f := newRunnerFixture(candidatesFor("m1"), at)
	f.configs.put(DefaultConfig("t1", PointsExpiring))
	f.configs.put(DefaultConfig("t2", PointsExpiring))
	disabled := DefaultConfig("t3", PointsExpiring)
	disabled.Enabled = false
	f.configs.put(disabled)

	results, err := f.runner.ProcessAll(context.Background(), 0)
	if err != nil {
		t.Fatalf("ProcessAll() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want one per enabled pair", len(results))
	}
	totalSent := 0
	for _, res := range results {
		totalSent += res.Sent
	}
	if totalSent != 2 {
		t.Errorf("total sent %d, want 2", totalSent)
	}
}
