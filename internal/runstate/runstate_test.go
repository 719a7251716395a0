package runstate

import (
	"strings"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIterationsNumberedContiguously(t *testing.T) {
	rs := New()
	for i := 0; i < 3; i++ {
		rs.StartIteration()
		rs.RecordDecision(5, Verdict{Action: ActionContinue, Reason: "ok"}, 0)
	}
	iters := rs.Iterations()
	for i, iter := range iters {
		if iter.Number != i+1 {
			t.Fatalf("iteration %d has number %d, want %d", i, iter.Number, i+1)
		}
	}
}

func TestRecordDecision_WithoutStartIteration_Panics(t *testing.T) {
	rs := New()
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic calling RecordDecision without StartIteration")
		}
	}()
	rs.RecordDecision(0, Verdict{Action: ActionContinue}, 0)
}

func TestIsAtLimit(t *testing.T) {
	rs := New()
	if rs.IsAtLimit(1) {
		t.Fatal("should not be at limit before any iteration")
	}
	rs.StartIteration()
	if !rs.IsAtLimit(1) {
		t.Fatal("should be at limit after first StartIteration with max=1")
	}
}

func TestPreviousSummaries_OrderedOldestFirstAndBounded(t *testing.T) {
	rs := New()
	for i := 1; i <= 4; i++ {
		rs.StartIteration()
		rs.RecordDecision(1, Verdict{Action: ActionContinue, Reason: "step"}, 0)
	}
	summaries := rs.PreviousSummaries(2)
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if !strings.HasPrefix(summaries[0], "Iteration 3:") {
		t.Fatalf("expected oldest-first starting at iteration 3, got %q", summaries[0])
	}
	if !strings.HasPrefix(summaries[1], "Iteration 4:") {
		t.Fatalf("expected second entry iteration 4, got %q", summaries[1])
	}
}

func TestPreviousSummaries_EmptyWhenNoIterations(t *testing.T) {
	rs := New()
	if got := rs.PreviousSummaries(5); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestFormatActivityLog_IncludesAllIterations(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rs := newWithClock(fixedClock(now))
	rs.StartIteration()
	rs.RecordDecision(3, Verdict{Action: ActionAbort, Reason: "stuck"}, 2)

	log := rs.FormatActivityLog()
	if !strings.Contains(log, "Abort") || !strings.Contains(log, "stuck") {
		t.Fatalf("activity log missing expected content: %q", log)
	}
}

func TestRecordDecision_Immutable(t *testing.T) {
	rs := New()
	rs.StartIteration()
	rs.RecordDecision(2, Verdict{Action: ActionContinue, Reason: "a"}, 0)

	iters := rs.Iterations()
	iters[0].Verdict.Reason = "mutated"

	fresh := rs.Iterations()
	if fresh[0].Verdict.Reason != "a" {
		t.Fatalf("mutating returned slice affected internal state: %q", fresh[0].Verdict.Reason)
	}
}
