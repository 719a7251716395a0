// Package runstate holds the append-only record of iterations chaining a
// supervised run together.
package runstate

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Action is the reviewer's continue/abort decision.
type Action string

const (
	ActionContinue Action = "continue"
	ActionAbort    Action = "abort"
)

// Verdict is the reviewer's output for one iteration.
type Verdict struct {
	Action Action
	Reason string
}

// Iteration is one immutable, appended record of a completed iteration.
type Iteration struct {
	Number     int
	Timestamp  time.Time
	SampleSize int
	Verdict    Verdict
	RetryCount int
}

// RunState is the single-writer, append-only chain of iterations for one
// run. Only the loop engine mutates it; all reads are pure.
type RunState struct {
	mu               sync.RWMutex
	iterations       []Iteration
	currentIteration int
	startTime        time.Time
	now              func() time.Time
}

// New creates a RunState with start_time set to the current time.
func New() *RunState {
	return newWithClock(time.Now)
}

// newWithClock is the testable constructor, allowing a deterministic clock.
func newWithClock(now func() time.Time) *RunState {
	return &RunState{
		startTime: now(),
		now:       now,
	}
}

// StartIteration increments current_iteration, marking the beginning of a
// new iteration. Must be followed by exactly one RecordDecision before the
// next StartIteration.
func (r *RunState) StartIteration() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentIteration++
	return r.currentIteration
}

// RecordDecision appends an Iteration whose Number is the current iteration
// counter. Panics if called without a matching StartIteration — this is an
// internal invariant violation, a programming error that must fail loudly.
func (r *RunState) RecordDecision(sampleSize int, verdict Verdict, retryCount int) Iteration {
	r.mu.Lock()
	defer r.mu.Unlock()

	expected := len(r.iterations) + 1
	if r.currentIteration != expected {
		panic(fmt.Sprintf("runstate: RecordDecision called without matching StartIteration (current=%d, expected=%d)", r.currentIteration, expected))
	}

	iter := Iteration{
		Number:     r.currentIteration,
		Timestamp:  r.now(),
		SampleSize: sampleSize,
		Verdict:    verdict,
		RetryCount: retryCount,
	}
	r.iterations = append(r.iterations, iter)
	return iter
}

// CurrentIteration returns the current iteration counter.
func (r *RunState) CurrentIteration() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentIteration
}

// Iterations returns a copy of the recorded iterations, oldest first.
func (r *RunState) Iterations() []Iteration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Iteration, len(r.iterations))
	copy(out, r.iterations)
	return out
}

// PreviousSummaries renders the last <= limit recorded iterations as short
// strings, oldest first, of the form "Iteration <n>: <Continue|Abort> —
// <reason>".
func (r *RunState) PreviousSummaries(limit int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || len(r.iterations) == 0 {
		return nil
	}
	start := 0
	if len(r.iterations) > limit {
		start = len(r.iterations) - limit
	}
	out := make([]string, 0, len(r.iterations)-start)
	for _, iter := range r.iterations[start:] {
		out = append(out, summaryLine(iter))
	}
	return out
}

// IsAtLimit reports whether current_iteration has reached max.
func (r *RunState) IsAtLimit(max int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentIteration >= max
}

// FormatActivityLog renders all iterations as a human-readable list with
// timestamp, sample size, action, and reason.
func (r *RunState) FormatActivityLog() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.iterations) == 0 {
		return "no iterations recorded"
	}
	var sb strings.Builder
	for _, iter := range r.iterations {
		fmt.Fprintf(&sb, "[%s] iteration %d (sample=%d lines, retries=%d): %s — %s\n",
			iter.Timestamp.Format(time.RFC3339),
			iter.Number,
			iter.SampleSize,
			iter.RetryCount,
			actionLabel(iter.Verdict.Action),
			iter.Verdict.Reason,
		)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// StartTime returns the wall-clock time RunState was constructed.
func (r *RunState) StartTime() time.Time {
	return r.startTime
}

func summaryLine(iter Iteration) string {
	return fmt.Sprintf("Iteration %d: %s — %s", iter.Number, actionLabel(iter.Verdict.Action), iter.Verdict.Reason)
}

func actionLabel(a Action) string {
	switch a {
	case ActionAbort:
		return "Abort"
	default:
		return "Continue"
	}
}
