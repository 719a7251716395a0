package statuspush

import (
	"testing"

	"github.com/ngoclaw/agentwatch/internal/runstate"
	"github.com/ngoclaw/agentwatch/internal/uievents"
)

func TestToWire_ReviewerDecision(t *testing.T) {
	e := uievents.Event{
		Kind:       uievents.KindReviewerDecision,
		Verdict:    runstate.Verdict{Action: runstate.ActionAbort, Reason: "looping"},
		RetryCount: 2,
	}
	w := toWire(e)
	if w.Kind != string(uievents.KindReviewerDecision) || w.VerdictAction != "abort" || w.VerdictReason != "looping" || w.RetryCount != 2 {
		t.Fatalf("unexpected wire event: %+v", w)
	}
}

func TestToWire_Terminated(t *testing.T) {
	e := uievents.Event{Kind: uievents.KindTerminated, Outcome: "completed_successfully", Reason: ""}
	w := toWire(e)
	if w.Outcome != "completed_successfully" {
		t.Fatalf("unexpected wire event: %+v", w)
	}
}
