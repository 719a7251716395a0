package sampler

import (
	"fmt"
	"testing"

	"github.com/ngoclaw/agentwatch/internal/worker"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func TestIngest_TextPartAdded_EmptyBodyProducesNoLine(t *testing.T) {
	s := New(10, testLogger())
	s.Ingest(worker.TextPartAdded{Body: ""})
	if s.LineCount() != 0 {
		t.Fatalf("expected 0 lines, got %d", s.LineCount())
	}
}

func TestIngest_TextPartAdded_MultiNewlineProducesMultipleLines(t *testing.T) {
	s := New(10, testLogger())
	s.Ingest(worker.TextPartAdded{Body: "line one\nline two\nline three"})
	if s.LineCount() != 3 {
		t.Fatalf("expected 3 lines, got %d", s.LineCount())
	}
}

func TestIngest_WhitespaceOnlySegmentsDropped(t *testing.T) {
	s := New(10, testLogger())
	s.Ingest(worker.TextPartAdded{Body: "real\n   \n\t\nalso real"})
	if s.LineCount() != 2 {
		t.Fatalf("expected 2 lines, got %d", s.LineCount())
	}
}

func TestIngest_ToolInvocation_RendersJSONParams(t *testing.T) {
	s := New(10, testLogger())
	s.Ingest(worker.ToolInvocation{Name: "read_file", Params: map[string]any{"path": "x"}})
	got := s.Render()
	want := `[Tool: read_file({"path":"x"})]`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestIngest_ErrorNotice(t *testing.T) {
	s := New(10, testLogger())
	s.Ingest(worker.ErrorNotice{Message: "boom"})
	if s.Render() != "[Error: boom]" {
		t.Fatalf("unexpected render: %q", s.Render())
	}
}

func TestIngest_DiscardedVariantsLeaveCountUnchanged(t *testing.T) {
	s := New(10, testLogger())
	s.Ingest(worker.ToolResult{Output: "data"})
	s.Ingest(worker.InternalReasoning{Body: "thinking"})
	s.Ingest(worker.SystemNotice{Body: "noise"})
	s.Ingest(worker.MessageCompleted{})
	s.Ingest(worker.SessionCompleted{})
	if s.LineCount() != 0 {
		t.Fatalf("expected 0 lines, got %d", s.LineCount())
	}
}

func TestOverflow_EvictsOldestLine(t *testing.T) {
	s := New(3, testLogger())
	for i := 0; i < 5; i++ {
		s.Ingest(worker.TextPartAdded{Body: fmt.Sprintf("line-%d", i)})
	}
	if s.LineCount() != 3 {
		t.Fatalf("expected 3 lines, got %d", s.LineCount())
	}
	got := s.Render()
	want := "line-2\nline-3\nline-4"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCapacityOne_RetainsOnlyLastLine(t *testing.T) {
	s := New(1, testLogger())
	s.Ingest(worker.TextPartAdded{Body: "first"})
	s.Ingest(worker.TextPartAdded{Body: "second"})
	if s.Render() != "second" {
		t.Fatalf("got %q, want %q", s.Render(), "second")
	}
}

func TestRender_Idempotent(t *testing.T) {
	s := New(10, testLogger())
	s.Ingest(worker.TextPartAdded{Body: "hello"})
	a := s.Render()
	b := s.Render()
	if a != b {
		t.Fatalf("render not idempotent: %q vs %q", a, b)
	}
}

func TestClear_EmptiesBuffer(t *testing.T) {
	s := New(10, testLogger())
	s.Ingest(worker.TextPartAdded{Body: "hello"})
	s.Clear()
	if s.LineCount() != 0 {
		t.Fatalf("expected 0 lines after clear, got %d", s.LineCount())
	}
	if s.Render() != "" {
		t.Fatalf("expected empty render after clear, got %q", s.Render())
	}
}
