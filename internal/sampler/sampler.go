// Package sampler maintains the bounded, filtered, line-oriented window of
// worker output submitted to the reviewer each iteration.
package sampler

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/ngoclaw/agentwatch/internal/worker"
	"go.uber.org/zap"
)

// Sampler is a bounded FIFO ring of text lines distilled from worker
// events. Safe for concurrent use.
type Sampler struct {
	mu       sync.Mutex
	lines    []string
	capacity int
	logger   *zap.Logger
}

// New creates a Sampler with the given line capacity. capacity must be >= 1.
func New(capacity int, logger *zap.Logger) *Sampler {
	if capacity < 1 {
		capacity = 1
	}
	return &Sampler{
		lines:    make([]string, 0, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

// Ingest classifies event and appends zero or more lines to the buffer.
func (s *Sampler) Ingest(event worker.Event) {
	switch e := event.(type) {
	case worker.TextPartAdded:
		s.appendBody(e.Body)
	case worker.TextPartUpdated:
		s.appendBody(e.Body)
	case worker.ToolInvocation:
		s.append("[Tool: " + e.Name + "(" + encodeParams(e.Params) + ")]")
	case worker.ErrorNotice:
		s.append("[Error: " + e.Message + "]")
	default:
		if s.logger != nil {
			s.logger.Debug("sampler: ignoring event", zap.String("kind", kindOf(event)))
		}
	}
}

// Render returns all buffered lines joined by newline, no trailing newline.
// Pure; safe to call multiple times.
func (s *Sampler) Render() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.lines, "\n")
}

// LineCount returns the current number of buffered lines.
func (s *Sampler) LineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

// Clear empties the buffer.
func (s *Sampler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = s.lines[:0]
}

func (s *Sampler) appendBody(body string) {
	for _, segment := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(segment)
		if trimmed == "" {
			continue
		}
		s.append(trimmed)
	}
}

func (s *Sampler) append(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines)+1 > s.capacity {
		overflow := len(s.lines) + 1 - s.capacity
		s.lines = s.lines[overflow:]
	}
	s.lines = append(s.lines, line)
}

// encodeParams renders a deterministic compact JSON object for tool
// parameters, falling back to "{}" if the map cannot be marshaled.
func encodeParams(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func kindOf(event worker.Event) string {
	switch event.(type) {
	case worker.ToolResult:
		return "tool_result"
	case worker.InternalReasoning:
		return "internal_reasoning"
	case worker.SystemNotice:
		return "system_notice"
	case worker.MessageCompleted:
		return "message_completed"
	case worker.SessionCompleted:
		return "session_completed"
	default:
		return "unknown"
	}
}
