package reviewer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ngoclaw/agentwatch/internal/runstate"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

func systemPrompt() string {
	return "You are monitoring an autonomous coding assistant for progress versus looping. " +
		"Given the task, a history of prior iteration decisions, and a sample of recent activity, " +
		"decide whether the worker should continue or be aborted. " +
		"Respond with a single JSON object: {\"action\": \"continue\"|\"abort\", \"reason\": \"<short explanation>\"}."
}

func userPrompt(rc ReviewContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task:\n%s\n\n", rc.Task)
	fmt.Fprintf(&sb, "Iteration: %d\n\n", rc.Iteration)

	sb.WriteString("Previous iterations:\n")
	if len(rc.PreviousSummaries) == 0 {
		sb.WriteString("(none yet)\n")
	} else {
		for _, summary := range rc.PreviousSummaries {
			sb.WriteString(summary)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nCurrent sample:\n")
	sb.WriteString(rc.CurrentSample)
	return sb.String()
}

// verdictJSON mirrors the wire shape of a parsed verdict.
type verdictJSON struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// parseVerdict parses the assistant message content (extracted by Review) as
// the verdict JSON object. Leading/trailing whitespace and surrounding prose
// are tolerated by locating the outermost balanced {...}.
func parseVerdict(content string) (runstate.Verdict, error) {
	object, err := extractBalancedObject(content)
	if err != nil {
		return runstate.Verdict{}, fmt.Errorf("locate verdict object: %w", err)
	}

	var parsed verdictJSON
	if err := json.Unmarshal([]byte(object), &parsed); err != nil {
		return runstate.Verdict{}, fmt.Errorf("parse verdict json: %w", err)
	}

	action := strings.ToLower(strings.TrimSpace(parsed.Action))
	var normalized runstate.Action
	switch action {
	case "continue":
		normalized = runstate.ActionContinue
	case "abort":
		normalized = runstate.ActionAbort
	default:
		return runstate.Verdict{}, fmt.Errorf("verdict action %q outside allowed set", parsed.Action)
	}

	reason := strings.TrimSpace(parsed.Reason)
	if normalized == runstate.ActionAbort && reason == "" {
		return runstate.Verdict{}, fmt.Errorf("abort verdict missing required reason")
	}

	return runstate.Verdict{Action: normalized, Reason: reason}, nil
}

// extractBalancedObject finds the outermost balanced {...} substring,
// tolerating surrounding prose and whitespace.
func extractBalancedObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", fmt.Errorf("no JSON object found")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object")
}
