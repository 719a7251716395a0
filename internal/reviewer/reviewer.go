// Package reviewer turns a ReviewContext into a runstate.Verdict by calling
// an external chat-completions endpoint, surviving transient failures with
// bounded exponential backoff.
package reviewer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ngoclaw/agentwatch/internal/runstate"
	"go.uber.org/zap"
)

// ReviewContext is the input to one reviewer call.
type ReviewContext struct {
	Task              string
	Iteration         int
	PreviousSummaries []string
	CurrentSample     string
}

// Config controls the Reviewer's endpoint, model, and retry behavior.
type Config struct {
	BaseURL      string
	Model        string
	MaxAttempts  int           // reference default 3
	RetryBaseWait time.Duration // reference default 1s, doubling per attempt
	RequestTimeout time.Duration // reference default 30s

	// FallbackAction is the verdict action used once retries are exhausted.
	// Defaults to runstate.ActionContinue (reference behavior): the
	// reviewer is advisory-terminal, and halting on reviewer outage would
	// confuse transient infrastructure failure with worker misbehavior.
	// Operators who'd rather fail closed may set this to ActionAbort.
	FallbackAction runstate.Action
}

// DefaultConfig returns the reference configuration values.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		RetryBaseWait:  1 * time.Second,
		RequestTimeout: 30 * time.Second,
		FallbackAction: runstate.ActionContinue,
	}
}

// Reviewer calls the chat-completions endpoint and parses its verdicts.
type Reviewer struct {
	cfg            Config
	httpClient     *http.Client
	logger         *zap.Logger
	fallbackAction atomic.Value // runstate.Action
}

// New creates a Reviewer. httpClient may be nil to use http.DefaultClient.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Reviewer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseWait <= 0 {
		cfg.RetryBaseWait = 1 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.FallbackAction == "" {
		cfg.FallbackAction = runstate.ActionContinue
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	r := &Reviewer{cfg: cfg, httpClient: httpClient, logger: logger}
	r.fallbackAction.Store(cfg.FallbackAction)
	return r
}

// SetFallbackAction updates the verdict action used once retries are
// exhausted, for an in-flight supervisor process whose config file changed
// (see config.Watcher). Safe for concurrent use with ReviewWithRetry.
func (r *Reviewer) SetFallbackAction(action runstate.Action) {
	if action != runstate.ActionContinue && action != runstate.ActionAbort {
		return
	}
	r.fallbackAction.Store(action)
}

func (r *Reviewer) currentFallbackAction() runstate.Action {
	if v, ok := r.fallbackAction.Load().(runstate.Action); ok && v != "" {
		return v
	}
	return runstate.ActionContinue
}

// failureKind distinguishes transient infrastructure failure from the
// model emitting garbage, so operators can tell them apart in logs even
// though both are retried and both fall back to the same default verdict.
type failureKind string

const (
	failureTransient failureKind = "transient"
	failurePermanent failureKind = "permanent"
)

type reviewError struct {
	kind failureKind
	err  error
}

func (e *reviewError) Error() string { return e.err.Error() }
func (e *reviewError) Unwrap() error { return e.err }

// Review performs one attempt against the chat-completions endpoint.
func (r *Reviewer) Review(ctx context.Context, rc ReviewContext) (runstate.Verdict, error) {
	body, err := json.Marshal(chatRequest{
		Model: r.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt()},
			{Role: "user", Content: userPrompt(rc)},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return runstate.Verdict{}, &reviewError{kind: failurePermanent, err: fmt.Errorf("encode request: %w", err)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	url := strings.TrimRight(r.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return runstate.Verdict{}, &reviewError{kind: failurePermanent, err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return runstate.Verdict{}, &reviewError{kind: failureTransient, err: fmt.Errorf("transport failure: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return runstate.Verdict{}, &reviewError{kind: failureTransient, err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		kind := failurePermanent
		if isRetryableStatus(resp.StatusCode) {
			kind = failureTransient
		}
		return runstate.Verdict{}, &reviewError{kind: kind, err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), 200))}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return runstate.Verdict{}, &reviewError{kind: failurePermanent, err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return runstate.Verdict{}, &reviewError{kind: failurePermanent, err: fmt.Errorf("response missing choices")}
	}
	content := parsed.Choices[0].Message.Content
	if content == "" {
		return runstate.Verdict{}, &reviewError{kind: failurePermanent, err: fmt.Errorf("response missing message content")}
	}

	verdict, err := parseVerdict(content)
	if err != nil {
		return runstate.Verdict{}, &reviewError{kind: failurePermanent, err: err}
	}
	return verdict, nil
}

// ReviewWithRetry calls Review up to MaxAttempts times, sleeping
// 2^attempt * RetryBaseWait between attempts (1s, 2s, 4s, ... with the
// reference RetryBaseWait of 1s). Both transient and permanent errors are
// retried — the reference behavior conflates them — but are logged with a
// distinguishing failure_kind field. After exhausting attempts, returns the
// configured FallbackAction with a reason noting reviewer unavailability
// and retryCount == MaxAttempts.
func (r *Reviewer) ReviewWithRetry(ctx context.Context, rc ReviewContext) (runstate.Verdict, int) {
	var lastErr error

	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := r.cfg.RetryBaseWait * time.Duration(1<<(attempt-1))
			if r.logger != nil {
				r.logger.Info("reviewer: retrying", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(lastErr))
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return fallbackVerdict(r.currentFallbackAction(), ctx.Err()), attempt
			}
		}

		verdict, err := r.Review(ctx, rc)
		if err == nil {
			if attempt > 0 && r.logger != nil {
				r.logger.Info("reviewer: retry succeeded", zap.Int("attempt", attempt))
			}
			return verdict, attempt
		}

		lastErr = err
		kind := failurePermanent
		var re *reviewError
		if errors.As(err, &re) {
			kind = re.kind
		}
		if r.logger != nil {
			r.logger.Warn("reviewer: attempt failed",
				zap.Int("attempt", attempt),
				zap.String("failure_kind", string(kind)),
				zap.Error(err),
			)
		}
	}

	return fallbackVerdict(r.currentFallbackAction(), lastErr), r.cfg.MaxAttempts
}

func fallbackVerdict(action runstate.Action, cause error) runstate.Verdict {
	reason := "reviewer unavailable; continuing on last known state"
	if action == runstate.ActionAbort {
		reason = "reviewer unavailable; aborting per configured fallback action"
	}
	if cause != nil {
		reason = fmt.Sprintf("%s (%v)", reason, cause)
	}
	return runstate.Verdict{Action: action, Reason: reason}
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return status >= 500 && status <= 599
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

