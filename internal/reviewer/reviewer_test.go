package reviewer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ngoclaw/agentwatch/internal/runstate"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func newTestReviewer(t *testing.T, server *httptest.Server, cfg Config) *Reviewer {
	t.Helper()
	cfg.BaseURL = server.URL
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseWait == 0 {
		cfg.RetryBaseWait = time.Millisecond
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return New(cfg, server.Client(), testLogger())
}

func chatResponseBody(content string) []byte {
	body, _ := json.Marshal(chatResponse{Choices: []chatChoice{{Message: chatMessage{Content: content}}}})
	return body
}

func TestReview_Success_ContinueVerdict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(chatResponseBody(`{"action":"continue","reason":"progressing"}`))
	}))
	defer server.Close()

	rv := newTestReviewer(t, server, Config{})
	verdict, err := rv.Review(context.Background(), ReviewContext{Task: "t", Iteration: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Action != runstate.ActionContinue || verdict.Reason != "progressing" {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
}

func TestReview_ParsesJSONSurroundedByProse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatResponseBody("Here is my assessment:\n  {\"action\": \"ABORT\", \"reason\": \"stuck in a retry loop\"}\nThanks."))
	}))
	defer server.Close()

	rv := newTestReviewer(t, server, Config{})
	verdict, err := rv.Review(context.Background(), ReviewContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Action != runstate.ActionAbort {
		t.Fatalf("expected abort, got %v", verdict.Action)
	}
}

func TestReview_MissingReasonOnAbort_IsPermanentError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatResponseBody(`{"action":"abort","reason":""}`))
	}))
	defer server.Close()

	rv := newTestReviewer(t, server, Config{})
	_, err := rv.Review(context.Background(), ReviewContext{})
	if err == nil {
		t.Fatal("expected error for missing abort reason")
	}
}

func TestReview_ServerError_IsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	rv := newTestReviewer(t, server, Config{})
	_, err := rv.Review(context.Background(), ReviewContext{})
	var re *reviewError
	if !asReviewError(err, &re) {
		t.Fatalf("expected reviewError, got %v (%T)", err, err)
	}
	if re.kind != failureTransient {
		t.Fatalf("expected transient, got %v", re.kind)
	}
}

func TestReview_BadRequest_IsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	rv := newTestReviewer(t, server, Config{})
	_, err := rv.Review(context.Background(), ReviewContext{})
	var re *reviewError
	if !asReviewError(err, &re) {
		t.Fatalf("expected reviewError, got %v (%T)", err, err)
	}
	if re.kind != failurePermanent {
		t.Fatalf("expected permanent, got %v", re.kind)
	}
}

func TestReviewWithRetry_ExhaustsAndReturnsDefaultContinue(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	rv := newTestReviewer(t, server, Config{MaxAttempts: 3})
	verdict, retries := rv.ReviewWithRetry(context.Background(), ReviewContext{})

	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if retries != 3 {
		t.Fatalf("expected retry_count 3, got %d", retries)
	}
	if verdict.Action != runstate.ActionContinue {
		t.Fatalf("expected default Continue, got %v", verdict.Action)
	}
}

func TestReviewWithRetry_ConfigurableFallbackAction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	rv := newTestReviewer(t, server, Config{MaxAttempts: 1, FallbackAction: runstate.ActionAbort})
	verdict, _ := rv.ReviewWithRetry(context.Background(), ReviewContext{})
	if verdict.Action != runstate.ActionAbort {
		t.Fatalf("expected configured fallback Abort, got %v", verdict.Action)
	}
}

func TestReviewWithRetry_SucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(chatResponseBody(`{"action":"continue","reason":"recovered"}`))
	}))
	defer server.Close()

	rv := newTestReviewer(t, server, Config{MaxAttempts: 3})
	verdict, retries := rv.ReviewWithRetry(context.Background(), ReviewContext{})
	if retries != 1 {
		t.Fatalf("expected retry_count 1, got %d", retries)
	}
	if verdict.Reason != "recovered" {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
}

func TestReviewer_SetFallbackAction_AppliesToNextExhaustedRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	rv := newTestReviewer(t, server, Config{MaxAttempts: 1, FallbackAction: runstate.ActionContinue})

	verdict, _ := rv.ReviewWithRetry(context.Background(), ReviewContext{})
	if verdict.Action != runstate.ActionContinue {
		t.Fatalf("expected initial fallback Continue, got %v", verdict.Action)
	}

	rv.SetFallbackAction(runstate.ActionAbort)

	verdict, _ = rv.ReviewWithRetry(context.Background(), ReviewContext{})
	if verdict.Action != runstate.ActionAbort {
		t.Fatalf("expected updated fallback Abort after SetFallbackAction, got %v", verdict.Action)
	}
}

func TestParseVerdict_RoundTripsActionAndReason(t *testing.T) {
	original := verdictJSON{Action: "continue", Reason: "looking good"}
	data, _ := json.Marshal(original)
	verdict, err := parseVerdict(string(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reencoded, _ := json.Marshal(verdictJSON{Action: string(verdict.Action), Reason: verdict.Reason})
	var roundTripped verdictJSON
	json.Unmarshal(reencoded, &roundTripped)
	if roundTripped.Action != original.Action || roundTripped.Reason != original.Reason {
		t.Fatalf("round trip mismatch: %+v vs %+v", roundTripped, original)
	}
}

func asReviewError(err error, target **reviewError) bool {
	for err != nil {
		if re, ok := err.(*reviewError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
