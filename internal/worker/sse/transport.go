// Package sse implements worker.Transport against an HTTP + Server-Sent
// Events worker API: POST to create a session, GET a text/event-stream of
// its events.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ngoclaw/agentwatch/internal/worker"
	"go.uber.org/zap"
)

// Config controls the HTTP endpoints and timeouts used to talk to the
// worker subprocess.
type Config struct {
	BaseURL        string
	ConnectTimeout time.Duration // reference default 10s, bounds CreateSession; Subscribe is bounded only by its ctx
	IdleTimeout    time.Duration // reference default 90s, bounds time between SSE lines
}

// Transport is the concrete worker.Transport backed by HTTP + SSE.
type Transport struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New constructs a Transport. httpClient may be nil to use http.DefaultClient.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Transport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 90 * time.Second
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Transport{cfg: cfg, httpClient: httpClient, logger: logger}
}

type createSessionRequest struct {
	Task string `json:"task"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// CreateSession posts the task to the worker and returns the session id it
// assigns. An Idempotency-Key header (a fresh uuid) lets the worker dedupe a
// retried create call against a partially-applied one.
func (t *Transport) CreateSession(ctx context.Context, task string) (worker.SessionID, error) {
	reqCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	body, err := json.Marshal(createSessionRequest{Task: task})
	if err != nil {
		return "", fmt.Errorf("encode create-session request: %w", err)
	}

	url := strings.TrimRight(t.cfg.BaseURL, "/") + "/sessions"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build create-session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.New().String())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("create session: worker returned status %d", resp.StatusCode)
	}

	var parsed createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode create-session response: %w", err)
	}
	if parsed.SessionID == "" {
		return "", fmt.Errorf("create session: worker did not assign a session id")
	}
	return worker.SessionID(parsed.SessionID), nil
}

// Subscribe opens the session's event stream.
func (t *Transport) Subscribe(ctx context.Context, id worker.SessionID) (worker.EventSubscription, error) {
	url := strings.TrimRight(t.cfg.BaseURL, "/") + "/sessions/" + string(id) + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build subscribe request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("subscribe: worker returned status %d", resp.StatusCode)
	}

	return newSubscription(resp.Body, t.cfg.IdleTimeout, t.logger), nil
}

// SendMessage is reserved for future mid-session steering.
func (t *Transport) SendMessage(ctx context.Context, id worker.SessionID, text string) error {
	url := strings.TrimRight(t.cfg.BaseURL, "/") + "/sessions/" + string(id) + "/messages"
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("send message: worker returned status %d", resp.StatusCode)
	}
	return nil
}
