package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/ngoclaw/agentwatch/internal/worker"
	"github.com/ngoclaw/agentwatch/pkg/safego"
	"go.uber.org/zap"
)

// wireEvent mirrors the JSON object carried by each SSE "data:" line.
type wireEvent struct {
	Type    string         `json:"type"`
	Body    string         `json:"body"`
	Name    string         `json:"name"`
	Params  map[string]any `json:"params"`
	Output  string         `json:"output"`
	Message string         `json:"message"`
}

func decodeWireEvent(data string) (worker.Event, error) {
	var we wireEvent
	if err := json.Unmarshal([]byte(data), &we); err != nil {
		return nil, err
	}
	switch we.Type {
	case "text_part_added":
		return worker.TextPartAdded{Body: we.Body}, nil
	case "text_part_updated":
		return worker.TextPartUpdated{Body: we.Body}, nil
	case "tool_invocation":
		return worker.ToolInvocation{Name: we.Name, Params: we.Params}, nil
	case "tool_result":
		return worker.ToolResult{Output: we.Output}, nil
	case "internal_reasoning":
		return worker.InternalReasoning{Body: we.Body}, nil
	case "system_notice":
		return worker.SystemNotice{Body: we.Body}, nil
	case "error_notice":
		return worker.ErrorNotice{Message: we.Message}, nil
	case "message_completed":
		return worker.MessageCompleted{}, nil
	case "session_completed":
		return worker.SessionCompleted{}, nil
	default:
		return worker.UnknownEvent{Kind: we.Type}, nil
	}
}

// pumpItem is one decoded event (or terminal signal) handed from the scan
// goroutine to Next's caller.
type pumpItem struct {
	ev  worker.Event
	err error
}

// subscription is the concrete worker.EventSubscription: a bufio.Scanner
// over the SSE body, read by a single background goroutine so that Next's
// caller-supplied context (e.g. the engine's per-iteration inactivity
// deadline) can race a blocked read instead of being stuck behind it.
type subscription struct {
	body   io.ReadCloser
	items  chan pumpItem
	stop   chan struct{}
	logger *zap.Logger
}

func newSubscription(body io.ReadCloser, idleTimeout time.Duration, logger *zap.Logger) *subscription {
	s := &subscription{
		body:   body,
		items:  make(chan pumpItem, 1),
		stop:   make(chan struct{}),
		logger: logger,
	}
	if logger != nil {
		safego.Go(logger, "sse-subscription-pump", func() { s.pump(idleTimeout) })
	} else {
		go s.pump(idleTimeout)
	}
	return s
}

// pump scans the body on its own goroutine for the lifetime of the
// subscription, decoding "data: " lines and delivering them (or the
// terminal EOF/error) on s.items. A fixed per-Read idle deadline guards
// against a stalled TCP connection that never closes and never sends data;
// this is independent of any per-call context deadline the caller applies
// in Next, which governs review-trigger inactivity, not connection health.
func (s *subscription) pump(idleTimeout time.Duration) {
	tr := &timedReader{r: s.body, timeout: idleTimeout}
	scanner := bufio.NewScanner(tr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			s.deliver(pumpItem{})
			return
		}

		ev, err := decodeWireEvent(data)
		if err != nil {
			if s.logger != nil {
				s.logger.Debug("sse: skipping unparseable event", zap.Error(err))
			}
			continue
		}
		if !s.deliver(pumpItem{ev: ev}) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeout(err) && s.logger != nil {
			s.logger.Warn("sse: read idle timeout, treating as stream closure")
		}
		s.deliver(pumpItem{err: err})
		return
	}
	s.deliver(pumpItem{})
}

// deliver sends item to s.items, returning false if the subscription was
// closed first so the pump goroutine can exit instead of leaking.
func (s *subscription) deliver(item pumpItem) bool {
	select {
	case s.items <- item:
		return true
	case <-s.stop:
		return false
	}
}

// Next returns the next decoded event, or (nil, false, err) when the
// stream ends (err nil), the underlying connection fails or stalls (err
// non-nil), or ctx fires first (err = ctx.Err(), typically
// context.DeadlineExceeded for an inactivity-timeout review trigger).
func (s *subscription) Next(ctx context.Context) (worker.Event, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case item, ok := <-s.items:
		if !ok {
			return nil, false, nil
		}
		if item.err != nil {
			return nil, false, item.err
		}
		if item.ev == nil {
			return nil, false, nil
		}
		return item.ev, true, nil
	}
}

func (s *subscription) Close() error {
	close(s.stop)
	return s.body.Close()
}

var errIdleTimeout = errors.New("sse: read idle timeout")

// timedReader applies a per-Read deadline, surfacing a stalled connection
// as an error instead of blocking the scanner forever.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

func isIdleTimeout(err error) bool {
	return errors.Is(err, errIdleTimeout)
}
