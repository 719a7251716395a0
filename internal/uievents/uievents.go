// Package uievents is a lossy, non-blocking fan-out of loop lifecycle
// events for presentation layers. Publishing never alters loop behavior:
// dropping an event because no subscriber is attached or a subscriber's
// buffer is full is always safe.
package uievents

import (
	"sync"

	"github.com/ngoclaw/agentwatch/internal/runstate"
	"go.uber.org/zap"
)

// Kind discriminates the lifecycle events a subscriber may receive.
type Kind string

const (
	KindWorkerOutputLine Kind = "worker_output_line"
	KindIterationStarted Kind = "iteration_started"
	KindReviewerDecision Kind = "reviewer_decision"
	KindStatusChanged    Kind = "status_changed"
	KindTerminated       Kind = "terminated"
)

// Event is one published lifecycle observation. Only the payload fields
// belonging to Kind are populated.
type Event struct {
	Kind Kind

	Line string // KindWorkerOutputLine

	IterationNumber int // KindIterationStarted

	Verdict    runstate.Verdict // KindReviewerDecision
	RetryCount int              // KindReviewerDecision

	Status string // KindStatusChanged

	Outcome string // KindTerminated: the outcome kind
	Reason  string // KindTerminated: reason, if any
}

// Bus is a single-subscriber, bounded, lossy fan-out channel. The teacher's
// multi-subscriber InMemoryBus is overkill here: spec.md §5 calls for "one
// subscriber", so Bus keeps a single buffered channel rather than a
// handler-map dispatch loop.
type Bus struct {
	mu     sync.RWMutex
	ch     chan Event
	logger *zap.Logger
}

// New creates a Bus with the given channel buffer size.
func New(bufferSize int, logger *zap.Logger) *Bus {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Bus{
		ch:     make(chan Event, bufferSize),
		logger: logger,
	}
}

// Subscribe returns the receive side of the fan-out channel. Only one
// subscriber is supported at a time; Bus is multi-reader-hostile by design.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ch
}

// Publish attempts a non-blocking send on the bus's buffered channel. The
// channel exists from New onward, so events published before Subscribe is
// called are held in the buffer rather than dropped; once the buffer is
// full, further events are dropped silently.
func (b *Bus) Publish(event Event) {
	select {
	case b.ch <- event:
	default:
		if b.logger != nil {
			b.logger.Debug("uievents: dropping event, subscriber buffer full", zap.String("kind", string(event.Kind)))
		}
	}
}

// Close closes the fan-out channel. Safe to call once, after the run ends.
func (b *Bus) Close() {
	close(b.ch)
}
