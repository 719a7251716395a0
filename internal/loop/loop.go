// Package loop implements the supervised execution loop: the engine that
// streams worker events into the sampler, invokes the reviewer at each
// trigger, and records the resulting verdict chain onto a RunState.
package loop

import (
	"context"
	"errors"
	"time"

	"github.com/ngoclaw/agentwatch/internal/reviewer"
	"github.com/ngoclaw/agentwatch/internal/runstate"
	"github.com/ngoclaw/agentwatch/internal/sampler"
	"github.com/ngoclaw/agentwatch/internal/uievents"
	"github.com/ngoclaw/agentwatch/internal/worker"
	"github.com/ngoclaw/agentwatch/pkg/apperr"
	"go.uber.org/zap"
)

// ReviewerClient is the subset of *reviewer.Reviewer the engine depends on,
// so tests can substitute a fake.
type ReviewerClient interface {
	ReviewWithRetry(ctx context.Context, rc reviewer.ReviewContext) (runstate.Verdict, int)
}

// Config controls one run of the engine.
type Config struct {
	Task                  string
	MaxIterations         int
	InactivityTimeout     time.Duration
	SampleCapacity        int
	PreviousSummaryWindow int
}

// DefaultConfig returns the reference configuration values.
func DefaultConfig() Config {
	return Config{
		MaxIterations:         10,
		InactivityTimeout:     30 * time.Second,
		SampleCapacity:        100,
		PreviousSummaryWindow: 5,
	}
}

// Engine orchestrates one supervised run: Starting -> Streaming -> Reviewing
// -> {Streaming, Terminated}, per iteration, until an outcome is reached.
type Engine struct {
	cfg       Config
	transport worker.Transport
	reviewer  ReviewerClient
	sampler   *sampler.Sampler
	runState  *runstate.RunState
	uiBus     *uievents.Bus
	sm        *stateMachine
	logger    *zap.Logger
}

// New constructs an Engine. uiBus may be nil, in which case UI fan-out is
// skipped entirely.
func New(cfg Config, transport worker.Transport, rv ReviewerClient, uiBus *uievents.Bus, logger *zap.Logger) *Engine {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 30 * time.Second
	}
	if cfg.SampleCapacity <= 0 {
		cfg.SampleCapacity = 100
	}
	if cfg.PreviousSummaryWindow <= 0 {
		cfg.PreviousSummaryWindow = 5
	}
	return &Engine{
		cfg:       cfg,
		transport: transport,
		reviewer:  rv,
		sampler:   sampler.New(cfg.SampleCapacity, logger),
		runState:  runstate.New(),
		uiBus:     uiBus,
		sm:        newStateMachine(logger),
		logger:    logger,
	}
}

// RunState exposes the engine's append-only iteration record, e.g. for a
// status API to render after the run ends.
func (e *Engine) RunState() *runstate.RunState { return e.runState }

// LoopState reports the engine's current state-machine state, e.g. for a
// status API to render alongside the RunState snapshot.
func (e *Engine) LoopState() State { return e.sm.State() }

// triggerKind is the reason a streaming phase ended.
type triggerKind string

const (
	triggerMessageCompleted triggerKind = "message_completed"
	triggerInactivity       triggerKind = "inactivity"
	triggerStreamClosed     triggerKind = "stream_closed"
	triggerSessionCompleted triggerKind = "session_completed"
)

// Run executes the full iteration loop until an Outcome is reached. Run
// blocks until the worker session completes, the reviewer aborts, the
// iteration cap is hit, a fatal error occurs, or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) Outcome {
	sessionID, err := e.transport.CreateSession(ctx, e.cfg.Task)
	if err != nil {
		e.sm.Transition(StateTerminated)
		return fatalError(apperr.Wrap(apperr.CodeFatalSetup, "create worker session", err).Error())
	}

	sub, err := e.transport.Subscribe(ctx, sessionID)
	if err != nil {
		e.sm.Transition(StateTerminated)
		return fatalError(apperr.Wrap(apperr.CodeFatalSetup, "subscribe to worker session", err).Error())
	}
	defer sub.Close()

	consecutiveStreamIssues := 0

	for {
		if ctx.Err() != nil {
			e.sm.Transition(StateTerminated)
			outcome := fatalError("cancelled")
			e.publishTerminated(outcome)
			return outcome
		}

		if e.runState.IsAtLimit(e.cfg.MaxIterations) {
			e.sm.Transition(StateTerminated)
			e.publishTerminated(exhaustedIterations())
			return exhaustedIterations()
		}

		iterNum := e.runState.StartIteration()
		e.sampler.Clear()
		e.publish(uievents.Event{Kind: uievents.KindIterationStarted, IterationNumber: iterNum})

		if err := e.sm.Transition(StateStreaming); err != nil {
			e.sm.Transition(StateTerminated)
			return fatalError(apperr.Wrap(apperr.CodeInvariant, "loop state transition", err).Error())
		}

		trigger, streamErr := e.stream(ctx, sub)
		if streamErr != nil {
			e.sm.Transition(StateTerminated)
			outcome := fatalError("cancelled")
			e.publishTerminated(outcome)
			return outcome
		}

		switch trigger {
		case triggerSessionCompleted:
			e.sm.Transition(StateTerminated)
			outcome := completed()
			e.publishTerminated(outcome)
			return outcome
		case triggerStreamClosed:
			consecutiveStreamIssues++
			if consecutiveStreamIssues >= 2 {
				e.sm.Transition(StateTerminated)
				outcome := fatalError(apperr.New(apperr.CodeStreamError, "worker event stream closed twice consecutively").Error())
				e.publishTerminated(outcome)
				return outcome
			}
		default:
			consecutiveStreamIssues = 0
		}

		if err := e.sm.Transition(StateReviewing); err != nil {
			e.sm.Transition(StateTerminated)
			return fatalError(apperr.Wrap(apperr.CodeInvariant, "loop state transition", err).Error())
		}

		sampleSize := e.sampler.LineCount()
		rc := reviewer.ReviewContext{
			Task:              e.cfg.Task,
			Iteration:         iterNum,
			PreviousSummaries: e.runState.PreviousSummaries(e.cfg.PreviousSummaryWindow),
			CurrentSample:     e.sampler.Render(),
		}
		verdict, retries := e.reviewer.ReviewWithRetry(ctx, rc)

		if ctx.Err() != nil {
			e.sm.Transition(StateTerminated)
			outcome := fatalError("cancelled")
			e.publishTerminated(outcome)
			return outcome
		}

		e.runState.RecordDecision(sampleSize, verdict, retries)
		e.publish(uievents.Event{Kind: uievents.KindReviewerDecision, Verdict: verdict, RetryCount: retries})

		if verdict.Action == runstate.ActionAbort {
			e.sm.Transition(StateTerminated)
			outcome := abortedByReviewer(verdict.Reason)
			e.publishTerminated(outcome)
			return outcome
		}
	}
}

// stream consumes events from sub until a review trigger fires. err is
// non-nil only when ctx itself was cancelled, which takes priority over any
// inactivity timeout derived from it.
func (e *Engine) stream(ctx context.Context, sub worker.EventSubscription) (triggerKind, error) {
	sawEvent := false

	for {
		readCtx := ctx
		var cancel context.CancelFunc
		if sawEvent {
			readCtx, cancel = context.WithTimeout(ctx, e.cfg.InactivityTimeout)
		}

		ev, ok, err := sub.Next(readCtx)
		if cancel != nil {
			cancel()
		}

		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if sawEvent && errors.Is(err, context.DeadlineExceeded) {
				return triggerInactivity, nil
			}
			if e.logger != nil {
				e.logger.Warn("loop: worker stream error", zap.Error(err))
			}
			return triggerStreamClosed, nil
		}
		if !ok {
			return triggerStreamClosed, nil
		}

		sawEvent = true

		if _, isCompleted := ev.(worker.SessionCompleted); isCompleted {
			return triggerSessionCompleted, nil
		}

		e.sampler.Ingest(ev)
		if line, ok := uiLine(ev); ok {
			e.publish(uievents.Event{Kind: uievents.KindWorkerOutputLine, Line: line})
		}

		if _, isMessageCompleted := ev.(worker.MessageCompleted); isMessageCompleted {
			return triggerMessageCompleted, nil
		}
	}
}

// uiLine renders a coarse, human-readable line for UI fan-out. Unlike the
// Sampler, it does not split or filter multi-line bodies — the UI wants one
// update per event, not a normalized buffer.
func uiLine(ev worker.Event) (string, bool) {
	switch e := ev.(type) {
	case worker.TextPartAdded:
		return e.Body, e.Body != ""
	case worker.TextPartUpdated:
		return e.Body, e.Body != ""
	case worker.ToolInvocation:
		return "tool: " + e.Name, true
	case worker.ErrorNotice:
		return "error: " + e.Message, true
	default:
		return "", false
	}
}

func (e *Engine) publish(event uievents.Event) {
	if e.uiBus != nil {
		e.uiBus.Publish(event)
	}
}

func (e *Engine) publishTerminated(outcome Outcome) {
	e.publish(uievents.Event{Kind: uievents.KindTerminated, Outcome: string(outcome.Kind), Reason: outcome.Reason})
}
