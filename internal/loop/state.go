package loop

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// State is one of the loop engine's discrete states (spec: Starting →
// Streaming → Reviewing → {Streaming, Terminated}).
type State string

const (
	StateStarting   State = "starting"
	StateStreaming  State = "streaming"
	StateReviewing  State = "reviewing"
	StateTerminated State = "terminated"
)

var validTransitions = map[State]map[State]bool{
	StateStarting: {
		StateStreaming: true,
		StateTerminated: true, // fatal setup failure
	},
	StateStreaming: {
		StateReviewing:  true,
		StateTerminated: true, // session completed, stream error, cancellation
	},
	StateReviewing: {
		StateStreaming:  true,
		StateTerminated: true,
	},
	StateTerminated: {},
}

// stateMachine is a small, thread-safe transition guard, adapted from the
// teacher's per-agent-run state machine. It exists to make illegal
// transitions (e.g. Reviewing directly to Reviewing) fail loudly rather
// than silently, and to notify observers of each change.
type stateMachine struct {
	mu        sync.RWMutex
	state     State
	logger    *zap.Logger
	listeners []func(from, to State)
}

func newStateMachine(logger *zap.Logger) *stateMachine {
	return &stateMachine{state: StateStarting, logger: logger}
}

func (sm *stateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

func (sm *stateMachine) Transition(to State) error {
	sm.mu.Lock()
	from := sm.state
	allowed, ok := validTransitions[from]
	if !ok || !allowed[to] {
		sm.mu.Unlock()
		err := fmt.Errorf("invalid loop state transition: %s -> %s", from, to)
		if sm.logger != nil {
			sm.logger.Error("loop state machine violation", zap.Error(err))
		}
		return err
	}
	sm.state = to
	listeners := make([]func(from, to State), len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	if sm.logger != nil {
		sm.logger.Debug("loop state transition", zap.String("from", string(from)), zap.String("to", string(to)))
	}
	for _, fn := range listeners {
		fn(from, to)
	}
	return nil
}

func (sm *stateMachine) OnTransition(fn func(from, to State)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, fn)
}
