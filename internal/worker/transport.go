package worker

import "context"

// Transport is the opaque worker collaborator the loop engine depends on.
// Spawning, health-checking, and terminating the worker subprocess, and
// discovering its base URL, are out of scope here — a Transport is handed
// an already-running worker to talk to.
type Transport interface {
	// CreateSession starts a new worker session for the given task,
	// returning the session id used for subsequent calls. Called once per
	// run.
	CreateSession(ctx context.Context, task string) (SessionID, error)

	// Subscribe opens an event subscription for the session. The returned
	// EventSubscription yields events in arrival order until the stream
	// closes or the context is cancelled.
	Subscribe(ctx context.Context, id SessionID) (EventSubscription, error)

	// SendMessage delivers feedback text to the worker mid-session.
	// RESERVED for future steering; the core never calls this today.
	SendMessage(ctx context.Context, id SessionID, text string) error
}

// EventSubscription is a live stream of worker events. Next blocks until an
// event arrives, the context is cancelled, or the stream ends.
type EventSubscription interface {
	// Next returns the next event. ok is false once the stream has closed
	// cleanly (end-of-stream); err is non-nil on a transport failure or on
	// ctx's own cancellation/deadline, which callers distinguish from a
	// transport failure by inspecting ctx.Err().
	Next(ctx context.Context) (ev Event, ok bool, err error)

	// Close releases the subscription's resources.
	Close() error
}
