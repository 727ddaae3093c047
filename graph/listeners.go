package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/smallnest/graphrun/log"
)

// EventType identifies a lifecycle event of an execution.
type EventType string

const (
	EventExecutionStarted   EventType = "execution_started"
	EventNodeStarted        EventType = "node_started"
	EventNodeCompleted      EventType = "node_completed"
	EventNodeFailed         EventType = "node_failed"
	EventExecutionCompleted EventType = "execution_completed"
)

// Event is delivered to listeners in emission order. Sequence is strictly
// increasing within one execution.
type Event struct {
	Sequence    int64
	Type        EventType
	ExecutionID string
	NodeID      string
	Timestamp   time.Time
	// Duration is set on node completion and failure and on execution completion.
	Duration time.Duration
	// State is a snapshot taken when the event was emitted.
	State *State
	Err   error
	// Status is the final status on EventExecutionCompleted.
	Status Status
	// Attempt is the failed attempt number on EventNodeFailed.
	Attempt int
	// Recovery names the action taken after a node failure, if any.
	Recovery string
}

// RecoveryAborted is the Recovery of a failure event for a started node
// whose result was dropped.
const RecoveryAborted = "aborted"

func (e Event) String() string {
	if e.NodeID == "" {
		return string(e.Type)
	}
	return fmt.Sprintf("%s(%s)", e.Type, e.NodeID)
}

// Listener receives execution events. OnEvent runs on the executor's
// goroutine; a slow listener slows the execution.
type Listener interface {
	OnEvent(ctx context.Context, event Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, event Event)

func (f ListenerFunc) OnEvent(ctx context.Context, event Event) { f(ctx, event) }

// emitter numbers events and fans them out to listeners.
type emitter struct {
	executionID string
	listeners   []Listener
	logger      log.Logger
	seq         int64
}

func (em *emitter) emit(ctx context.Context, ev Event) {
	em.seq++
	ev.Sequence = em.seq
	ev.ExecutionID = em.executionID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	for _, l := range em.listeners {
		em.deliver(ctx, l, ev)
	}
}

func (em *emitter) deliver(ctx context.Context, l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			em.logger.Error("listener panic on %s: %v", ev, r)
		}
	}()
	l.OnEvent(ctx, ev)
}
