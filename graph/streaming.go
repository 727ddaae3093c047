package graph

import (
	"context"
	"slices"
)

const defaultStreamBuffer = 64

// StreamConfig configures an event stream.
type StreamConfig struct {
	// BufferSize bounds the events held for the consumer. The execution
	// blocks while the buffer is full; no event is dropped.
	BufferSize int
	// Types restricts the stream to these event types. Empty means all.
	Types []EventType
}

// DefaultStreamConfig returns a 64-event buffer with every event type.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{BufferSize: defaultStreamBuffer}
}

// StreamingExecutor runs executions whose events are consumed by pulling.
type StreamingExecutor struct {
	exec   *Executor
	config StreamConfig
}

// NewStreamingExecutor wraps exec. A bufferSize <= 0 uses 64.
func NewStreamingExecutor(exec *Executor, bufferSize int) *StreamingExecutor {
	cfg := DefaultStreamConfig()
	if bufferSize > 0 {
		cfg.BufferSize = bufferSize
	}
	return NewStreamingExecutorWithConfig(exec, cfg)
}

// NewStreamingExecutorWithConfig wraps exec with cfg.
func NewStreamingExecutorWithConfig(exec *Executor, cfg StreamConfig) *StreamingExecutor {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultStreamBuffer
	}
	return &StreamingExecutor{exec: exec, config: cfg}
}

// Stream starts an execution on initial and returns its event stream.
func (s *StreamingExecutor) Stream(ctx context.Context, initial map[string]any, opts ...RunOption) *EventStream {
	return s.StreamState(ctx, NewState(initial), opts...)
}

// StreamState starts an execution on state.
func (s *StreamingExecutor) StreamState(ctx context.Context, state *State, opts ...RunOption) *EventStream {
	return s.start(ctx, func(ctx context.Context, opts []RunOption) (*Result, error) {
		return s.exec.ExecuteState(ctx, state, opts...)
	}, opts)
}

// StreamResume resumes a checkpoint and streams the continued execution.
func (s *StreamingExecutor) StreamResume(ctx context.Context, checkpointID string, opts ...RunOption) *EventStream {
	return s.start(ctx, func(ctx context.Context, opts []RunOption) (*Result, error) {
		return s.exec.Resume(ctx, checkpointID, opts...)
	}, opts)
}

type runFunc func(ctx context.Context, opts []RunOption) (*Result, error)

func (s *StreamingExecutor) start(ctx context.Context, run runFunc, opts []RunOption) *EventStream {
	streamCtx, cancel := context.WithCancel(ctx)
	es := &EventStream{
		events: make(chan Event, s.config.BufferSize),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	types := slices.Clone(s.config.Types)
	push := ListenerFunc(func(_ context.Context, ev Event) {
		if len(types) > 0 && !slices.Contains(types, ev.Type) {
			return
		}
		select {
		case es.events <- ev:
		case <-streamCtx.Done():
		}
	})

	go func() {
		defer close(es.done)
		res, err := run(streamCtx, append(slices.Clone(opts), WithRunListener(push)))
		es.result, es.err = res, err
		close(es.events)
	}()
	return es
}

// EventStream is the consumer side of a streaming execution. Events
// arrive in emission order.
type EventStream struct {
	events chan Event
	done   chan struct{}
	cancel context.CancelFunc
	result *Result
	err    error
}

// Next blocks for the next event. It returns false once the stream is
// exhausted or ctx is done.
func (es *EventStream) Next(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-es.events:
		return ev, ok
	case <-ctx.Done():
		return Event{}, false
	}
}

// Events returns the channel of events; it is closed when the execution ends.
func (es *EventStream) Events() <-chan Event { return es.events }

// Wait discards unread events and returns the execution result.
func (es *EventStream) Wait() (*Result, error) {
	for range es.events {
	}
	<-es.done
	return es.result, es.err
}

// Close cancels the execution and waits for it to stop.
func (es *EventStream) Close() {
	es.cancel()
	_, _ = es.Wait()
}
