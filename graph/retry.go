package graph

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RecoveryAction is what the executor does when a node fails.
type RecoveryAction int

const (
	// Propagate fails the execution.
	Propagate RecoveryAction = iota
	// Retry reruns the node with backoff.
	Retry
	// Skip drops the node's writes and continues routing from it.
	Skip
	// Fallback runs FallbackNode in place of the failed node.
	Fallback
)

func (a RecoveryAction) String() string {
	switch a {
	case Propagate:
		return "propagate"
	case Retry:
		return "retry"
	case Skip:
		return "skip"
	case Fallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// RecoveryPolicy configures failure handling for a node or an error type.
type RecoveryPolicy struct {
	Action RecoveryAction

	// Retry settings. MaxAttempts counts the first attempt.
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter is the +/- fraction applied to each delay, e.g. 0.25.
	Jitter float64
	// Retryable limits which errors are retried. Nil retries everything.
	Retryable func(error) bool
	// OnExhausted applies once retries run out: Skip, Fallback or Propagate.
	OnExhausted RecoveryAction

	// FallbackNode runs instead of the failed node for Fallback.
	FallbackNode string
}

// RetryPolicy retries up to maxAttempts with exponential backoff from initialDelay.
func RetryPolicy(maxAttempts int, initialDelay time.Duration) RecoveryPolicy {
	return RecoveryPolicy{
		Action:        Retry,
		MaxAttempts:   maxAttempts,
		InitialDelay:  initialDelay,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// SkipPolicy skips the failed node.
func SkipPolicy() RecoveryPolicy { return RecoveryPolicy{Action: Skip} }

// FallbackPolicy substitutes node for the failed one.
func FallbackPolicy(node string) RecoveryPolicy {
	return RecoveryPolicy{Action: Fallback, FallbackNode: node}
}

// PropagatePolicy fails the execution.
func PropagatePolicy() RecoveryPolicy { return RecoveryPolicy{Action: Propagate} }

func (p RecoveryPolicy) attempts() int {
	if p.Action != Retry || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RecoveryPolicy) retryable(err error) bool {
	return p.Retryable == nil || p.Retryable(err)
}

// backoff returns the delay before attempt+1, attempt starting at 1.
func (p RecoveryPolicy) backoff(attempt int) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(factor, float64(attempt-1)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 {
		//nolint:gosec // jitter does not need a secure source
		delay += time.Duration(float64(delay) * p.Jitter * (2*rand.Float64() - 1))
	}
	return max(delay, 0)
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// policyFor returns the node policy, then the error type policy, then Propagate.
func (c *ExecutorConfig) policyFor(nodeID string, typ ErrorType) RecoveryPolicy {
	if p, ok := c.NodePolicies[nodeID]; ok {
		return p
	}
	if p, ok := c.TypePolicies[typ]; ok {
		return p
	}
	return PropagatePolicy()
}
