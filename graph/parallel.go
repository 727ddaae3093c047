package graph

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type attemptFailure struct {
	attempt int
	typ     ErrorType
	err     error
}

// waveResult is one node's outcome within a wave, kept at its frontier index.
type waveResult struct {
	nodeID   string
	out      nodeOutput
	attempts int
	duration time.Duration
	failures []attemptFailure
	// err is an unrecovered failure.
	err error
	// recovered is the failure handled by skip or fallback.
	recovered error
	skipped   bool
	// fallback names the node whose output replaced the failed one.
	fallback string
}

// runWave runs tasks with at most limit goroutines and returns results in
// task order regardless of completion order.
func runWave(ctx context.Context, limit int, tasks []func(context.Context) waveResult) []waveResult {
	results := make([]waveResult, len(tasks))
	if limit <= 1 || len(tasks) == 1 {
		for i, task := range tasks {
			results[i] = task(ctx)
		}
		return results
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, fn func(context.Context) waveResult) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					results[idx] = waveResult{err: fmt.Errorf("panic in parallel task %d: %v", idx, r)}
				}
			}()
			results[idx] = fn(ctx)
		}(i, task)
	}
	wg.Wait()
	return results
}
