// Package wavepool implements the bounded wave-based worker scheduler used
// by the detection orchestrator: fork up to `threads` workers, wait for the
// whole wave, then fork the next. Built on the same
// pool.New().WithMaxGoroutines(n).WithContext(ctx) pattern used for
// level-by-level BFS traversal, where one tree level is dispatched as a
// single conc pool and joined before the next level starts.
package wavepool

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// Task is one unit of work dispatched into a wave.
type Task func(ctx context.Context) error

// Pool runs tasks in bounded waves. Threads caps the number of concurrent
// workers per wave; Threads <= 0 means "one worker per task".
type Pool struct {
	Threads int
}

// New constructs a Pool with the given worker cap.
func New(threads int) *Pool {
	return &Pool{Threads: threads}
}

func (p *Pool) waveSize(taskCount int) int {
	if p.Threads <= 0 {
		return taskCount
	}
	return p.Threads
}

// RunWave dispatches tasks in batches of the pool's wave size, joining
// after each batch before starting the next. There is no cross-wave work
// stealing.
// Returns one error per task, in task order; a single cancelled context
// aborts remaining waves early.
func (p *Pool) RunWave(ctx context.Context, tasks []Task) []error {
	results := make([]error, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	waveSize := p.waveSize(len(tasks))
	if waveSize <= 0 {
		waveSize = 1
	}

	for start := 0; start < len(tasks); start += waveSize {
		end := start + waveSize
		if end > len(tasks) {
			end = len(tasks)
		}

		wavePool := pool.New().WithMaxGoroutines(end - start).WithContext(ctx)
		for i := start; i < end; i++ {
			idx := i
			task := tasks[idx]
			wavePool.Go(func(waveCtx context.Context) error {
				results[idx] = task(waveCtx)
				return nil
			})
		}
		if err := wavePool.Wait(); err != nil {
			return results
		}

		select {
		case <-ctx.Done():
			return results
		default:
		}
	}

	return results
}
