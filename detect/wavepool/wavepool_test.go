package wavepool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunWaveZeroThreadsRunsOnePerTask(t *testing.T) {
	p := New(0)
	var concurrent int32
	var maxConcurrent int32

	tasks := make([]Task, 10)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			n := atomic.AddInt32(&concurrent, 1)
			for {
				old := atomic.LoadInt32(&maxConcurrent)
				if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
					break
				}
			}
			atomic.AddInt32(&concurrent, -1)
			return nil
		}
	}

	errs := p.RunWave(context.Background(), tasks)
	assert.Len(t, errs, 10)
	assert.True(t, maxConcurrent >= 1)
}

func TestRunWaveBoundedThreadsCapsBatchSize(t *testing.T) {
	p := New(2)
	tasks := make([]Task, 5)
	var completed int32
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			atomic.AddInt32(&completed, 1)
			return nil
		}
	}

	errs := p.RunWave(context.Background(), tasks)
	assert.Len(t, errs, 5)
	assert.EqualValues(t, 5, atomic.LoadInt32(&completed))
}

func TestRunWaveCollectsPerTaskErrors(t *testing.T) {
	p := New(0)
	boom := errors.New("boom")
	tasks := []Task{
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error { return nil },
	}

	errs := p.RunWave(context.Background(), tasks)
	require := assert.New(t)
	require.NoError(errs[0])
	require.ErrorIs(errs[1], boom)
	require.NoError(errs[2])
}

func TestRunWaveEmptyTasksReturnsEmpty(t *testing.T) {
	p := New(4)
	errs := p.RunWave(context.Background(), nil)
	assert.Empty(t, errs)
}
