package encodepool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInlineWhenNoWorkers(t *testing.T) {
	p := New[int](0)
	defer p.Close()

	jobs := []func() int{
		func() int { return 1 },
		func() int { return 2 },
		func() int { return 3 },
	}
	out, err := p.Run(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, out)
}

func TestRunDispatchesAcrossWorkers(t *testing.T) {
	p := New[int](4)
	defer p.Close()

	jobs := make([]func() int, 50)
	for i := range jobs {
		i := i
		jobs[i] = func() int { return i * i }
	}
	out, err := p.Run(context.Background(), jobs)
	require.NoError(t, err)
	for i, v := range out {
		assert.Equal(t, i*i, v)
	}
}

func TestRunCanBeCalledRepeatedlyOnSamePool(t *testing.T) {
	p := New[int](2)
	defer p.Close()

	for batch := 0; batch < 5; batch++ {
		jobs := []func() int{
			func() int { return batch },
			func() int { return batch + 1 },
		}
		out, err := p.Run(context.Background(), jobs)
		require.NoError(t, err)
		assert.Equal(t, []int{batch, batch + 1}, out)
	}
}

func TestRunPropagatesCancellation(t *testing.T) {
	p := New[int](1)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var started atomic.Bool
	jobs := []func() int{
		func() int {
			started.Store(true)
			time.Sleep(50 * time.Millisecond)
			return 1
		},
		func() int { return 2 },
	}
	go func() {
		for !started.Load() {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	_, err := p.Run(ctx, jobs)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunWithNoJobsReturnsImmediately(t *testing.T) {
	p := New[int](2)
	defer p.Close()
	out, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}
