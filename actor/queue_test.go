package actor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-spectrad/logger"
)

func TestQueue_Order(t *testing.T) {
	require := require.New(t)

	q := NewQueue("order", 4, logger.NewNopMockLogger())

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(q.Submit(Task{Name: "append", Run: func() { got = append(got, i) }}))
	}
	q.Stop()

	require.Len(got, 100)
	for i, v := range got {
		require.Equal(i, v)
	}
	require.EqualValues(100, q.Executed())
	require.Equal(0, q.Len())
}

func TestQueue_NoConcurrentExecution(t *testing.T) {
	q := NewQueue("serial", 8, logger.NewNopMockLogger())

	var (
		running atomic.Int32
		overlap atomic.Bool
		count   atomic.Int32
		wg      sync.WaitGroup
	)

	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				err := q.Submit(Task{Name: "work", Run: func() {
					if running.Add(1) > 1 {
						overlap.Store(true)
					}
					count.Add(1)
					running.Add(-1)
				}})
				assert.NoError(t, err)
			}
		}()
	}

	wg.Wait()
	q.Stop()

	assert.False(t, overlap.Load())
	assert.EqualValues(t, 400, count.Load())
}

func TestQueue_PerProducerOrder(t *testing.T) {
	q := NewQueue("fifo", 2, logger.NewNopMockLogger())

	var (
		mu   sync.Mutex
		seen = map[int][]int{}
		wg   sync.WaitGroup
	)

	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				i := i
				_ = q.Submit(Task{Run: func() {
					mu.Lock()
					seen[p] = append(seen[p], i)
					mu.Unlock()
				}})
			}
		}(p)
	}
	wg.Wait()
	q.Stop()

	for p := 0; p < 4; p++ {
		require.Len(t, seen[p], 25)
		for i, v := range seen[p] {
			assert.Equal(t, i, v, "producer %d", p)
		}
	}
}

func TestQueue_SubmitAfterStop(t *testing.T) {
	q := NewQueue("stopped", 1, logger.NewNopMockLogger())
	q.Stop()

	err := q.Submit(Task{Name: "late", Run: func() {}})
	require.ErrorIs(t, err, ErrStopped)

	// second stop is a no-op
	q.Stop()
}

func TestQueue_NilBody(t *testing.T) {
	q := NewQueue("nil", 1, logger.NewNopMockLogger())
	defer q.Stop()

	require.Error(t, q.Submit(Task{Name: "empty"}))
}

func TestQueue_StopDrainsPending(t *testing.T) {
	q := NewQueue("drain", 16, logger.NewNopMockLogger())

	release := make(chan struct{})
	var ran atomic.Int32

	require.NoError(t, q.Submit(Task{Run: func() { <-release }}))
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Submit(Task{Run: func() { ran.Add(1) }}))
	}

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("stop returned before the queue drained")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-stopped
	assert.EqualValues(t, 10, ran.Load())
}

func TestQueue_PanicRecovery(t *testing.T) {
	require := require.New(t)

	q := NewQueue("panic", 4, logger.NewNopMockLogger())

	recovered := make(chan any, 1)
	require.NoError(q.Submit(Task{
		Name:    "boom",
		Run:     func() { panic("boom") },
		Recover: func(r any) { recovered <- r },
	}))

	var after atomic.Bool
	require.NoError(q.Submit(Task{Name: "after", Run: func() { after.Store(true) }}))
	q.Stop()

	require.Equal("boom", <-recovered)
	require.True(after.Load())
	require.EqualValues(1, q.Panics())
	require.EqualValues(2, q.Executed())
}

func TestQueue_StopTimeout(t *testing.T) {
	q := NewQueue("timeout", 2, logger.NewNopMockLogger())

	release := make(chan struct{})
	require.NoError(t, q.Submit(Task{Run: func() { <-release }}))

	err := q.StopTimeout(20 * time.Millisecond)
	require.ErrorIs(t, err, ErrStopTimeout)

	close(release)
	<-q.Done()
	require.NoError(t, q.StopTimeout(time.Second))
}
