package queue

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type connItem struct {
	ID string
}

func TestLockFreeQueue(t *testing.T) {
	assert := assert.New(t)
	t.Run("Empty Queue", func(t *testing.T) {
		q := NewLockFreeQueue[*connItem]()

		assert.True(q.IsEmpty())
		assert.Equal(0, q.Length())
		item, ok := q.Dequeue()
		assert.False(ok)
		assert.Nil(item)
	})

	t.Run("FIFO order", func(t *testing.T) {
		q := NewLockFreeQueue[*connItem]()

		item1 := &connItem{"conn1"}
		item2 := &connItem{"conn2"}
		q.Enqueue(item1)
		q.Enqueue(item2)
		assert.Equal(2, q.Length())

		got, ok := q.Dequeue()
		assert.True(ok)
		assert.Same(item1, got)

		got, ok = q.Dequeue()
		assert.True(ok)
		assert.Same(item2, got)

		_, ok = q.Dequeue()
		assert.False(ok)
		assert.True(q.IsEmpty())
	})

	t.Run("Concurrency", func(t *testing.T) {
		q := NewLockFreeQueue[*connItem]()

		var wg sync.WaitGroup
		for i := 0; i < 1000; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				q.Enqueue(&connItem{strconv.Itoa(i)})
			}(i)
		}
		wg.Wait()

		assert.Equal(1000, q.Length())

		var mu sync.Mutex
		seen := make(map[string]struct{}, 1000)
		wg.Add(1000)
		for i := 0; i < 1000; i++ {
			go func() {
				defer wg.Done()
				item, ok := q.Dequeue()
				if !ok {
					return
				}
				mu.Lock()
				seen[item.ID] = struct{}{}
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.True(q.IsEmpty())
		assert.Len(seen, 1000)
	})
}

func BenchmarkLockFreeQueue(b *testing.B) {
	q := NewLockFreeQueue[int]()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Enqueue(i)
		_, _ = q.Dequeue()
	}
}
