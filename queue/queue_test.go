package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueue_RunsInOrder(t *testing.T) {
	q := New(nil)
	defer q.Close()

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		i := i
		q.Enqueue(func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueue_PanicDoesNotHaltChain(t *testing.T) {
	q := New(nil)
	defer q.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	var secondRan bool

	q.Enqueue(func() {
		defer wg.Done()
		panic("boom")
	})
	q.Enqueue(func() {
		defer wg.Done()
		secondRan = true
	})

	wg.Wait()
	assert.True(t, secondRan)
}

func TestQueue_CloseWaitsForDrain(t *testing.T) {
	q := New(nil)

	var ran bool
	q.Enqueue(func() {
		time.Sleep(10 * time.Millisecond)
		ran = true
	})

	q.Close()
	assert.True(t, ran)
}

func TestQueue_EnqueueAfterCloseIsNoop(t *testing.T) {
	q := New(nil)
	q.Close()

	assert.NotPanics(t, func() {
		q.Enqueue(func() { t.Fatal("should not run") })
	})
}
