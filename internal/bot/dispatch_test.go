package bot

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherPreservesEnqueueOrder(t *testing.T) {
	d := newDispatcher()

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup

	const n = 100
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		d.enqueue(1, func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	want := make([]int, n)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)
}

// A message whose attachment download is slow must still be handled
// before the quick text message that arrived right after it.
func TestDispatcherSlowTaskKeepsItsTurn(t *testing.T) {
	d := newDispatcher()

	var mu sync.Mutex
	var got []string
	var wg sync.WaitGroup
	wg.Add(2)

	d.enqueue(1, func() {
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		got = append(got, "attachment")
		mu.Unlock()
		wg.Done()
	})
	d.enqueue(1, func() {
		mu.Lock()
		got = append(got, "text")
		mu.Unlock()
		wg.Done()
	})
	wg.Wait()

	assert.Equal(t, []string{"attachment", "text"}, got)
}

func TestDispatcherChannelsDrainIndependently(t *testing.T) {
	d := newDispatcher()

	release := make(chan struct{})
	blockedDone := make(chan struct{})
	otherDone := make(chan struct{})

	d.enqueue(1, func() {
		<-release
		close(blockedDone)
	})
	d.enqueue(2, func() { close(otherDone) })

	select {
	case <-otherDone:
	case <-time.After(time.Second):
		t.Fatal("channel 2 blocked behind channel 1")
	}

	close(release)
	<-blockedDone
}

// The drain goroutine exits when its queue empties; a later message
// must start a fresh one, still in order.
func TestDispatcherRestartsAfterIdle(t *testing.T) {
	d := newDispatcher()

	var mu sync.Mutex
	var got []string

	first := make(chan struct{})
	d.enqueue(1, func() {
		mu.Lock()
		got = append(got, "first")
		mu.Unlock()
		close(first)
	})
	<-first

	second := make(chan struct{})
	d.enqueue(1, func() {
		mu.Lock()
		got = append(got, "second")
		mu.Unlock()
		close(second)
	})
	<-second

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, got)
}
