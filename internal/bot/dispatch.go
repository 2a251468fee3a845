package bot

import "sync"

// dispatcher runs queued tasks for one channel strictly in enqueue
// order, so conversation turns are appended in arrival order even when
// an earlier message is still downloading attachments. Distinct
// channels drain in parallel.
type dispatcher struct {
	mu     sync.Mutex
	queues map[int64][]func()
}

func newDispatcher() *dispatcher {
	return &dispatcher{queues: make(map[int64][]func())}
}

// enqueue appends the task to the channel's queue and starts a drain
// goroutine if the channel doesn't have one. A queue entry exists in
// the map exactly as long as its drain goroutine is alive.
func (d *dispatcher) enqueue(channelID int64, task func()) {
	d.mu.Lock()
	queue, running := d.queues[channelID]
	d.queues[channelID] = append(queue, task)
	d.mu.Unlock()

	if !running {
		go d.drain(channelID)
	}
}

func (d *dispatcher) drain(channelID int64) {
	for {
		d.mu.Lock()
		queue := d.queues[channelID]
		if len(queue) == 0 {
			delete(d.queues, channelID)
			d.mu.Unlock()
			return
		}
		task := queue[0]
		d.queues[channelID] = queue[1:]
		d.mu.Unlock()

		task()
	}
}
