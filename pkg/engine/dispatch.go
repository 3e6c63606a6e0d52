package engine

import "sync"

// taskQueue runs functions one at a time, in push order, on its own
// goroutine. Pushing never blocks, so the transport's delivery loop can hand
// work off and go back to reading responses.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool

	wake    chan struct{}
	stopped chan struct{}
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

// push queues task. It reports false once the queue is closed.
func (q *taskQueue) push(task func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	q.signal()
	return true
}

// close stops accepting tasks. With drain the queued tasks still run,
// otherwise they are discarded. A task already running is not interrupted.
func (q *taskQueue) close(drain bool) {
	q.mu.Lock()
	q.closed = true
	if !drain {
		q.tasks = nil
	}
	q.mu.Unlock()

	q.signal()
}

// wait blocks until the queue goroutine has exited. It must not be called
// from a task of the same queue.
func (q *taskQueue) wait() {
	<-q.stopped
}

func (q *taskQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *taskQueue) run() {
	defer close(q.stopped)

	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		task()
	}
}
