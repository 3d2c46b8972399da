package sandbox

import (
	"container/heap"
	"sync"
	"time"
)

// timerJob is one entry in the host-side event loop's pending-callback
// queue. Every async primitive guestlib exposes (timers, fs callbacks/
// promises, net/http I/O) resolves through scheduleTimer rather than a
// real OS thread, keeping every guest-visible callback on the single
// goroutine that owns the goja Runtime (spec §5's single-threaded
// cooperative guest model).
type timerJob struct {
	fireAt   time.Time
	interval time.Duration
	repeat   bool
	fn       func()
	canceled bool
	index    int
}

type timerQueue struct {
	mu    sync.Mutex
	heap  jobHeap
	added chan struct{}
}

func newTimerQueue() *timerQueue {
	return &timerQueue{added: make(chan struct{}, 1)}
}

// Schedule enqueues fn to fire after delay (and, if repeat, every delay
// thereafter) and returns a cancel func safe to call from any goroutine,
// any number of times.
func (q *timerQueue) Schedule(delay time.Duration, repeat bool, fn func()) (cancel func()) {
	job := &timerJob{fireAt: time.Now().Add(delay), interval: delay, repeat: repeat, fn: fn}
	q.mu.Lock()
	heap.Push(&q.heap, job)
	q.mu.Unlock()
	select {
	case q.added <- struct{}{}:
	default:
	}
	return func() {
		q.mu.Lock()
		job.canceled = true
		q.mu.Unlock()
	}
}

// popDue removes and returns the earliest job that has reached its fire
// time, or nil if the earliest job still lies in the future (in which case
// wait reports how long until it is due). If the queue is empty, job is
// nil, wait is zero and empty is true.
func (q *timerQueue) popDue(now time.Time) (job *timerJob, wait time.Duration, empty bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.heap.Len() > 0 {
		next := q.heap[0]
		if next.canceled {
			heap.Pop(&q.heap)
			continue
		}
		if !next.fireAt.After(now) {
			heap.Pop(&q.heap)
			if next.repeat {
				next.fireAt = now.Add(next.interval)
				heap.Push(&q.heap, next)
			}
			return next, 0, false
		}
		return nil, next.fireAt.Sub(now), false
	}
	return nil, 0, true
}

type jobHeap []*timerJob

func (h jobHeap) Len() int            { return len(h) }
func (h jobHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(*timerJob)) }
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// hostBridge implements guestlib.Bridge for one invocation.
type hostBridge struct {
	root     string
	deadline time.Time
	env      map[string]string
	queue    *timerQueue
	console  func(level, message string)
}

func (b *hostBridge) Root() string         { return b.root }
func (b *hostBridge) Deadline() time.Time  { return b.deadline }
func (b *hostBridge) EnvVars() map[string]string { return b.env }

func (b *hostBridge) ScheduleTimer(delay time.Duration, repeat bool, fn func()) func() {
	return b.queue.Schedule(delay, repeat, fn)
}

func (b *hostBridge) Console(level, message string) {
	b.console(level, message)
}
