// Package scheduler runs submitted tasks on a fixed pool of workers in
// ascending priority order. The aggregation server uses each request's
// Lamport timestamp as its priority, so among tasks waiting at any instant
// the one with the lowest timestamp runs first. Ties run in submission
// order. Admission is unbounded.
package scheduler

import (
	"container/heap"
	"errors"
	"log"
	"sync"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("scheduler closed")

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 4

type task struct {
	run      func()
	priority uint64
	seq      uint64
}

// taskHeap is a min-heap on (priority, seq).
type taskHeap []task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = task{}
	*h = old[:n-1]
	return t
}

// Pool is a priority-ordered worker pool.
// Thread-safe: Submit may be called from any goroutine.
type Pool struct {
	tasks  taskHeap
	notify chan struct{} // wakes one idle worker
	done   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	seq    uint64
	closed bool
}

// New starts a pool of workers. A non-positive count selects
// DefaultWorkers.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	p := &Pool{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues fn to run with the given priority. Lower values run first.
func (p *Pool) Submit(priority uint64, fn func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.seq++
	heap.Push(&p.tasks, task{run: fn, priority: priority, seq: p.seq})
	p.mu.Unlock()

	p.wake()
	return nil
}

// Pending returns the number of queued tasks not yet started.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// Close stops accepting tasks, drops the ones still queued and waits for
// running tasks to return.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.tasks = nil
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()
}

func (p *Pool) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Pool) next() (task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.tasks) == 0 {
		return task{}, false
	}
	t := heap.Pop(&p.tasks).(task)
	if len(p.tasks) > 0 {
		// more work queued: hand the wakeup on to another idle worker
		p.wake()
	}
	return t, true
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		t, ok := p.next()
		if !ok {
			select {
			case <-p.notify:
				continue
			case <-p.done:
				return
			}
		}
		p.run(t)
	}
}

func (p *Pool) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduler: task with priority %d panicked: %v", t.priority, r)
		}
	}()
	t.run()
}
