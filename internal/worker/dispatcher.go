package worker

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DispatcherConfig sizes the worker pool and its intake queue.
type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

type keyQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher runs tasks on a bounded, elastic worker pool. Pending work is
// served round-robin across keys so one busy client cannot starve the rest.
type Dispatcher struct {
	pool     *pool
	jobQueue chan Job

	mu     sync.Mutex
	queues map[string]*keyQueue // pending jobs for each key
	ready  *list.List           // round-robin queue of keys

	quit      chan struct{}
	closeOnce sync.Once
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		pool:     newPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout),
		jobQueue: make(chan Job, queueSize),
		queues:   make(map[string]*keyQueue),
		ready:    list.New(),
		quit:     make(chan struct{}),
	}

	d.pool.warm(cfg.MinWorkers)
	go d.run()
	return d
}

// Submit queues fn under key and waits for it to finish. When ctx ends first, a
// task that has not started is dropped; a running task is waited for so it can
// release what it holds. A full queue fails fast with ErrDispatcherBusy.
func (d *Dispatcher) Submit(ctx context.Context, key string, fn Task) error {
	task := &pendingTask{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case <-d.quit:
		return ErrDispatcherClosed
	default:
	}
	select {
	case d.jobQueue <- Job{Type: Run, Key: key, task: task}:
	default:
		return ErrDispatcherBusy
	}
	select {
	case err := <-task.done:
		return err
	case <-ctx.Done():
	case <-d.quit:
		if task.abandon() {
			return ErrDispatcherClosed
		}
	}
	if task.abandon() {
		return ctx.Err()
	}
	// the task is running and holds resources owned by the caller; wait for it
	err := <-task.done
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Close stops the dispatcher. Running tasks finish; queued ones are dropped.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.quit)
		d.pool.close()
	})
}

// Stats reports running and idle worker counts.
func (d *Dispatcher) Stats() (running, idle int) {
	return d.pool.stats()
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the key in the front of the queue
		if !d.dispatchOne() {
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
			continue
		}
		select {
		case <-d.quit:
			return
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.ready.PushBack(job.Key)
}

// dispatchOne hands the next job of the front key to a worker
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.queues, key)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	w := d.pool.get()
	if w == nil {
		job.task.done <- ErrDispatcherClosed
		return false
	}
	debugLog("[dispatcher] assign job for %q to worker-%d", key, w.id)
	w.jobs <- job
	return true
}
