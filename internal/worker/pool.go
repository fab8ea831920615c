package worker

import (
	"sync"
	"time"
)

const defaultWorkerIdle = 30 * time.Second

// pool keeps between min and max workers alive. Idle workers sit on a stack:
// the most recently used one is handed out first, so the bottom ages out.
type pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	idle    []*Worker
	min     int
	max     int
	size    int
	nextID  int
	idleTTL time.Duration
	closed  bool
	quit    chan struct{}
}

func newPool(minWorkers, maxWorkers int, idleTTL time.Duration) *pool {
	if idleTTL <= 0 {
		idleTTL = defaultWorkerIdle
	}
	if minWorkers < 0 {
		minWorkers = 0
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	p := &pool{
		min:     minWorkers,
		max:     maxWorkers,
		idleTTL: idleTTL,
		quit:    make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.reapLoop()
	return p
}

// spawnLocked registers a new worker. The caller starts it.
func (p *pool) spawnLocked() *Worker {
	p.nextID++
	p.size++
	return newWorker(p.nextID)
}

// warm starts up to n idle workers.
func (p *pool) warm(n int) {
	for i := 0; i < n; i++ {
		p.mu.Lock()
		if p.closed || p.size >= p.max {
			p.mu.Unlock()
			return
		}
		w := p.spawnLocked()
		w.lastUsed = time.Now()
		p.idle = append(p.idle, w)
		p.mu.Unlock()
		w.start(p)
	}
}

// get returns an idle worker or spawns one, blocking while the pool is full.
// It returns nil once the pool is closed.
func (p *pool) get() *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed {
			return nil
		}
		if n := len(p.idle); n > 0 {
			w := p.idle[n-1]
			p.idle = p.idle[:n-1]
			return w
		}
		if p.size < p.max {
			w := p.spawnLocked()
			w.start(p)
			return w
		}
		p.cond.Wait()
	}
}

// put returns w to the idle stack. It reports false when w should exit.
func (p *pool) put(w *Worker) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	w.lastUsed = time.Now()
	p.idle = append(p.idle, w)
	p.mu.Unlock()
	p.cond.Signal()
	return true
}

// remove forgets an exiting worker.
func (p *pool) remove(w *Worker) {
	p.mu.Lock()
	if p.size > 0 {
		p.size--
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *pool) reapLoop() {
	ticker := time.NewTicker(p.idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-p.quit:
			return
		case now := <-ticker.C:
			p.reap(now)
		}
	}
}

// reap stops idle workers unused for idleTTL, never going below min.
func (p *pool) reap(now time.Time) {
	p.mu.Lock()
	n := 0
	for n < len(p.idle) && p.size-n > p.min && now.Sub(p.idle[n].lastUsed) >= p.idleTTL {
		n++
	}
	stale := make([]*Worker, n)
	copy(stale, p.idle[:n])
	p.idle = append(p.idle[:0], p.idle[n:]...)
	p.mu.Unlock()

	for _, w := range stale {
		debugLog("[pool] retire idle worker-%d", w.id)
		w.jobs <- Job{Type: Stop}
	}
}

// close stops idle workers; busy ones exit after their current job.
func (p *pool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	close(p.quit)
	p.cond.Broadcast()

	for _, w := range idle {
		w.jobs <- Job{Type: Stop}
	}
}

func (p *pool) stats() (running, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size, len(p.idle)
}
