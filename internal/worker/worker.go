package worker

import (
	"log"
	"os"
	"strings"
	"time"
)

var debugEnabled = strings.EqualFold(os.Getenv("DEEPGUARD_WORKER_DEBUG"), "1")

func debugLog(format string, args ...interface{}) {
	if debugEnabled {
		log.Printf(format, args...)
	}
}

// Worker runs jobs one at a time on its own goroutine.
type Worker struct {
	id       int
	jobs     chan Job
	lastUsed time.Time // guarded by the pool mutex
}

func newWorker(id int) *Worker {
	return &Worker{id: id, jobs: make(chan Job)}
}

func (w *Worker) start(p *pool) {
	go w.loop(p)
}

func (w *Worker) loop(p *pool) {
	for job := range w.jobs {
		if job.Type == Stop {
			debugLog("[worker-%d] stop", w.id)
			p.remove(w)
			return
		}
		job.task.run()
		if !p.put(w) {
			debugLog("[worker-%d] exit after close", w.id)
			p.remove(w)
			return
		}
	}
}
