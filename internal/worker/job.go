package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrDispatcherBusy is returned when the job queue is full.
	ErrDispatcherBusy = errors.New("dispatcher busy")
	// ErrDispatcherClosed is returned after Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

type JobType string

const (
	Run  JobType = "run"
	Stop JobType = "stop"
)

// Task is the unit of work a worker executes.
type Task func(ctx context.Context) error

type Job struct {
	Type JobType
	Key  string // fairness key, e.g. client address
	task *pendingTask
}

const (
	taskQueued int32 = iota
	taskRunning
	taskAbandoned
)

type pendingTask struct {
	ctx   context.Context
	fn    Task
	done  chan error
	state atomic.Int32
}

// abandon marks a task that has not started yet so no worker runs it.
// It reports false once a worker has picked the task up.
func (t *pendingTask) abandon() bool {
	return t.state.CompareAndSwap(taskQueued, taskAbandoned)
}

func (t *pendingTask) run() {
	if !t.state.CompareAndSwap(taskQueued, taskRunning) {
		t.done <- t.ctx.Err()
		return
	}
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
		t.done <- err
	}()
	if err = t.ctx.Err(); err != nil {
		return
	}
	err = t.fn(t.ctx)
}
