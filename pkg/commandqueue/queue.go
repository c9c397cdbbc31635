// Package commandqueue serializes tasks into named lanes. The agent runtime
// gives every session its own lane with concurrency 1, so two chat turns
// against the same session can never interleave.
package commandqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Task is an asynchronous operation executed on a lane.
type Task func(ctx context.Context) (interface{}, error)

type taskRecord struct {
	ctx    context.Context
	task   Task
	result chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

type laneState struct {
	concurrency int
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

// Queue provides lane-based task serialization.
type Queue struct {
	lanes  map[string]*laneState
	mu     sync.Mutex
	closed bool
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{
		lanes: make(map[string]*laneState),
	}
}

func (q *Queue) lane(name string, concurrency int) *laneState {
	q.mu.Lock()
	defer q.mu.Unlock()

	ls, exists := q.lanes[name]
	if !exists {
		ls = &laneState{concurrency: concurrency}
		q.lanes[name] = ls
		log.Debug().Str("lane", name).Int("concurrency", concurrency).Msg("Lane initialized")
	}
	return ls
}

// Enqueue schedules a task on a lane (concurrency 1) and waits for its
// result. Tasks on the same lane run strictly one after another; tasks on
// different lanes run independently.
func (q *Queue) Enqueue(ctx context.Context, lane string, task Task) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, fmt.Errorf("queue is closed")
	}
	q.mu.Unlock()

	ls := q.lane(lane, 1)

	record := &taskRecord{
		ctx:    ctx,
		task:   task,
		result: make(chan taskResult, 1),
	}

	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	ls.mu.Unlock()

	q.pump(ls)

	select {
	case res := <-record.result:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pump starts queued tasks while the lane has spare concurrency.
func (q *Queue) pump(ls *laneState) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		ls.running++

		go func(r *taskRecord) {
			defer func() {
				ls.mu.Lock()
				ls.running--
				ls.mu.Unlock()
				q.pump(ls)
			}()

			value, err := q.runTask(r)
			r.result <- taskResult{value: value, err: err}
		}(record)
	}
}

func (q *Queue) runTask(r *taskRecord) (value interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()

	if r.ctx.Err() != nil {
		return nil, r.ctx.Err()
	}
	return r.task(r.ctx)
}

// Close marks the queue closed; queued tasks finish, new enqueues fail.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
