// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package queue implements the envelope queue: a single-consumer serial
// task chain that post-decrypt processing runs through, so that event
// emission for envelope N happens strictly after envelope N-1's
// processing has settled, even though decryption itself may run ahead in
// parallel.
package queue

import (
	"sync"
	"time"

	"github.com/sagex/relay-receiver/internal/logger"
	"github.com/sagex/relay-receiver/internal/metrics"
)

// Queue runs enqueued tasks one at a time, in the order they were
// enqueued. A task that panics does not halt the chain.
type Queue struct {
	log logger.Logger

	mu      sync.Mutex
	tasks   chan func()
	closed  bool
	done    chan struct{}
	pending int
}

// New starts a Queue with a worker goroutine consuming its task channel.
func New(log logger.Logger) *Queue {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	q := &Queue{
		log:   log,
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for task := range q.tasks {
		q.runOne(task)
	}
}

func (q *Queue) runOne(task func()) {
	start := time.Now()
	defer func() {
		metrics.QueueTaskDuration.Observe(time.Since(start).Seconds())
		q.mu.Lock()
		q.pending--
		metrics.QueueDepth.Set(float64(q.pending))
		q.mu.Unlock()

		if r := recover(); r != nil {
			q.log.Error("queue task panicked", logger.Any("recovered", r))
		}
	}()
	task()
}

// Enqueue appends task to the chain. It runs after every task enqueued
// before it has completed, and before every task enqueued after it. A nil
// task is ignored. Enqueue is a no-op once the queue has been closed.
func (q *Queue) Enqueue(task func()) {
	if task == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending++
	metrics.QueueDepth.Set(float64(q.pending))
	q.mu.Unlock()

	q.tasks <- task
}

// Close stops accepting new tasks and blocks until every already-enqueued
// task has run.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.tasks)
	<-q.done
}
