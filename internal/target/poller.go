/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package target

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"

	"github.com/CDumitra/k3po-nukleus-ext.java/internal/frame"
	"github.com/CDumitra/k3po-nukleus-ext.java/internal/transport/shm"
)

const (
	// DefaultIdleTimeout bounds one idle park of the poller.
	DefaultIdleTimeout = 10 * time.Millisecond

	// DefaultTaskQueueSize is the capacity of the poller task queue.
	DefaultTaskQueueSize = 1024
)

var (
	// ErrPollerStopped is returned for work submitted after Run returned.
	ErrPollerStopped = errors.New("target: poller stopped")

	// ErrPollerRunning is returned by a second call to Run.
	ErrPollerRunning = errors.New("target: poller already running")
)

// IdleStrategy parks the poller until the throttle ring may have data.
// *shm.ShmRing implements it.
type IdleStrategy interface {
	WaitForData(ctx context.Context, timeout time.Duration) error
	Wake()
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	Logger        hclog.Logger
	IdleTimeout   time.Duration
	TaskQueueSize int
}

// Poller is the event loop that owns a Target. Run alternates between
// submitted tasks and PollThrottle, and parks on the idle strategy when
// neither has work.
type Poller struct {
	target      *Target
	idle        IdleStrategy
	idleTimeout time.Duration
	logger      hclog.Logger

	tasks    chan func()
	stopped  chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewPoller returns a poller driving t.
func NewPoller(t *Target, idle IdleStrategy, opts PollerOptions) *Poller {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.TaskQueueSize <= 0 {
		opts.TaskQueueSize = DefaultTaskQueueSize
	}
	return &Poller{
		target:      t,
		idle:        idle,
		idleTimeout: opts.IdleTimeout,
		logger:      logger.Named("poller"),
		tasks:       make(chan func(), opts.TaskQueueSize),
		stopped:     make(chan struct{}),
	}
}

// Target returns the target owned by the loop. Only use it from tasks.
func (p *Poller) Target() *Target { return p.target }

// Submit queues fn to run on the loop. It blocks while the queue is full, so
// tasks must not Submit to their own poller in bulk.
func (p *Poller) Submit(fn func()) error {
	select {
	case <-p.stopped:
		return ErrPollerStopped
	default:
	}

	select {
	case p.tasks <- fn:
		p.idle.Wake()
		return nil
	case <-p.stopped:
		return ErrPollerStopped
	}
}

// Do runs fn on the loop and waits for its result.
func (p *Poller) Do(ctx context.Context, fn func(*Target) error) error {
	done := make(chan error, 1)
	if err := p.Submit(func() { done <- fn(p.target) }); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopped:
		select {
		case err := <-done:
			return err
		default:
			return ErrPollerStopped
		}
	}
}

// Run drives the loop until ctx is done or the throttle ring fails. A
// protocol violation on the throttle ring stops the loop with that error;
// failures writing the streams ring are logged and the loop keeps going.
func (p *Poller) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrPollerRunning
	}
	defer p.stopOnce.Do(func() { close(p.stopped) })

	p.logger.Debug("poller started", "idle_timeout", p.idleTimeout)
	defer p.logger.Debug("poller stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		tasks := p.runTasks()

		n, err := p.target.PollThrottle()
		if n > 0 {
			metrics.IncrCounter(pollKey, float32(n))
		}
		if err != nil {
			if isProtocolError(err) {
				p.logger.Error("throttle poll failed", "error", err)
				return fmt.Errorf("poll throttle: %w", err)
			}
			// The write stays queued with its credit; the next WINDOW or
			// write retries it.
			metrics.IncrCounter(pollEmitErrorKey, 1)
			p.logger.Warn("flush failed", "error", err)
			continue
		}
		if tasks > 0 || n > 0 {
			continue
		}

		metrics.IncrCounter(pollIdleKey, 1)
		err = p.idle.WaitForData(ctx, p.idleTimeout)
		switch {
		case err == nil, errors.Is(err, shm.ErrFutexTimeout):
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			p.logger.Error("throttle wait failed", "error", err)
			return fmt.Errorf("wait throttle: %w", err)
		}
	}
}

// isProtocolError reports whether err means the peer broke the throttle
// protocol, as opposed to a failed write toward the peer.
func isProtocolError(err error) bool {
	return errors.Is(err, frame.ErrUnknownType) ||
		errors.Is(err, frame.ErrShortBuffer) ||
		errors.Is(err, ErrNegativeWindow) ||
		errors.Is(err, shm.ErrCorruptRecord)
}

// runTasks runs the tasks queued when it started and returns how many ran.
func (p *Poller) runTasks() int {
	n := len(p.tasks)
	for i := 0; i < n; i++ {
		fn := <-p.tasks
		fn()
	}
	return n
}
