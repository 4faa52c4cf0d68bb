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

// Package future provides single-fire completion signals and an AND-join
// over two of them.
package future

import (
	"context"
	"sync"
)

// Listener is notified once when a Future completes.
type Listener func(f *Future)

// Future is a completion that fires exactly once, with success or an error.
// Listeners run on the goroutine that completes the future, in the order they
// were added; a listener added after completion runs immediately.
type Future struct {
	mu        sync.Mutex
	done      bool
	err       error
	listeners []Listener
	ch        chan struct{}
}

// New returns a pending Future.
func New() *Future {
	return &Future{ch: make(chan struct{})}
}

// Succeeded returns a Future that has already succeeded.
func Succeeded() *Future {
	f := New()
	f.Succeed()
	return f
}

// Failed returns a Future that has already failed with err.
func Failed(err error) *Future {
	f := New()
	f.Fail(err)
	return f
}

// Succeed completes f successfully. It reports false if f was already done.
func (f *Future) Succeed() bool {
	return f.complete(nil)
}

// Fail completes f with err. It reports false if f was already done.
func (f *Future) Fail(err error) bool {
	if err == nil {
		panic("future: Fail with nil error")
	}
	return f.complete(err)
}

func (f *Future) complete(err error) bool {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return false
	}
	f.done = true
	f.err = err
	listeners := f.listeners
	f.listeners = nil
	close(f.ch)
	f.mu.Unlock()

	for _, l := range listeners {
		l(f)
	}
	return true
}

// AddListener registers l to run on completion.
func (f *Future) AddListener(l Listener) {
	f.mu.Lock()
	if !f.done {
		f.listeners = append(f.listeners, l)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	l(f)
}

// IsDone reports whether f has completed.
func (f *Future) IsDone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// IsSuccess reports whether f completed without error.
func (f *Future) IsSuccess() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done && f.err == nil
}

// Err returns the failure cause, or nil while pending or after success.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Done returns a channel closed on completion.
func (f *Future) Done() <-chan struct{} {
	return f.ch
}

// Wait blocks until f completes or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.ch:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join returns a Future that succeeds once both a and b have succeeded, or
// fails with the first failure observed. Either input may complete first and
// the result fires exactly once.
func Join(a, b *Future) *Future {
	joined := New()
	var (
		mu      sync.Mutex
		pending = 2
	)
	onComplete := func(f *Future) {
		if err := f.Err(); err != nil {
			joined.Fail(err)
			return
		}
		mu.Lock()
		pending--
		last := pending == 0
		mu.Unlock()
		if last {
			joined.Succeed()
		}
	}
	a.AddListener(onComplete)
	b.AddListener(onComplete)
	return joined
}
