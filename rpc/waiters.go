// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package rpc builds outgoing RPC envelopes, correlates them with the
// eventual out-of-band response arriving on the long-poll stream, and
// batches incoming-message acknowledgements (§4.4). The correlation table
// here plays the same role as companyzero/zkc's tagstack: a concurrency-safe
// map from a caller-visible id to a single-consumer completion slot — except
// the id space is a UUID string assigned per call rather than a bounded pool
// of recycled uint32 tags, since RPC ids here are never reused.
package rpc

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrCancelled = errors.New("rpc: request cancelled")
	ErrNoSuchWaiter = errors.New("rpc: no waiter for request id")
)

// Result is what a waiter eventually receives: either a decoded response
// payload or a failure.
type Result struct {
	Payload []byte
	Err     error
}

// pendingRequest is one outstanding RPC (§3 PendingRequest).
type pendingRequest struct {
	requestID string
	ch        chan Result
	once      sync.Once

	slowTimer *time.Timer
	slowFired bool
}

func (p *pendingRequest) deliver(r Result) {
	p.once.Do(func() {
		p.ch <- r
		close(p.ch)
	})
}

// SlowCallback is invoked at most once per request, 5s after it was
// issued, iff it is still pending (§3 PendingRequest.deadline). It never
// fails the request.
type SlowCallback func(requestID string)

// Waiters is the concurrency-safe request-id-keyed waiter table.
type Waiters struct {
	mtx     sync.Mutex
	pending map[string]*pendingRequest

	slowDelay time.Duration
	onSlow    SlowCallback
}

const defaultSlowDelay = 5 * time.Second

// NewWaiters constructs an empty table. onSlow may be nil.
func NewWaiters(onSlow SlowCallback) *Waiters {
	return &Waiters{
		pending:   make(map[string]*pendingRequest),
		slowDelay: defaultSlowDelay,
		onSlow:    onSlow,
	}
}

// Register inserts a waiter for requestID and arms its slow timer. It is an
// error to register the same id twice concurrently.
func (w *Waiters) Register(requestID string) <-chan Result {
	p := &pendingRequest{requestID: requestID, ch: make(chan Result, 1)}

	w.mtx.Lock()
	w.pending[requestID] = p
	w.mtx.Unlock()

	p.slowTimer = time.AfterFunc(w.slowDelay, func() {
		w.mtx.Lock()
		_, stillPending := w.pending[requestID]
		if stillPending {
			p.slowFired = true
		}
		w.mtx.Unlock()
		if stillPending && w.onSlow != nil {
			w.onSlow(requestID)
		}
	})

	return p.ch
}

// Resolve delivers payload/err to the waiter registered under requestID, if
// any, and removes it from the table. It reports whether a waiter was
// found — callers use this to distinguish a correlated response from an
// unsolicited one (§4.4 correlation; §8 testable property).
func (w *Waiters) Resolve(requestID string, payload []byte, err error) bool {
	w.mtx.Lock()
	p, ok := w.pending[requestID]
	if ok {
		delete(w.pending, requestID)
	}
	w.mtx.Unlock()
	if !ok {
		return false
	}
	p.slowTimer.Stop()
	p.deliver(Result{Payload: payload, Err: err})
	return true
}

// Cancel removes a waiter without delivering a result; any later arrival
// for requestID is dropped silently (§4.4, §5 Cancellation).
func (w *Waiters) Cancel(requestID string) {
	w.mtx.Lock()
	p, ok := w.pending[requestID]
	if ok {
		delete(w.pending, requestID)
	}
	w.mtx.Unlock()
	if ok {
		p.slowTimer.Stop()
	}
}

// Wait blocks on ch until a result arrives or ctx is done, cancelling the
// waiter on context expiry so a later reply is dropped rather than leaked
// (§5 Suspension points / Cancellation).
func (w *Waiters) Wait(ctx context.Context, requestID string, ch <-chan Result) (Result, error) {
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		w.Cancel(requestID)
		return Result{}, ctx.Err()
	}
}

// Len reports the number of outstanding waiters (used by tests and metrics).
func (w *Waiters) Len() int {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return len(w.pending)
}
