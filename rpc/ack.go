// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/companyzero/mfw/auth"
	"github.com/companyzero/mfw/httpx"
	"github.com/companyzero/mfw/log"
	"github.com/companyzero/mfw/pblite"
	"github.com/companyzero/mfw/wire"
)

// ackTickInterval is how often pending response ids are flushed as an
// AckMessagesRequest (§4.4).
const ackTickInterval = 5 * time.Second

// AckBatcher accumulates response ids to acknowledge and flushes them on a
// fixed tick, the same ticker-driven batching shape as the ditto pinger's
// own loop (§4.5.4) applied to ack traffic instead of health probes. It
// posts directly through the HTTP client rather than Session.Call: an ack
// is fire-and-forget, there is no correlated response to wait for.
type AckBatcher struct {
	hc       *httpx.Client
	auth     *auth.State
	endpoint string
	log      *log.Logger

	mtx     sync.Mutex
	pending []string

	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewAckBatcher constructs a batcher posting acks to endpoint. Call Start to
// begin the ticker loop and Stop to end it.
func NewAckBatcher(hc *httpx.Client, st *auth.State, endpoint string, logger *log.Logger) *AckBatcher {
	if logger == nil {
		logger = log.New(io.Discard, "rpc.ack")
	}
	return &AckBatcher{
		hc:       hc,
		auth:     st,
		endpoint: endpoint,
		log:      logger,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Enqueue records responseID for acknowledgement on the next tick.
func (a *AckBatcher) Enqueue(responseID string) {
	if responseID == "" {
		return
	}
	a.mtx.Lock()
	a.pending = append(a.pending, responseID)
	a.mtx.Unlock()
}

// Start runs the flush ticker until Stop is called. It is meant to be run
// in its own goroutine.
func (a *AckBatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(ackTickInterval)
	defer ticker.Stop()
	defer close(a.stopped)

	for {
		select {
		case <-ticker.C:
			a.flush(ctx)
		case <-a.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the ticker loop. If flush is true, any still-pending ids are
// flushed one last time before returning.
func (a *AckBatcher) Stop(ctx context.Context, flush bool) {
	a.once.Do(func() { close(a.stop) })
	<-a.stopped
	if flush {
		a.flush(ctx)
	}
}

// FlushNow posts any currently pending acks immediately, without waiting
// for the next tick (§4.6 postConnect).
func (a *AckBatcher) FlushNow(ctx context.Context) {
	a.flush(ctx)
}

// flush drains the pending id list and posts it as a single
// AckMessagesRequest. Ids are re-queued, not dropped, if the batcher isn't
// ready to send (no token/browser identity yet) or the POST itself fails
// (§4.4): an ack is only removed from the pending set once the server has
// actually accepted it.
func (a *AckBatcher) flush(ctx context.Context) {
	a.mtx.Lock()
	ids := a.pending
	a.pending = nil
	a.mtx.Unlock()

	if len(ids) == 0 {
		return
	}

	if !a.auth.IsLoggedIn() {
		a.requeue(ids)
		return
	}

	req := &wire.AckMessagesRequest{Acks: make([]wire.AckItem, len(ids))}
	for i, id := range ids {
		req.Acks[i] = wire.AckItem{ResponseID: id}
	}

	env, _, err := Build(a.auth, wire.ActionAckMessages, nil, BuildOptions{Unencrypted: true, OmitTTL: true})
	if err != nil {
		a.log.Error("building ack envelope: %v", err)
		a.requeue(ids)
		return
	}
	body, err := pblite.Encode(req)
	if err != nil {
		a.log.Error("encoding ack batch: %v", err)
		a.requeue(ids)
		return
	}
	env.Data.Message.UnencryptedProtoData = body

	out, err := pblite.Encode(env)
	if err != nil {
		a.log.Error("encoding ack envelope: %v", err)
		a.requeue(ids)
		return
	}

	if _, err := a.hc.Post(ctx, a.endpoint, out, httpx.EncodingPblite); err != nil {
		a.log.Warn("ack batch of %d failed, re-queuing: %v", len(ids), err)
		a.requeue(ids)
	}
}

func (a *AckBatcher) requeue(ids []string) {
	a.mtx.Lock()
	a.pending = append(ids, a.pending...)
	a.mtx.Unlock()
}
