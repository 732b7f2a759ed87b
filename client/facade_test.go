// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/companyzero/mfw/wire"
)

func TestConnectWaitsForFirstOpenAndRunsPostConnect(t *testing.T) {
	c, st, _ := newTestClient(t, true, nil)
	before := st.SessionID()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect(context.Background())

	if !c.isConnected() {
		t.Fatal("expected Connect to leave the client connected")
	}

	// postConnect settles for 2s then rotates the session-id; give it
	// a comfortable margin.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if st.SessionID() != before {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("expected postConnect to rotate the session-id after settling")
}

func TestConnectFailsWhenAlreadyConnected(t *testing.T) {
	c, _, _ := newTestClient(t, true, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect(context.Background())

	if err := c.Connect(context.Background()); err != ErrAlreadyConnected {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestPostConnectGivesUpWaitingOnANonDrainingSkipCount(t *testing.T) {
	c, _, fs := newTestClient(t, true, nil)
	fs.setStreamElements(encodePayload(t, &wire.LongPollingPayload{Ack: &wire.AckPayload{Count: 2}}))

	start := time.Now()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect(context.Background())

	// postConnect: 2s settle + up to 3s of skip-count polling that never
	// drains (the fake stream keeps re-seeding it on every reopen), then
	// it must proceed rather than hang.
	time.Sleep(6 * time.Second)
	if c.engine.SkipCount() == 0 {
		t.Fatal("expected the fake server's repeated ack element to keep re-seeding a nonzero skip count")
	}
	if time.Since(start) < postConnectSettleDelay {
		t.Fatal("postConnect should not complete before its settle delay")
	}
}

func TestReconnectRestartsTheStream(t *testing.T) {
	c, _, fs := newTestClient(t, true, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := c.Reconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect(context.Background())

	if !c.isConnected() {
		t.Fatal("expected Reconnect to leave the client connected")
	}
	if atomic.LoadInt32(&fs.receiveCount) == 0 {
		t.Fatal("expected at least one ReceiveMessages call across connect+reconnect")
	}
}

func TestConnectBackgroundFailsUncleanlyWithoutAnyDataPayload(t *testing.T) {
	c, _, _ := newTestClient(t, true, nil)

	// No data payload is ever enqueued; cancel quickly instead of waiting
	// out the real background deadlines.
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := c.ConnectBackground(ctx)
	if err != ErrBackgroundPollingExitedUncleanly {
		t.Fatalf("expected ErrBackgroundPollingExitedUncleanly, got %v", err)
	}
	if c.isConnected() {
		t.Fatal("expected ConnectBackground to disconnect on exit")
	}
}

func TestConnectBackgroundSucceedsOnceADataPayloadArrives(t *testing.T) {
	c, _, fs := newTestClient(t, true, nil)
	fs.setStreamElements(encodePayload(t, &wire.LongPollingPayload{
		Data: &wire.IncomingEnvelope{
			BugleRoute: wire.BugleRouteDataEvent,
			ResponseID: "resp-1",
			Data: &wire.IncomingRPCMessage{
				Action:          wire.ActionGetUpdates,
				UnencryptedData: []byte("hi"),
			},
		},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), backgroundDataDeadline+5*time.Second)
	defer cancel()

	if err := c.ConnectBackground(ctx); err != nil {
		t.Fatalf("expected a data payload to satisfy ConnectBackground, got %v", err)
	}
	if c.isConnected() {
		t.Fatal("expected ConnectBackground to disconnect on exit")
	}
}

func TestDefaultOnPairedReconnectsWhenAutoReconnectEnabled(t *testing.T) {
	c, _, fs := newTestClient(t, true, func(cfg *Config) { cfg.AutoReconnect = true })
	fs.setStreamElements(encodePayload(t, &wire.LongPollingPayload{
		Data: &wire.IncomingEnvelope{
			BugleRoute: wire.BugleRoutePairEvent,
			PairEvent: &wire.PairEventData{Paired: &wire.PairedData{
				Token:   []byte("still-paired"),
				Browser: &wire.DeviceTriple{UserID: 1, SourceID: 2},
				PhoneID: "phone-1",
			}},
		},
	}))

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect(context.Background())

	before := atomic.LoadInt32(&fs.receiveCount)
	time.Sleep(postPairReconnectDelay + 2*time.Second)
	if atomic.LoadInt32(&fs.receiveCount) <= before {
		t.Fatal("expected the default on-paired callback to reconnect, reopening the stream")
	}
}
