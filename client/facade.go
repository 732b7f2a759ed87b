// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"fmt"
	"time"

	"github.com/companyzero/mfw/wire"

	"github.com/companyzero/mfw/rpc"
)

const (
	// firstConnectTimeout bounds Connect/ConnectBackground's wait for the
	// stream's first successful open (§4.6, §5).
	firstConnectTimeout = 15 * time.Second

	// postPairReconnectDelay is the pairing-completion policy's settle
	// time before the default callback reconnects (§4.6, §5 ordering).
	postPairReconnectDelay = 2 * time.Second

	// postConnectSettleDelay is postConnect's opening wait, giving any
	// immediate backlog replay a moment to start arriving.
	postConnectSettleDelay = 2 * time.Second

	// skipDrainPollInterval/skipDrainPollWindow bound postConnect's wait
	// for a non-zero backlog skip count to drain.
	skipDrainPollInterval = time.Second
	skipDrainPollWindow   = 3 * time.Second

	// postConnectCallTimeout bounds the two best-effort RPCs postConnect
	// fires after settling (§4.6): neither may block the client
	// indefinitely if the phone never answers.
	postConnectCallTimeout = 10 * time.Second

	// earlyDataReceiveCheck is how soon after a fresh connect the pinger
	// should force its data-receive check, instead of the normal
	// multi-hour interval (§4.6 connect).
	earlyDataReceiveCheck = 10 * time.Minute

	// connectBackground's polling parameters (§4.6).
	backgroundInitialDeadline = 10 * time.Second
	backgroundDataDeadline    = 3 * time.Second
	backgroundNoDataDeadline  = 5 * time.Second
	backgroundPollInterval    = 250 * time.Millisecond
)

// Connect implements §4.6's connect: refresh the token if due, arrange for
// ack batching and an early data-receive check when already logged in,
// start the stream, and wait up to 15s for it to open before running
// postConnect in the background.
func (c *Client) Connect(ctx context.Context) error {
	runCtx, err := c.startRun()
	if err != nil {
		return err
	}

	if err := c.refreshIfNeeded(ctx); err != nil {
		c.log.Warn("token refresh before connect failed: %v", err)
	}

	if c.auth.IsLoggedIn() {
		c.engine.Pinger().ScheduleDataReceiveCheck(earlyDataReceiveCheck)
		go c.acker.Start(runCtx)
	}

	waitCtx, cancel := context.WithTimeout(ctx, firstConnectTimeout)
	defer cancel()
	if err := c.engine.WaitFirstConnect(waitCtx); err != nil {
		return fmt.Errorf("client: waiting for first stream open: %w", err)
	}

	go c.postConnect(runCtx)
	return nil
}

// postConnect implements §4.6's postConnect: settle briefly, give a
// non-zero backlog skip count a chance to drain, flush any acks queued
// during the wait, rotate the session-id and kick a no-wait GET_UPDATES
// under it, then best-effort ping IS_BUGLE_DEFAULT.
func (c *Client) postConnect(ctx context.Context) {
	select {
	case <-time.After(postConnectSettleDelay):
	case <-ctx.Done():
		return
	}

	if c.engine.SkipCount() != 0 {
		deadline := time.Now().Add(skipDrainPollWindow)
		for time.Now().Before(deadline) && c.engine.SkipCount() != 0 {
			select {
			case <-time.After(skipDrainPollInterval):
			case <-ctx.Done():
				return
			}
		}
	}

	c.acker.FlushNow(ctx)

	callCtx, cancel := context.WithTimeout(ctx, postConnectCallTimeout)
	defer cancel()

	sessionID := c.auth.RotateSessionID()
	if _, err := c.session.Call(callCtx, wire.ActionGetUpdates, nil,
		rpc.BuildOptions{RequestID: sessionID, Unencrypted: true, OmitTTL: true}); err != nil {
		c.log.Dbg("postConnect no-wait GET_UPDATES failed: %v", err)
	}

	if _, err := c.session.Call(callCtx, wire.ActionIsBugleDefault, nil,
		rpc.BuildOptions{Unencrypted: true, OmitTTL: true}); err != nil {
		c.log.Dbg("postConnect IS_BUGLE_DEFAULT ping failed: %v", err)
	}
}

// Reconnect is disconnect + connect (§4.6).
func (c *Client) Reconnect(ctx context.Context) error {
	if err := c.Disconnect(ctx); err != nil && err != ErrNotConnected {
		return err
	}
	return c.Connect(ctx)
}

// ConnectBackground implements §4.6's connectBackground: the fast,
// short-lived variant used for push-woken sync. It refreshes the token,
// starts the stream, waits up to 15s for the first open, then polls the
// payload counter every 250ms against a deadline that shifts once data
// starts arriving, stopping and flushing as soon as the deadline passes or
// the stream closes. It reports ErrBackgroundPollingExitedUncleanly iff no
// data payload was ever received.
func (c *Client) ConnectBackground(ctx context.Context) error {
	runCtx, err := c.startRun()
	if err != nil {
		return err
	}

	if err := c.refreshIfNeeded(ctx); err != nil {
		c.log.Warn("token refresh before background connect failed: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, firstConnectTimeout)
	defer cancel()
	if err := c.engine.WaitFirstConnect(waitCtx); err != nil {
		c.Disconnect(context.Background())
		return fmt.Errorf("client: waiting for first stream open: %w", err)
	}

	deadline := time.Now().Add(backgroundInitialDeadline)
	lastCount := c.engine.PayloadCount()
	sawData := false

	ticker := time.NewTicker(backgroundPollInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ticker.C:
			if n := c.engine.PayloadCount(); n != lastCount {
				lastCount = n
				if c.engine.ReceivedDataPayload() {
					sawData = true
					deadline = time.Now().Add(backgroundDataDeadline)
				} else {
					deadline = time.Now().Add(backgroundNoDataDeadline)
				}
			}
			if time.Now().After(deadline) {
				break loop
			}
		case <-runCtx.Done():
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	if derr := c.Disconnect(context.Background()); derr != nil && derr != ErrNotConnected {
		c.log.Warn("background disconnect: %v", derr)
	}

	if !sawData {
		return ErrBackgroundPollingExitedUncleanly
	}
	return nil
}
