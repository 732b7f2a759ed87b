// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package client is the facade of §4.6: it owns no wire semantics of its
// own, only the lifecycle wiring and sequencing of the auth, rpc, and
// longpoll components underneath it.
package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/companyzero/mfw/auth"
	"github.com/companyzero/mfw/events"
	"github.com/companyzero/mfw/httpx"
	"github.com/companyzero/mfw/log"
	"github.com/companyzero/mfw/longpoll"
	"github.com/companyzero/mfw/rpc"
)

// ErrAlreadyConnected is returned by Connect/ConnectBackground when a
// stream session is already running.
var ErrAlreadyConnected = errors.New("client: already connected")

// ErrNotConnected is returned by Disconnect when no stream session is
// running.
var ErrNotConnected = errors.New("client: not connected")

// ErrBackgroundPollingExitedUncleanly is returned by ConnectBackground when
// its polling deadline passes (or the stream closes) without ever
// observing a data payload (§4.6).
var ErrBackgroundPollingExitedUncleanly = errors.New("client: background polling exited uncleanly")

// Config configures a Client.
type Config struct {
	// HTTP is the transport; built from Origin if nil.
	HTTP   *httpx.Client
	Origin string // e.g. "https://messages.google.com"

	Auth      *auth.State
	Endpoints Endpoints
	Events    events.Sink
	Logger    *log.Logger

	// AutoReconnect gates the default on-paired callback's reconnect
	// (§4.6 pairing completion policy).
	AutoReconnect bool

	// PreferredDeviceIndex is carried for the Gaia multi-device picker;
	// the Gaia sign-in flow itself is out of scope (§9 open question
	// (a)), so nothing in this package reads it yet.
	PreferredDeviceIndex int

	// OnPaired overrides the default pairing-completion callback. It is
	// invoked synchronously from the dispatch task (§5 ordering); it
	// must not block on reconnecting the very stream it was called
	// from, so long-running work belongs in its own goroutine.
	OnPaired func(c *Client, phoneID string, data []byte)
}

// Client orchestrates startLogin/connect/postConnect/reconnect/
// connectBackground over one AuthState (§4.6). It is itself stateless
// apart from the auto-reconnect flag, the preferred-device index, and the
// lifecycle bookkeeping below.
type Client struct {
	hc        *httpx.Client
	auth      *auth.State
	log       *log.Logger
	events    events.Sink
	endpoints Endpoints

	session *rpc.Session
	acker   *rpc.AckBatcher
	engine  *longpoll.Engine

	autoReconnect        bool
	preferredDeviceIndex int
	onPaired             func(c *Client, phoneID string, data []byte)

	mtx       sync.Mutex
	cancelRun context.CancelFunc
	runDone   chan struct{}
}

// New wires a Client's rpc.Session, rpc.AckBatcher, and longpoll.Engine
// around cfg.Auth. The session's OnSlow hook and the engine's pinger are
// tied together via a forwarding closure, since the pinger only exists
// once the engine (which owns it) has been constructed but the session
// must name its OnSlow callback at construction time.
func New(cfg Config) (*Client, error) {
	if cfg.Auth == nil {
		return nil, errors.New("client: Config.Auth is required")
	}
	l := cfg.Logger
	if l == nil {
		l = log.New(io.Discard, "client")
	}
	endpoints := cfg.Endpoints
	if endpoints == (Endpoints{}) {
		endpoints = DefaultEndpoints()
	}
	hc := cfg.HTTP
	if hc == nil {
		hc = httpx.New(httpx.Config{Auth: cfg.Auth, Origin: cfg.Origin, Logger: l.Sub("httpx")})
	}

	c := &Client{
		hc:                   hc,
		auth:                 cfg.Auth,
		log:                  l,
		events:               cfg.Events,
		endpoints:            endpoints,
		autoReconnect:        cfg.AutoReconnect,
		preferredDeviceIndex: cfg.PreferredDeviceIndex,
	}
	if cfg.OnPaired != nil {
		c.onPaired = cfg.OnPaired
	} else {
		c.onPaired = (*Client).defaultOnPaired
	}

	c.session = rpc.New(rpc.Config{
		HTTP:     hc,
		Auth:     cfg.Auth,
		Endpoint: endpoints.SendMessage,
		Logger:   l.Sub("rpc"),
		OnSlow: func(requestID string) {
			if c.engine != nil {
				c.engine.Pinger().ShortCircuit()
			}
		},
	})
	c.acker = rpc.NewAckBatcher(hc, cfg.Auth, endpoints.AckMessages, l.Sub("ack"))
	c.engine = longpoll.New(longpoll.Config{
		HTTP:    hc,
		Auth:    cfg.Auth,
		Session: c.session,
		Acker:   c.acker,
		Events:  cfg.Events,
		Endpoints: longpoll.Endpoints{
			ReceiveGoogleHost:  endpoints.ReceiveGoogleHost,
			ReceiveDefaultHost: endpoints.ReceiveDefaultHost,
			RefreshHost:        endpoints.RegisterRefresh,
		},
		Logger:   l.Sub("longpoll"),
		OnPaired: c.handlePaired,
	})

	return c, nil
}

// Auth returns the AuthState this client is wired to.
func (c *Client) Auth() *auth.State { return c.auth }

// Events returns the event sink every component publishes to, if one was
// configured.
func (c *Client) Events() events.Sink { return c.events }

func (c *Client) handlePaired(phoneID string, data []byte) {
	c.onPaired(c, phoneID, data)
}

// defaultOnPaired implements §4.6's pairing-completion policy: if
// auto-reconnect is enabled, sleep 2s (giving the phone time to persist
// the pair record) then reconnect, best-effort. It runs in its own
// goroutine: handlePaired is called synchronously from the very stream
// dispatch task that Reconnect would tear down, so blocking here would
// deadlock against its own stream.
func (c *Client) defaultOnPaired(_ string, _ []byte) {
	if !c.autoReconnect {
		return
	}
	go func() {
		time.Sleep(postPairReconnectDelay)
		ctx, cancel := context.WithTimeout(context.Background(), firstConnectTimeout)
		defer cancel()
		if err := c.Reconnect(ctx); err != nil {
			c.log.Warn("post-pair reconnect failed: %v", err)
		}
	}()
}

// isConnected reports whether a stream session is currently running.
func (c *Client) isConnected() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.cancelRun != nil
}

// startRun arms the engine's first-connect barrier and launches Run in its
// own goroutine, returning the context it runs under so the caller can
// wait on the first-connect barrier against it.
func (c *Client) startRun() (context.Context, error) {
	c.mtx.Lock()
	if c.cancelRun != nil {
		c.mtx.Unlock()
		return nil, ErrAlreadyConnected
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancelRun = cancel
	c.runDone = make(chan struct{})
	done := c.runDone
	c.mtx.Unlock()

	c.engine.Rearm()
	go func() {
		defer close(done)
		if err := c.engine.Run(runCtx); err != nil {
			c.log.Warn("long-poll engine exited: %v", err)
		}
	}()
	return runCtx, nil
}

// Disconnect cancels the running stream session and waits for it to fully
// stop, flushing any queued acks on the way out.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mtx.Lock()
	cancel := c.cancelRun
	done := c.runDone
	c.cancelRun = nil
	c.runDone = nil
	c.mtx.Unlock()
	if cancel == nil {
		return ErrNotConnected
	}

	cancel()
	<-done
	c.acker.FlushNow(ctx)
	return nil
}

// refreshIfNeeded refreshes the tachyon token when due (§4.3, §4.5.5); it
// reuses the engine's own refresh path so the facade and the poll loop
// never disagree about what "needs refresh" means.
func (c *Client) refreshIfNeeded(ctx context.Context) error {
	return c.engine.RefreshTokenIfNeeded(ctx)
}
