// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package longpoll owns the long-poll stream: opening it, framing its
// `[[...]]` body, dispatching decoded envelopes, deduplicating replayed
// updates, and driving the ditto health-check pinger alongside it (§4.5).
package longpoll

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/companyzero/mfw/auth"
	"github.com/companyzero/mfw/events"
	"github.com/companyzero/mfw/httpx"
	"github.com/companyzero/mfw/log"
	"github.com/companyzero/mfw/pblite"
	"github.com/companyzero/mfw/rpc"
	"github.com/companyzero/mfw/wire"
)

// maxBackoff caps the poll loop's linear retry backoff (§4.5.1).
const maxBackoff = 60 * time.Second

// Endpoints names the URLs the engine posts to. Two variants exist for the
// receive (stream-open) call, selected per request by
// AuthState.ShouldUseGoogleHost (§3, §6.1); refresh always targets the
// registration host, since RegisterRefresh's answer arrives directly in the
// POST body rather than on the stream (§4.5.5, §9 design note).
type Endpoints struct {
	ReceiveGoogleHost  string
	ReceiveDefaultHost string
	RefreshHost        string
}

// Config configures an Engine.
type Config struct {
	HTTP      *httpx.Client
	Auth      *auth.State
	Session   *rpc.Session
	Acker     *rpc.AckBatcher
	Events    events.Sink
	Endpoints Endpoints
	Logger    *log.Logger

	// OnFirstConnect is invoked once, the first time a stream successfully
	// opens in this Engine's lifetime (§4.5.1).
	OnFirstConnect func()
	// OnPaired is invoked synchronously from the dispatch task on a pair
	// event, before pairSuccessful is published (§5 ordering).
	OnPaired func(phoneID string, data []byte)

	PingerConfig PingerConfig
}

// Engine runs the poll loop and the pinger loop as a pair of supervised
// goroutines, and owns the shared state §4.5 lists: the connection-up flag,
// the current listen request-id, the dedup ring (via its Dispatcher), the
// payload counter, and the first-connect barrier.
type Engine struct {
	hc        *httpx.Client
	auth      *auth.State
	session   *rpc.Session
	endpoints Endpoints
	log       *log.Logger

	dispatcher *Dispatcher
	pinger     *Pinger

	onFirstConnect func()

	mtx             sync.Mutex
	connected       bool
	listenRequestID string
	errCount        int

	firstConnectOnce sync.Once
	firstConnectCh   chan struct{}
}

func New(cfg Config) *Engine {
	l := cfg.Logger
	if l == nil {
		l = log.New(io.Discard, "longpoll")
	}
	pingerCfg := cfg.PingerConfig
	pingerCfg.Auth = cfg.Auth
	pingerCfg.Session = cfg.Session
	pingerCfg.Events = cfg.Events
	if pingerCfg.Logger == nil {
		pingerCfg.Logger = l.Sub("pinger")
	}
	pinger := NewPinger(pingerCfg)

	dispatcher := NewDispatcher(DispatchConfig{
		Auth:     cfg.Auth,
		Session:  cfg.Session,
		Acker:    cfg.Acker,
		Pinger:   pinger,
		Events:   cfg.Events,
		Logger:   l.Sub("dispatch"),
		OnPaired: cfg.OnPaired,
	})

	return &Engine{
		hc:             cfg.HTTP,
		auth:           cfg.Auth,
		session:        cfg.Session,
		endpoints:      cfg.Endpoints,
		log:            l,
		dispatcher:     dispatcher,
		pinger:         pinger,
		onFirstConnect: cfg.OnFirstConnect,
		firstConnectCh: make(chan struct{}),
	}
}

// Pinger exposes the pinger so the facade can pulse it (e.g. after
// postConnect's IS_BUGLE_DEFAULT ping, §4.6).
func (e *Engine) Pinger() *Pinger { return e.pinger }

// PayloadCount returns the number of decoded stream elements seen so far.
func (e *Engine) PayloadCount() int64 { return e.dispatcher.PayloadCount() }

// ReceivedDataPayload reports whether a data-variant payload has arrived.
func (e *Engine) ReceivedDataPayload() bool { return e.dispatcher.ReceivedDataPayload() }

// SkipCount returns the current backlog skip counter (§4.6 postConnect).
func (e *Engine) SkipCount() int32 { return e.dispatcher.SkipCount() }

// WaitFirstConnect blocks until the first stream open succeeds or ctx ends
// (§4.6 connect's 15s first-connect barrier).
func (e *Engine) WaitFirstConnect(ctx context.Context) error {
	e.mtx.Lock()
	ch := e.firstConnectCh
	e.mtx.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rearm resets the first-connect barrier ahead of a fresh Run call. The
// facade calls this synchronously before starting each Run, so every
// connect/reconnect cycle gets its own barrier instead of only the very
// first one in the Engine's lifetime (§4.6).
func (e *Engine) Rearm() {
	e.mtx.Lock()
	e.firstConnectOnce = sync.Once{}
	e.firstConnectCh = make(chan struct{})
	e.mtx.Unlock()
}

// Run drives the poll loop and the pinger loop until ctx is cancelled,
// returning when both have stopped (§4.5.1, §4.5.4).
func (e *Engine) Run(ctx context.Context) error {
	e.mtx.Lock()
	e.connected = true
	e.mtx.Unlock()
	defer func() {
		e.mtx.Lock()
		e.connected = false
		e.mtx.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.pollLoop(gctx)
		return nil
	})
	g.Go(func() error {
		e.pinger.Run(gctx)
		return nil
	})
	return g.Wait()
}

func (e *Engine) isConnected() bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.connected
}

// pollLoop implements §4.5.1.
func (e *Engine) pollLoop(ctx context.Context) {
	for e.isConnected() {
		if ctx.Err() != nil {
			return
		}
		if err := e.refreshTokenIfNeeded(ctx); err != nil {
			e.log.Warn("token refresh failed: %v", err)
		}

		requestID := e.auth.SessionID()
		e.mtx.Lock()
		e.listenRequestID = requestID
		e.mtx.Unlock()

		if err := e.openAndRead(ctx, requestID); err != nil {
			e.mtx.Lock()
			e.errCount++
			n := e.errCount
			e.mtx.Unlock()
			e.dispatcher.emit(events.Event{Kind: events.KindListenTemporaryError, Err: err})

			backoff := time.Duration(n) * 5 * time.Second
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		e.mtx.Lock()
		recovered := e.errCount > 0
		e.errCount = 0
		e.mtx.Unlock()
		if recovered {
			e.dispatcher.emit(events.Event{Kind: events.KindListenRecovered})
		}
	}
}

func (e *Engine) openAndRead(ctx context.Context, requestID string) error {
	req := &wire.ReceiveMessagesRequest{RequestID: requestID}
	body, err := pblite.Encode(req)
	if err != nil {
		return err
	}

	url := e.endpoints.ReceiveDefaultHost
	if e.auth.ShouldUseGoogleHost() {
		url = e.endpoints.ReceiveGoogleHost
	}

	stream, err := e.hc.OpenStream(ctx, url, body, httpx.EncodingPblite)
	if err != nil {
		return err
	}
	defer stream.Close()

	e.firstConnectOnce.Do(func() {
		close(e.firstConnectCh)
		if e.onFirstConnect != nil {
			e.onFirstConnect()
		}
	})

	if e.shouldPingPhone() {
		e.pinger.Pulse()
	}

	framer := NewFramer(stream.Body)
	for {
		v, err := framer.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		var p wire.LongPollingPayload
		if decErr := pblite.DecodeValue(v, &p); decErr != nil {
			// per §4.5.2/§7: per-element decode errors are swallowed, the
			// framer's buffer is already cleared, the stream continues.
			e.log.Dbg("decoding long-polling payload: %v", decErr)
			continue
		}
		e.dispatcher.Dispatch(&p)
	}
}

func (e *Engine) shouldPingPhone() bool {
	return e.auth.IsLoggedIn() && e.auth.ShouldUseGoogleHost()
}

// RefreshTokenIfNeeded exposes refreshTokenIfNeeded so the facade can reuse
// the exact same refresh path ahead of a connect (§4.6).
func (e *Engine) RefreshTokenIfNeeded(ctx context.Context) error {
	return e.refreshTokenIfNeeded(ctx)
}

// refreshTokenIfNeeded implements §4.5.5: RegisterRefresh answers directly
// in its POST response, unlike the messaging RPCs that answer on the
// stream, since there is no stream open yet to deliver it on.
func (e *Engine) refreshTokenIfNeeded(ctx context.Context) error {
	if e.auth.Browser() == nil || !e.auth.NeedsTokenRefresh() {
		return nil
	}

	requestID := uuid.NewString()
	ts := time.Now().UnixMicro()
	sig, err := e.auth.RefreshKey().Sign([]byte(fmt.Sprintf("%s:%d", requestID, ts)))
	if err != nil {
		return err
	}

	req := &wire.RegisterRefreshRequest{
		RequestID:       requestID,
		TimestampMicros: ts,
		CurrentToken:    e.auth.Token(),
		Signature:       sig,
	}
	if pk := e.auth.PushKeys(); pk != nil {
		req.PushRegistration = &wire.PushRegistration{Endpoint: pk.Endpoint, P256DH: pk.P256DH, Auth: pk.Auth}
	}

	body, err := pblite.Encode(req)
	if err != nil {
		return err
	}
	resp, err := e.hc.Post(ctx, e.endpoints.RefreshHost, body, httpx.EncodingPblite)
	if err != nil {
		return err
	}

	var out wire.RegisterRefreshResponse
	if err := pblite.DecodeBody(resp.ContentType, resp.Body, &out); err != nil {
		return err
	}
	e.auth.SetToken(out.Token, durationFromMicros(out.TTLMicros))
	e.dispatcher.emit(events.Event{Kind: events.KindTokenRefreshed})
	return nil
}

func durationFromMicros(micros int64) time.Duration {
	return time.Duration(micros) * time.Microsecond
}

func nowFunc() time.Time { return time.Now() }
