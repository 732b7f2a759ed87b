// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package longpoll

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/companyzero/mfw/auth"
	"github.com/companyzero/mfw/events"
	"github.com/companyzero/mfw/log"
	"github.com/companyzero/mfw/rpc"
	"github.com/companyzero/mfw/wire"
)

const (
	pingMinInterval    = 30 * time.Second
	pingNormalTimeout  = 60 * time.Second
	pingShortTimeout   = 10 * time.Second
	repingStart        = 60 * time.Second
	repingCap          = 64 * time.Minute
	subPingTimeout     = 60 * time.Second
)

// pulse is the at-most-one-pending signal (§4.5.4): a capacity-1 channel
// with a non-blocking send coalesces any number of calls to Signal into a
// single pending wakeup.
type pulse struct {
	ch chan struct{}
}

func newPulse() *pulse { return &pulse{ch: make(chan struct{}, 1)} }

func (p *pulse) Signal() {
	select {
	case p.ch <- struct{}{}:
	default:
	}
}

// shortCircuit delivers every signal to exactly one waiter and drops any
// signal sent while nobody is waiting (§4.5.4); an unbuffered channel with
// a non-blocking send gives exactly that.
type shortCircuit struct {
	ch chan struct{}
}

func newShortCircuit() *shortCircuit { return &shortCircuit{ch: make(chan struct{})} }

func (s *shortCircuit) Signal() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Resetter is the one-shot barrier shared across a ping and its sub-pings:
// firing it wakes every current waiter without affecting later waits
// (§4.5.4).
type Resetter struct {
	mtx sync.Mutex
	ch  chan struct{}
}

func NewResetter() *Resetter { return &Resetter{ch: make(chan struct{})} }

func (r *Resetter) C() <-chan struct{} {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.ch
}

func (r *Resetter) Fire() {
	r.mtx.Lock()
	close(r.ch)
	r.ch = make(chan struct{})
	r.mtx.Unlock()
}

// bugleDefaultCheckInterval is how far every non-old data payload pushes
// the next forced data-receive-check (§4.5.4).
const bugleDefaultCheckInterval = 2*time.Hour + 55*time.Minute

// PingerConfig configures a Pinger.
type PingerConfig struct {
	Auth    *auth.State
	Session *rpc.Session
	Events  events.Sink
	Logger  *log.Logger

	// AlwaysNotifyOnTimeout corresponds to the "sendNotResponding" caller
	// preference named in §4.5.4's timeout row: when true, a timeout keeps
	// emitting phoneNotResponding even once firstPingDone is true.
	AlwaysNotifyOnTimeout bool
}

// Pinger is the ditto health-check loop (§4.5.4): it probes the paired
// phone with notify-ditto-activity requests and reports responsiveness
// transitions as events.
type Pinger struct {
	auth    *auth.State
	session *rpc.Session
	events  events.Sink
	log     *log.Logger

	alwaysNotify bool

	pulse        *pulse
	shortCircuit *shortCircuit
	resetter     *Resetter

	mtx sync.Mutex

	oldestPing      time.Time
	lastPing        time.Time
	pingFails       int
	notRespondingSent bool
	firstPingDone   bool
	idCounter       int64

	nextDataReceiveCheck time.Time
}

func NewPinger(cfg PingerConfig) *Pinger {
	l := cfg.Logger
	if l == nil {
		l = log.New(io.Discard, "longpoll.pinger")
	}
	return &Pinger{
		auth:         cfg.Auth,
		session:      cfg.Session,
		events:       cfg.Events,
		log:          l,
		alwaysNotify: cfg.AlwaysNotifyOnTimeout,
		pulse:        newPulse(),
		shortCircuit: newShortCircuit(),
		resetter:     NewResetter(),
	}
}

// Pulse requests a ping the next time the loop is free (coalesced).
func (p *Pinger) Pulse() { p.pulse.Signal() }

// ShortCircuit wakes the currently-waiting ping early with a reduced
// timeout (§4.5.4).
func (p *Pinger) ShortCircuit() { p.shortCircuit.Signal() }

// BumpDataReceiveCheck is called by dispatch for every non-old data
// payload (§4.5.3 "receive-check bump").
func (p *Pinger) BumpDataReceiveCheck(now time.Time) {
	p.mtx.Lock()
	p.nextDataReceiveCheck = now.Add(bugleDefaultCheckInterval)
	p.mtx.Unlock()
}

// ScheduleDataReceiveCheck forces the next data-receive check to fire
// after d, overriding whatever BumpDataReceiveCheck last set (§4.6
// connect's early 10-minute check).
func (p *Pinger) ScheduleDataReceiveCheck(d time.Duration) {
	p.mtx.Lock()
	p.nextDataReceiveCheck = time.Now().Add(d)
	p.mtx.Unlock()
}

func (p *Pinger) emit(ev events.Event) {
	if p.events != nil {
		p.events.Publish(ev)
	}
}

// Run drives the pinger loop until ctx is cancelled. It is meant to run in
// its own goroutine for the lifetime of one long-poll session.
func (p *Pinger) Run(ctx context.Context) {
	for {
		var short bool
		select {
		case <-p.pulse.ch:
		case <-p.shortCircuit.ch:
			short = true
		case <-ctx.Done():
			return
		}
		p.cycle(ctx, short)
	}
}

func (p *Pinger) eligible() bool {
	return p.auth.IsLoggedIn() && p.auth.ShouldUseGoogleHost()
}

// cycle runs one outer ping, including its reping phase if the initial wait
// times out (§4.5.4).
func (p *Pinger) cycle(ctx context.Context, short bool) {
	if !p.eligible() {
		return
	}

	p.mtx.Lock()
	if time.Since(p.lastPing) < pingMinInterval {
		p.mtx.Unlock()
		return
	}
	p.idCounter++
	p.lastPing = time.Now()
	if p.oldestPing.IsZero() {
		p.oldestPing = p.lastPing
	}
	cycleStart := p.lastPing
	p.mtx.Unlock()

	timeout := pingNormalTimeout
	if short {
		timeout = pingShortTimeout
	}
	p.race(ctx, timeout, short, false)

	p.afterCycle(cycleStart)
}

// race runs a single ping attempt (outer or sub-ping) against its timeout,
// the shared resetter, and further short-circuit signals, and — on
// timeout of an outer (non-sub) ping — the reping phase (§4.5.4).
func (p *Pinger) race(ctx context.Context, timeout time.Duration, short, isSubPing bool) {
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	respCh := make(chan error, 1)
	go func() {
		_, err := p.session.Call(pingCtx, wire.ActionNotifyDittoActivity,
			[]byte{}, rpc.BuildOptions{OmitTTL: true, Unencrypted: true})
		respCh <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	resetCh := p.resetter.C()

	for {
		select {
		case err := <-respCh:
			p.onResponse(err)
			return
		case <-resetCh:
			return
		case <-p.shortCircuit.ch:
			p.mtx.Lock()
			alreadySent := p.notRespondingSent
			p.mtx.Unlock()
			if !alreadySent {
				p.emit(events.Event{Kind: events.KindPhoneNotResponding})
				p.mtx.Lock()
				p.notRespondingSent = true
				p.mtx.Unlock()
			}
			continue
		case <-timer.C:
			p.onTimeout(isSubPing)
			if !isSubPing {
				p.repingPhase(ctx)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pinger) onResponse(err error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if err != nil {
		p.pingFails++
		p.emit(events.Event{Kind: events.KindPingFailed, Err: err, FailCount: p.pingFails})
		return
	}
	if p.notRespondingSent || p.pingFails > 0 {
		p.emit(events.Event{Kind: events.KindPhoneRespondingAgain})
	}
	p.pingFails = 0
	p.notRespondingSent = false
	p.firstPingDone = true
	p.resetter.Fire()
}

func (p *Pinger) onTimeout(isSubPing bool) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.notRespondingSent {
		return
	}
	if !p.firstPingDone || p.alwaysNotify {
		p.emit(events.Event{Kind: events.KindPhoneNotResponding})
		p.notRespondingSent = true
	}
}

// repingPhase extends the wait with an exponentially growing ticker,
// issuing a sub-ping on each tick, starting at 60s and doubling up to a
// 64-minute cap (§4.5.4). It never runs for a sub-ping itself.
func (p *Pinger) repingPhase(ctx context.Context) {
	delay := repingStart
	resetCh := p.resetter.C()
	for {
		timer := time.NewTimer(delay)
		select {
		case <-resetCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			p.race(ctx, subPingTimeout, false, true)
			p.mtx.Lock()
			done := p.firstPingDone && !p.notRespondingSent
			p.mtx.Unlock()
			if done {
				return
			}
			if delay < repingCap {
				delay *= 2
				if delay > repingCap {
					delay = repingCap
				}
			}
		}
	}
}

// afterCycle implements the data-receive check named at the end of
// §4.5.4: if the deadline has passed, or the cycle ran long, synthesize a
// no-wait GET_UPDATES call and emit noDataReceived.
func (p *Pinger) afterCycle(cycleStart time.Time) {
	elapsed := time.Since(cycleStart)

	p.mtx.Lock()
	due := !p.nextDataReceiveCheck.IsZero() && time.Now().After(p.nextDataReceiveCheck)
	stale := p.nextDataReceiveCheck.IsZero() || time.Since(p.nextDataReceiveCheck) > 30*time.Minute
	p.mtx.Unlock()

	needsCheck := due || elapsed > 5*time.Minute || (elapsed > time.Minute && stale)
	if !needsCheck {
		return
	}

	go func() {
		sessionID := p.auth.SessionID()
		ctx, cancel := context.WithTimeout(context.Background(), pingNormalTimeout)
		defer cancel()
		// Fire-and-forget: posting is enough to satisfy "no-wait"; waiting
		// on Call's full correlated round-trip would delay noDataReceived
		// by up to the waiter's slow/timeout window for no benefit.
		if err := p.session.Post(ctx, wire.ActionGetUpdates, nil,
			rpc.BuildOptions{RequestID: sessionID, Unencrypted: true, OmitTTL: true}); err != nil {
			p.log.Dbg("no-wait GET_UPDATES for data-receive check failed: %v", err)
		}
		p.emit(events.Event{Kind: events.KindNoDataReceived})
	}()
}
