// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package longpoll

import (
	"crypto/sha256"
	"sync/atomic"

	"github.com/companyzero/mfw/auth"
	"github.com/companyzero/mfw/events"
	"github.com/companyzero/mfw/log"
	"github.com/companyzero/mfw/pblite"
	"github.com/companyzero/mfw/rpc"
	"github.com/companyzero/mfw/wire"
)

// loggedOutSentinel is the undocumented two-byte payload treated as
// "logged out" (§4.5.3, §9 open question (b)): behavior preserved as
// observed, not otherwise explained.
var loggedOutSentinel = []byte{0x72, 0x00}

// Dispatcher routes one decoded long-polling payload at a time (§4.5.3). It
// is touched only by the stream-reading task, so — per §5's shared-resource
// policy — it keeps no internal locking beyond what its collaborators
// (AuthState, Session, AckBatcher) already provide.
type Dispatcher struct {
	auth    *auth.State
	session *rpc.Session
	acker   *rpc.AckBatcher
	pinger  *Pinger
	events  events.Sink
	dedup   *DedupRing
	log     *log.Logger

	skipCount      int32
	payloadCounter int64
	receivedData   int32

	onPaired func(phoneID string, data []byte)
}

// DispatchConfig configures a Dispatcher.
type DispatchConfig struct {
	Auth    *auth.State
	Session *rpc.Session
	Acker   *rpc.AckBatcher
	Pinger  *Pinger
	Events  events.Sink
	Logger  *log.Logger

	// OnPaired is invoked synchronously before pairSuccessful is
	// published, so the facade can act on the pair event in order
	// (§5 ordering: "pair-events must be delivered before the on-paired
	// callback runs").
	OnPaired func(phoneID string, data []byte)
}

func NewDispatcher(cfg DispatchConfig) *Dispatcher {
	return &Dispatcher{
		auth:     cfg.Auth,
		session:  cfg.Session,
		acker:    cfg.Acker,
		pinger:   cfg.Pinger,
		events:   cfg.Events,
		dedup:    NewDedupRing(),
		log:      cfg.Logger,
		onPaired: cfg.OnPaired,
	}
}

func (d *Dispatcher) emit(ev events.Event) {
	if d.events != nil {
		d.events.Publish(ev)
	}
}

// SeedSkipCount installs the backlog skip counter reported by the stream's
// leading ack element (§4.5.2 scenario 2).
func (d *Dispatcher) SeedSkipCount(n int32) {
	atomic.StoreInt32(&d.skipCount, n)
}

// PayloadCount returns the number of decoded elements seen so far.
func (d *Dispatcher) PayloadCount() int64 {
	return atomic.LoadInt64(&d.payloadCounter)
}

// SkipCount returns the current backlog skip counter (§4.6 postConnect's
// drain poll).
func (d *Dispatcher) SkipCount() int32 {
	return atomic.LoadInt32(&d.skipCount)
}

// ReceivedDataPayload reports whether at least one data-variant payload has
// been seen on this stream.
func (d *Dispatcher) ReceivedDataPayload() bool {
	return atomic.LoadInt32(&d.receivedData) != 0
}

// Dispatch handles one decoded long-polling payload element (§4.5.2).
func (d *Dispatcher) Dispatch(p *wire.LongPollingPayload) {
	atomic.AddInt64(&d.payloadCounter, 1)

	switch {
	case p.Data != nil:
		atomic.StoreInt32(&d.receivedData, 1)
		d.handleEnvelope(p.Data)
	case p.Ack != nil:
		d.SeedSkipCount(p.Ack.Count)
	default:
		// startRead / heartbeat / anything else: ignored (§4.5.2).
	}
}

func (d *Dispatcher) handleEnvelope(env *wire.IncomingEnvelope) {
	switch env.BugleRoute {
	case wire.BugleRoutePairEvent:
		d.handlePairEvent(env.PairEvent)
	case wire.BugleRouteGaiaEvent:
		// intentionally unimplemented (§9 open question (a)).
	case wire.BugleRouteDataEvent:
		d.handleDataEvent(env)
	}
}

func (d *Dispatcher) handlePairEvent(pe *wire.PairEventData) {
	if pe == nil {
		return
	}
	if pe.Paired != nil {
		d.auth.SetToken(pe.Paired.Token, durationFromMicros(pe.Paired.TachyonTTLMicros))
		if pe.Paired.Browser != nil {
			d.auth.SetBrowser(auth.DeviceTriple{
				UserID: pe.Paired.Browser.UserID, SourceID: pe.Paired.Browser.SourceID, Network: pe.Paired.Browser.Network,
			})
		}
		if pe.Paired.Mobile != nil {
			d.auth.SetMobile(auth.DeviceTriple{
				UserID: pe.Paired.Mobile.UserID, SourceID: pe.Paired.Mobile.SourceID, Network: pe.Paired.Mobile.Network,
			})
		}
		if d.onPaired != nil {
			d.onPaired(pe.Paired.PhoneID, pe.Paired.Token)
		}
		d.emit(events.Event{Kind: events.KindPairSuccessful, PhoneID: pe.Paired.PhoneID, PairPayload: pe.Paired.Token})
		return
	}
	if pe.Revoked != nil {
		d.emit(events.Event{Kind: events.KindGaiaLoggedOut})
	}
}

func (d *Dispatcher) handleDataEvent(env *wire.IncomingEnvelope) {
	msg := env.Data
	if msg == nil {
		return
	}
	d.acker.Enqueue(env.ResponseID)

	var (
		payload []byte
		err     error
	)
	switch {
	case len(msg.EncryptedData) > 0:
		payload, err = d.auth.RequestKeys().DecryptRequest(msg.EncryptedData)
	case len(msg.EncryptedData2) > 0:
		payload, err = d.auth.RequestKeys().DecryptRequest(msg.EncryptedData2)
		if err == nil && d.accountChangeHack(payload) {
			return
		}
	default:
		payload = msg.UnencryptedData
	}
	if err != nil {
		d.log.Warn("decrypting data-event payload: %v", err)
		return
	}

	if d.session.Deliver(msg, payload, nil) {
		d.bumpReceiveCheck()
		return
	}

	isOld := atomic.AddInt32(&d.skipCount, -1) >= 0

	if msg.Action == wire.ActionGetUpdates {
		d.handleUpdates(payload, isOld)
	}

	if len(msg.EncryptedData) == 0 && len(msg.EncryptedData2) == 0 &&
		bytesEqual(msg.UnencryptedData, loggedOutSentinel) {
		d.emit(events.Event{Kind: events.KindGaiaLoggedOut})
	}

	if !isOld {
		d.bumpReceiveCheck()
	}
}

// accountChangeHack implements §4.5.3's undocumented quirk: a decrypted
// encrypted_data2 payload whose account-change field names an '@'-bearing
// account is reported as a synthetic (isFake) account change, short-
// circuiting the rest of this envelope's processing.
func (d *Dispatcher) accountChangeHack(payload []byte) bool {
	var ue wire.UpdateEnvelope
	if err := pblite.Decode(payload, &ue); err != nil {
		return false
	}
	if ue.AccountChange == nil || !containsAt(ue.AccountChange.Account) {
		return false
	}
	d.emit(events.Event{Kind: events.KindAccountChange, Payload: payload, AccountIsFake: true})
	return true
}

func (d *Dispatcher) bumpReceiveCheck() {
	if d.pinger != nil {
		d.pinger.BumpDataReceiveCheck(nowFunc())
	}
}

// handleUpdates decodes payload as an UpdateEnvelope and dispatches one
// event per item, applying the dedup/old-suppression rules of §4.5.3.
func (d *Dispatcher) handleUpdates(payload []byte, isOld bool) {
	var ue wire.UpdateEnvelope
	if err := pblite.Decode(payload, &ue); err != nil {
		d.log.Warn("decoding update envelope: %v", err)
		return
	}
	hash := sha256.Sum256(payload)

	switch {
	case ue.Conversation != nil:
		if d.dedup.Check(ue.Conversation.UpdateID, hash) {
			return
		}
		if isOld {
			return
		}
		for _, item := range ue.Conversation.Items {
			d.emit(events.Event{Kind: events.KindConversation, UpdateID: ue.Conversation.UpdateID, Payload: item.Data, IsOld: isOld})
		}
	case ue.Message != nil:
		if d.dedup.Check(ue.Message.UpdateID, hash) {
			return
		}
		if isOld {
			return
		}
		for _, item := range ue.Message.Items {
			d.emit(events.Event{Kind: events.KindMessage, UpdateID: ue.Message.UpdateID, Payload: item.Data, IsOld: isOld})
		}
	case ue.Typing != nil:
		if isOld {
			return
		}
		d.emit(events.Event{Kind: events.KindTyping, ConversationID: ue.Typing.ConversationID, IsTyping: ue.Typing.IsTyping})
	case ue.UserAlert != nil:
		if isOld {
			return
		}
		d.emit(events.Event{Kind: events.KindUserAlert, AlertType: ue.UserAlert.AlertType})
	case ue.Settings != nil:
		d.emit(events.Event{Kind: events.KindSettings, Payload: ue.Settings.Data})
	case ue.AccountChange != nil:
		d.emit(events.Event{Kind: events.KindAccountChange, AccountIsFake: false})
	case ue.BrowserPresenceCheck != nil:
		// no-op (§4.5.3).
	}
}

func containsAt(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '@' {
			return true
		}
	}
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
