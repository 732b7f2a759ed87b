// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"fmt"
	"io"

	"github.com/companyzero/mfw/auth"
	"github.com/companyzero/mfw/httpx"
	"github.com/companyzero/mfw/log"
	"github.com/companyzero/mfw/pblite"
	"github.com/companyzero/mfw/wire"
)

// Session ties the waiter table, envelope construction, and the HTTP
// transport together into the single call a caller actually wants: "send
// this action, get back the correlated response" (§4.4). The response
// itself never arrives on the POST; it arrives later on the long-poll
// stream and is handed back in here through Deliver.
type Session struct {
	hc       *httpx.Client
	auth     *auth.State
	waiters  *Waiters
	log      *log.Logger
	endpoint string
}

// Config configures a Session.
type Config struct {
	HTTP     *httpx.Client
	Auth     *auth.State
	Endpoint string // e.g. the instantmessaging-pa "sendmessage" URL
	Logger   *log.Logger

	// OnSlow is invoked when a call has been outstanding for the slow
	// threshold without a response; the pinger uses this as its
	// short-circuit signal (§4.5.4).
	OnSlow SlowCallback
}

func New(cfg Config) *Session {
	l := cfg.Logger
	if l == nil {
		l = log.New(io.Discard, "rpc")
	}
	return &Session{
		hc:       cfg.HTTP,
		auth:     cfg.Auth,
		waiters:  NewWaiters(cfg.OnSlow),
		log:      l,
		endpoint: cfg.Endpoint,
	}
}

// Call builds an envelope for action/payload, posts it, and blocks until the
// correlated response arrives on the long-poll stream or ctx is cancelled
// (§4.4, §5 Suspension points). The POST itself succeeding only means the
// server accepted the envelope for processing, not that a response exists
// yet — that is exactly why a waiter is registered before the request ever
// leaves the process.
func (s *Session) Call(ctx context.Context, action wire.ActionType, payload []byte, opts BuildOptions) ([]byte, error) {
	env, requestID, err := Build(s.auth, action, payload, opts)
	if err != nil {
		return nil, err
	}

	ch := s.waiters.Register(requestID)

	body, err := pblite.Encode(env)
	if err != nil {
		s.waiters.Cancel(requestID)
		return nil, err
	}

	if _, err := s.hc.Post(ctx, s.endpoint, body, httpx.EncodingPblite); err != nil {
		s.waiters.Cancel(requestID)
		return nil, fmt.Errorf("rpc: post failed: %w", err)
	}

	r, err := s.waiters.Wait(ctx, requestID, ch)
	if err != nil {
		return nil, err
	}
	return r.Payload, r.Err
}

// Post builds an envelope for action/payload and posts it without
// registering a waiter: the call returns as soon as the POST itself
// completes, whatever correlated response eventually arrives on the
// long-poll stream is left unresolved as a phantom/unsolicited delivery.
// This is for callers that only care that the request was sent, such as
// the pinger's no-wait data-receive check (§4.5.4), which must not block
// on the full RPC round-trip.
func (s *Session) Post(ctx context.Context, action wire.ActionType, payload []byte, opts BuildOptions) error {
	env, _, err := Build(s.auth, action, payload, opts)
	if err != nil {
		return err
	}
	body, err := pblite.Encode(env)
	if err != nil {
		return err
	}
	if _, err := s.hc.Post(ctx, s.endpoint, body, httpx.EncodingPblite); err != nil {
		return fmt.Errorf("rpc: post failed: %w", err)
	}
	return nil
}

// isPhantom implements the phantom-envelope filter (§4.4, testable-property
// scenario 3): once a session has switched to Google-host mode, the service
// echoes non-Gaia actions back on the data channel with nothing but the raw
// unencrypted_proto_data field populated. Those echoes carry no real
// response — EncryptedData/EncryptedData2 are empty — and must never be
// treated as an unsolicited response error or used to resolve a waiter.
func isPhantom(st *auth.State, msg *wire.IncomingRPCMessage) bool {
	return st.ShouldUseGoogleHost() && !msg.Action.IsGaiaPairingAction() && onlyUnencryptedPopulated(msg)
}

// onlyUnencryptedPopulated reports whether msg carries unencrypted_proto_data
// and nothing else: both encrypted fields empty, unencrypted data present.
func onlyUnencryptedPopulated(msg *wire.IncomingRPCMessage) bool {
	return len(msg.EncryptedData) == 0 && len(msg.EncryptedData2) == 0 && len(msg.UnencryptedData) != 0
}

// Deliver hands an incoming data-event's inner message to the correlation
// table (§4.4, §4.5.3). payload is the already-decrypted response bytes;
// callers get it from DecryptIncoming. It reports whether the message
// matched an outstanding waiter.
func (s *Session) Deliver(msg *wire.IncomingRPCMessage, payload []byte, rpcErr error) bool {
	if isPhantom(s.auth, msg) {
		s.log.Dbg("dropping phantom gaia-pairing echo for session %s", msg.SessionID)
		return false
	}
	if msg.SessionID == "" {
		return false
	}
	ok := s.waiters.Resolve(msg.SessionID, payload, rpcErr)
	if !ok {
		s.log.Dbg("no waiter for request id %s (unsolicited or already timed out)", msg.SessionID)
	}
	return ok
}

// Pending reports the number of in-flight calls.
func (s *Session) Pending() int {
	return s.waiters.Len()
}
