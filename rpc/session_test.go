// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/companyzero/mfw/auth"
	"github.com/companyzero/mfw/httpx"
	"github.com/companyzero/mfw/wire"
)

func newTestSession(t *testing.T, handler http.HandlerFunc) (*Session, *auth.State, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	st, err := auth.New()
	if err != nil {
		t.Fatal(err)
	}
	hc := httpx.New(httpx.Config{Auth: st, Origin: srv.URL})
	s := New(Config{HTTP: hc, Auth: st, Endpoint: srv.URL})
	return s, st, srv.Close
}

func TestCallBlocksUntilDelivered(t *testing.T) {
	var gotRequestID string
	s, st, closeFn := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	defer closeFn()

	done := make(chan struct{})
	var respErr error
	var resp []byte
	go func() {
		resp, respErr = s.Call(context.Background(), wire.ActionSendMessage, []byte("hello"), BuildOptions{RequestID: "fixed-id"})
		close(done)
	}()

	// give Call a moment to register its waiter before delivering
	time.Sleep(20 * time.Millisecond)
	gotRequestID = "fixed-id"
	ok := s.Deliver(&wire.IncomingRPCMessage{SessionID: gotRequestID, Action: wire.ActionSendMessage}, []byte("ack"), nil)
	if !ok {
		t.Fatal("Deliver should have found the waiter registered by Call")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Call did not return after Deliver")
	}
	if respErr != nil {
		t.Fatalf("unexpected error: %v", respErr)
	}
	if string(resp) != "ack" {
		t.Fatalf("unexpected response payload: %q", resp)
	}
	_ = st
}

func TestCallReturnsPostFailure(t *testing.T) {
	s, _, closeFn := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer closeFn()

	_, err := s.Call(context.Background(), wire.ActionSendMessage, []byte("hello"), BuildOptions{})
	if err == nil {
		t.Fatal("expected an error from a failing POST")
	}
	if s.Pending() != 0 {
		t.Fatal("a failed POST must cancel its waiter")
	}
}

func TestDeliverDropsPhantomUnencryptedEchoOnceGoogleHosted(t *testing.T) {
	s, st, closeFn := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	defer closeFn()
	st.SetGaia(true)
	st.SetCookie("SID", "anything") // ShouldUseGoogleHost becomes true once cookies exist

	// Scenario 3: non-Gaia action, only unencrypted_proto_data populated,
	// matching an outstanding session-id — must be discarded, not delivered.
	ok := s.Deliver(&wire.IncomingRPCMessage{
		SessionID:       "whatever",
		Action:          wire.ActionSendMessage,
		UnencryptedData: []byte("phantom"),
	}, nil, nil)
	if ok {
		t.Fatal("a phantom unencrypted-only echo must not be treated as a delivered response")
	}
}

func TestDeliverResolvesGaiaPairingActionEvenWhenGoogleHosted(t *testing.T) {
	s, st, closeFn := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	defer closeFn()
	st.SetGaia(true)
	st.SetCookie("SID", "anything")

	ch := s.waiters.Register("whatever")
	ok := s.Deliver(&wire.IncomingRPCMessage{
		SessionID:       "whatever",
		Action:          wire.ActionGaiaPairingStart,
		UnencryptedData: []byte("real"),
	}, []byte("payload"), nil)
	if !ok {
		t.Fatal("a Gaia pairing action must never be treated as phantom, even if only unencrypted data is set")
	}
	select {
	case r := <-ch:
		if string(r.Payload) != "payload" {
			t.Fatalf("unexpected payload: %q", r.Payload)
		}
	default:
		t.Fatal("expected the waiter to be resolved")
	}
}

func TestCallContextCancelUnregistersWaiter(t *testing.T) {
	block := make(chan struct{})
	s, _, closeFn := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.Write([]byte(`[]`))
	})
	defer func() {
		close(block)
		closeFn()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Call(ctx, wire.ActionSendMessage, []byte("hi"), BuildOptions{RequestID: "timeout-id"})
	if err == nil {
		t.Fatal("expected context deadline error")
	}
}
