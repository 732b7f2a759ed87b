// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpc

import (
	"testing"
	"time"

	"github.com/companyzero/mfw/auth"
	"github.com/companyzero/mfw/wire"
)

func TestBuildEncryptsPayloadByDefault(t *testing.T) {
	st, err := auth.New()
	if err != nil {
		t.Fatal(err)
	}
	st.SetToken([]byte("tok"), time.Hour)

	env, requestID, err := Build(st, wire.ActionSendMessage, []byte("hello"), BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if requestID == "" {
		t.Fatal("expected a generated request id")
	}
	if env.Data.Message.RequestID != requestID {
		t.Fatal("inner message request id must match the returned request id")
	}
	if len(env.Data.Message.EncryptedProtoData) == 0 {
		t.Fatal("expected EncryptedProtoData to be populated")
	}
	if len(env.Data.Message.UnencryptedProtoData) != 0 {
		t.Fatal("UnencryptedProtoData must be empty when encrypting")
	}
	if env.Data.Message.TTLMicros == 0 {
		t.Fatal("expected a non-zero TTL by default")
	}
}

func TestBuildHonorsOmitTTL(t *testing.T) {
	st, _ := auth.New()
	env, _, err := Build(st, wire.ActionGetUpdates, nil, BuildOptions{Unencrypted: true, OmitTTL: true})
	if err != nil {
		t.Fatal(err)
	}
	if env.Data.Message.TTLMicros != 0 {
		t.Fatal("OmitTTL should leave TTLMicros unset")
	}
	if env.TTLMicros != 0 {
		t.Fatal("OmitTTL should leave the outer envelope TTLMicros unset")
	}
}

func TestBuildHonorsExplicitRequestID(t *testing.T) {
	st, _ := auth.New()
	env, requestID, err := Build(st, wire.ActionAckMessages, nil, BuildOptions{Unencrypted: true, RequestID: "fixed"})
	if err != nil {
		t.Fatal(err)
	}
	if requestID != "fixed" || env.Data.RequestID != "fixed" || env.Auth.RequestID != "fixed" {
		t.Fatal("explicit request id must propagate to every envelope section")
	}
}

func TestDecryptIncomingRoundTripsEncryptedData(t *testing.T) {
	st, _ := auth.New()
	enc, err := st.RequestKeys().EncryptRequest([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	msg := &wire.IncomingRPCMessage{EncryptedData: enc}
	out, err := DecryptIncoming(st, msg)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "payload" {
		t.Fatalf("unexpected plaintext: %q", out)
	}
}

func TestDecryptIncomingPassesThroughUnencrypted(t *testing.T) {
	st, _ := auth.New()
	msg := &wire.IncomingRPCMessage{UnencryptedData: []byte("plain")}
	out, err := DecryptIncoming(st, msg)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "plain" {
		t.Fatalf("unexpected passthrough: %q", out)
	}
}
