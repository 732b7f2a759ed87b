// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/companyzero/mfw/internal/qrcode"
)

func TestStartLoginAppliesTokenAndBuildsQRURL(t *testing.T) {
	c, st, fs := newTestClient(t, false, nil)

	url, err := c.StartLogin(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(st.Token()) != "paired-token" {
		t.Fatalf("expected token to be applied, got %q", st.Token())
	}
	if d := st.Browser(); d == nil || d.UserID != 11 || d.SourceID != 22 {
		t.Fatalf("expected browser device from response, got %+v", d)
	}

	data, err := qrcode.ParseURL(url)
	if err != nil {
		t.Fatalf("QR URL did not parse: %v", err)
	}
	keys := st.RequestKeys()
	if string(data.AESKey) != string(keys.AESKey[:]) || string(data.HMACKey) != string(keys.HMACKey[:]) {
		t.Fatal("QR URL did not embed the session's own request-crypto keys")
	}
	if len(data.PairingKey) != pairingKeySize {
		t.Fatalf("expected a %d-byte pairing key, got %d", pairingKeySize, len(data.PairingKey))
	}

	if !c.isConnected() {
		t.Fatal("expected StartLogin to start the long-poll stream immediately")
	}

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&fs.registerPhoneRelayCount) != 1 {
		t.Fatalf("expected exactly one RegisterPhoneRelay call, got %d", fs.registerPhoneRelayCount)
	}

	c.Disconnect(context.Background())
}

func TestStartLoginFailsIfAlreadyConnected(t *testing.T) {
	c, _, _ := newTestClient(t, false, nil)
	if _, err := c.StartLogin(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect(context.Background())

	if _, err := c.StartLogin(context.Background()); err != ErrAlreadyConnected {
		t.Fatalf("expected ErrAlreadyConnected on a second StartLogin, got %v", err)
	}
}

func TestGetWebEncryptionKeyRecordsKeyOnAuthState(t *testing.T) {
	c, st, _ := newTestClient(t, true, nil)

	key, err := c.GetWebEncryptionKey(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(key) != "web-enc-key" {
		t.Fatalf("unexpected key: %q", key)
	}
	if string(st.WebEncryptionKey()) != "web-enc-key" {
		t.Fatal("expected GetWebEncryptionKey to record the key on AuthState")
	}
}

func TestRevokeRelayPairingSucceeds(t *testing.T) {
	c, _, _ := newTestClient(t, true, nil)
	if err := c.RevokeRelayPairing(context.Background()); err != nil {
		t.Fatal(err)
	}
}
