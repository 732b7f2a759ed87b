// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package auth

import (
	"testing"
	"time"

	"github.com/companyzero/mfw/cryptokit"
)

type memStore struct{ data []byte }

func (m *memStore) Load() ([]byte, error)     { return m.data, nil }
func (m *memStore) Save(data []byte) error    { m.data = data; return nil }

func TestNotLoggedInUntilTokenAndBrowserSet(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if s.IsLoggedIn() {
		t.Fatal("fresh state should not be logged in")
	}

	s.SetToken([]byte("tok"), time.Hour)
	if s.IsLoggedIn() {
		t.Fatal("token alone should not be enough to be logged in")
	}

	s.SetBrowser(DeviceTriple{UserID: 1, SourceID: 2})
	if !s.IsLoggedIn() {
		t.Fatal("token + browser device should be logged in")
	}
}

func TestZeroTTLDefaultsTo24h(t *testing.T) {
	s, _ := New()
	s.SetToken([]byte("tok"), 0)
	if got := s.TachyonTTL(); got != 24*time.Hour {
		t.Fatalf("expected 24h default TTL, got %v", got)
	}
}

func TestNeedsTokenRefresh(t *testing.T) {
	s, _ := New()
	if !s.NeedsTokenRefresh() {
		t.Fatal("no token at all should need refresh")
	}

	s.SetToken([]byte("tok"), 2*time.Hour)
	if s.NeedsTokenRefresh() {
		t.Fatal("token 2h from expiry should not need refresh yet")
	}

	s.SetToken([]byte("tok"), 30*time.Minute)
	if !s.NeedsTokenRefresh() {
		t.Fatal("token 30m from expiry should need refresh")
	}
}

func TestShouldUseGoogleHost(t *testing.T) {
	s, _ := New()
	if !s.ShouldUseGoogleHost() {
		t.Fatal("non-Gaia session should use the Google host")
	}

	s.SetGaia(true)
	if s.ShouldUseGoogleHost() {
		t.Fatal("Gaia session with no cookies should not use the Google host")
	}

	s.SetCookie("SID", "x")
	if !s.ShouldUseGoogleHost() {
		t.Fatal("Gaia session with cookies should use the Google host")
	}
}

func TestSAPISIDFallback(t *testing.T) {
	s, _ := New()
	if _, ok := s.SAPISID(); ok {
		t.Fatal("no cookies set, should not find SAPISID")
	}
	s.SetCookie("__Secure-1PAPISID", "v")
	if v, ok := s.SAPISID(); !ok || v != "v" {
		t.Fatalf("expected fallback cookie, got %q, %v", v, ok)
	}
	s.SetCookie("SAPISID", "primary")
	if v, _ := s.SAPISID(); v != "primary" {
		t.Fatalf("SAPISID should take priority, got %q", v)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	s, _ := New()
	s.SetToken([]byte("tok"), time.Hour)
	s.SetBrowser(DeviceTriple{UserID: 1, SourceID: 2, Network: 3})
	s.SetMobile(DeviceTriple{UserID: 4, SourceID: 5})
	s.SetCookie("SID", "abc")
	s.SetPushKeys(PushKeys{Endpoint: "https://push.example", Auth: []byte("a")})

	store := &memStore{}
	if err := s.Save(store); err != nil {
		t.Fatal(err)
	}

	restored, _ := New()
	if err := restored.Load(store); err != nil {
		t.Fatal(err)
	}

	if !restored.IsLoggedIn() {
		t.Fatal("restored state should be logged in")
	}
	if restored.SessionID() != s.SessionID() {
		t.Fatal("session id did not round trip")
	}
	if restored.Browser() == nil || restored.Browser().UserID != 1 {
		t.Fatal("browser device did not round trip")
	}
	if restored.PushKeys() == nil || restored.PushKeys().Endpoint != "https://push.example" {
		t.Fatal("push keys did not round trip")
	}

	// refresh key must also be restored and usable
	msg := []byte("req:1")
	sig, err := restored.RefreshKey().Sign(msg)
	if err != nil {
		t.Fatal(err)
	}
	pub, _ := s.RefreshKey().PublicKeyPKIX()
	ok, err := cryptokit.VerifyWithPKIX(pub, msg, sig)
	if err != nil || !ok {
		t.Fatalf("restored refresh key produced an unverifiable signature: ok=%v err=%v", ok, err)
	}
}
