// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package auth holds the mutable, process-lifetime session/credential
// record (§3 AuthState) and its serialized mutators. It is the only shared
// mutable structure in this module (§5); every other component reaches it
// only through the methods below, never through a raw reference to its
// fields — the same discipline companyzero/zkc applies to its identity and
// session state.
package auth

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/companyzero/mfw/cryptokit"
)

var ErrNotLoggedIn = errors.New("auth: not logged in")

// defaultTachyonTTL is substituted whenever the server reports a zero TTL
// (§3 invariants: "when tachyon-ttl is 0, treat as 24h").
const defaultTachyonTTL = 24 * time.Hour

// tokenRefreshWindow is how far ahead of expiry a refresh becomes due
// (§4.3, §4.5.5).
const tokenRefreshWindow = time.Hour

// gaiaNetwork is the fixed network identifier used for Google-account
// (Gaia) sessions; the QR variant uses the empty string (§4.3).
const gaiaNetwork = "GAIA"

// DeviceTriple is the opaque (user-id, source-id, network) identity
// assigned by the server at pair time (§3).
type DeviceTriple struct {
	UserID   int64
	SourceID int64
	Network  int32
}

// PushKeys is the optional web-push registration (§3).
type PushKeys struct {
	Endpoint string
	P256DH   []byte
	Auth     []byte
}

// State is the singleton AuthState (§3). All access goes through its
// methods; the zero value is the empty, not-yet-paired state.
type State struct {
	mtx sync.RWMutex

	requestKeys *cryptokit.RequestKeys
	refreshKey  *cryptokit.RefreshKey

	browserDevice *DeviceTriple
	mobileDevice  *DeviceTriple

	tachyonToken  []byte
	tachyonExpiry time.Time
	tachyonTTL    time.Duration

	sessionID string
	destRegID string
	pairingID string

	cookies map[string]string

	pushKeys *PushKeys

	// webEncryptionKey is the opaque key handed back by GetWebEncryptionKey
	// (§6.1 pairing service); it has no decode-time structure of its own
	// here, only a persisted, byte-faithful round trip (§6.6).
	webEncryptionKey []byte

	// isGaia records whether this session was created via the Gaia
	// (Google-account) flow rather than the plain QR flow; it feeds
	// ShouldUseGoogleHost (§3 invariants).
	isGaia bool
}

// New returns an empty AuthState with freshly generated request-crypto and
// refresh keys, as created at first pairing (§3 Lifecycle).
func New() (*State, error) {
	rk, err := cryptokit.NewRequestKeys()
	if err != nil {
		return nil, err
	}
	refresh, err := cryptokit.NewRefreshKey()
	if err != nil {
		return nil, err
	}
	return &State{
		requestKeys: rk,
		refreshKey:  refresh,
		sessionID:   uuid.NewString(),
		cookies:     make(map[string]string),
	}, nil
}

// RequestKeys returns the request-crypto key pair used to encrypt/MAC
// outgoing RPC payloads and decrypt incoming ones.
func (s *State) RequestKeys() *cryptokit.RequestKeys {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.requestKeys
}

// RefreshKey returns the P-256 signing key used for periodic token
// refresh requests.
func (s *State) RefreshKey() *cryptokit.RefreshKey {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.refreshKey
}

// IsLoggedIn reports whether both a tachyon token and a browser device are
// present (§3 invariants).
func (s *State) IsLoggedIn() bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return len(s.tachyonToken) > 0 && s.browserDevice != nil
}

// NeedsTokenRefresh reports whether the token is absent or due to expire
// within tokenRefreshWindow (§4.3).
func (s *State) NeedsTokenRefresh() bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	if len(s.tachyonToken) == 0 || s.tachyonExpiry.IsZero() {
		return true
	}
	return time.Until(s.tachyonExpiry) <= tokenRefreshWindow
}

// ShouldUseGoogleHost implements §3's single hostname-selection predicate:
// the session is "Google-hosted" iff it is not a Gaia session, or the
// cookie map is non-empty.
func (s *State) ShouldUseGoogleHost() bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return !s.isGaia || len(s.cookies) > 0
}

// AuthNetwork returns the network identifier used in device triples: empty
// for the QR variant, fixed for Gaia sessions (§4.3).
func (s *State) AuthNetwork() string {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	if s.isGaia {
		return gaiaNetwork
	}
	return ""
}

// SetGaia marks this session as a Google-account (Gaia) session.
func (s *State) SetGaia(isGaia bool) {
	s.mtx.Lock()
	s.isGaia = isGaia
	s.mtx.Unlock()
}

// SetToken records a fresh tachyon token, its TTL, and derives its expiry
// from time.Now(). A zero TTL is normalized to defaultTachyonTTL (§3
// invariants).
func (s *State) SetToken(token []byte, ttl time.Duration) {
	if ttl == 0 {
		ttl = defaultTachyonTTL
	}
	s.mtx.Lock()
	s.tachyonToken = append([]byte(nil), token...)
	s.tachyonTTL = ttl
	s.tachyonExpiry = time.Now().Add(ttl)
	s.mtx.Unlock()
}

// Token returns the current bearer token, or nil if none is set.
func (s *State) Token() []byte {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return append([]byte(nil), s.tachyonToken...)
}

// SetBrowser records the browser device triple assigned at pair time.
func (s *State) SetBrowser(d DeviceTriple) {
	s.mtx.Lock()
	s.browserDevice = &d
	s.mtx.Unlock()
}

// Browser returns the browser device triple, or nil if not yet paired.
func (s *State) Browser() *DeviceTriple {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	if s.browserDevice == nil {
		return nil
	}
	cp := *s.browserDevice
	return &cp
}

// SetMobile records the paired phone's device triple.
func (s *State) SetMobile(d DeviceTriple) {
	s.mtx.Lock()
	s.mobileDevice = &d
	s.mtx.Unlock()
}

// Mobile returns the paired phone's device triple, or nil.
func (s *State) Mobile() *DeviceTriple {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	if s.mobileDevice == nil {
		return nil
	}
	cp := *s.mobileDevice
	return &cp
}

// RotateSessionID assigns a fresh session-id, as done by the facade's
// postConnect step (§4.6), and returns the new value.
func (s *State) RotateSessionID() string {
	id := uuid.NewString()
	s.mtx.Lock()
	s.sessionID = id
	s.mtx.Unlock()
	return id
}

// SessionID returns the current session-id.
func (s *State) SessionID() string {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.sessionID
}

// SetDestRegID records the Gaia destination registration id.
func (s *State) SetDestRegID(id string) {
	s.mtx.Lock()
	s.destRegID = id
	s.mtx.Unlock()
}

func (s *State) DestRegID() string {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.destRegID
}

// SetPairingID records an outstanding Gaia pairing attempt id.
func (s *State) SetPairingID(id string) {
	s.mtx.Lock()
	s.pairingID = id
	s.mtx.Unlock()
}

func (s *State) PairingID() string {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.pairingID
}

// SetCookie merges a single Set-Cookie-derived name/value pair into the
// cookie map (§4.2).
func (s *State) SetCookie(name, value string) {
	s.mtx.Lock()
	if s.cookies == nil {
		s.cookies = make(map[string]string)
	}
	s.cookies[name] = value
	s.mtx.Unlock()
}

// Cookies returns a snapshot of the cookie map.
func (s *State) Cookies() map[string]string {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	out := make(map[string]string, len(s.cookies))
	for k, v := range s.cookies {
		out[k] = v
	}
	return out
}

// SAPISID returns the SAPISID (or __Secure-1PAPISID fallback) cookie value
// and whether one is present, gating SAPISIDHASH header generation (§4.2).
func (s *State) SAPISID() (string, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	if v, ok := s.cookies["SAPISID"]; ok {
		return v, true
	}
	if v, ok := s.cookies["__Secure-1PAPISID"]; ok {
		return v, true
	}
	return "", false
}

// SetPushKeys records the browser's web-push subscription.
func (s *State) SetPushKeys(pk PushKeys) {
	s.mtx.Lock()
	s.pushKeys = &pk
	s.mtx.Unlock()
}

func (s *State) PushKeys() *PushKeys {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	if s.pushKeys == nil {
		return nil
	}
	cp := *s.pushKeys
	return &cp
}

// SetWebEncryptionKey records the key returned by GetWebEncryptionKey.
func (s *State) SetWebEncryptionKey(key []byte) {
	s.mtx.Lock()
	s.webEncryptionKey = append([]byte(nil), key...)
	s.mtx.Unlock()
}

// WebEncryptionKey returns the key recorded by SetWebEncryptionKey, or nil
// if none has been fetched yet.
func (s *State) WebEncryptionKey() []byte {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return append([]byte(nil), s.webEncryptionKey...)
}

// TachyonTTL returns the current token's configured TTL, defaulting per
// the §3 invariant.
func (s *State) TachyonTTL() time.Duration {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	if s.tachyonTTL == 0 {
		return defaultTachyonTTL
	}
	return s.tachyonTTL
}

// snapshot is the byte-faithful serialization envelope for §6.6.
type snapshot struct {
	RequestAESKey  []byte            `json:"request_aes_key"`
	RequestHMACKey []byte            `json:"request_hmac_key"`
	RefreshKeyPKCS8 []byte           `json:"refresh_key_pkcs8"`
	BrowserDevice  *DeviceTriple     `json:"browser_device,omitempty"`
	MobileDevice   *DeviceTriple     `json:"mobile_device,omitempty"`
	TachyonToken   []byte            `json:"tachyon_token,omitempty"`
	TachyonExpiry  time.Time         `json:"tachyon_expiry,omitempty"`
	TachyonTTL     time.Duration     `json:"tachyon_ttl,omitempty"`
	SessionID      string            `json:"session_id"`
	DestRegID      string            `json:"dest_reg_id,omitempty"`
	PairingID      string            `json:"pairing_id,omitempty"`
	Cookies          map[string]string `json:"cookies,omitempty"`
	PushKeys         *PushKeys         `json:"push_keys,omitempty"`
	WebEncryptionKey []byte            `json:"web_encryption_key,omitempty"`
	IsGaia           bool              `json:"is_gaia"`
}

// MarshalJSON serializes the full state for external storage (§6.6). The
// on-disk file layout is the caller's concern; this only guarantees
// round-trip fidelity of the fields that matter to this module.
func (s *State) MarshalJSON() ([]byte, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	snap := snapshot{
		SessionID:        s.sessionID,
		DestRegID:        s.destRegID,
		PairingID:        s.pairingID,
		Cookies:          s.cookies,
		PushKeys:         s.pushKeys,
		WebEncryptionKey: s.webEncryptionKey,
		IsGaia:           s.isGaia,
		BrowserDevice:    s.browserDevice,
		MobileDevice:     s.mobileDevice,
		TachyonToken:     s.tachyonToken,
		TachyonExpiry:    s.tachyonExpiry,
		TachyonTTL:       s.tachyonTTL,
	}
	if s.requestKeys != nil {
		snap.RequestAESKey = append([]byte(nil), s.requestKeys.AESKey[:]...)
		snap.RequestHMACKey = append([]byte(nil), s.requestKeys.HMACKey[:]...)
	}
	if s.refreshKey != nil {
		der, err := s.refreshKey.MarshalPrivate()
		if err != nil {
			return nil, err
		}
		snap.RefreshKeyPKCS8 = der
	}
	return json.Marshal(snap)
}

// UnmarshalJSON rehydrates a State previously produced by MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	var rk *cryptokit.RequestKeys
	if len(snap.RequestAESKey) == 32 && len(snap.RequestHMACKey) == 32 {
		rk = &cryptokit.RequestKeys{}
		copy(rk.AESKey[:], snap.RequestAESKey)
		copy(rk.HMACKey[:], snap.RequestHMACKey)
	}

	var refresh *cryptokit.RefreshKey
	if len(snap.RefreshKeyPKCS8) > 0 {
		var err error
		refresh, err = cryptokit.UnmarshalRefreshKey(snap.RefreshKeyPKCS8)
		if err != nil {
			return err
		}
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.requestKeys = rk
	s.refreshKey = refresh
	s.browserDevice = snap.BrowserDevice
	s.mobileDevice = snap.MobileDevice
	s.tachyonToken = snap.TachyonToken
	s.tachyonExpiry = snap.TachyonExpiry
	s.tachyonTTL = snap.TachyonTTL
	s.sessionID = snap.SessionID
	s.destRegID = snap.DestRegID
	s.pairingID = snap.PairingID
	s.cookies = snap.Cookies
	if s.cookies == nil {
		s.cookies = make(map[string]string)
	}
	s.pushKeys = snap.PushKeys
	s.webEncryptionKey = snap.WebEncryptionKey
	s.isGaia = snap.IsGaia
	return nil
}

// Store is the external persistence collaborator (§6.6): the on-disk file
// layout is outside this module's scope, only byte-faithful round trip is
// required of it.
type Store interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// Save serializes s and hands the bytes to store.
func (s *State) Save(store Store) error {
	data, err := s.MarshalJSON()
	if err != nil {
		return err
	}
	return store.Save(data)
}

// Load rehydrates s from store. A Store with nothing saved yet should
// return an empty byte slice and a nil error; Load treats that as a no-op.
func (s *State) Load(store Store) error {
	data, err := store.Load()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return s.UnmarshalJSON(data)
}
