// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cryptokit

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// RefreshKey is the P-256 signing key whose PKIX SPKI DER public form is
// submitted during pairing, and whose private half signs periodic refresh
// requests (§3).
type RefreshKey struct {
	priv *ecdsa.PrivateKey
}

// NewRefreshKey generates a fresh P-256 key pair.
func NewRefreshKey() (*RefreshKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &RefreshKey{priv: priv}, nil
}

// PublicKeyPKIX returns the PKIX SPKI DER encoding of the public key (§3,
// §6.5).
func (k *RefreshKey) PublicKeyPKIX() ([]byte, error) {
	return x509.MarshalPKIXPublicKey(&k.priv.PublicKey)
}

// Sign produces an ASN.1 DER-encoded ECDSA-P256-SHA256 signature over
// message (§4.5.5's `"<requestID>:<timestamp>"` refresh signature).
func (k *RefreshKey) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	return ecdsa.SignASN1(rand.Reader, k.priv, digest[:])
}

// VerifyWithPKIX verifies an ASN.1 DER signature against a PKIX SPKI DER
// encoded P-256 public key.
func VerifyWithPKIX(pubPKIX, message, sig []byte) (bool, error) {
	pub, err := x509.ParsePKIXPublicKey(pubPKIX)
	if err != nil {
		return false, err
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return false, fmt.Errorf("cryptokit: not an ECDSA public key: %T", pub)
	}
	digest := sha256.Sum256(message)
	return ecdsa.VerifyASN1(ecPub, digest[:], sig), nil
}

// MarshalPrivate/UnmarshalPrivate round-trip the private key for AuthState
// serialization (§6.6 "refresh-key JWK"); we keep it as raw PKCS8 DER rather
// than JWK JSON, since the core only promises byte-faithful round trip and
// leaves the on-disk envelope format to the caller.
func (k *RefreshKey) MarshalPrivate() ([]byte, error) {
	return x509.MarshalPKCS8PrivateKey(k.priv)
}

func UnmarshalRefreshKey(der []byte) (*RefreshKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("cryptokit: not an ECDSA private key: %T", key)
	}
	return &RefreshKey{priv: priv}, nil
}

// HKDFExpand derives outLen bytes from secret using HKDF-SHA256 with the
// given salt and info, used to fold a raw ECDH shared secret (or any other
// keying material) into fixed-size symmetric keys.
func HKDFExpand(secret, salt, info []byte, outLen int) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, info)
	out := make([]byte, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
