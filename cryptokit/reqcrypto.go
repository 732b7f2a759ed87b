// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package cryptokit implements the request-payload AES-CTR+HMAC envelope
// cipher, the media AES-GCM chunk stream, P-256 signing/agreement, HKDF, and
// PKIX SPKI DER encoding used throughout the auth and session layers (§3,
// §6.4, §6.5). It mirrors the shape of companyzero/zkc's blobshare package —
// small pure functions over byte slices, no package-level state — adapted
// from NaCl secretbox to the AES primitives this protocol actually requires.
package cryptokit

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
)

const (
	aesKeySize  = 32
	hmacKeySize = 32
	ivSize      = 16
	hmacSize    = sha256.Size
)

var (
	ErrCiphertextTooShort = errors.New("cryptokit: ciphertext too short")
	ErrHMACMismatch       = errors.New("cryptokit: hmac verification failed")
	ErrBadKeySize         = errors.New("cryptokit: key must be 32 bytes")
)

// RequestKeys is the pair of keys AuthState holds to encrypt/MAC the
// protobuf payload inside outgoing RPC envelopes (§3).
type RequestKeys struct {
	AESKey  [aesKeySize]byte
	HMACKey [hmacKeySize]byte
}

// NewRequestKeys generates a fresh random key pair.
func NewRequestKeys() (*RequestKeys, error) {
	var k RequestKeys
	if _, err := io.ReadFull(rand.Reader, k.AESKey[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rand.Reader, k.HMACKey[:]); err != nil {
		return nil, err
	}
	return &k, nil
}

// EncryptRequest produces `ciphertext|iv(16)|hmac-sha256(ciphertext||iv)(32)`
// (§6.4): AES-256-CTR keystream keyed by AESKey, then an HMAC-SHA256 over
// ciphertext||iv keyed by HMACKey.
func (k *RequestKeys) EncryptRequest(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(k.AESKey[:])
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, plaintext)

	mac := hmac.New(sha256.New, k.HMACKey[:])
	mac.Write(ciphertext)
	mac.Write(iv)
	tag := mac.Sum(nil)

	out := make([]byte, 0, len(ciphertext)+ivSize+hmacSize)
	out = append(out, ciphertext...)
	out = append(out, iv...)
	out = append(out, tag...)
	return out, nil
}

// DecryptRequest is the inverse of EncryptRequest. A single bit flip
// anywhere in ciphertext|iv|hmac makes this fail (§8 testable property).
func (k *RequestKeys) DecryptRequest(blob []byte) ([]byte, error) {
	if len(blob) < ivSize+hmacSize {
		return nil, ErrCiphertextTooShort
	}

	ctLen := len(blob) - ivSize - hmacSize
	ciphertext := blob[:ctLen]
	iv := blob[ctLen : ctLen+ivSize]
	tag := blob[ctLen+ivSize:]

	mac := hmac.New(sha256.New, k.HMACKey[:])
	mac.Write(ciphertext)
	mac.Write(iv)
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, tag) {
		return nil, ErrHMACMismatch
	}

	block, err := aes.NewCipher(k.AESKey[:])
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, ctLen)
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}
