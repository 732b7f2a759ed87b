// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cryptokit

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	k, err := NewRequestKeys()
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	blob, err := k.EncryptRequest(plaintext)
	if err != nil {
		t.Fatal(err)
	}

	got, err := k.DecryptRequest(blob)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestSingleBitFlipFailsDecryption(t *testing.T) {
	k, err := NewRequestKeys()
	if err != nil {
		t.Fatal(err)
	}

	blob, err := k.EncryptRequest([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}

	for i := range blob {
		corrupt := append([]byte(nil), blob...)
		corrupt[i] ^= 0x01
		if _, err := k.DecryptRequest(corrupt); err == nil {
			t.Fatalf("byte %d: expected decryption failure after bit flip", i)
		}
	}
}

func TestTruncatedCiphertextRejected(t *testing.T) {
	k, _ := NewRequestKeys()
	if _, err := k.DecryptRequest([]byte("short")); err != ErrCiphertextTooShort {
		t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
	}
}
