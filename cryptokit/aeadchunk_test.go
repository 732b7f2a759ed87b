// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cryptokit

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"
)

func randKey(t *testing.T) *[32]byte {
	t.Helper()
	var k [32]byte
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		t.Fatal(err)
	}
	return &k
}

func TestChunkRoundTripArbitrarySizes(t *testing.T) {
	key := randKey(t)
	var nonce [12]byte
	io.ReadFull(rand.Reader, nonce[:])

	sizes := []int{0, 1, 100, ChunkPlaintextSize - 1, ChunkPlaintextSize,
		ChunkPlaintextSize + 1, ChunkPlaintextSize*2 + 37}

	for _, size := range sizes {
		plaintext := make([]byte, size)
		rand.Read(plaintext)

		ct, err := EncryptChunks(key, nonce, plaintext)
		if err != nil {
			t.Fatalf("size %d: encrypt: %v", size, err)
		}
		pt, err := DecryptChunks(key, nonce, ct)
		if err != nil {
			t.Fatalf("size %d: decrypt: %v", size, err)
		}
		if !bytes.Equal(pt, plaintext) {
			t.Fatalf("size %d: round trip mismatch", size)
		}
	}
}

func TestChunkWriterMatchesBulkEncrypt(t *testing.T) {
	key := randKey(t)
	var nonce [12]byte
	io.ReadFull(rand.Reader, nonce[:])

	plaintext := make([]byte, ChunkPlaintextSize*2+123)
	rand.Read(plaintext)

	var buf bytes.Buffer
	cw, err := NewChunkWriter(&buf, key, nonce)
	if err != nil {
		t.Fatal(err)
	}
	// write in odd-sized pieces to exercise internal buffering
	for i := 0; i < len(plaintext); i += 777 {
		end := i + 777
		if end > len(plaintext) {
			end = len(plaintext)
		}
		if _, err := cw.Write(plaintext[i:end]); err != nil {
			t.Fatal(err)
		}
	}
	if err := cw.Close(); err != nil {
		t.Fatal(err)
	}

	pt, err := DecryptChunks(key, nonce, buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatal("ChunkWriter output does not decrypt back to the original plaintext")
	}
}
