// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package qrcode builds the pairing QR URL's wire payload. Rendering a
// scannable QR image is out of scope (§1); this package only produces the
// URL string a caller would hand to any QR renderer.
package qrcode

import (
	"encoding/base64"
	"fmt"

	"github.com/companyzero/mfw/pblite"
	"github.com/companyzero/mfw/wire"
)

const urlPrefix = "https://support.google.com/messages/?p=web_computer#?c="

// BuildURL serializes {pairingKey, aesKey, hmacKey} as a protobuf URLData
// message and embeds it, standard-base64-encoded, in the pairing URL
// (§6.5).
func BuildURL(pairingKey, aesKey, hmacKey []byte) (string, error) {
	data := &wire.URLData{
		PairingKey: pairingKey,
		AESKey:     aesKey,
		HMACKey:    hmacKey,
	}
	raw, err := pblite.MarshalProto(data)
	if err != nil {
		return "", err
	}
	return urlPrefix + base64.StdEncoding.EncodeToString(raw), nil
}

// ParseURL is the inverse of BuildURL, mainly useful for tests asserting
// the round trip named in §8 scenario 1.
func ParseURL(url string) (*wire.URLData, error) {
	if len(url) <= len(urlPrefix) || url[:len(urlPrefix)] != urlPrefix {
		return nil, fmt.Errorf("qrcode: not a pairing url: %q", url)
	}
	raw, err := base64.StdEncoding.DecodeString(url[len(urlPrefix):])
	if err != nil {
		return nil, err
	}
	var out wire.URLData
	if err := pblite.UnmarshalProto(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
