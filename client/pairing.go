// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/companyzero/mfw/auth"
	"github.com/companyzero/mfw/httpx"
	"github.com/companyzero/mfw/internal/qrcode"
	"github.com/companyzero/mfw/pblite"
	"github.com/companyzero/mfw/wire"
)

// pairingKeySize is the length of the random value correlating a
// RegisterPhoneRelay request with the QR code the phone scans (§6.5); it
// has no documented significance beyond being the same size as the
// request-crypto keys it travels alongside.
const pairingKeySize = 16

// StartLogin implements §4.6's startLogin: register a fresh phone relay,
// apply whatever token the service hands back, start the long-poll stream
// immediately so the eventual pair event can't be missed, and compose the
// QR URL the phone scans to complete pairing.
//
// Pairing-service RPCs are raw protobuf over application/x-protobuf
// (§6.2): they bypass rpc.Session and rpc.Build entirely, since those
// build DATA_EVENT-wrapped messaging envelopes whose response arrives on
// the long-poll stream, not in the POST body.
func (c *Client) StartLogin(ctx context.Context) (string, error) {
	pairingKey := make([]byte, pairingKeySize)
	if _, err := rand.Read(pairingKey); err != nil {
		return "", fmt.Errorf("client: generating pairing key: %w", err)
	}

	refreshPub, err := c.auth.RefreshKey().PublicKeyPKIX()
	if err != nil {
		return "", fmt.Errorf("client: exporting refresh public key: %w", err)
	}

	req := &wire.RegisterPhoneRelayRequest{
		PairingKey:    pairingKey,
		RefreshKeyPub: refreshPub,
	}
	resp, err := c.postPairing(ctx, c.endpoints.RegisterPhoneRelay, req, &wire.RegisterPhoneRelayResponse{})
	if err != nil {
		return "", err
	}
	out := resp.(*wire.RegisterPhoneRelayResponse)

	c.auth.SetToken(out.Token, 0)
	if out.Browser != nil {
		c.auth.SetBrowser(auth.DeviceTriple{
			UserID: out.Browser.UserID, SourceID: out.Browser.SourceID, Network: out.Browser.Network,
		})
	}

	if _, err := c.startRun(); err != nil {
		return "", err
	}

	keys := c.auth.RequestKeys()
	return qrcode.BuildURL(pairingKey, keys.AESKey[:], keys.HMACKey[:])
}

// GetWebEncryptionKey fetches and records the pairing-lifecycle web
// encryption key (§6.1, §6.6). It is not one of §4.6's named facade
// operations, but the RPC it backs is part of the same pairing service as
// RegisterPhoneRelay and costs nothing extra to expose.
func (c *Client) GetWebEncryptionKey(ctx context.Context) ([]byte, error) {
	resp, err := c.postPairing(ctx, c.endpoints.GetWebEncryptionKey,
		&wire.GetWebEncryptionKeyRequest{}, &wire.GetWebEncryptionKeyResponse{})
	if err != nil {
		return nil, err
	}
	out := resp.(*wire.GetWebEncryptionKeyResponse)
	c.auth.SetWebEncryptionKey(out.Key)
	return out.Key, nil
}

// RevokeRelayPairing asks the pairing service to revoke the current
// browser's relay pairing (§6.1). Like GetWebEncryptionKey, it rounds out
// the pairing service rather than answering a named §4.6 operation.
func (c *Client) RevokeRelayPairing(ctx context.Context) error {
	req := &wire.RevokeRelayPairingRequest{}
	if d := c.auth.Browser(); d != nil {
		req.Browser = &wire.DeviceTriple{UserID: d.UserID, SourceID: d.SourceID, Network: d.Network}
	}
	_, err := c.postPairing(ctx, c.endpoints.RevokeRelayPairing, req, &wire.RevokeRelayPairingResponse{})
	return err
}

// postPairing posts req as raw protobuf and decodes the response into out,
// which it returns for the caller to type-assert (§6.2).
func (c *Client) postPairing(ctx context.Context, url string, req pblite.Message, out pblite.Message) (pblite.Message, error) {
	body, err := pblite.MarshalProto(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Post(ctx, url, body, httpx.EncodingProtobuf)
	if err != nil {
		return nil, err
	}
	if err := pblite.UnmarshalProto(resp.Body, out); err != nil {
		return nil, err
	}
	return out, nil
}
