// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package client

import "fmt"

// The two backing hostnames named by §6.1: pairing/upload live on the
// googleapis.com variant, everything else on clients6.google.com.
const (
	googleAPIsHost = "https://instantmessaging-pa.googleapis.com"
	clients6Host   = "https://instantmessaging-pa.clients6.google.com"

	pairingService      = "google.internal.communications.instantmessaging.v1.Pairing"
	messagingService    = "google.internal.communications.instantmessaging.v1.Messaging"
	registrationService = "google.internal.communications.instantmessaging.v1.Registration"
)

func rpcURL(host, service, method string) string {
	return fmt.Sprintf("%s/$rpc/%s/%s", host, service, method)
}

// Endpoints names every URL this client posts to. The zero value is
// invalid; DefaultEndpoints fills in the production hostnames, tests
// override individual fields to point at an httptest server.
type Endpoints struct {
	RegisterPhoneRelay  string
	RefreshPhoneRelay   string
	GetWebEncryptionKey string
	RevokeRelayPairing  string

	ReceiveMessages string
	SendMessage     string
	AckMessages     string

	RegisterRefresh string

	// ReceiveGoogleHost/ReceiveDefaultHost are the two long-poll stream
	// targets selected per AuthState.ShouldUseGoogleHost (§3, §6.1);
	// ReceiveMessages above feeds both when left unset by the caller.
	ReceiveGoogleHost  string
	ReceiveDefaultHost string
}

// DefaultEndpoints returns the production RPC endpoints (§6.1).
func DefaultEndpoints() Endpoints {
	receive := rpcURL(clients6Host, messagingService, "ReceiveMessages")
	return Endpoints{
		RegisterPhoneRelay:  rpcURL(googleAPIsHost, pairingService, "RegisterPhoneRelay"),
		RefreshPhoneRelay:   rpcURL(googleAPIsHost, pairingService, "RefreshPhoneRelay"),
		GetWebEncryptionKey: rpcURL(googleAPIsHost, pairingService, "GetWebEncryptionKey"),
		RevokeRelayPairing:  rpcURL(googleAPIsHost, pairingService, "RevokeRelayPairing"),

		ReceiveMessages: receive,
		SendMessage:     rpcURL(clients6Host, messagingService, "SendMessage"),
		AckMessages:     rpcURL(clients6Host, messagingService, "AckMessages"),

		RegisterRefresh: rpcURL(clients6Host, registrationService, "RegisterRefresh"),

		ReceiveGoogleHost:  rpcURL(googleAPIsHost, messagingService, "ReceiveMessages"),
		ReceiveDefaultHost: receive,
	}
}
