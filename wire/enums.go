// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wire holds the pblite-tagged message catalog exchanged with the
// instantmessaging-pa services: outgoing RPC envelopes, the long-poll
// stream's payload variants, and the handful of Gaia/auth messages needed to
// exercise the binary-override table (§4.1).
package wire

// BugleRoute selects how an envelope is routed once it arrives: a pairing
// handshake event, an opaque Gaia event (ignored, §4.5.3), or a normal RPC
// response/update.
type BugleRoute int32

const (
	BugleRouteUnknown   BugleRoute = 0
	BugleRoutePairEvent BugleRoute = 1
	BugleRouteDataEvent BugleRoute = 2
	BugleRouteGaiaEvent BugleRoute = 3
)

// MessageType selects the serialization wrapper around the inner RPC
// payload (§9 design note (c)).
type MessageType int32

const (
	MessageTypeUnknown    MessageType = 0
	MessageTypeBugleMessage    MessageType = 1
	MessageTypeBugleAnnotation MessageType = 2
	MessageTypeGaia2           MessageType = 3
)

// ActionType enumerates the RPC action carried by an inner payload. Only the
// actions referenced by this spec are named; others pass through as their
// numeric value.
type ActionType int32

const (
	ActionUnknown            ActionType = 0
	ActionGetUpdates         ActionType = 1
	ActionSendMessage        ActionType = 2
	ActionAckMessages        ActionType = 3
	ActionIsBugleDefault     ActionType = 4
	ActionNotifyDittoActivity ActionType = 5
	ActionGaiaPairingStart   ActionType = 6
	ActionGaiaPairingFinish  ActionType = 7
)

// IsGaiaPairingAction reports whether a the two Gaia pairing actions named by
// §4.4's phantom-filter rule.
func (a ActionType) IsGaiaPairingAction() bool {
	return a == ActionGaiaPairingStart || a == ActionGaiaPairingFinish
}
