// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpc

import (
	"time"

	"github.com/google/uuid"

	"github.com/companyzero/mfw/auth"
	"github.com/companyzero/mfw/wire"
)

// ConfigVersion is the fixed (year, month, day, v1, v2) tuple attached to
// every outgoing envelope (§4.4 step 3). It is a real type, not four
// anonymous literals, because send/refresh/ack all need the exact same
// value (SPEC_FULL supplemental feature 3).
type ConfigVersion = wire.ConfigVersion

// DefaultConfigVersion is the version tuple this client presents to the
// service.
var DefaultConfigVersion = ConfigVersion{Year: 2024, Month: 10, Day: 1, V1: 4, V2: 6}

// BuildOptions customizes a single envelope (§4.4 step 2-4).
type BuildOptions struct {
	RequestID  string // overrides the generated UUID if non-empty
	Unencrypted bool  // places payload in unencrypted_proto_data
	TTL        time.Duration
	OmitTTL    bool
	Type       wire.MessageType // defaults to BUGLE_MESSAGE
}

// Build assembles a complete outgoing envelope for action carrying payload,
// per §4.4/§6.4. It returns the envelope and the request-id that was
// assigned (generated or honored from opts.RequestID), which is also the
// waiter-table key.
func Build(st *auth.State, action wire.ActionType, payload []byte, opts BuildOptions) (*wire.OutgoingEnvelope, string, error) {
	requestID := opts.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	msgType := opts.Type
	if msgType == wire.MessageTypeUnknown {
		msgType = wire.MessageTypeBugleMessage
	}

	inner := &wire.OutgoingRPCMessage{
		RequestID: requestID,
		Type:      msgType,
		SessionID: st.SessionID(),
		Action:    action,
	}

	if opts.Unencrypted {
		inner.UnencryptedProtoData = payload
	} else {
		enc, err := st.RequestKeys().EncryptRequest(payload)
		if err != nil {
			return nil, "", err
		}
		inner.EncryptedProtoData = enc
	}

	if !opts.OmitTTL {
		ttl := opts.TTL
		if ttl == 0 {
			ttl = st.TachyonTTL()
		}
		inner.TTLMicros = ttl.Microseconds()
	}

	env := &wire.OutgoingEnvelope{
		Mobile: deviceTripleToWire(st.Mobile()),
		Data: &wire.OutgoingData{
			RequestID:   requestID,
			BugleRoute:  wire.BugleRouteDataEvent,
			Message:     inner,
			MessageType: msgType,
		},
		Auth: &wire.OutgoingAuthData{
			RequestID: requestID,
			Token:     st.Token(),
			Config:    &DefaultConfigVersion,
		},
	}
	if reg := st.DestRegID(); reg != "" {
		env.DestRegIDs = []string{reg}
	}
	if !opts.OmitTTL {
		env.TTLMicros = inner.TTLMicros
	}

	return env, requestID, nil
}

func deviceTripleToWire(d *auth.DeviceTriple) *wire.DeviceTriple {
	if d == nil {
		return nil
	}
	return &wire.DeviceTriple{UserID: d.UserID, SourceID: d.SourceID, Network: d.Network}
}

// DecryptIncoming decrypts an incoming data envelope's payload, picking the
// field populated by the server (§4.5.3): encrypted_data uses AES-CTR+HMAC;
// encrypted_data2 likewise (callers apply the account-change hack
// afterwards); unencrypted_data is returned verbatim.
func DecryptIncoming(st *auth.State, msg *wire.IncomingRPCMessage) ([]byte, error) {
	switch {
	case len(msg.EncryptedData) > 0:
		return st.RequestKeys().DecryptRequest(msg.EncryptedData)
	case len(msg.EncryptedData2) > 0:
		return st.RequestKeys().DecryptRequest(msg.EncryptedData2)
	default:
		return msg.UnencryptedData, nil
	}
}
