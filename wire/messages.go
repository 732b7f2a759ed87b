// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

// DeviceTriple is the opaque (user-id, source-id, network) identity the
// server assigns to a browser or mobile endpoint at pair time (§3).
type DeviceTriple struct {
	UserID   int64 `pblite:"1"`
	SourceID int64 `pblite:"2"`
	Network  int32 `pblite:"3"`
}

func (*DeviceTriple) PbliteName() string { return "rpc.DeviceTriple" }

// ConfigVersion is the (year, month, day, v1, v2) tuple every outgoing RPC
// attaches (§4.4 step 3).
type ConfigVersion struct {
	Year  int32 `pblite:"1"`
	Month int32 `pblite:"2"`
	Day   int32 `pblite:"3"`
	V1    int32 `pblite:"4"`
	V2    int32 `pblite:"5"`
}

func (*ConfigVersion) PbliteName() string { return "rpc.ConfigVersion" }

// ExtraData is an always-binary-encoded nested message (the override table's
// "rpc.OutgoingRPCMessage field 9" entry). It carries client platform
// metadata the server expects as a raw embedded protobuf blob rather than a
// pblite sub-array.
type ExtraData struct {
	ClientVersion string `pblite:"1"`
}

func (*ExtraData) PbliteName() string { return "rpc.ExtraData" }

// OutgoingRPCMessage is the inner payload of every outgoing RPC (§4.4, §6.4):
// request-id, action, session-id, and exactly one of the two proto-data
// fields.
type OutgoingRPCMessage struct {
	RequestID            string      `pblite:"1"`
	Type                 MessageType `pblite:"2"`
	EncryptedProtoData    []byte     `pblite:"3"`
	UnencryptedProtoData  []byte     `pblite:"4"`
	SessionID            string      `pblite:"5"`
	Action               ActionType  `pblite:"7"`
	TTLMicros            int64       `pblite:"8"`
	Extra                *ExtraData  `pblite:"9"`
}

func (*OutgoingRPCMessage) PbliteName() string { return "rpc.OutgoingRPCMessage" }

// OutgoingData wraps the inner RPC message with its routing class (§6.4).
type OutgoingData struct {
	RequestID   string              `pblite:"1"`
	BugleRoute  BugleRoute          `pblite:"2"`
	Message     *OutgoingRPCMessage `pblite:"3"`
	MessageType MessageType         `pblite:"4"`
}

func (*OutgoingData) PbliteName() string { return "rpc.OutgoingData" }

// OutgoingAuthData carries the bearer token and config version alongside the
// data envelope (§6.4).
type OutgoingAuthData struct {
	RequestID string         `pblite:"1"`
	Token     []byte         `pblite:"2"`
	Config    *ConfigVersion `pblite:"3"`
}

func (*OutgoingAuthData) PbliteName() string { return "rpc.OutgoingAuthData" }

// OutgoingEnvelope is the full outgoing wrapper posted to the messaging
// endpoint (§6.4).
type OutgoingEnvelope struct {
	Mobile      *DeviceTriple     `pblite:"1"`
	Data        *OutgoingData     `pblite:"2"`
	Auth        *OutgoingAuthData `pblite:"3"`
	DestRegIDs  []string          `pblite:"4"`
	TTLMicros   int64             `pblite:"5"`
}

func (*OutgoingEnvelope) PbliteName() string { return "rpc.OutgoingEnvelope" }

// IncomingRPCMessage is the inner payload of a data-event envelope (§4.5.3).
// Exactly one of the three data fields is populated by the server.
type IncomingRPCMessage struct {
	SessionID        string     `pblite:"1"`
	Action           ActionType `pblite:"2"`
	EncryptedData    []byte     `pblite:"3"`
	EncryptedData2   []byte     `pblite:"4"`
	UnencryptedData  []byte     `pblite:"5"`
}

func (*IncomingRPCMessage) PbliteName() string { return "rpc.IncomingRPCMessage" }

// PairedData is delivered on a successful pair event (§4.5.3).
type PairedData struct {
	Token                []byte        `pblite:"1"`
	TachyonTTLMicros     int64         `pblite:"2"`
	Mobile               *DeviceTriple `pblite:"3"`
	Browser              *DeviceTriple `pblite:"4"`
	PhoneID              string        `pblite:"5"`
}

func (*PairedData) PbliteName() string { return "rpc.PairedData" }

// RevokedData is delivered when the phone revokes the pairing (§4.5.3).
type RevokedData struct {
	Reason string `pblite:"1"`
}

func (*RevokedData) PbliteName() string { return "rpc.RevokedData" }

// PairEventData is the inner payload of a pair-event envelope.
type PairEventData struct {
	Paired  *PairedData  `pblite:"1"`
	Revoked *RevokedData `pblite:"2"`
}

func (*PairEventData) PbliteName() string { return "rpc.PairEventData" }

// IncomingEnvelope is a single decoded RPC envelope arriving on the
// long-poll stream, routed by BugleRoute (§4.5.3).
type IncomingEnvelope struct {
	BugleRoute BugleRoute          `pblite:"1"`
	Data       *IncomingRPCMessage `pblite:"2"`
	PairEvent  *PairEventData      `pblite:"3"`
	ResponseID string              `pblite:"4"`
}

func (*IncomingEnvelope) PbliteName() string { return "rpc.IncomingEnvelope" }

// AckPayload carries the backlog count used to seed the skip counter
// (§4.5.2).
type AckPayload struct {
	Count int32 `pblite:"1"`
}

func (*AckPayload) PbliteName() string { return "rpc.AckPayload" }

// LongPollingPayload is a single element of the `[[...]]` stream (§4.5.2):
// exactly one of Data, Ack, StartRead, Heartbeat is populated.
type LongPollingPayload struct {
	Data      *IncomingEnvelope `pblite:"1"`
	Ack       *AckPayload       `pblite:"2"`
	StartRead *StartReadPayload `pblite:"3"`
	Heartbeat *HeartbeatPayload `pblite:"4"`
}

func (*LongPollingPayload) PbliteName() string { return "rpc.LongPollingPayload" }

type StartReadPayload struct{}

func (*StartReadPayload) PbliteName() string { return "rpc.StartReadPayload" }

type HeartbeatPayload struct{}

func (*HeartbeatPayload) PbliteName() string { return "rpc.HeartbeatPayload" }

// ConversationItem/MessageItem carry the high-level domain payload verbatim;
// decoding them further is the out-of-scope "high-level RPC wrapper" layer
// (§1).
type ConversationItem struct {
	Data []byte `pblite:"1"`
}

func (*ConversationItem) PbliteName() string { return "rpc.ConversationItem" }

type MessageItem struct {
	Data []byte `pblite:"1"`
}

func (*MessageItem) PbliteName() string { return "rpc.MessageItem" }

type ConversationEvent struct {
	UpdateID string              `pblite:"1"`
	Items    []ConversationItem `pblite:"2"`
}

func (*ConversationEvent) PbliteName() string { return "rpc.ConversationEvent" }

type MessageEvent struct {
	UpdateID string        `pblite:"1"`
	Items    []MessageItem `pblite:"2"`
}

func (*MessageEvent) PbliteName() string { return "rpc.MessageEvent" }

type TypingEvent struct {
	ConversationID string `pblite:"1"`
	IsTyping       bool   `pblite:"2"`
}

func (*TypingEvent) PbliteName() string { return "rpc.TypingEvent" }

type UserAlertEvent struct {
	AlertType int32 `pblite:"1"`
}

func (*UserAlertEvent) PbliteName() string { return "rpc.UserAlertEvent" }

type SettingsEvent struct {
	Data []byte `pblite:"1"`
}

func (*SettingsEvent) PbliteName() string { return "rpc.SettingsEvent" }

type AccountChangeEvent struct {
	Account    string `pblite:"1"`
	ChangeType int32  `pblite:"2"`
}

func (*AccountChangeEvent) PbliteName() string { return "rpc.AccountChangeEvent" }

type BrowserPresenceCheckEvent struct{}

func (*BrowserPresenceCheckEvent) PbliteName() string { return "rpc.BrowserPresenceCheckEvent" }

// UpdateEnvelope is the decrypted payload of a GET_UPDATES data-event
// (§4.5.3 "updates handler"); exactly one variant is populated.
type UpdateEnvelope struct {
	Conversation         *ConversationEvent         `pblite:"1"`
	Message              *MessageEvent              `pblite:"2"`
	Typing               *TypingEvent               `pblite:"3"`
	UserAlert            *UserAlertEvent            `pblite:"4"`
	Settings             *SettingsEvent             `pblite:"5"`
	AccountChange        *AccountChangeEvent        `pblite:"6"`
	BrowserPresenceCheck *BrowserPresenceCheckEvent `pblite:"7"`
}

func (*UpdateEnvelope) PbliteName() string { return "rpc.UpdateEnvelope" }

// ReceiveMessagesRequest opens the long-poll stream (§4.5.1).
type ReceiveMessagesRequest struct {
	RequestID string `pblite:"1"`
}

func (*ReceiveMessagesRequest) PbliteName() string { return "rpc.ReceiveMessagesRequest" }

// PushRegistration is attached to a refresh request iff push keys are
// configured (§4.5.5).
type PushRegistration struct {
	Endpoint string `pblite:"1"`
	P256DH   []byte `pblite:"2"`
	Auth     []byte `pblite:"3"`
}

func (*PushRegistration) PbliteName() string { return "rpc.PushRegistration" }

// RegisterRefreshRequest refreshes the tachyon token (§4.5.5).
type RegisterRefreshRequest struct {
	RequestID        string            `pblite:"1"`
	TimestampMicros  int64             `pblite:"2"`
	CurrentToken     []byte            `pblite:"3"`
	Signature        []byte            `pblite:"4"`
	PushRegistration *PushRegistration `pblite:"5"`
}

func (*RegisterRefreshRequest) PbliteName() string { return "rpc.RegisterRefreshRequest" }

type RegisterRefreshResponse struct {
	Token     []byte `pblite:"1"`
	TTLMicros int64  `pblite:"2"`
}

func (*RegisterRefreshResponse) PbliteName() string { return "rpc.RegisterRefreshResponse" }

// RegisterPhoneRelayRequest/Response back the QR pairing RPC (§4.6
// startLogin).
type RegisterPhoneRelayRequest struct {
	PairingKey      []byte `pblite:"1"`
	RefreshKeyPub   []byte `pblite:"2"`
}

func (*RegisterPhoneRelayRequest) PbliteName() string { return "rpc.RegisterPhoneRelayRequest" }

type RegisterPhoneRelayResponse struct {
	Token   []byte        `pblite:"1"`
	Browser *DeviceTriple `pblite:"2"`
}

func (*RegisterPhoneRelayResponse) PbliteName() string { return "rpc.RegisterPhoneRelayResponse" }

// GetWebEncryptionKeyRequest/Response and RevokeRelayPairingRequest/Response
// back the remaining two pairing-service RPCs named by §6.1; neither is an
// explicit §4.6 facade operation, but both are cheap, well-understood
// additions to the pairing lifecycle the other two already cover.
type GetWebEncryptionKeyRequest struct{}

func (*GetWebEncryptionKeyRequest) PbliteName() string { return "rpc.GetWebEncryptionKeyRequest" }

type GetWebEncryptionKeyResponse struct {
	Key []byte `pblite:"1"`
}

func (*GetWebEncryptionKeyResponse) PbliteName() string { return "rpc.GetWebEncryptionKeyResponse" }

type RevokeRelayPairingRequest struct {
	Browser *DeviceTriple `pblite:"1"`
}

func (*RevokeRelayPairingRequest) PbliteName() string { return "rpc.RevokeRelayPairingRequest" }

type RevokeRelayPairingResponse struct {
	Browser *DeviceTriple `pblite:"1"`
}

func (*RevokeRelayPairingResponse) PbliteName() string { return "rpc.RevokeRelayPairingResponse" }

// AckItem/AckMessagesRequest batch acknowledges processed response ids
// (§4.4).
type AckItem struct {
	ResponseID string `pblite:"1"`
}

func (*AckItem) PbliteName() string { return "rpc.AckItem" }

type AckMessagesRequest struct {
	Acks []AckItem `pblite:"1"`
}

func (*AckMessagesRequest) PbliteName() string { return "rpc.AckMessagesRequest" }

// NotifyDittoActivityRequest is the ditto pinger's probe RPC (§4.5.4).
type NotifyDittoActivityRequest struct {
	Success bool `pblite:"1"`
}

func (*NotifyDittoActivityRequest) PbliteName() string { return "rpc.NotifyDittoActivityRequest" }

// URLData is serialized and base64-embedded in the QR pairing URL (§6.5).
type URLData struct {
	PairingKey []byte `pblite:"1"`
	AESKey     []byte `pblite:"2"`
	HMACKey    []byte `pblite:"3"`
}

func (*URLData) PbliteName() string { return "rpc.URLData" }
