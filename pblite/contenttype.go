// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pblite

import "strings"

// Codec names the wire encoding selected for a response body.
type Codec int

const (
	CodecPblite Codec = iota
	CodecProtobuf
)

// SelectCodec maps a response Content-Type header to the codec that must be
// used to decode the body (§4.1, §6.2). Google's messaging endpoints may
// answer application/x-protobuf, application/json+protobuf, or text/plain;
// text/plain is pblite in disguise. Anything else falls back to pblite, then
// protobuf, per spec.
func SelectCodec(contentType string) Codec {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	switch ct {
	case "application/x-protobuf":
		return CodecProtobuf
	case "application/json+protobuf", "text/plain", "application/json":
		return CodecPblite
	default:
		return CodecPblite
	}
}

// DecodeBody decodes body into out using the codec selected by contentType,
// retrying with the other codec once on failure ("protobuf first, then
// pblite" fallback named in §4.1).
func DecodeBody(contentType string, body []byte, out Message) error {
	switch SelectCodec(contentType) {
	case CodecProtobuf:
		if err := UnmarshalProto(body, out); err == nil {
			return nil
		}
		return Decode(body, out)
	default:
		if err := Decode(body, out); err == nil {
			return nil
		}
		return UnmarshalProto(body, out)
	}
}
