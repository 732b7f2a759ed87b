// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pblite

// overrideKey identifies a single field, inside a single fully-qualified
// message name, whose pblite encoding must treat the value as opaque binary
// regardless of the Go-level field type. Keeping this as data (a table) means
// a newly discovered override never touches the codec itself, only this
// table — see DESIGN.md.
type overrideKey struct {
	message string
	field   int
}

// binaryOverrides lists every (message, field) pair that the wire protocol
// requires to be treated as opaque binary: strings are emitted as their UTF-8
// bytes, base64-encoded; nested messages are emitted as their standard
// protobuf serialization, base64-encoded.
var binaryOverrides = map[overrideKey]bool{
	{"authentication.SignInGaiaRequest.Inner", 36}:                true,
	{"authentication.SignInGaiaResponse", 2}:                       true,
	{"authentication.RPCGaiaData.UnknownContainer.Item2.Item1", 1}: true,
	{"authentication.RPCGaiaData.UnknownContainer.Item4", 1}:       true,
	{"authentication.RPCGaiaData.UnknownContainer.Item4", 8}:       true,
	{"rpc.OutgoingRPCMessage", 9}:                                  true,
}

// IsBinaryOverride reports whether field (1-based, protobuf field number) of
// message must be encoded as opaque binary rather than its natural JSON
// representation.
func IsBinaryOverride(message string, field int) bool {
	return binaryOverrides[overrideKey{message, field}]
}

// RegisterOverride adds an entry to the override table. It exists so callers
// embedding an additional, as-yet-undocumented message variant can extend the
// table without forking the codec.
func RegisterOverride(message string, field int) {
	binaryOverrides[overrideKey{message, field}] = true
}
