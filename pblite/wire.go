// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pblite

import (
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protowire"
)

// MarshalProto serializes msg using the same `pblite:"N"` field tags, but
// produces the standard protobuf wire encoding instead of a JSON array. It
// backs the binary-override table's "nested messages become their standard
// protobuf serialization" rule (§4.1), and the raw application/x-protobuf
// pairing endpoints (§6.2) that never go through JSON at all.
//
// This module hand-maintains message shapes as tagged Go structs rather than
// generating them from .proto sources (there is no protoc in this build), so
// encoding walks the same reflection path as the pblite codec and leans on
// protowire only for the low-level varint/length-delimited primitives.
func MarshalProto(msg Message) ([]byte, error) {
	rv := reflect.ValueOf(msg)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	return marshalProtoStruct(rv)
}

func marshalProtoStruct(rv reflect.Value) ([]byte, error) {
	rt := rv.Type()
	var out []byte
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if sf.PkgPath != "" {
			continue
		}
		tag := sf.Tag.Get("pblite")
		if tag == "" || tag == "-" {
			continue
		}
		var field int
		if _, err := fmt.Sscanf(tag, "%d", &field); err != nil || field < 1 {
			continue
		}
		b, err := marshalProtoField(protowire.Number(field), rv.Field(i))
		if err != nil {
			return nil, fmt.Errorf("proto field %d (%s): %w", field, sf.Name, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

func marshalProtoField(num protowire.Number, fv reflect.Value) ([]byte, error) {
	if fv.Kind() == reflect.Slice && fv.Type().Elem().Kind() == reflect.Uint8 {
		if fv.Len() == 0 {
			return nil, nil
		}
		tagged := protowire.AppendTag(nil, num, protowire.BytesType)
		return append(tagged, appendBytes(fv.Bytes(), num)...), nil
	}
	if fv.Kind() == reflect.Slice {
		var out []byte
		for i := 0; i < fv.Len(); i++ {
			b, err := marshalProtoField(num, fv.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
		return out, nil
	}

	for fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			return nil, nil
		}
		fv = fv.Elem()
	}

	switch fv.Kind() {
	case reflect.String:
		s := fv.String()
		if s == "" {
			return nil, nil
		}
		var out []byte
		out = protowire.AppendTag(out, num, protowire.BytesType)
		out = protowire.AppendString(out, s)
		return out, nil
	case reflect.Bool:
		if !fv.Bool() {
			return nil, nil
		}
		var out []byte
		out = protowire.AppendTag(out, num, protowire.VarintType)
		out = protowire.AppendVarint(out, 1)
		return out, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := fv.Int()
		if n == 0 {
			return nil, nil
		}
		var out []byte
		out = protowire.AppendTag(out, num, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(n))
		return out, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := fv.Uint()
		if n == 0 {
			return nil, nil
		}
		var out []byte
		out = protowire.AppendTag(out, num, protowire.VarintType)
		out = protowire.AppendVarint(out, n)
		return out, nil
	case reflect.Struct:
		inner, err := marshalProtoStruct(fv)
		if err != nil {
			return nil, err
		}
		if len(inner) == 0 {
			return nil, nil
		}
		var out []byte
		out = protowire.AppendTag(out, num, protowire.BytesType)
		out = protowire.AppendBytes(out, inner)
		return out, nil
	default:
		return nil, fmt.Errorf("pblite: unsupported proto kind %s", fv.Kind())
	}
}

func appendBytes(b []byte, _ protowire.Number) []byte {
	return protowire.AppendBytes(nil, b)
}

// UnmarshalProto decodes standard protobuf wire bytes into out, using the
// same `pblite:"N"` tags. Unknown fields are skipped.
func UnmarshalProto(data []byte, out interface{}) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return ErrNotAPointer
	}
	rv = rv.Elem()
	return unmarshalProtoStruct(data, rv)
}

func unmarshalProtoStruct(data []byte, rv reflect.Value) error {
	byField := fieldsByTag(rv)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		fv, ok := byField[int(num)]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			if ok {
				setProtoScalar(fv, v)
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			if ok {
				if err := setProtoBytes(fv, v); err != nil {
					return err
				}
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

func fieldsByTag(rv reflect.Value) map[int]reflect.Value {
	rt := rv.Type()
	m := make(map[int]reflect.Value, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if sf.PkgPath != "" {
			continue
		}
		tag := sf.Tag.Get("pblite")
		if tag == "" || tag == "-" {
			continue
		}
		var field int
		if _, err := fmt.Sscanf(tag, "%d", &field); err != nil || field < 1 {
			continue
		}
		m[field] = rv.Field(i)
	}
	return m
}

func setProtoScalar(fv reflect.Value, v uint64) {
	switch fv.Kind() {
	case reflect.Bool:
		fv.SetBool(v != 0)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		fv.SetInt(int64(v))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		fv.SetUint(v)
	}
}

func setProtoBytes(fv reflect.Value, b []byte) error {
	switch {
	case fv.Kind() == reflect.Slice && fv.Type().Elem().Kind() == reflect.Uint8:
		cp := make([]byte, len(b))
		copy(cp, b)
		fv.Set(reflect.ValueOf(cp))
		return nil
	case fv.Kind() == reflect.String:
		fv.SetString(string(b))
		return nil
	case fv.Kind() == reflect.Ptr:
		if fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}
		return unmarshalProtoStruct(b, fv.Elem())
	case fv.Kind() == reflect.Struct:
		return unmarshalProtoStruct(b, fv)
	default:
		return fmt.Errorf("pblite: unsupported proto bytes kind %s", fv.Kind())
	}
}
