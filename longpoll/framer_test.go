// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package longpoll

import (
	"io"
	"strings"
	"testing"
)

func TestFramerParsesThreeElementsInOrder(t *testing.T) {
	f := NewFramer(strings.NewReader(`[[[1,"a"],[2,"b"],[3,"c"]]]`))

	var got []interface{}
	for {
		v, err := f.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, v)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(got))
	}
	first := got[0].([]interface{})
	if first[0].(float64) != 1 || first[1].(string) != "a" {
		t.Fatalf("unexpected first element: %v", first)
	}
}

func TestFramerRejectsBadPrefix(t *testing.T) {
	f := NewFramer(strings.NewReader(`{"not":"an array"}`))
	_, err := f.Next()
	if err != ErrBadPrefix {
		t.Fatalf("expected ErrBadPrefix, got %v", err)
	}
}

func TestFramerEOFOnEmptyStream(t *testing.T) {
	f := NewFramer(strings.NewReader(`[[]]`))
	_, err := f.Next()
	if err != io.EOF {
		t.Fatalf("expected io.EOF for an empty stream, got %v", err)
	}
}

func TestFramerEOFOnBareConnectionClose(t *testing.T) {
	f := NewFramer(strings.NewReader(`[[[1]`))
	v, err := f.Next()
	if err != nil {
		t.Fatal(err)
	}
	if v.([]interface{})[0].(float64) != 1 {
		t.Fatalf("unexpected element: %v", v)
	}
	_, err = f.Next()
	if err != io.EOF {
		t.Fatalf("expected io.EOF after a bare connection close, got %v", err)
	}
}

func TestFramerFatalOnOversizeElement(t *testing.T) {
	huge := `[` + strings.Repeat("1", maxElementSize+10)
	f := NewFramer(strings.NewReader("[[" + huge))
	_, err := f.Next()
	if err != ErrElementTooLarge {
		t.Fatalf("expected ErrElementTooLarge, got %v", err)
	}
}
