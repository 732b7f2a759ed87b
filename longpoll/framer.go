// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package longpoll

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxElementSize is the fatal overflow cap on a single accumulated element
// (§4.5.2).
const maxElementSize = 10 * 1024 * 1024

var (
	ErrBadPrefix  = errors.New("longpoll: stream did not open with \"[[\"")
	ErrElementTooLarge = errors.New("longpoll: element exceeds 10MB cap")
)

// Framer turns the long-poll body's `[[ e1 , e2 , ... ]]` framing into a
// sequence of parsed JSON values, one per element (§4.5.2, §6.3). It
// consumes byte-by-byte so a single malformed element never desynchronizes
// the stream: the accumulation buffer is cleared unconditionally once a
// candidate element parses, even if the caller later fails to decode its
// protobuf layer.
type Framer struct {
	r   *bufio.Reader
	buf []byte

	sawOpen bool
	done    bool
}

// NewFramer wraps r. The opening "[[" is consumed lazily on the first Next
// call so construction never blocks on I/O.
func NewFramer(r io.Reader) *Framer {
	return &Framer{r: bufio.NewReader(r)}
}

// Next returns the next element's parsed JSON value, or io.EOF once the
// stream closes cleanly (either via "]]" or bare EOF, per §4.5.2/§6.3).
func (f *Framer) Next() (interface{}, error) {
	if f.done {
		return nil, io.EOF
	}
	if !f.sawOpen {
		if err := f.consumeOpen(); err != nil {
			return nil, err
		}
		f.sawOpen = true
	}

	for {
		b, err := f.r.ReadByte()
		if err != nil {
			f.done = true
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, err
		}

		// end of the outer array: the lone remaining "]" after an element's
		// closing "]" was already consumed as part of that element's JSON,
		// or this is the bare "]]" terminator with nothing pending.
		if b == ']' && len(f.buf) == 0 {
			f.done = true
			return nil, io.EOF
		}
		if b == ',' && len(f.buf) == 0 {
			continue
		}

		f.buf = append(f.buf, b)
		if len(f.buf) > maxElementSize {
			f.done = true
			return nil, ErrElementTooLarge
		}

		if b != ']' {
			continue
		}

		var v interface{}
		if err := json.Unmarshal(f.buf, &v); err != nil {
			// not yet a complete value (an inner "]" closing a nested
			// array/object) — keep accumulating.
			continue
		}
		f.buf = f.buf[:0]
		return v, nil
	}
}

// consumeOpen reads and validates the two leading '[' bytes.
func (f *Framer) consumeOpen() error {
	var got [2]byte
	for i := range got {
		b, err := f.r.ReadByte()
		if err != nil {
			return fmt.Errorf("longpoll: reading stream prefix: %w", err)
		}
		got[i] = b
	}
	if got[0] != '[' || got[1] != '[' {
		return ErrBadPrefix
	}
	return nil
}
