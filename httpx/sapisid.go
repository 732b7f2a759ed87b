// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package httpx

import (
	"crypto/sha1"
	"fmt"
	"time"
)

// SAPISIDHash computes the `SAPISIDHASH <ts>_<sha1(ts " " sapisid " "
// origin)>` header value (§4.2, glossary). ts is the Unix timestamp in
// seconds at the moment of signing.
func SAPISIDHash(sapisid, origin string, ts time.Time) string {
	secs := ts.Unix()
	h := sha1.Sum([]byte(fmt.Sprintf("%d %s %s", secs, sapisid, origin)))
	return fmt.Sprintf("SAPISIDHASH %d_%x", secs, h)
}
