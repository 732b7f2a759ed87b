// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package longpoll

// dedupRingSize is the fixed capacity named in §3/§9: a load-bearing
// constant, not a tunable.
const dedupRingSize = 8

type dedupEntry struct {
	updateID string
	hash     [32]byte
	valid    bool
}

// DedupRing is the circular buffer of the 8 most recent (update-id,
// sha256(payload)) pairs seen during backlog replay (§3, §4.5.3, §9). It is
// touched only by the stream-dispatch task (§5 shared-resource policy), so
// it carries no internal locking.
type DedupRing struct {
	entries [dedupRingSize]dedupEntry
	cursor  int
}

// NewDedupRing returns an empty ring.
func NewDedupRing() *DedupRing {
	return &DedupRing{}
}

// Check reports whether (updateID, hash) should be treated as new. The
// three outcomes named in §4.5.3's updates handler:
//   - dup=true:    the exact (id, hash) pair was already seen — drop the
//     whole batch.
//   - same id seen with a *different* hash: the scan stops, the new pair
//     is inserted at the write cursor, and dup is reported false (treat as
//     new data superseding the stale entry).
//   - id not found at all: inserted at the cursor, dup false.
func (d *DedupRing) Check(updateID string, hash [32]byte) (dup bool) {
	for _, e := range d.entries {
		if !e.valid || e.updateID != updateID {
			continue
		}
		if e.hash == hash {
			return true
		}
		break
	}
	d.entries[d.cursor] = dedupEntry{updateID: updateID, hash: hash, valid: true}
	d.cursor = (d.cursor + 1) % dedupRingSize
	return false
}
