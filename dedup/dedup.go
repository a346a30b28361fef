// Package dedup provides probabilistic duplicate detection over canonical
// conversation content. A true duplicate is always caught; novel content is
// misflagged only within the filter's configured false-positive bound.
package dedup

import (
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"

	"github.com/veridia/parley/record"
)

// Deduplicator is a bloom-filter membership set over content fingerprints.
// Safe for concurrent use; the filter itself is not, so a mutex serializes
// access.
type Deduplicator struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	added  uint64
}

// New creates a Deduplicator sized for capacity distinct records at the
// given target false-positive rate.
func New(capacity uint, falsePositiveRate float64) *Deduplicator {
	return &Deduplicator{
		filter: bloom.NewWithEstimates(capacity, falsePositiveRate),
	}
}

// CheckAndAdd returns true when the record's content has not been seen
// before and records it. Returns false for duplicates (and, rarely, for
// novel content within the false-positive bound).
func (d *Deduplicator) CheckAndAdd(rec *record.ConversationRecord) bool {
	fp := Fingerprint(rec)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.filter.Test(fp) {
		return false
	}
	d.filter.Add(fp)
	d.added++
	return true
}

// Size returns how many distinct fingerprints have been added.
func (d *Deduplicator) Size() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.added
}

// Fingerprint computes a stable content fingerprint for a canonical record:
// the xxhash of its normalized speaker/content pairs. Titles, timestamps,
// and source identity are deliberately excluded so the same dialogue fetched
// from two places dedups to one.
func Fingerprint(rec *record.ConversationRecord) []byte {
	var h xxhash.Digest
	for _, turn := range rec.Turns {
		h.WriteString(strings.ToLower(strings.TrimSpace(turn.SpeakerID)))
		h.WriteString("\x1f")
		h.WriteString(strings.ToLower(strings.TrimSpace(turn.Content)))
		h.WriteString("\x1e")
	}
	sum := h.Sum64()
	return []byte{
		byte(sum >> 56), byte(sum >> 48), byte(sum >> 40), byte(sum >> 32),
		byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum),
	}
}
