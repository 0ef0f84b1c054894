package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"
	"strconv"
	"strings"

	"github.com/fzpathan/dr-rag-project/query"
)

// Fingerprint is a deterministic cache key derived from a normalized query
// request. Semantically equivalent requests map to the same fingerprint.
type Fingerprint string

// noFilterMarker distinguishes "no source filter" from "empty source filter".
// It can never collide with a filter component because a present filter is
// always encoded starting with its decimal element count.
const noFilterMarker = "*"

// FingerprintBuilder derives fingerprints. It is pure: fingerprinting never
// fails and has no side effects.
type FingerprintBuilder struct {
	defaultTopK int
}

// NewFingerprintBuilder creates a builder that substitutes defaultTopK when
// a request carries no explicit top_k. Non-positive values fall back to
// DefaultTopK.
func NewFingerprintBuilder(defaultTopK int) *FingerprintBuilder {
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &FingerprintBuilder{defaultTopK: defaultTopK}
}

// Fingerprint derives the cache key for a request.
//
// Normalization:
//   - question: trimmed, internal whitespace runs collapsed to one space,
//     lower-cased (locale-independent)
//   - source filter: deduplicated and sorted; absent (nil) is distinct from
//     present-but-empty
//   - top_k: the configured default is substituted when absent, so an
//     explicit default collapses with an omitted one
//
// Components are length-prefixed before hashing so no separator can be
// forged by component content. SHA-256 gives 256 bits of collision
// resistance.
func (b *FingerprintBuilder) Fingerprint(req query.Request) Fingerprint {
	h := sha256.New()

	writeComponent(h, normalizeQuestion(req.Question))

	if req.SourceFilter == nil {
		writeComponent(h, noFilterMarker)
	} else {
		filter := normalizeFilter(req.SourceFilter)
		writeComponent(h, strconv.Itoa(len(filter)))
		for _, source := range filter {
			writeComponent(h, source)
		}
	}

	topK := req.TopK
	if topK <= 0 {
		topK = b.defaultTopK
	}
	writeComponent(h, strconv.Itoa(topK))

	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func normalizeQuestion(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

func normalizeFilter(filter []string) []string {
	seen := make(map[string]struct{}, len(filter))
	out := make([]string, 0, len(filter))
	for _, source := range filter {
		if _, ok := seen[source]; ok {
			continue
		}
		seen[source] = struct{}{}
		out = append(out, source)
	}
	sort.Strings(out)
	return out
}

func writeComponent(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
