// Package keys derives deterministic, collision-resistant cache keys from
// query descriptors. Derivation is total: any input, including cyclic or
// arbitrarily deep structures, produces a finite key without panicking.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Key kinds. The kind is the first segment of every composed key and keeps
// the namespaces of different operations separate: a fetch key can never
// collide with a count key over the same filters.
const (
	KindQuery    = "query"
	KindDocument = "doc"
	KindCount    = "count"
	KindExists   = "exists"
	KindBatch    = "batch"
)

// version is folded into the digest input (not the visible key) so a future
// change to the canonicalization algorithm ages out old keys instead of
// colliding with them.
const version = "v1"

// DefaultMaxDepth bounds the canonicalization recursion.
const DefaultMaxDepth = 10

// Deriver turns (collection, descriptor) pairs into stable string keys.
// The zero value is not usable; construct with [NewDeriver]. A Deriver is
// stateless and safe for concurrent use.
type Deriver struct {
	maxDepth int
}

// Option configures a Deriver.
type Option func(*Deriver)

// WithMaxDepth overrides the canonicalization recursion depth cap.
func WithMaxDepth(n int) Option {
	return func(d *Deriver) {
		if n > 0 {
			d.maxDepth = n
		}
	}
}

// NewDeriver creates a Deriver with the given options applied.
func NewDeriver(opts ...Option) *Deriver {
	d := &Deriver{maxDepth: DefaultMaxDepth}
	for _, o := range opts {
		o(d)
	}
	return d
}

// DeriveQuery derives the key for a full query over collection.
func (d *Deriver) DeriveQuery(collection string, desc QueryDescriptor) string {
	return d.compose(KindQuery, collection, desc)
}

// DeriveCount derives the key for a count over collection. The kind keeps
// count keys disjoint from query keys for identical filter sets.
func (d *Deriver) DeriveCount(collection string, desc QueryDescriptor) string {
	return d.compose(KindCount, collection, desc)
}

// DeriveExists derives the key for an existence probe over collection.
func (d *Deriver) DeriveExists(collection string, desc QueryDescriptor) string {
	return d.compose(KindExists, collection, desc)
}

// DeriveDocument derives the key for a single document fetch. Document ids
// are already short and unique, so the id is used verbatim instead of a
// digest.
func (d *Deriver) DeriveDocument(collection, id string) string {
	return KindDocument + ":" + collection + ":" + id
}

// DeriveBatch derives the key for a batch fetch over a set of document
// paths. The set is sorted first, so argument order never affects the
// result. Paths may span collections; the collection segment is the
// literal "docs".
func (d *Deriver) DeriveBatch(paths []string) string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)
	return KindBatch + ":docs:" + d.digest(KindBatch, "docs", sorted)
}

// Kind returns the kind segment of a composed key, or "" if the key does
// not look like one of ours.
func Kind(key string) string {
	kind, _, ok := strings.Cut(key, ":")
	if !ok {
		return ""
	}
	switch kind {
	case KindQuery, KindDocument, KindCount, KindExists, KindBatch:
		return kind
	}
	return ""
}

// Collection returns the collection segment of a composed key, or "" if the
// key does not carry one.
func Collection(key string) string {
	if Kind(key) == "" {
		return ""
	}
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}

func (d *Deriver) compose(kind, collection string, desc QueryDescriptor) string {
	return kind + ":" + collection + ":" + d.digest(kind, collection, desc.normalized())
}

// digest hashes the canonical serialization of v, prefixed with the
// algorithm version, kind and collection, into lowercase hex SHA-256.
func (d *Deriver) digest(kind, collection string, v any) string {
	var sb strings.Builder
	sb.WriteString(version)
	sb.WriteByte('|')
	sb.WriteString(kind)
	sb.WriteByte('|')
	sb.WriteString(collection)
	sb.WriteByte('|')
	writeCanonical(&sb, d.canonicalize(v))
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
