// Package subspace derives the three disjoint byte-prefix subspaces a
// resolver scope is built from, and the key encoding within each.
//
// Grounded in the teacher's [internal/store.PathFromID]/[internal/store.Ticket.Path]
// split (one stable derivation function, three call sites), generalized from
// a single ticket-directory path to an arbitrary resolved key-space prefix.
package subspace

import (
	"bytes"

	"github.com/kvresolve/resolver/internal/tuple"
)

// Tag bytes separating the three subspaces under a scope's resolved prefix.
const (
	tagMapping byte = 0x00
	tagReverse byte = 0x01
	tagState   byte = 0x02
)

// Subspace is the resolved byte prefix P for one resolver scope, plus the
// three derived key namespaces mapping/reverse/state build on top of it.
//
// Two Subspace values are the same scope if and only if their Prefix bytes
// are equal; Subspace must never be compared or hashed by identity.
type Subspace struct {
	// Prefix is P, the resolved path's byte serialization.
	Prefix []byte
}

// New wraps a resolved path prefix. The caller (a [PathSupplier]) owns the
// byte slice's provenance; New does not copy it, so callers must not mutate
// it after constructing a Subspace.
func New(prefix []byte) Subspace {
	return Subspace{Prefix: prefix}
}

// Equal reports whether two subspaces address the same scope, by prefix
// bytes rather than object identity.
func (s Subspace) Equal(other Subspace) bool {
	return bytes.Equal(s.Prefix, other.Prefix)
}

// ID returns a stable string form of the scope's identity, suitable as a map
// key (for the cache registry) or a log field. It is not part of the
// persistent key encoding.
func (s Subspace) ID() string {
	return string(s.Prefix)
}

// MappingKey returns the forward-store key for key under this scope:
// P || 0x00 || pack(key).
func (s Subspace) MappingKey(key string) []byte {
	buf := make([]byte, 0, len(s.Prefix)+1+len(key)+2)
	buf = append(buf, s.Prefix...)
	buf = append(buf, tagMapping)

	return tuple.AppendString(buf, key)
}

// MappingRange returns the [lo, hi) range covering every forward entry in
// this scope, for bulk inspection (e.g. the resolverctl mirror).
func (s Subspace) MappingRange() (lo, hi []byte) {
	return tuple.PrefixRange(append(append([]byte(nil), s.Prefix...), tagMapping))
}

// KeyFromMappingKey strips this scope's mapping prefix from a raw store key
// and decodes the original string key. It reports ok=false if raw is not a
// mapping key in this scope.
func (s Subspace) KeyFromMappingKey(raw []byte) (key string, ok bool) {
	rest, ok := s.stripTag(raw, tagMapping)
	if !ok {
		return "", false
	}

	key, rest, err := tuple.ConsumeString(rest)
	if err != nil || len(rest) != 0 {
		return "", false
	}

	return key, true
}

// ReverseKey returns the reverse-store key for value under this scope:
// P || 0x01 || pack(value).
func (s Subspace) ReverseKey(value uint64) []byte {
	buf := make([]byte, 0, len(s.Prefix)+1+8)
	buf = append(buf, s.Prefix...)
	buf = append(buf, tagReverse)

	return tuple.AppendUint64(buf, value)
}

// ReverseRange returns the [lo, hi) range covering every reverse entry in
// this scope.
func (s Subspace) ReverseRange() (lo, hi []byte) {
	return tuple.PrefixRange(append(append([]byte(nil), s.Prefix...), tagReverse))
}

// ValueFromReverseKey strips this scope's reverse prefix from a raw store
// key and decodes the original uint64 value. It reports ok=false if raw is
// not a reverse key in this scope.
func (s Subspace) ValueFromReverseKey(raw []byte) (value uint64, ok bool) {
	rest, ok := s.stripTag(raw, tagReverse)
	if !ok {
		return 0, false
	}

	value, rest, err := tuple.ConsumeUint64(rest)
	if err != nil || len(rest) != 0 {
		return 0, false
	}

	return value, true
}

// StateKey returns the single state-record key for this scope: P || 0x02.
func (s Subspace) StateKey() []byte {
	buf := make([]byte, 0, len(s.Prefix)+1)
	buf = append(buf, s.Prefix...)

	return append(buf, tagState)
}

func (s Subspace) stripTag(raw []byte, tag byte) ([]byte, bool) {
	if len(raw) < len(s.Prefix)+1 {
		return nil, false
	}

	if !bytes.Equal(raw[:len(s.Prefix)], s.Prefix) {
		return nil, false
	}

	if raw[len(s.Prefix)] != tag {
		return nil, false
	}

	return raw[len(s.Prefix)+1:], true
}
