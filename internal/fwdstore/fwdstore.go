// Package fwdstore persists the forward direction of a scope's bidirectional
// mapping: key -> (value, metadata), under the mapping/ subspace (§4.4).
//
// Grounded in the teacher's internal/store ticket record marshaling
// (internal/store.encodeTicket/decodeTicket): a fixed small header followed
// by an opaque variable-length blob, decoded defensively and never silently
// repaired.
package fwdstore

import (
	"context"
	"fmt"

	"github.com/kvresolve/resolver/internal/rerr"
	"github.com/kvresolve/resolver/internal/subspace"
	"github.com/kvresolve/resolver/internal/tuple"
	"github.com/kvresolve/resolver/txkv"
)

// Entry is one forward mapping record: a dense integer plus its immutable
// (except via UpdateMetadataAndVersion upstream) metadata blob.
type Entry struct {
	Value    uint64
	Metadata []byte
}

// Get reads the forward entry for key under sub, reporting ok=false if no
// such entry exists.
func Get(ctx context.Context, tx txkv.Transaction, sub subspace.Subspace, key string) (Entry, bool, error) {
	raw, ok, err := tx.Get(ctx, sub.MappingKey(key))
	if err != nil {
		return Entry{}, false, fmt.Errorf("fwdstore: read %q: %w", key, err)
	}

	if !ok {
		return Entry{}, false, nil
	}

	e, err := decode(raw)
	if err != nil {
		return Entry{}, false, fmt.Errorf("fwdstore: decode entry for %q: %w: %w", key, rerr.ErrStateCorrupt, err)
	}

	return e, true, nil
}

// Put buffers the forward entry write for key under sub.
func Put(tx txkv.Transaction, sub subspace.Subspace, key string, e Entry) {
	tx.Set(sub.MappingKey(key), encode(e))
}

func encode(e Entry) []byte {
	buf := make([]byte, 0, 8+len(e.Metadata))
	buf = tuple.AppendUint64(buf, e.Value)
	buf = tuple.AppendBytes(buf, e.Metadata)

	return buf
}

// Decode parses a raw forward-entry value as stored by Put. Exported for
// callers that read the mapping subspace outside a transaction (the
// resolverctl inspection mirror, via [txkv.Scanner]).
func Decode(raw []byte) (Entry, error) {
	return decode(raw)
}

func decode(raw []byte) (Entry, error) {
	value, rest, err := tuple.ConsumeUint64(raw)
	if err != nil {
		return Entry{}, fmt.Errorf("value: %w", err)
	}

	metadata, rest, err := tuple.ConsumeBytes(rest)
	if err != nil {
		return Entry{}, fmt.Errorf("metadata: %w", err)
	}

	if len(rest) != 0 {
		return Entry{}, fmt.Errorf("%d trailing bytes", len(rest))
	}

	return Entry{Value: value, Metadata: metadata}, nil
}
