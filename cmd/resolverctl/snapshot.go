package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/natefinch/atomic"

	"github.com/kvresolve/resolver/internal/fwdstore"
	"github.com/kvresolve/resolver/internal/subspace"
	"github.com/kvresolve/resolver/txkv"
)

// snapshotEntry is one row of a scope's forward mapping, as written to a
// snapshot file.
type snapshotEntry struct {
	Key      string `json:"key"`
	Value    uint64 `json:"value"`
	Metadata []byte `json:"metadata,omitempty"`
}

var errStoreNotScannable = fmt.Errorf("resolverctl: store does not support bulk scan (needs txkv.Scanner)")

// scanMapping returns every forward entry in sub's mapping subspace, as a
// point-in-time, non-transactional snapshot (see [txkv.Scanner]).
func scanMapping(ctx context.Context, store txkv.Store, sub subspace.Subspace) ([]snapshotEntry, error) {
	scanner, ok := store.(txkv.Scanner)
	if !ok {
		return nil, errStoreNotScannable
	}

	lo, hi := sub.MappingRange()

	rows, err := scanner.Scan(ctx, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("resolverctl: scan mapping subspace: %w", err)
	}

	entries := make([]snapshotEntry, 0, len(rows))

	for rawKey, rawVal := range rows {
		key, ok := sub.KeyFromMappingKey([]byte(rawKey))
		if !ok {
			continue
		}

		entry, err := fwdstore.Decode(rawVal)
		if err != nil {
			return nil, fmt.Errorf("resolverctl: decode entry for %q: %w", key, err)
		}

		entries = append(entries, snapshotEntry{Key: key, Value: entry.Value, Metadata: entry.Metadata})
	}

	return entries, nil
}

// writeSnapshot scans sub's mapping subspace and writes every entry to path
// as a JSON array, using an atomic rename so a concurrent reader never
// observes a partially written file.
func writeSnapshot(ctx context.Context, store txkv.Store, sub subspace.Subspace, path string) (int, error) {
	entries, err := scanMapping(ctx, store, sub)
	if err != nil {
		return 0, err
	}

	buf, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("resolverctl: encode snapshot: %w", err)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(buf)); err != nil {
		return 0, fmt.Errorf("resolverctl: write snapshot to %s: %w", path, err)
	}

	return len(entries), nil
}
